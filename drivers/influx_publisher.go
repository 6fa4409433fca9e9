package drivers

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

const defaultInfluxMeasurement = "environment"
const influxWriteTimeout = 4 * time.Second

// InfluxPublisher pushes acquisition results to an InfluxDB bucket, one point
// per publish cycle.
type InfluxPublisher struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	client influxdb2.Client
	write  api.WriteAPIBlocking
	ready  bool
}

func (ip *InfluxPublisher) Setup() error {
	if len(ip.Host) == 0 {
		return errors.New("influx publisher: host not set")
	}

	if len(ip.Measurement) == 0 {
		ip.Measurement = defaultInfluxMeasurement
	}

	ip.client = influxdb2.NewClient(ip.Host, ip.Token)
	ip.write = ip.client.WriteAPIBlocking(ip.Organization, ip.Bucket)
	ip.ready = true

	return nil
}

func (ip *InfluxPublisher) IsReady() bool {
	return ip.ready
}

// PublishReading writes one measurement point. Sentinel values are written
// as-is, the stored series carries the same degraded readings the other
// telemetry channels report.
func (ip *InfluxPublisher) PublishReading(node string, temperature, humidity, pressureHpa float64, co2Ppm int, state string, fanOn bool) error {
	if !ip.ready {
		return errors.New("influx publisher not ready")
	}

	point := influxdb2.NewPoint(ip.Measurement,
		map[string]string{"node": node},
		map[string]interface{}{
			"temperature":  temperature,
			"humidity":     humidity,
			"pressure_hpa": pressureHpa,
			"co2_ppm":      co2Ppm,
			"state":        state,
			"fan_on":       fanOn,
		},
		time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), influxWriteTimeout)
	defer cancel()

	err := ip.write.WritePoint(ctx, point)
	if err != nil {
		return errors.Wrap(err, "failed to write reading point to influx")
	}

	return nil
}

func (ip *InfluxPublisher) Close() error {
	if ip.client != nil {
		ip.client.Close()
	}
	ip.ready = false
	return nil
}
