package airkit

import (
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/airkit/drivers"
)

const barometerRetryInterval = 5 * time.Second

// BarometerGuard keeps the pressure sensor usable across transient failures.
// When the sensor is down it reports the sentinel value and re-probes the
// device at most every 5 seconds, without ever blocking the read cycle or
// raising an error to the caller. A cycle that reconnects successfully still
// reports the sentinel; readings resume from the next cycle so a freshly
// reset device is never sampled immediately.
type BarometerGuard struct {
	sensor      drivers.Barometer
	connected   bool
	lastAttempt time.Time

	logger *log.Logger
	now    func() time.Time
}

func (bg *BarometerGuard) Init(sensor drivers.Barometer) {
	bg.sensor = sensor
	if bg.now == nil {
		bg.now = time.Now
	}
	if bg.logger == nil {
		bg.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "barometer: ",
			Level:  log.GetLevel(),
		})
	}

	bg.lastAttempt = bg.now()
	err := sensor.Probe()
	bg.connected = err == nil
	if err != nil {
		bg.logger.Warn("pressure sensor not found, will retry in background", "err", err)
	}
}

func (bg *BarometerGuard) Connected() bool {
	return bg.connected
}

// Read returns the current pressure in hectopascals, or the sentinel value
// when the sensor is not available this cycle.
func (bg *BarometerGuard) Read() float64 {
	if bg.connected {
		pascals, err := bg.sensor.ReadPressure()
		if err == nil {
			return pascals / 100.0
		}

		bg.logger.Warn("pressure read failed, marking sensor disconnected", "err", err)
		bg.connected = false
		bg.lastAttempt = bg.now()
		return SentinelValue
	}

	if bg.now().Sub(bg.lastAttempt) >= barometerRetryInterval {
		bg.lastAttempt = bg.now()
		bg.logger.Info("attempting pressure sensor reconnect")
		if err := bg.sensor.Probe(); err == nil {
			bg.connected = true
			bg.logger.Info("pressure sensor reconnected")
		}
	}

	return SentinelValue
}
