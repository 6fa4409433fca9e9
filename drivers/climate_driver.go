package drivers

import (
	dht "github.com/MichaelS11/go-dht"
	"github.com/pkg/errors"
)

// DhtSensor reads temperature and humidity from a DHT22 on a gpio pin,
// implementing ClimateSensor.
type DhtSensor struct {
	// Pin is the periph.io pin name, e.g. "GPIO25".
	Pin string

	device *dht.DHT
}

func (ds *DhtSensor) Arm() error {
	err := dht.HostInit()
	if err != nil {
		return errors.Wrap(err, "failed to init host for dht sensor")
	}

	ds.device, err = dht.NewDHT(ds.Pin, dht.Celsius, "dht22")
	if err != nil {
		return errors.Wrapf(err, "failed to arm dht sensor on pin %s", ds.Pin)
	}

	return nil
}

func (ds *DhtSensor) ReadClimate() (temperature, humidity float64, err error) {
	if ds.device == nil {
		err = errors.New("dht sensor not armed")
		return
	}

	humidity, temperature, err = ds.device.Read()
	return
}
