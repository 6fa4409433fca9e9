package drivers

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

const defaultBarometerAddress = 0x76

// Bmp280 reads barometric pressure from a BMP280 over I2C, implementing
// Barometer. Probe re-runs device detection and sampling setup, so a sensor
// that dropped off the bus can be brought back without restarting.
type Bmp280 struct {
	// BusName selects the I2C bus, empty means the platform default.
	BusName string
	Address uint16

	bus i2c.BusCloser
	dev *bmxx80.Dev
}

func (bp *Bmp280) Probe() (err error) {
	if bp.bus == nil {
		_, err = host.Init()
		if err != nil {
			return errors.Wrap(err, "failed to init periph host")
		}

		bp.bus, err = i2creg.Open(bp.BusName)
		if err != nil {
			bp.bus = nil
			return errors.Wrapf(err, "failed to open i2c bus %q", bp.BusName)
		}
	}

	if bp.dev != nil {
		bp.dev.Halt()
		bp.dev = nil
	}

	address := bp.Address
	if address == 0 {
		address = defaultBarometerAddress
	}

	// sampling setup matching the sensor's intended indoor profile:
	// 2x temperature, 16x pressure oversampling with a 16 deep IIR filter
	bp.dev, err = bmxx80.NewI2C(bp.bus, address, &bmxx80.Opts{
		Temperature: bmxx80.O2x,
		Pressure:    bmxx80.O16x,
		Filter:      bmxx80.F16,
	})
	if err != nil {
		bp.dev = nil
		return errors.Wrapf(err, "bmp280 not found at 0x%02x", address)
	}

	return nil
}

func (bp *Bmp280) ReadPressure() (pascals float64, err error) {
	if bp.dev == nil {
		err = errors.New("bmp280 not probed")
		return
	}

	var env physic.Env
	err = bp.dev.Sense(&env)
	if err != nil {
		err = errors.Wrap(err, "bmp280 sense failed")
		return
	}

	pascals = float64(env.Pressure) / float64(physic.Pascal)
	return
}

func (bp *Bmp280) Close() (err error) {
	if bp.dev != nil {
		err = bp.dev.Halt()
		bp.dev = nil
	}
	if bp.bus != nil {
		closeErr := bp.bus.Close()
		if err == nil {
			err = closeErr
		}
		bp.bus = nil
	}
	return
}
