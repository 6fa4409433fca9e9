package drivers

import (
	"context"

	"github.com/hubertat/airkit/mqtt"
)

// IoDriver provides digital in/out lines (fan relay, calibration pulse) on a
// given hardware backend. Drivers are configured from the controller config
// and set up once at startup.
type IoDriver interface {
	Setup(ctx context.Context, inputs []uint16, outputs []uint16) error
	SetMqtt(publisher mqtt.Publisher) []mqtt.MqttHandler
	Close() error
	String() string
	IsReady() bool
	GetInput(pin uint16) (DigitalInput, error)
	GetOutput(pin uint16) (DigitalOutput, error)
	GetAllIo() (inputs []uint16, outputs []uint16)
}

type DigitalInput interface {
	GetState() (bool, error)
}

type DigitalOutput interface {
	GetState() (bool, error)
	Set(bool) error
}

// Barometer is a probe-able pressure sensor. Probe performs device detection
// and sampling configuration and may be called repeatedly to re-initialize a
// device that dropped off the bus.
type Barometer interface {
	Probe() error
	ReadPressure() (pascals float64, err error)
	Close() error
}

// ClimateSensor delivers combined temperature and humidity readings.
type ClimateSensor interface {
	Arm() error
	ReadClimate() (temperature, humidity float64, err error)
}

// BytePort is an unframed serial byte transport, framing is entirely up to
// the caller. Available reports how many bytes can be consumed without
// blocking; ReadFull must not block when Available reported enough bytes.
type BytePort interface {
	Write(p []byte) (n int, err error)
	Available() (int, error)
	ReadFull(p []byte) error
	Close() error
}
