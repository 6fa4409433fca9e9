package airkit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/airkit/drivers"
	"github.com/hubertat/airkit/mqtt"
)

const defaultAcquisitionInterval = 500 * time.Millisecond
const defaultCo2Baud = 9600
const defaultCo2Device = "/dev/ttyAMA0"

// CommandStartCalibration is the only calibration trigger recognized on the
// command channel, anything else is silently ignored.
const CommandStartCalibration = "START_CAL"
const CommandFanOn = "FAN_ON"
const CommandFanOff = "FAN_OFF"

const commandQueueSize = 8

// AirKit is the controller root: configuration, drivers, the sensor manager
// and the calibration orchestrator, plus the cooperative tick loop that ties
// them together. All state is touched only from the tick loop, inbound
// commands are queued and consumed one per tick.
type AirKit struct {
	Name string

	FanPin         uint16
	CalibrationPin uint16
	DriverName     string

	DhtPin        string
	Co2Device     string
	Co2Baud       int
	I2cBus        string
	BarometerAddr uint16

	AcquisitionInterval  time.Duration
	CalibrationStabilize bool

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string
	HttpAddr   string

	// Simulate swaps the hardware sensors for simulated ones, for dry runs
	// on a development machine.
	Simulate bool

	Gpio       *drivers.GpIO
	Mcp23017   *drivers.McpIO
	FakeDriver *drivers.MockIoDriver

	Influx *drivers.InfluxPublisher

	Sensors     *SensorManager
	Calibration *Calibrator

	ioDrivers       map[string]drivers.IoDriver
	mqttClient      *mqtt.MqttClient
	hk              *hkAccessories
	commands        chan string
	lastAcquisition time.Time
	lastReading     SensorReading

	logger *log.Logger
	now    func() time.Time
}

func (ak *AirKit) setDefaults() {
	if ak.now == nil {
		ak.now = time.Now
	}
	if ak.logger == nil {
		ak.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "airkit: ",
			Level:  log.GetLevel(),
		})
	}
	if ak.commands == nil {
		ak.commands = make(chan string, commandQueueSize)
	}
	if ak.AcquisitionInterval == 0 {
		ak.AcquisitionInterval = defaultAcquisitionInterval
	}
	if len(ak.Co2Device) == 0 {
		ak.Co2Device = defaultCo2Device
	}
	if ak.Co2Baud == 0 {
		ak.Co2Baud = defaultCo2Baud
	}
}

// InitDrivers sets up the configured io backends with the fan and
// calibration output lines.
func (ak *AirKit) InitDrivers(ctx context.Context) error {
	ak.setDefaults()
	ak.ioDrivers = make(map[string]drivers.IoDriver)

	if ak.Gpio != nil {
		ak.ioDrivers[ak.Gpio.String()] = ak.Gpio
	}

	if ak.Mcp23017 != nil {
		ak.ioDrivers[ak.Mcp23017.String()] = ak.Mcp23017
	}

	if ak.FakeDriver != nil {
		ak.ioDrivers[ak.FakeDriver.String()] = ak.FakeDriver
	}

	if len(ak.ioDrivers) == 0 {
		return errors.New("no io driver configured")
	}

	if len(ak.DriverName) == 0 {
		for name := range ak.ioDrivers {
			ak.DriverName = name
		}
	}

	driver, found := ak.ioDrivers[ak.DriverName]
	if !found {
		return errors.Errorf("io driver %s not configured", ak.DriverName)
	}

	outputs := []uint16{ak.FanPin, ak.CalibrationPin}
	err := driver.Setup(ctx, nil, outputs)
	if err != nil {
		return errors.Wrapf(err, "failed to setup %s driver", driver)
	}

	return nil
}

// InitSensors builds the sensor manager and the calibration orchestrator on
// top of the ready io driver and runs the initialization sequence.
func (ak *AirKit) InitSensors() error {
	driver, found := ak.ioDrivers[ak.DriverName]
	if !found || !driver.IsReady() {
		return errors.Errorf("io driver %s not ready", ak.DriverName)
	}

	fanOut, err := driver.GetOutput(ak.FanPin)
	if err != nil {
		return errors.Wrap(err, "fan output not available")
	}

	var co2Port drivers.BytePort
	var barometer drivers.Barometer
	var climate drivers.ClimateSensor

	if ak.Simulate {
		co2Port = &drivers.LoopbackPort{Ppm: 420}
		barometer = &drivers.SimulatedBarometer{PressurePa: 101325}
		climate = &drivers.SimulatedClimate{Temperature: 21.5, Humidity: 40}
	} else {
		serialPort, err := drivers.OpenSerialPort(ak.Co2Device, ak.Co2Baud)
		if err != nil {
			// the co2 link degrades to sentinel readings on a missing port
			ak.logger.Warn("failed to open co2 serial port, co2 readings degraded", "err", err)
		} else {
			co2Port = serialPort
		}

		barometer = &drivers.Bmp280{BusName: ak.I2cBus, Address: ak.BarometerAddr}
		climate = &drivers.DhtSensor{Pin: ak.DhtPin}
	}

	ak.Sensors = NewSensorManager(climate, drivers.NewCo2Link(co2Port), barometer, fanOut)

	ak.Calibration = &Calibrator{
		LinePin:    ak.CalibrationPin,
		DriverName: ak.DriverName,
		Stabilize:  ak.CalibrationStabilize,
	}
	calDriver, found := ak.ioDrivers[ak.Calibration.GetDriverName()]
	if !found {
		return errors.Errorf("io driver %s for calibration line not configured", ak.Calibration.GetDriverName())
	}
	err = ak.Calibration.Init(calDriver)
	if err != nil {
		return errors.Wrap(err, "failed to init calibrator")
	}

	return ak.Sensors.Initialize()
}

// Command queues an inbound command string. The queue is best effort: when
// full, the command is dropped, matching the lossy command channel contract.
func (ak *AirKit) Command(cmd string) {
	select {
	case ak.commands <- cmd:
	default:
		ak.logger.Warn("command queue full, dropping command", "cmd", cmd)
	}
}

func (ak *AirKit) handleCommand(cmd string) {
	switch cmd {
	case CommandStartCalibration:
		ak.Calibration.StartCalibration()
	case CommandFanOn:
		ak.Sensors.SetFanState(true)
	case CommandFanOff:
		ak.Sensors.SetFanState(false)
	default:
		// best effort channel, unrecognized commands are not an error
		ak.logger.Debug("ignoring unrecognized command", "cmd", cmd)
	}
}

// reconcileState mirrors the calibration activity into the system state in
// the same tick, so telemetry never reports READY while the calibration line
// is asserted. Leaving calibration hands the restore to the sensor manager,
// which runs the pending preheat completion if the timer elapsed mid-run.
func (ak *AirKit) reconcileState() {
	calibrating := ak.Calibration.IsCalibrating()
	state := ak.Sensors.GetSystemState()

	if calibrating && state != SystemCalibrating {
		ak.Sensors.SetSystemState(SystemCalibrating)
	}

	if !calibrating && state == SystemCalibrating {
		ak.Sensors.LeaveCalibration()
	}
}

// Tick runs one pass of the cooperative scheduler: consume at most one
// pending command, advance the calibration state machine, reconcile system
// state, then acquire and publish unless calibrating.
func (ak *AirKit) Tick() {
	select {
	case cmd := <-ak.commands:
		ak.handleCommand(cmd)
	default:
	}

	ak.Calibration.Run()
	ak.reconcileState()

	if ak.Calibration.IsCalibrating() {
		return
	}

	if ak.now().Sub(ak.lastAcquisition) < ak.AcquisitionInterval {
		return
	}
	ak.lastAcquisition = ak.now()

	reading := ak.Sensors.ReadCycle()
	ak.lastReading = reading
	ak.publish(reading)
}

// Run drives the tick loop until the context is cancelled. The tick cadence
// bounds how precisely the calibration pulse width is honored.
func (ak *AirKit) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ak.Tick()
		}
	}
}

// LastReading returns the most recent acquisition result.
func (ak *AirKit) LastReading() SensorReading {
	return ak.lastReading
}

func (ak *AirKit) publish(reading SensorReading) {
	ak.updateHomeKit(reading)

	if ak.mqttClient != nil {
		payload, err := json.Marshal(reading)
		if err == nil {
			err = ak.mqttClient.Publish(ak.topic("reading"), payload)
		}
		if err != nil {
			ak.logger.Warn("failed to publish reading", "err", err)
		}

		status := fmt.Sprintf(`{"state":%q,"fan_on":%t}`,
			ak.Sensors.GetSystemState(), ak.Sensors.GetFanState())
		err = ak.mqttClient.Publish(ak.topic("status"), []byte(status))
		if err != nil {
			ak.logger.Warn("failed to publish status", "err", err)
		}
	}

	if ak.Influx != nil && ak.Influx.IsReady() {
		err := ak.Influx.PublishReading(ak.nodeName(),
			reading.Temperature, reading.Humidity, reading.PressureHpa, reading.Co2Ppm,
			ak.Sensors.GetSystemState().String(), ak.Sensors.GetFanState())
		if err != nil {
			ak.logger.Warn("failed to publish reading to influx", "err", err)
		}
	}
}

func (ak *AirKit) nodeName() string {
	if len(ak.Name) > 0 {
		return ak.Name
	}
	return "airkit"
}

func (ak *AirKit) topic(suffix string) string {
	return fmt.Sprintf("airkit/%s/%s", ak.nodeName(), suffix)
}

// MqttSubscribeTopic makes AirKit an mqtt handler for its command topic.
func (ak *AirKit) MqttSubscribeTopic() string {
	return ak.topic("command")
}

func (ak *AirKit) MqttHandle(pub *paho.Publish) {
	ak.Command(string(pub.Payload))
}

// mqttHandlers hands the publisher to every io driver and collects the
// subscribe handlers: the controller's own command topic plus whatever the
// drivers expose.
func (ak *AirKit) mqttHandlers(publisher mqtt.Publisher) []mqtt.MqttHandler {
	handlers := []mqtt.MqttHandler{ak}

	for _, driver := range ak.ioDrivers {
		handlers = append(handlers, driver.SetMqtt(publisher)...)
	}

	return handlers
}

func (ak *AirKit) InitMqtt() (err error) {
	if len(ak.MqttBroker) == 0 {
		err = errors.New("mqtt broker not set")
		return
	}

	mc, err := mqtt.NewMqttClient(ak.MqttBroker, ak.nodeName())
	if err != nil {
		err = errors.Wrap(err, "failed to create mqtt client")
		return
	}

	ak.mqttClient = mc

	err = mc.Connect(ak.mqttHandlers(mc))
	if err != nil {
		err = errors.Wrap(err, "failed to connect to mqtt broker")
	}

	return
}

func (ak *AirKit) Close() (err error) {
	for _, driver := range ak.ioDrivers {
		if driver != nil {
			closeErr := driver.Close()
			if closeErr != nil {
				err = errors.Wrap(err, closeErr.Error())
			}
		}
	}

	if ak.Influx != nil {
		ak.Influx.Close()
	}

	return
}
