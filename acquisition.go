package airkit

import (
	"math"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/airkit/drivers"
)

// co2PreheatTime is the warm-up the CO2 sensor needs before its readings can
// be trusted and the airflow fan may be switched on.
const co2PreheatTime = 60 * time.Second

type SystemState int

const (
	SystemPreheating SystemState = iota
	SystemReady
	SystemCalibrating
)

func (ss SystemState) String() string {
	switch ss {
	case SystemReady:
		return "READY"
	case SystemCalibrating:
		return "CALIBRATING"
	default:
		return "PREHEATING"
	}
}

// SensorManager owns the sensors and the read cycle. Sensor failures never
// propagate as errors: each failing field degrades to the sentinel value and
// the next cycle is attempted regardless.
type SensorManager struct {
	climate      drivers.ClimateSensor
	co2          *drivers.Co2Link
	barometerDev drivers.Barometer
	barometer    *BarometerGuard
	fan          drivers.DigitalOutput

	fanOn        bool
	state        SystemState
	preheatStart time.Time
	preheated    bool

	logger *log.Logger
	now    func() time.Time
}

func NewSensorManager(climate drivers.ClimateSensor, co2 *drivers.Co2Link, barometer drivers.Barometer, fan drivers.DigitalOutput) *SensorManager {
	sm := &SensorManager{
		climate:      climate,
		co2:          co2,
		barometerDev: barometer,
		fan:          fan,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "sensors: ",
			Level:  log.GetLevel(),
		}),
		now: time.Now,
	}

	sm.barometer = &BarometerGuard{now: sm.now}
	return sm
}

// Initialize arms the sensors, disables the CO2 sensor autocalibration and
// starts the preheat timer. A missing pressure sensor is not an error, the
// reconnect guard keeps retrying in the background.
func (sm *SensorManager) Initialize() error {
	if sm.climate == nil || sm.co2 == nil || sm.fan == nil || sm.barometerDev == nil {
		return errors.New("sensor manager missing collaborators")
	}

	err := sm.climate.Arm()
	if err != nil {
		sm.logger.Warn("failed to arm climate sensor, readings degraded", "err", err)
	}

	sm.barometer.Init(sm.barometerDev)

	err = sm.co2.DisableAutoCalibration()
	if err != nil {
		sm.logger.Warn("failed to disable co2 autocalibration", "err", err)
	}

	err = sm.fan.Set(false)
	if err != nil {
		sm.logger.Warn("failed to reset fan output", "err", err)
	}

	sm.preheatStart = sm.now()
	sm.state = SystemPreheating
	sm.preheated = false
	sm.logger.Info("sensors initialized, preheating co2 sensor", "preheat", co2PreheatTime)

	return nil
}

// ReadCycle performs one full acquisition pass. Every field of the result is
// refreshed, failed reads carry the sentinel value.
func (sm *SensorManager) ReadCycle() SensorReading {
	reading := EmptySensorReading()

	// partial DHT reads are not trusted, both fields fail together
	temperature, humidity, err := sm.climate.ReadClimate()
	if err != nil || math.IsNaN(temperature) || math.IsNaN(humidity) {
		if err != nil {
			sm.logger.Warn("climate read failed", "err", err)
		} else {
			sm.logger.Warn("climate sensor returned NaN")
		}
	} else {
		reading.Temperature = temperature
		reading.Humidity = humidity
	}

	reading.PressureHpa = sm.barometer.Read()

	if sm.state == SystemPreheating && sm.PreheatElapsed() {
		sm.completePreheat()
	}

	ppm, err := sm.co2.RequestReading()
	if err != nil {
		sm.logger.Warn("co2 read failed", "err", err)
	}
	reading.Co2Ppm = ppm

	return reading
}

func (sm *SensorManager) PreheatElapsed() bool {
	return sm.now().Sub(sm.preheatStart) >= co2PreheatTime
}

// completePreheat performs the one-time transition out of preheating: the fan
// is asserted here and nowhere else automatically.
func (sm *SensorManager) completePreheat() {
	sm.preheated = true
	sm.state = SystemReady
	sm.SetFanState(true)
	sm.logger.Info("co2 sensor preheated, system ready, fan on")
}

// LeaveCalibration restores the system state after a calibration run ends.
// When the preheat timer elapsed mid-calibration the pending one-time
// transition (fan assert included) runs here; a preheat that already
// completed earlier leaves the fan wherever it was put.
func (sm *SensorManager) LeaveCalibration() {
	if !sm.PreheatElapsed() {
		sm.state = SystemPreheating
		return
	}

	if !sm.preheated {
		sm.completePreheat()
		return
	}

	sm.state = SystemReady
}

// SetFanState drives the fan relay. Fan state is independent of sensor
// success once asserted, it stays where it was put until changed again.
func (sm *SensorManager) SetFanState(on bool) {
	sm.fanOn = on
	err := sm.fan.Set(on)
	if err != nil {
		sm.logger.Error("failed to set fan output", "on", on, "err", err)
	}
}

func (sm *SensorManager) GetFanState() bool {
	return sm.fanOn
}

func (sm *SensorManager) SetSystemState(state SystemState) {
	sm.state = state
}

func (sm *SensorManager) GetSystemState() SystemState {
	return sm.state
}

func (sm *SensorManager) BarometerConnected() bool {
	return sm.barometer.Connected()
}
