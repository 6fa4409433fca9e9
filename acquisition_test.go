package airkit

import (
	"context"
	"testing"
	"time"

	"github.com/hubertat/airkit/drivers"
)

type testSensors struct {
	climate   *drivers.SimulatedClimate
	barometer *drivers.SimulatedBarometer
	port      *drivers.LoopbackPort
	fan       drivers.DigitalOutput
}

func newTestSensorManager(t testing.TB) (*SensorManager, *testSensors, *testClock) {
	t.Helper()

	md := &drivers.MockIoDriver{}
	md.Setup(context.Background(), nil, []uint16{1})
	fan, err := md.GetOutput(1)
	if err != nil {
		t.Fatalf("GetOutput returned err: %v", err)
	}

	sensors := &testSensors{
		climate:   &drivers.SimulatedClimate{Temperature: 21.5, Humidity: 40},
		barometer: &drivers.SimulatedBarometer{PressurePa: 101325},
		port:      &drivers.LoopbackPort{Ppm: 420},
		fan:       fan,
	}

	clock := &testClock{t: time.Unix(9000, 0)}

	sm := NewSensorManager(sensors.climate, drivers.NewCo2Link(sensors.port), sensors.barometer, fan)
	sm.now = clock.now
	sm.barometer.now = clock.now

	err = sm.Initialize()
	if err != nil {
		t.Fatalf("Initialize returned err: %v", err)
	}

	return sm, sensors, clock
}

func TestInitialize(t *testing.T) {
	sm, sensors, _ := newTestSensorManager(t)

	if sm.GetSystemState() != SystemPreheating {
		t.Errorf("expected PREHEATING after init, got %v", sm.GetSystemState())
	}
	assertBools(t, sm.GetFanState(), false)
	assertBools(t, sm.BarometerConnected(), true)

	// autocalibration disable command sent exactly once at init
	assertInts(t, len(sensors.port.Writes), 1)
	if sensors.port.Writes[0][2] != 0x79 {
		t.Errorf("expected autocalibration off command, got % x", sensors.port.Writes[0])
	}
}

func TestReadCycleComposesAllFields(t *testing.T) {
	sm, _, _ := newTestSensorManager(t)

	reading := sm.ReadCycle()

	assertFloats(t, reading.Temperature, 21.5)
	assertFloats(t, reading.Humidity, 40)
	assertFloats(t, reading.PressureHpa, 1013.25)
	assertInts(t, reading.Co2Ppm, 420)
}

func TestReadCycleClimateFailureIsAtomic(t *testing.T) {
	sm, sensors, _ := newTestSensorManager(t)

	sensors.climate.FailReads = true
	reading := sm.ReadCycle()

	// a partial DHT read is not trusted, both fields carry the sentinel
	assertFloats(t, reading.Temperature, SentinelValue)
	assertFloats(t, reading.Humidity, SentinelValue)

	// other sensors are unaffected
	assertFloats(t, reading.PressureHpa, 1013.25)
	assertInts(t, reading.Co2Ppm, 420)
}

func TestReadCycleCo2Timeout(t *testing.T) {
	sm, sensors, _ := newTestSensorManager(t)

	sensors.port.Mute = true
	reading := sm.ReadCycle()

	assertInts(t, reading.Co2Ppm, SentinelValue)
	assertFloats(t, reading.Temperature, 21.5)

	// the next cycle recovers without intervention
	sensors.port.Mute = false
	reading = sm.ReadCycle()
	assertInts(t, reading.Co2Ppm, 420)
}

func TestPreheatTransition(t *testing.T) {
	sm, _, clock := newTestSensorManager(t)

	clock.advance(co2PreheatTime - time.Millisecond)
	sm.ReadCycle()
	if sm.GetSystemState() != SystemPreheating {
		t.Errorf("expected PREHEATING at 59.999 s, got %v", sm.GetSystemState())
	}
	assertBools(t, sm.GetFanState(), false)

	clock.advance(time.Millisecond)
	sm.ReadCycle()
	if sm.GetSystemState() != SystemReady {
		t.Errorf("expected READY at 60 s, got %v", sm.GetSystemState())
	}
	assertBools(t, sm.GetFanState(), true)

	// exactly once transition, fan stays put afterwards
	sm.SetFanState(false)
	clock.advance(time.Second)
	sm.ReadCycle()
	if sm.GetSystemState() != SystemReady {
		t.Errorf("expected READY, got %v", sm.GetSystemState())
	}
	assertBools(t, sm.GetFanState(), false)
}

func TestFanStateSurvivesSensorFailures(t *testing.T) {
	sm, sensors, clock := newTestSensorManager(t)

	clock.advance(co2PreheatTime)
	sm.ReadCycle()
	assertBools(t, sm.GetFanState(), true)

	sensors.climate.FailReads = true
	sensors.port.Mute = true
	sensors.barometer.FailReads = true

	sm.ReadCycle()
	assertBools(t, sm.GetFanState(), true)
}

func TestReadCycleAllSensorsDown(t *testing.T) {
	sm, sensors, _ := newTestSensorManager(t)

	sensors.climate.FailReads = true
	sensors.port.Mute = true
	sensors.barometer.FailReads = true

	reading := sm.ReadCycle()
	empty := EmptySensorReading()
	if reading != empty {
		t.Errorf("expected all sentinel reading, got %+v", reading)
	}
}

func TestLeaveCalibrationBeforePreheatElapsed(t *testing.T) {
	sm, _, clock := newTestSensorManager(t)

	sm.SetSystemState(SystemCalibrating)
	clock.advance(co2PreheatTime / 2)

	sm.LeaveCalibration()
	if sm.GetSystemState() != SystemPreheating {
		t.Errorf("expected PREHEATING, got %v", sm.GetSystemState())
	}
	assertBools(t, sm.GetFanState(), false)
}

func TestLeaveCalibrationRunsPendingPreheatCompletion(t *testing.T) {
	sm, _, clock := newTestSensorManager(t)

	// preheat elapses while calibrating, no read cycle saw the boundary
	sm.SetSystemState(SystemCalibrating)
	clock.advance(co2PreheatTime + time.Second)

	sm.LeaveCalibration()
	if sm.GetSystemState() != SystemReady {
		t.Errorf("expected READY, got %v", sm.GetSystemState())
	}
	assertBools(t, sm.GetFanState(), true)
}

func TestLeaveCalibrationKeepsManualFanState(t *testing.T) {
	sm, _, clock := newTestSensorManager(t)

	// preheat completed the regular way, then the fan was switched off
	clock.advance(co2PreheatTime)
	sm.ReadCycle()
	sm.SetFanState(false)

	sm.SetSystemState(SystemCalibrating)
	clock.advance(10 * time.Second)

	// a completed preheat does not re-run, the fan stays where it was put
	sm.LeaveCalibration()
	if sm.GetSystemState() != SystemReady {
		t.Errorf("expected READY, got %v", sm.GetSystemState())
	}
	assertBools(t, sm.GetFanState(), false)
}

func TestSetSystemState(t *testing.T) {
	sm, _, _ := newTestSensorManager(t)

	sm.SetSystemState(SystemCalibrating)
	if sm.GetSystemState() != SystemCalibrating {
		t.Errorf("expected CALIBRATING, got %v", sm.GetSystemState())
	}

	sm.SetSystemState(SystemReady)
	if sm.GetSystemState() != SystemReady {
		t.Errorf("expected READY, got %v", sm.GetSystemState())
	}
}

func TestInitializeWithMissingBarometer(t *testing.T) {
	md := &drivers.MockIoDriver{}
	md.Setup(context.Background(), nil, []uint16{1})
	fan, _ := md.GetOutput(1)

	barometer := &drivers.SimulatedBarometer{FailProbe: true}
	port := &drivers.LoopbackPort{Ppm: 420}
	sm := NewSensorManager(&drivers.SimulatedClimate{Temperature: 20, Humidity: 50},
		drivers.NewCo2Link(port), barometer, fan)

	err := sm.Initialize()
	if err != nil {
		t.Errorf("missing barometer must not fail init, got err: %v", err)
	}
	assertBools(t, sm.BarometerConnected(), false)

	reading := sm.ReadCycle()
	assertFloats(t, reading.PressureHpa, SentinelValue)
	assertFloats(t, reading.Temperature, 20)
	assertInts(t, reading.Co2Ppm, 420)
}
