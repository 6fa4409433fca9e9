package airkit

import (
	"context"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/airkit/drivers"
)

func newTestKit(t testing.TB) (*AirKit, *testClock) {
	t.Helper()

	ak := &AirKit{
		Name:           "test",
		FanPin:         1,
		CalibrationPin: 2,
		Simulate:       true,
		FakeDriver:     &drivers.MockIoDriver{},
	}

	err := ak.InitDrivers(context.Background())
	if err != nil {
		t.Fatalf("InitDrivers returned err: %v", err)
	}

	err = ak.InitSensors()
	if err != nil {
		t.Fatalf("InitSensors returned err: %v", err)
	}

	clock := &testClock{t: time.Unix(12000, 0)}
	ak.now = clock.now
	ak.Sensors.now = clock.now
	ak.Sensors.barometer.now = clock.now
	ak.Calibration.now = clock.now
	ak.Sensors.preheatStart = clock.t
	ak.Sensors.barometer.lastAttempt = clock.t

	return ak, clock
}

func (ak *AirKit) calibrationLine(t testing.TB) drivers.DigitalOutput {
	t.Helper()

	line, err := ak.FakeDriver.GetOutput(ak.CalibrationPin)
	if err != nil {
		t.Fatalf("GetOutput returned err: %v", err)
	}
	return line
}

func TestCommandStartsCalibrationSameTick(t *testing.T) {
	ak, clock := newTestKit(t)
	line := ak.calibrationLine(t)

	// system up and ready
	clock.advance(co2PreheatTime)
	ak.Tick()
	if ak.Sensors.GetSystemState() != SystemReady {
		t.Fatalf("expected READY, got %v", ak.Sensors.GetSystemState())
	}

	ak.Command(CommandStartCalibration)
	ak.Tick()

	// line asserted and state reconciled within the same tick
	assertBools(t, lineAsserted(t, line), true)
	if ak.Sensors.GetSystemState() != SystemCalibrating {
		t.Errorf("expected CALIBRATING, got %v", ak.Sensors.GetSystemState())
	}

	// 7 s later the next tick releases the line and restores READY
	clock.advance(calibrationPulseTime)
	ak.Tick()
	assertBools(t, lineAsserted(t, line), false)
	if ak.Sensors.GetSystemState() != SystemReady {
		t.Errorf("expected READY after calibration, got %v", ak.Sensors.GetSystemState())
	}
}

func TestCalibrationSuppressesAcquisition(t *testing.T) {
	ak, clock := newTestKit(t)

	clock.advance(co2PreheatTime)
	ak.Tick()
	first := ak.LastReading()
	assertInts(t, first.Co2Ppm, 420)

	ak.Command(CommandStartCalibration)
	ak.Tick()

	// while calibrating no read cycles run, the last reading is frozen
	clock.advance(3 * time.Second)
	ak.Tick()
	if ak.LastReading() != first {
		t.Error("reading changed while calibrating")
	}

	clock.advance(calibrationPulseTime)
	ak.Tick()
	clock.advance(ak.AcquisitionInterval)
	ak.Tick()
	assertInts(t, ak.LastReading().Co2Ppm, 420)
}

func TestCalibrationRequestDuringCalibrationDropped(t *testing.T) {
	ak, clock := newTestKit(t)
	line := ak.calibrationLine(t)

	ak.Command(CommandStartCalibration)
	ak.Tick()
	assertBools(t, lineAsserted(t, line), true)

	clock.advance(3 * time.Second)
	ak.Command(CommandStartCalibration)
	ak.Tick()

	// the second request must not extend the pulse
	clock.advance(4 * time.Second)
	ak.Tick()
	assertBools(t, lineAsserted(t, line), false)
	assertBools(t, ak.Calibration.IsCalibrating(), false)
}

func TestCalibrationDuringPreheatRestoresPreheating(t *testing.T) {
	ak, clock := newTestKit(t)

	ak.Command(CommandStartCalibration)
	ak.Tick()
	if ak.Sensors.GetSystemState() != SystemCalibrating {
		t.Fatalf("expected CALIBRATING, got %v", ak.Sensors.GetSystemState())
	}

	// pulse ends well before the preheat timer does
	clock.advance(calibrationPulseTime)
	ak.Tick()
	if ak.Sensors.GetSystemState() != SystemPreheating {
		t.Errorf("expected PREHEATING restored, got %v", ak.Sensors.GetSystemState())
	}
	assertBools(t, ak.Sensors.GetFanState(), false)
}

func TestCalibrationSpanningPreheatBoundary(t *testing.T) {
	ak, clock := newTestKit(t)
	line := ak.calibrationLine(t)

	// calibration requested at 55 s, still preheating
	clock.advance(co2PreheatTime - 5*time.Second)
	ak.Tick()
	ak.Command(CommandStartCalibration)
	ak.Tick()
	assertBools(t, lineAsserted(t, line), true)
	assertBools(t, ak.Sensors.GetFanState(), false)

	// the pulse ends at 62 s, past the preheat boundary: the pending
	// preheat completion must run, asserting the fan
	clock.advance(calibrationPulseTime)
	ak.Tick()
	assertBools(t, lineAsserted(t, line), false)
	if ak.Sensors.GetSystemState() != SystemReady {
		t.Errorf("expected READY, got %v", ak.Sensors.GetSystemState())
	}
	assertBools(t, ak.Sensors.GetFanState(), true)

	// fan stays asserted over the following acquisition cycles
	for i := 0; i < 5; i++ {
		clock.advance(ak.AcquisitionInterval)
		ak.Tick()
		assertBools(t, ak.Sensors.GetFanState(), true)
	}
}

func TestMqttHandlerCollection(t *testing.T) {
	ak, _ := newTestKit(t)

	handlers := ak.mqttHandlers(nil)
	if len(handlers) == 0 {
		t.Fatal("expected at least the command handler")
	}

	if handlers[0].MqttSubscribeTopic() != "airkit/test/command" {
		t.Errorf("got command topic %q", handlers[0].MqttSubscribeTopic())
	}
}

func TestMqttCommandDelivery(t *testing.T) {
	ak, _ := newTestKit(t)

	ak.MqttHandle(&paho.Publish{
		Topic:   ak.MqttSubscribeTopic(),
		Payload: []byte(CommandFanOn),
	})
	ak.Tick()
	assertBools(t, ak.Sensors.GetFanState(), true)
}

func TestUnrecognizedCommandIgnored(t *testing.T) {
	ak, _ := newTestKit(t)
	line := ak.calibrationLine(t)

	ak.Command("CALIBRATE_PLEASE")
	ak.Command("")
	ak.Tick()

	assertBools(t, lineAsserted(t, line), false)
	assertBools(t, ak.Calibration.IsCalibrating(), false)
	if ak.Sensors.GetSystemState() != SystemPreheating {
		t.Errorf("expected PREHEATING, got %v", ak.Sensors.GetSystemState())
	}
}

func TestFanCommands(t *testing.T) {
	ak, _ := newTestKit(t)

	ak.Command(CommandFanOn)
	ak.Tick()
	assertBools(t, ak.Sensors.GetFanState(), true)

	ak.Command(CommandFanOff)
	ak.Tick()
	assertBools(t, ak.Sensors.GetFanState(), false)
}

func TestAcquisitionIntervalGating(t *testing.T) {
	ak, clock := newTestKit(t)

	ak.Tick()
	first := ak.LastReading()
	assertInts(t, first.Co2Ppm, 420)

	// next tick inside the interval must not acquire
	simPort := &drivers.LoopbackPort{Ppm: 999}
	ak.Sensors.co2 = drivers.NewCo2Link(simPort)

	clock.advance(ak.AcquisitionInterval / 2)
	ak.Tick()
	assertInts(t, ak.LastReading().Co2Ppm, 420)

	clock.advance(ak.AcquisitionInterval / 2)
	ak.Tick()
	assertInts(t, ak.LastReading().Co2Ppm, 999)
}

func TestOneCommandPerTick(t *testing.T) {
	ak, _ := newTestKit(t)

	ak.Command(CommandFanOn)
	ak.Command(CommandFanOff)

	ak.Tick()
	assertBools(t, ak.Sensors.GetFanState(), true)

	ak.Tick()
	assertBools(t, ak.Sensors.GetFanState(), false)
}
