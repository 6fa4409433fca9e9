package airkit

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/airkit/drivers"
)

const calibrationPulseTime = 7 * time.Second
const defaultStabilizationTime = 20 * time.Minute
const stabilizationProgressInterval = 10 * time.Second

type CalibrationPhase int

const (
	CalibrationIdle CalibrationPhase = iota
	CalibrationStabilizing
	CalibrationPulsing
)

func (cp CalibrationPhase) String() string {
	switch cp {
	case CalibrationStabilizing:
		return "STABILIZING"
	case CalibrationPulsing:
		return "PULSING"
	default:
		return "IDLE"
	}
}

// Calibrator drives the zero-point calibration of the CO2 sensor: it holds the
// HD line asserted for a fixed pulse, optionally after a stabilization wait.
// Run performs clock comparisons only and never sleeps, so it is safe to call
// from the controller tick at any cadence.
//
// The HD line is active low on the sensor side; Set(true) on the output means
// "asserted", the polarity is handled by the io driver configuration.
type Calibrator struct {
	LinePin    uint16
	DriverName string

	// Stabilize enables the pre-pulse stabilization wait, during which
	// progress is reported every 10 seconds.
	Stabilize         bool
	StabilizationTime time.Duration

	phase        CalibrationPhase
	phaseStart   time.Time
	lastProgress time.Time
	line         drivers.DigitalOutput

	logger *log.Logger
	now    func() time.Time
}

func (ca *Calibrator) GetDriverName() string {
	return ca.DriverName
}

func (ca *Calibrator) Init(driver drivers.IoDriver) (err error) {
	if !driver.IsReady() {
		return errors.Errorf("Calibrator init failed, driver %s not ready", driver)
	}

	ca.line, err = driver.GetOutput(ca.LinePin)
	if err != nil {
		return errors.Wrap(err, "Calibrator init failed")
	}

	if ca.Stabilize && ca.StabilizationTime == 0 {
		ca.StabilizationTime = defaultStabilizationTime
	}

	if ca.now == nil {
		ca.now = time.Now
	}
	if ca.logger == nil {
		ca.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "calibration: ",
			Level:  log.GetLevel(),
		})
	}

	ca.phase = CalibrationIdle

	// HD line released on startup, the sensor must not see a stray pulse.
	return ca.line.Set(false)
}

// StartCalibration begins a calibration run. Requests arriving while a run is
// already in progress are dropped, they are not queued.
func (ca *Calibrator) StartCalibration() {
	if ca.phase != CalibrationIdle {
		return
	}

	if ca.Stabilize {
		ca.phase = CalibrationStabilizing
		ca.phaseStart = ca.now()
		ca.lastProgress = ca.phaseStart
		ca.logger.Info("calibration requested, stabilizing sensor",
			"wait", ca.StabilizationTime)
		return
	}

	ca.startPulse()
}

func (ca *Calibrator) IsCalibrating() bool {
	return ca.phase != CalibrationIdle
}

func (ca *Calibrator) Phase() CalibrationPhase {
	return ca.phase
}

// Run advances the state machine. The pulse is held for at least the full
// pulse time and released on the first call at or past the deadline.
func (ca *Calibrator) Run() {
	switch ca.phase {
	case CalibrationStabilizing:
		now := ca.now()
		elapsed := now.Sub(ca.phaseStart)

		if now.Sub(ca.lastProgress) >= stabilizationProgressInterval {
			ca.lastProgress = now
			ca.logger.Info("stabilizing", "remaining", ca.StabilizationTime-elapsed)
		}

		if elapsed >= ca.StabilizationTime {
			ca.logger.Info("stabilization complete, starting calibration pulse")
			ca.startPulse()
		}
	case CalibrationPulsing:
		if ca.now().Sub(ca.phaseStart) >= calibrationPulseTime {
			err := ca.line.Set(false)
			if err != nil {
				ca.logger.Error("failed to release calibration line", "err", err)
			}
			ca.phase = CalibrationIdle
			ca.logger.Info("zero point calibration done, sensor set to 400 ppm")
		}
	}
}

func (ca *Calibrator) startPulse() {
	err := ca.line.Set(true)
	if err != nil {
		ca.logger.Error("failed to assert calibration line", "err", err)
	}
	ca.phase = CalibrationPulsing
	ca.phaseStart = ca.now()
}
