package drivers

import (
	"sync"

	"github.com/pkg/errors"
)

// Simulated sensor backends for dry runs and tests, no hardware required.

var ErrSimulatedFailure = errors.New("simulated sensor failure")

type SimulatedClimate struct {
	Temperature float64
	Humidity    float64
	FailReads   bool

	armed bool
}

func (sc *SimulatedClimate) Arm() error {
	sc.armed = true
	return nil
}

func (sc *SimulatedClimate) ReadClimate() (temperature, humidity float64, err error) {
	if !sc.armed || sc.FailReads {
		err = ErrSimulatedFailure
		return
	}
	return sc.Temperature, sc.Humidity, nil
}

type SimulatedBarometer struct {
	PressurePa float64
	FailProbe  bool
	FailReads  bool

	ProbeCount int
}

func (sb *SimulatedBarometer) Probe() error {
	sb.ProbeCount++
	if sb.FailProbe {
		return ErrSimulatedFailure
	}
	return nil
}

func (sb *SimulatedBarometer) ReadPressure() (float64, error) {
	if sb.FailReads {
		return 0, ErrSimulatedFailure
	}
	return sb.PressurePa, nil
}

func (sb *SimulatedBarometer) Close() error {
	return nil
}

// LoopbackPort is a BytePort that plays the sensor side of the MH-Z19
// protocol: every read request is answered with a frame carrying Ppm.
// Mute suppresses responses to exercise the timeout path.
type LoopbackPort struct {
	Ppm  int
	Mute bool

	// CorruptHeader makes responses fail the header check, CorruptChecksum
	// makes them fail the checksum check.
	CorruptHeader   bool
	CorruptChecksum bool

	mu  sync.Mutex
	buf []byte

	Writes [][]byte
}

func (lp *LoopbackPort) Write(p []byte) (int, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	frame := make([]byte, len(p))
	copy(frame, p)
	lp.Writes = append(lp.Writes, frame)

	// a write starts a fresh exchange, stale response bytes are dropped
	lp.buf = nil

	if lp.Mute || len(p) != co2FrameLength || p[2] != co2CmdRead {
		return len(p), nil
	}

	response := make([]byte, co2FrameLength)
	response[0] = co2FrameStart
	response[1] = co2CmdRead
	response[2] = byte(lp.Ppm >> 8)
	response[3] = byte(lp.Ppm)
	response[8] = FrameChecksum(response)
	if lp.CorruptHeader {
		response[1] = 0x00
	}
	if lp.CorruptChecksum {
		response[8] ^= 0xFF
	}
	lp.buf = append(lp.buf, response...)

	return len(p), nil
}

func (lp *LoopbackPort) Available() (int, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return len(lp.buf), nil
}

func (lp *LoopbackPort) ReadFull(p []byte) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if len(lp.buf) < len(p) {
		return ErrSimulatedFailure
	}
	copy(p, lp.buf[:len(p)])
	lp.buf = lp.buf[len(p):]
	return nil
}

func (lp *LoopbackPort) Close() error {
	return nil
}
