package drivers

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// MH-Z19 family frame protocol: fixed 9 byte frames, byte 0 is the 0xFF
// start marker, byte 1 the command (or sensor number in responses), byte 8
// the checksum over bytes 1..7.
const co2FrameLength = 9

const co2FrameStart = 0xFF
const co2CmdRead = 0x86
const co2CmdAutoCalOff = 0x79

const co2ResponseTimeout = 150 * time.Millisecond
const co2PollInterval = 2 * time.Millisecond

const co2Sentinel = -1

var ErrCo2Timeout = errors.New("timeout waiting for co2 sensor response")
var ErrCo2Protocol = errors.New("invalid response frame from co2 sensor")
var ErrCo2PortClosed = errors.New("co2 sensor port not open")

// co2ReadRequest is the read frame with its checksum constant folded, it is
// the same value FrameChecksum would produce.
var co2ReadRequest = []byte{co2FrameStart, 0x01, co2CmdRead, 0, 0, 0, 0, 0, 0x79}

// FrameChecksum computes the MH-Z19 frame checksum: the two's complement of
// the sum of bytes 1..7.
func FrameChecksum(frame []byte) byte {
	var sum byte
	for _, b := range frame[1:8] {
		sum += b
	}
	return (0xFF - sum) + 1
}

// Co2Link requests readings from an MH-Z19 CO2 sensor over a byte transport
// and parses its replies. Reads are bounded: if the full response frame does
// not arrive within 150 ms the reading is abandoned.
type Co2Link struct {
	port BytePort

	logger *log.Logger
	now    func() time.Time
	sleep  func(time.Duration)
}

func NewCo2Link(port BytePort) *Co2Link {
	return &Co2Link{
		port: port,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "co2: ",
			Level:  log.GetLevel(),
		}),
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// RequestReading sends a read command and waits up to 150 ms for the 9 byte
// response. The frame is accepted only with a valid header and checksum; it
// returns the concentration in ppm, or -1 together with ErrCo2Timeout or
// ErrCo2Protocol when no valid frame arrived. A partially parsed value is
// never returned.
func (cl *Co2Link) RequestReading() (ppm int, err error) {
	ppm = co2Sentinel

	if cl.port == nil {
		err = ErrCo2PortClosed
		return
	}

	_, err = cl.port.Write(co2ReadRequest)
	if err != nil {
		err = errors.Wrap(err, "failed to send co2 read request")
		return
	}

	deadline := cl.now().Add(co2ResponseTimeout)
	for {
		available, availErr := cl.port.Available()
		if availErr == nil && available >= co2FrameLength {
			break
		}
		if cl.now().After(deadline) {
			err = ErrCo2Timeout
			return
		}
		// bounded poll, yield between checks instead of hard spinning
		cl.sleep(co2PollInterval)
	}

	response := make([]byte, co2FrameLength)
	err = cl.port.ReadFull(response)
	if err != nil {
		err = errors.Wrap(err, "failed to read co2 response frame")
		return
	}

	if response[0] != co2FrameStart || response[1] != co2CmdRead {
		cl.logger.Warn("co2 response header mismatch",
			"header", fmt.Sprintf("0x%02x 0x%02x", response[0], response[1]))
		err = ErrCo2Protocol
		return
	}

	if response[8] != FrameChecksum(response) {
		cl.logger.Warn("co2 response checksum mismatch",
			"got", fmt.Sprintf("0x%02x", response[8]),
			"want", fmt.Sprintf("0x%02x", FrameChecksum(response)))
		err = ErrCo2Protocol
		return
	}

	ppm = int(response[2])<<8 | int(response[3])
	return ppm, nil
}

// DisableAutoCalibration turns off the sensor's automatic baseline
// correction, required for manual zero point calibration to hold.
func (cl *Co2Link) DisableAutoCalibration() error {
	if cl.port == nil {
		return ErrCo2PortClosed
	}

	frame := commandFrame(co2CmdAutoCalOff)
	_, err := cl.port.Write(frame)
	if err != nil {
		return errors.Wrap(err, "failed to send autocalibration off command")
	}

	return nil
}

// commandFrame builds an outgoing frame for the given command byte with the
// checksum filled in.
func commandFrame(cmd byte) []byte {
	frame := make([]byte, co2FrameLength)
	frame[0] = co2FrameStart
	frame[1] = 0x01
	frame[2] = cmd
	frame[8] = FrameChecksum(frame)
	return frame
}
