package drivers

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

const serialReadTimeout = 50 * time.Millisecond

// SerialPort implements BytePort on a real UART device. The underlying port
// only offers blocking reads, so a pump goroutine drains it into a buffer
// that Available and ReadFull operate on without blocking.
type SerialPort struct {
	rwc io.ReadWriteCloser

	mu     sync.Mutex
	buf    []byte
	closed bool
}

func OpenSerialPort(device string, baud int) (*SerialPort, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: serialReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", device)
	}

	sp := &SerialPort{rwc: port}
	go sp.pump()

	return sp, nil
}

func (sp *SerialPort) pump() {
	chunk := make([]byte, 64)
	for {
		n, err := sp.rwc.Read(chunk)

		sp.mu.Lock()
		if sp.closed {
			sp.mu.Unlock()
			return
		}
		if n > 0 {
			sp.buf = append(sp.buf, chunk[:n]...)
		}
		sp.mu.Unlock()

		if err != nil && err != io.EOF {
			return
		}
	}
}

func (sp *SerialPort) Write(p []byte) (int, error) {
	// stale bytes from an abandoned response would desync framing
	sp.mu.Lock()
	sp.buf = sp.buf[:0]
	sp.mu.Unlock()

	return sp.rwc.Write(p)
}

func (sp *SerialPort) Available() (int, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.closed {
		return 0, errors.New("serial port closed")
	}
	return len(sp.buf), nil
}

func (sp *SerialPort) ReadFull(p []byte) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if len(sp.buf) < len(p) {
		return errors.Errorf("serial read of %d bytes requested, only %d buffered", len(p), len(sp.buf))
	}

	copy(p, sp.buf[:len(p)])
	sp.buf = sp.buf[len(p):]
	return nil
}

func (sp *SerialPort) Close() error {
	sp.mu.Lock()
	sp.closed = true
	sp.mu.Unlock()

	return sp.rwc.Close()
}
