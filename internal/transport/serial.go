package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig holds the serial port parameters.
type SerialConfig struct {
	// Device path, e.g. /dev/ttyUSB0.
	Device string
	Baud   int
	// ReadTimeout bounds a single poll of the port. Keep it short: the
	// receiver samples byte availability in a loop and a long timeout
	// here inflates every sample.
	ReadTimeout time.Duration
}

// serialPort is the slice of tarm/serial the channel uses.
type serialPort interface {
	io.ReadWriteCloser
	Flush() error
}

// SerialChannel implements Channel over a tarm/serial port.
//
// The port itself offers no "bytes waiting" query, so the channel keeps an
// internal pending buffer topped up by short-timeout reads; Available
// reports the length of that buffer.
type SerialChannel struct {
	port    serialPort
	pending []byte
	scratch []byte
}

// OpenSerial opens the configured serial device.
func OpenSerial(cfg SerialConfig) (*SerialChannel, error) {
	if _, err := os.Stat(cfg.Device); err != nil {
		return nil, fmt.Errorf("serial device %s: %w", cfg.Device, err)
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 20 * time.Millisecond
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}

	return &SerialChannel{
		port:    port,
		scratch: make([]byte, 4096),
	}, nil
}

// fill performs one bounded read of the port into the pending buffer.
func (c *SerialChannel) fill() error {
	n, err := c.port.Read(c.scratch)
	if n > 0 {
		c.pending = append(c.pending, c.scratch[:n]...)
	}
	// A timed-out poll surfaces as EOF on posix; that just means no data.
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Available polls the port once and returns the number of buffered bytes.
// A failed poll is a transport fault, distinct from an empty buffer: an
// unplugged port must never read as a silent bus.
func (c *SerialChannel) Available() (int, error) {
	err := c.fill()
	return len(c.pending), err
}

// Read drains buffered bytes, polling the port once if the buffer is empty.
func (c *SerialChannel) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		if err := c.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Send flushes any stale input, then writes the whole buffer. A previous
// command aborted mid-frame may have left bytes in flight; dropping them
// here keeps the next exchange aligned on a frame boundary.
func (c *SerialChannel) Send(p []byte) error {
	c.pending = c.pending[:0]
	if err := c.port.Flush(); err != nil {
		return fmt.Errorf("flush serial port: %w", err)
	}

	for len(p) > 0 {
		n, err := c.port.Write(p)
		if err != nil {
			return fmt.Errorf("write serial port: %w", err)
		}
		p = p[n:]
	}
	return nil
}

// Close closes the underlying port.
func (c *SerialChannel) Close() error {
	return c.port.Close()
}
