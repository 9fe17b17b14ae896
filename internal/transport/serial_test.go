package transport

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort scripts the tarm/serial behavior: data while it lasts, then a
// timed-out poll (EOF) or a hard fault.
type fakePort struct {
	data    []byte
	readErr error
	wrote   []byte
	flushed int
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.data) > 0 {
		n := copy(b, p.data)
		p.data = p.data[n:]
		return n, nil
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	return 0, io.EOF
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.wrote = append(p.wrote, b...)
	return len(b), nil
}

func (p *fakePort) Flush() error {
	p.flushed++
	return nil
}

func (p *fakePort) Close() error { return nil }

func newFakeChannel(port *fakePort) *SerialChannel {
	return &SerialChannel{port: port, scratch: make([]byte, 64)}
}

func TestSerialAvailable_BuffersPendingBytes(t *testing.T) {
	ch := newFakeChannel(&fakePort{data: []byte{1, 2, 3}})

	n, err := ch.Available()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	buf := make([]byte, 2)
	rn, err := ch.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, rn)
	assert.Equal(t, []byte{1, 2}, buf)

	// The timed-out poll behind this call is silence, not a fault.
	n, err = ch.Available()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSerialAvailable_SurfacesPortFault(t *testing.T) {
	portErr := errors.New("input/output error")
	ch := newFakeChannel(&fakePort{readErr: portErr})

	_, err := ch.Available()
	require.ErrorIs(t, err, portErr)

	_, err = ch.Read(make([]byte, 8))
	require.ErrorIs(t, err, portErr)
}

func TestSerialSend_FlushesStaleInput(t *testing.T) {
	port := &fakePort{data: []byte{0xDE, 0xAD}}
	ch := newFakeChannel(port)

	n, err := ch.Available()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, ch.Send([]byte{0x01, 0x02, 0x03}))
	assert.Equal(t, 1, port.flushed)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, port.wrote)

	n, err = ch.Available()
	require.NoError(t, err)
	assert.Zero(t, n)
}