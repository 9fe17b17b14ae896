// Package transport provides the byte-oriented link to the device chain and
// the frame reassembly logic on top of it.
package transport

// Channel is a duplex byte link to the device chain.
//
// Implementations are not safe for concurrent use: a channel is owned by a
// single session and commands are strictly sequential.
type Channel interface {
	// Send discards any stale input backlog, writes all bytes and makes
	// sure output has been handed to the link before returning.
	Send(p []byte) error
	// Available returns the number of bytes currently buffered for Read.
	// A link fault is reported here so a dead port is not mistaken for
	// a silent bus.
	Available() (int, error)
	// Read drains up to len(p) buffered bytes. It never blocks waiting
	// for more data than is available.
	Read(p []byte) (int, error)
	Close() error
}
