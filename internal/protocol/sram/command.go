package sram

import "fmt"

// Command is the opcode carried in the first byte of every packet.
type Command uint8

const (
	// ACK packet received and handled correctly.
	ACK Command = 1
	// PING identifies the devices in a chain.
	PING Command = 2
	// READ reads a region of memory.
	READ Command = 3
	// WRITE writes to a region of memory.
	WRITE Command = 4
	// SENSORS reads the on-die sensors of a device.
	SENSORS Command = 5
	// LOAD loads custom code into a device.
	LOAD Command = 6
	// EXEC executes previously loaded code.
	EXEC Command = 7
	// RETR retrieves the results of executed code.
	RETR Command = 8
	// ERR signals a malformed or rejected packet.
	ERR Command = 255
)

func (c Command) String() string {
	switch c {
	case ACK:
		return "ACK"
	case PING:
		return "PING"
	case READ:
		return "READ"
	case WRITE:
		return "WRITE"
	case SENSORS:
		return "SENSORS"
	case LOAD:
		return "LOAD"
	case EXEC:
		return "EXEC"
	case RETR:
		return "RETR"
	case ERR:
		return "ERR"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}
