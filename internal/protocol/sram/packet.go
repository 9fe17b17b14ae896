package sram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Packet wire layout, little-endian multi-byte fields:
// command(1) + pic(1) + options(4) + uid(25) + data(dataSize) + checksum(2)
const (
	// UIDSize is the fixed width of the uid field on the wire.
	UIDSize = 25

	headerSize   = 1 + 1 + 4 + UIDSize
	checksumSize = 2

	// SRAMBase is the start address of the SRAM on the devices.
	SRAMBase = 0x20000000
)

var (
	// ErrNotCrafted is returned when the wire form of an uncrafted packet
	// is requested.
	ErrNotCrafted = errors.New("packet is not crafted")
	// ErrSizeMismatch is returned when a raw frame does not have the exact
	// expected size.
	ErrSizeMismatch = errors.New("packet size mismatch")
	// ErrChecksumMismatch is returned when the stored checksum does not
	// match the recomputed one.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// PacketSize returns the total on-wire size of a packet carrying dataSize
// bytes of payload.
func PacketSize(dataSize int) int {
	return headerSize + dataSize + checksumSize
}

// Packet is one protocol frame exchanged with the device chain.
//
// A packet starts empty, gets its fields populated, and becomes wire-ready
// only after Craft assigns the checksum and materialises the byte form.
// ToBytes and VerifyChecksum reject packets that were never crafted.
type Packet struct {
	Command Command
	// PIC is the Position In Chain of the target device.
	PIC uint8
	// Options carries command-dependent metadata: the memory offset for
	// READ/WRITE, the SRAM size in a PING reply, the error code in an
	// EXEC reply.
	Options uint32
	// UID of the target device, NUL-padded to UIDSize on the wire.
	UID string
	// Data is the payload. Its length fixes the frame size.
	Data []byte
	// Checksum is the CRC16 of the frame with the checksum slot zeroed.
	// Assigned by Craft unless already set.
	Checksum uint16

	wire        []byte
	hasChecksum bool
}

// New returns a packet populated with protocol defaults: a broadcast PING
// with a 0x07-filled payload of dataSize bytes.
func New(dataSize int) *Packet {
	data := make([]byte, dataSize)
	for i := range data {
		data[i] = 0x07
	}
	return &Packet{
		Command: PING,
		UID:     strings.Repeat("0", UIDSize),
		Data:    data,
	}
}

func (p *Packet) String() string {
	return fmt.Sprintf("<Packet %s %03d:%s [0x%04X] CRC(0x%04X)>",
		p.Command, p.PIC, FormatUID(p.UID), p.Options, p.Checksum)
}

// IsCrafted reports whether the packet has a wire representation.
func (p *Packet) IsCrafted() bool {
	return p.wire != nil
}

// marshal lays out the packet with the given checksum in the trailer slot.
func (p *Packet) marshal(checksum uint16) []byte {
	buf := make([]byte, PacketSize(len(p.Data)))
	buf[0] = byte(p.Command)
	buf[1] = p.PIC
	binary.LittleEndian.PutUint32(buf[2:6], p.Options)
	copy(buf[6:6+UIDSize], p.UID)
	copy(buf[headerSize:], p.Data)
	binary.LittleEndian.PutUint16(buf[len(buf)-checksumSize:], checksum)
	return buf
}

// Craft makes the packet wire-ready. If no checksum has been assigned yet it
// is computed over the frame with the checksum slot zeroed, then the final
// byte form is materialised with the real checksum in place.
func (p *Packet) Craft() {
	if !p.hasChecksum {
		p.Checksum = CRC16(p.marshal(0))
		p.hasChecksum = true
	}
	p.wire = p.marshal(p.Checksum)
}

// ToBytes returns the wire representation of a crafted packet.
func (p *Packet) ToBytes() ([]byte, error) {
	if p.wire == nil {
		return nil, ErrNotCrafted
	}
	return p.wire, nil
}

// VerifyChecksum recomputes the CRC16 over the wire bytes with the trailing
// checksum zeroed and compares it against the stored checksum.
func (p *Packet) VerifyChecksum() error {
	if p.wire == nil {
		return ErrNotCrafted
	}
	draft := make([]byte, len(p.wire))
	copy(draft, p.wire)
	draft[len(draft)-2] = 0
	draft[len(draft)-1] = 0
	if CRC16(draft) != p.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}

// Decode reconstructs a crafted packet from exactly one frame of raw bytes.
func Decode(dataSize int, raw []byte) (*Packet, error) {
	if len(raw) != PacketSize(dataSize) {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d",
			ErrSizeMismatch, len(raw), PacketSize(dataSize))
	}

	p := &Packet{
		Command: Command(raw[0]),
		PIC:     raw[1],
		Options: binary.LittleEndian.Uint32(raw[2:6]),
		UID:     string(raw[6 : 6+UIDSize]),
		Data:    append([]byte(nil), raw[headerSize:headerSize+dataSize]...),
	}
	p.Checksum = binary.LittleEndian.Uint16(raw[len(raw)-checksumSize:])
	p.hasChecksum = true
	p.Craft()
	return p, nil
}

// FormatUID strips the NUL padding from a wire uid.
func FormatUID(uid string) string {
	if i := strings.IndexByte(uid, 0); i >= 0 {
		return uid[:i]
	}
	return uid
}

// OffsetToAddress converts a region offset into the absolute SRAM address it
// maps to, formatted as 0xXXXXXXXX.
func OffsetToAddress(dataSize, offset int) (string, error) {
	if offset < 0 {
		return "", errors.New("offset cannot be negative")
	}
	return fmt.Sprintf("0x%08X", SRAMBase+offset*dataSize), nil
}
