// Package reader drives the request/response protocol against a chain of
// devices and keeps the session bookkeeping: which devices are known, and
// whether the bus is powered.
package reader

import (
	"fmt"

	"github.com/servinagrero/SRAMPlatform/internal/protocol/sram"
)

// Device is one chain member as reported by the last ping.
type Device struct {
	// UID of the device.
	UID string `json:"uid"`
	// PIC is the Position In Chain.
	PIC uint8 `json:"pic"`
	// SRAMSize in bytes.
	SRAMSize uint32 `json:"sram_size"`
}

// Same reports device identity, which is the (uid, pic) pair. Two records
// agreeing on both are the same device regardless of the reported SRAM size.
func (d Device) Same(other Device) bool {
	return d.UID == other.UID && d.PIC == other.PIC
}

func (d Device) String() string {
	return fmt.Sprintf("<Device %03d:%s 0x%08X>", d.PIC, sram.FormatUID(d.UID), d.SRAMSize)
}

// Regions returns how many payload-sized regions the device's SRAM spans.
func (d Device) Regions(dataSize int) int {
	if dataSize <= 0 {
		return 0
	}
	return int(d.SRAMSize) / dataSize
}
