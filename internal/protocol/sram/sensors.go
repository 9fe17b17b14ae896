package sram

import (
	"encoding/binary"
	"errors"
	"math"
)

// Sensors holds the decoded on-die sensor readings of a device.
type Sensors struct {
	// Temperature in degrees Celsius.
	Temperature float64 `json:"temperature"`
	// Voltage is the internal VDD in volts.
	Voltage float64 `json:"voltage"`
}

// ExtractSensors interprets the first 10 payload bytes as five little-endian
// 16-bit values: temperature calibration at 110C and at 30C, the raw
// temperature reading, the VDD calibration and the raw VDD reading.
func (p *Packet) ExtractSensors() (Sensors, error) {
	if len(p.Data) < 10 {
		return Sensors{}, errors.New("payload too short for sensor data")
	}

	cal110 := binary.LittleEndian.Uint16(p.Data[0:2])
	cal30 := binary.LittleEndian.Uint16(p.Data[2:4])
	rawTemp := binary.LittleEndian.Uint16(p.Data[4:6])
	vddCal := binary.LittleEndian.Uint16(p.Data[6:8])
	vddRaw := binary.LittleEndian.Uint16(p.Data[8:10])

	if cal110 == cal30 {
		return Sensors{}, errors.New("temperature calibration values are equal")
	}
	if vddRaw == 0 {
		return Sensors{}, errors.New("raw vdd reading is zero")
	}

	temp := (110.0-30.0)/(float64(cal110)-float64(cal30))*(float64(rawTemp)-float64(cal30)) + 30.0
	vdd := 3300 * float64(vddCal) / float64(vddRaw) * 0.001

	return Sensors{
		Temperature: round5(temp),
		Voltage:     round5(vdd),
	}, nil
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
