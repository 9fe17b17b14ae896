package models

import (
	"time"
)

// Sample is one captured region of a device's SRAM.
type Sample struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// BoardID is the board type of the chain the device belongs to.
	BoardID string `gorm:"column:board_id;type:text;not null"`
	// UID of the device.
	UID string `gorm:"column:uid;type:text;not null;index:idx_samples_uid"`
	// PIC is the Position In Chain of the device.
	PIC int32 `gorm:"column:pic;not null"`
	// Address of the region, formatted as 0xXXXXXXXX.
	Address string `gorm:"column:address;type:text;not null"`
	// Data holds the region bytes as comma separated decimal values.
	Data string `gorm:"column:data;type:text;not null"`
	// CreatedAt is the capture timestamp.
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Sample) TableName() string { return "samples" }

// Sensor is one reading of a device's on-die sensors.
type Sensor struct {
	ID      int64  `gorm:"column:id;primaryKey;autoIncrement"`
	BoardID string `gorm:"column:board_id;type:text;not null"`
	UID     string `gorm:"column:uid;type:text;not null;index:idx_sensors_uid"`
	// Temperature in degrees Celsius.
	Temperature float64 `gorm:"column:temperature;not null"`
	// Voltage is the internal VDD in volts.
	Voltage   float64   `gorm:"column:voltage;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Sensor) TableName() string { return "sensors" }
