// Package storage defines the persistence surface consumed by the device
// chain session. The session only constructs records and hands them off; the
// schema lives with the implementation.
package storage

import (
	"context"

	"github.com/servinagrero/SRAMPlatform/internal/storage/models"
)

// Repo is the narrow persistence sink used by the command handlers.
type Repo interface {
	// WithTx runs fn inside a transaction. Handlers use it to commit one
	// whole per-device sweep at a time.
	WithTx(ctx context.Context, fn func(Repo) error) error

	InsertSample(ctx context.Context, sample *models.Sample) error
	InsertSensor(ctx context.Context, sensor *models.Sensor) error

	// SamplesForDevice returns the stored memory samples of one device,
	// ordered by address then capture time.
	SamplesForDevice(ctx context.Context, boardID, uid string, limit int) ([]models.Sample, error)
}
