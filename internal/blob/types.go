// Package blob is the entry point to the snapshot object store. It re-exports
// the core abstractions and builds the configured driver.
package blob

import "shopcore/internal/blob/core"

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	// ErrNotFound is returned for keys that hold no blob.
	ErrNotFound = core.ErrNotFound
	// ErrExists is returned when writing to a taken key.
	ErrExists = core.ErrExists
)
