package data

import "errors"

var (
	// ErrSourceNotFound is returned when a job source does not exist.
	ErrSourceNotFound = errors.New("source not found")
	// ErrSourceSlugExists is returned when creating a source with a slug that already exists.
	ErrSourceSlugExists = errors.New("source slug already exists")
	// ErrSliceNotFound is returned when a search slice does not exist.
	ErrSliceNotFound = errors.New("slice not found")
	// ErrRunNotFound is returned when an ingestion run does not exist.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinalized is returned when mutating a run that already reached a terminal status.
	ErrRunFinalized = errors.New("run already finalized")
)
