package monitoring

import "errors"

var (
	// ErrInvalidThresholds indicates a thresholds pair outside the allowed ranges.
	ErrInvalidThresholds = errors.New("monitoring: invalid thresholds")
	// ErrInvalidReading indicates a reading that cannot be ingested.
	ErrInvalidReading = errors.New("monitoring: invalid reading")
	// ErrSnapshotNotFound is returned by stores holding no snapshot yet.
	ErrSnapshotNotFound = errors.New("monitoring: snapshot not found")
)
