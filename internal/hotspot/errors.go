package hotspot

import "errors"

// Error taxonomy for the engine. Construction-time misconfiguration and
// internal invariant violations are fatal; everything else is counted and
// processing continues.
var (
	// ErrInvalidParameter marks bad configuration (non-positive eps or
	// min_points, neither or both window eviction policies set). The engine
	// refuses to start.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrMalformedEvent marks an event rejected at ingestion (missing id,
	// non-finite coordinates, negative severity). Non-fatal.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrDuplicateEvent marks an event whose id is already live in the
	// window. The transport is at-least-once, so redelivery is expected and
	// non-fatal; the duplicate is dropped and counted.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrClusteringTimeout marks a tick whose clustering pass exceeded the
	// configured budget. The tick is skipped; the next one proceeds.
	ErrClusteringTimeout = errors.New("clustering timeout")

	// ErrSinkUnavailable marks a failed publish. State is retained and
	// processing continues.
	ErrSinkUnavailable = errors.New("sink unavailable")

	// ErrStateCorruption marks a violated internal invariant (rank gap,
	// labeling/snapshot length mismatch). The window instance halts rather
	// than continue with inconsistent state.
	ErrStateCorruption = errors.New("state corruption")
)
