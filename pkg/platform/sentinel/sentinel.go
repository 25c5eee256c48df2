package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: document does not exist at the path
// - ErrAppendOnly: path lives under an append-only prefix and cannot be rewritten
// - ErrInvalidPath: path is empty or contains empty/dot segments
// - ErrUnavailable: store or backend temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrAppendOnly  = errors.New("append-only path")
	ErrInvalidPath = errors.New("invalid path")
	ErrUnavailable = errors.New("unavailable")
)
