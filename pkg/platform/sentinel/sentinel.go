package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// They describe the state of a resource, not the validity of input:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: the stored version moved since it was read (lost compare-and-swap)
// - ErrAlreadyClaimed: another caller holds the submission claim for the record
// - ErrInvalidState: the stored record is in the wrong status for the write
// - ErrUnavailable: backing service temporarily unavailable
//
// For validation failures use pkg/domain-errors directly.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAlreadyClaimed = errors.New("already claimed")
	ErrInvalidState   = errors.New("invalid state")
	ErrUnavailable    = errors.New("unavailable")
)
