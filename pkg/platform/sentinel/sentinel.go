package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Token stores and transport layers return
// these (optionally wrapped) so the session layer can translate them into outcomes.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: nothing is persisted under the requested key
// - ErrExpired: token has expired
// - ErrInvalidState: component is in the wrong state for the requested operation
// - ErrUnavailable: backing service or device temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
