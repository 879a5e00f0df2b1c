package sone

import "errors"

var (
	// ErrProtocolVersion is returned when a document declares a negative protocol
	// version or one newer than MaxProtocolVersion.
	ErrProtocolVersion = errors.New("unsupported protocol version")

	// ErrMalformedDocument is returned when a document is missing required data or
	// carries values that cannot be parsed. The whole document is rejected.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrSubstrate wraps failures of the publish substrate itself (fetch or publish).
	// These are transient and retried on the next tick or notification.
	ErrSubstrate = errors.New("substrate failure")

	// ErrDocumentNotFound is returned by a substrate when no edition exists at an address.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrPrecondition signals a caller bug, e.g. bulk-storing posts under the wrong owner.
	ErrPrecondition = errors.New("precondition violated")

	// ErrInvalidEntity is returned by builders when required fields are missing or invalid.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrDuplicateField is returned when a profile already has a field with the given name.
	ErrDuplicateField = errors.New("duplicate profile field")
)
