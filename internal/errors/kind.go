package errors

import "errors"

// Kind classifies an error along the lines the orchestrator and executor
// need to decide whether to abort, retry, or log-and-continue.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindConfig is a fatal startup misconfiguration.
	KindConfig
	// KindTransport is a connection/timeout/5xx failure. Logged, counted, never escalated.
	KindTransport
	// KindVenueLogical is a 4xx with venue-defined semantics.
	KindVenueLogical
	// KindTokenExpired marks a call the venue rejected for its bearer token (HTTP 401).
	// Not fatal. It does not invalidate the cached token: auth.TokenManager replaces
	// that on the next background refresh or once its remaining TTL is within the
	// safety margin.
	KindTokenExpired
	// KindCancelled is cooperative cancellation. Never logged as an error.
	KindCancelled
	// KindInvariant is a fatal assertion failure (e.g. an unbalanced settlement plan).
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindVenueLogical:
		return "venue_logical"
	case KindTokenExpired:
		return "token_expired"
	case KindCancelled:
		return "cancelled"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// VenueLogicalKind enumerates the venue 4xx reasons spec §7 names explicitly.
type VenueLogicalKind uint8

const (
	VenueLogicalUnknown VenueLogicalKind = iota
	VenueLogicalAlreadyFilledOrClosed
	VenueLogicalOrderUnknown
	VenueLogicalChallengeExpired
	VenueLogicalInvalidSignature
	VenueLogicalAlreadySettled
	VenueLogicalInvalid
)

func (k VenueLogicalKind) String() string {
	switch k {
	case VenueLogicalAlreadyFilledOrClosed:
		return "already_filled_or_closed"
	case VenueLogicalOrderUnknown:
		return "order_unknown"
	case VenueLogicalChallengeExpired:
		return "challenge_expired"
	case VenueLogicalInvalidSignature:
		return "invalid_signature"
	case VenueLogicalAlreadySettled:
		return "already_settled"
	case VenueLogicalInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// TypedError carries a Kind alongside the wrapped cause, so callers can
// branch on classification without string-matching messages.
type TypedError struct {
	kind      Kind
	venueKind VenueLogicalKind
	msg       string
	err       error
}

func (e *TypedError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + sep + e.err.Error()
}

func (e *TypedError) Unwrap() error {
	return e.err
}

// Kind returns the error's classification.
func (e *TypedError) Kind() Kind {
	return e.kind
}

// VenueLogicalKind returns the venue-defined reason, valid only when Kind() == KindVenueLogical.
func (e *TypedError) VenueLogicalKind() VenueLogicalKind {
	return e.venueKind
}

// Config builds a fatal configuration error.
func Config(msg string) error {
	return &TypedError{kind: KindConfig, msg: msg}
}

// Configf wraps an existing error as a fatal configuration error.
func Configf(err error, msg string) error {
	return &TypedError{kind: KindConfig, msg: msg, err: err}
}

// Transport wraps a connection/timeout/5xx failure.
func Transport(err error, msg string) error {
	return &TypedError{kind: KindTransport, msg: msg, err: err}
}

// VenueLogical builds a venue 4xx error of the given reason.
func VenueLogical(kind VenueLogicalKind, msg string) error {
	return &TypedError{kind: KindVenueLogical, venueKind: kind, msg: msg}
}

// TokenExpired marks a failed call caused by an expired bearer token.
func TokenExpired(msg string) error {
	return &TypedError{kind: KindTokenExpired, msg: msg}
}

// Cancelled marks cooperative cancellation at a suspension point.
func Cancelled() error {
	return &TypedError{kind: KindCancelled, msg: "cancelled"}
}

// Invariant builds a fatal assertion-failure error.
func Invariant(msg string) error {
	return &TypedError{kind: KindInvariant, msg: msg}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var te *TypedError
	if errors.As(err, &te) {
		return te.kind == kind
	}
	return false
}

// AsVenueLogical reports whether err is a VenueLogical error and returns its reason.
func AsVenueLogical(err error) (VenueLogicalKind, bool) {
	var te *TypedError
	if errors.As(err, &te) && te.kind == KindVenueLogical {
		return te.venueKind, true
	}
	return VenueLogicalUnknown, false
}

// Fatal reports whether err must abort the process per spec §7
// (Config and Invariant are the only fatal kinds).
func Fatal(err error) bool {
	return Is(err, KindConfig) || Is(err, KindInvariant)
}
