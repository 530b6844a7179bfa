package errors

import (
	sterrors "errors"
	"fmt"
)

// Kind is a stable category used for logging and programmatic handling.
// Branch on Kind or on the sentinel values below, never on Error() strings.
type Kind string

const (
	KindProtocol Kind = "protocol"
	KindContext  Kind = "context"
	KindRouting  Kind = "routing"
	KindIdentity Kind = "identity"
	KindCrypto   Kind = "crypto"
	KindConfig   Kind = "config"
	KindInternal Kind = "internal"
)

// Error is a categorised botcomet error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("botcomet: %s: %v", e.Message, e.Cause)
	}
	return "botcomet: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap annotates cause with a kind and message. A nil cause yields nil.
func Wrap(kind Kind, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf returns the kind of the outermost categorised error in the chain,
// or KindInternal when none is present.
func KindOf(err error) Kind {
	var e *Error
	if sterrors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindInternal
}

var (
	ErrUnknownMessageType = New(KindProtocol, "unknown message type")
	ErrMalformedEnvelope  = New(KindProtocol, "malformed envelope")
	ErrAlreadyIdentified  = New(KindProtocol, "connection already identified")
	ErrNotIdentified      = New(KindProtocol, "connection not identified")
	ErrSourceMismatch     = New(KindProtocol, "source does not match sender identity")
	ErrAddressInUse       = New(KindProtocol, "plugin address already connected")

	ErrContextNotFound     = New(KindContext, "context not found")
	ErrContextTypeMismatch = New(KindContext, "context type mismatch")
	ErrContextExists       = New(KindContext, "context token already in use")
	ErrContextTimeout      = New(KindContext, "response timed out")

	ErrRouteNotFound = New(KindRouting, "destination not registered")
	ErrConflict      = New(KindRouting, "registry already contains one of the provided values")

	ErrIdentityViolation = New(KindIdentity, "identity not established")
	ErrNotConnected      = New(KindIdentity, "station connection not open")

	ErrVerificationFailed  = New(KindCrypto, "plugin verification failed")
	ErrVerificationTimeout = New(KindCrypto, "plugin verification timed out")
	ErrInvalidKey          = New(KindCrypto, "invalid key material")

	ErrStationClosed     = New(KindConfig, "station already closed")
	ErrConfigRequired    = New(KindConfig, "configuration is required")
	ErrLoggerRequired    = New(KindConfig, "logger is required")
	ErrAdapterRequired   = New(KindConfig, "adapter is required")
	ErrAdapterLoaded     = New(KindConfig, "adapter already loaded")
	ErrHandlerRequired   = New(KindConfig, "handler function is required")
	ErrEventNameRequired = New(KindConfig, "event name is required")

	ErrPayloadTypeRequired  = New(KindConfig, "payload type is required")
	ErrPayloadPointerNeeded = New(KindConfig, "payload type must be a pointer")
)
