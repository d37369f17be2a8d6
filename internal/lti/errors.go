package lti

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed login or launch.
type ErrorKind int

const (
	// KindUnhandled covers decode errors, store/network failures and anything
	// else not named below. Its body is the raw error text.
	KindUnhandled ErrorKind = iota
	KindInvalidDeployment
	KindInvalidState
	KindSourceIPMismatch
	KindAudienceMismatch
	KindUnknownSigningKey
	// KindSignatureOrTime is a failed signature or exp/nbf/iat check. It keeps the
	// 500 status platforms have integrated against, unlike the other auth failures.
	KindSignatureOrTime
	KindNonceMismatch
)

var kindNames = map[ErrorKind]string{
	KindUnhandled:         "unhandled",
	KindInvalidDeployment: "invalid_deployment",
	KindInvalidState:      "invalid_state",
	KindSourceIPMismatch:  "source_ip_mismatch",
	KindAudienceMismatch:  "audience_mismatch",
	KindUnknownSigningKey: "unknown_signing_key",
	KindSignatureOrTime:   "signature_or_time",
	KindNonceMismatch:     "nonce_mismatch",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status is the HTTP status a kind maps to.
func (k ErrorKind) Status() int {
	switch k {
	case KindInvalidDeployment:
		return http.StatusBadRequest
	case KindInvalidState, KindSourceIPMismatch, KindAudienceMismatch, KindUnknownSigningKey, KindNonceMismatch:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Client-facing messages. An unknown signing key deliberately reuses the
// audience message.
const (
	msgInvalidDeployment = "Invalid deployment ID, client ID, or issuer"
	msgInvalidState      = "Invalid state parameter"
	msgWrongIP           = "Wrong IP"
	msgInvalidClientID   = "Invalid client_id"
	msgInvalidNonce      = "Invalid nonce"
)

// Error is a classified protocol failure.
type Error struct {
	Kind    ErrorKind
	Message string // client-facing body; empty means use the wrapped error text
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindUnhandled when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnhandled
}

// ResponseFor converts any error into the terminal response for it.
func ResponseFor(err error) Response {
	var e *Error
	if !errors.As(err, &e) {
		return Text(http.StatusInternalServerError, err.Error())
	}
	switch e.Kind {
	case KindInvalidDeployment:
		return JSON(e.Kind.Status(), e.Message)
	case KindUnhandled, KindSignatureOrTime:
		return Text(e.Kind.Status(), e.Error())
	default:
		return Text(e.Kind.Status(), e.Message)
	}
}
