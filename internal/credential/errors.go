package credential

import (
	"errors"
	"fmt"
)

// Kind classifies coordinator failures.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindAvailability  Kind = "availability"
	KindState         Kind = "state"
	KindData          Kind = "data"
)

var (
	ErrPaused              = errors.New("system paused")
	ErrAlreadyRevoked      = errors.New("credential already revoked")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrIssuerNotAccredited = errors.New("issuer not accredited")
	ErrInvalidFingerprint  = errors.New("invalid fingerprint")
	ErrMissingField        = errors.New("missing required field")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrNotFound            = errors.New("credential not found")
	ErrIssuerNotFound      = errors.New("issuer not found")
	ErrDuplicate           = errors.New("credential already exists")
	ErrNoLedger            = errors.New("no ledger configured")
)

// Error is returned by every coordinator operation. Reason is always set and safe to
// show to a user.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

// KindOf returns the kind of err, or "" when err is not a coordinator error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the human readable reason of err.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
