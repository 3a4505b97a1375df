package contentstore

import (
	"fmt"
	"strings"
)

// AttemptError is the failure of a single gateway.
type AttemptError struct {
	Gateway string
	Err     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Gateway, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// FetchError aggregates every gateway failure of one Get call.
type FetchError struct {
	CID      string
	Attempts []*AttemptError
}

func (e *FetchError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("%v for %s after %d attempts: %s", ErrAllGatewaysFailed, e.CID, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	errs = append(errs, ErrAllGatewaysFailed)
	for _, a := range e.Attempts {
		errs = append(errs, a)
	}
	return errs
}
