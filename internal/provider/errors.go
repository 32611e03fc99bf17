package provider

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNoData is returned when a provider responds but has nothing for the
// identity. The cascade counts it as a failed attempt and moves on.
var ErrNoData = eris.New("provider: no data for identity")

// UnavailableError means the provider could not be reached or returned a
// server-side failure. Transient; eligible for retry.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable returns true if the error chain contains an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// InvalidResponseError means the provider returned a payload we could not
// interpret. Non-retryable against the same provider.
type InvalidResponseError struct {
	Provider string
	Err      error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("provider %s invalid response: %v", e.Provider, e.Err)
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

// IsInvalidResponse returns true if the error chain contains an InvalidResponseError.
func IsInvalidResponse(err error) bool {
	var ie *InvalidResponseError
	return errors.As(err, &ie)
}
