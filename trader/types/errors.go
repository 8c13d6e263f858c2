package types

import (
	"errors"
	"fmt"
)

// ErrPairNotFound is returned when a pair is absent from the exchange metadata.
var ErrPairNotFound = errors.New("pair not found on exchange")

// ExchangeError is a rejected exchange call carrying the venue's error code.
type ExchangeError struct {
	Exchange string
	Op       string
	Code     string
	Message  string
	Err      error
}

func (e *ExchangeError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Exchange, e.Op)
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// IsExchangeError reports whether err wraps an *ExchangeError and returns it.
func IsExchangeError(err error) (*ExchangeError, bool) {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
