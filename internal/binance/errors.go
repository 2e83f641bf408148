package binance

import (
	"errors"
	"fmt"
)

// ErrTimeSync means the exchange clock could not be read. Callers must abort
// rather than stamp requests with the local clock; the exchange rejects
// signatures whose timestamp drifts outside its tolerance window.
var ErrTimeSync = errors.New("exchange time sync failed")

// APIError is a business rejection from the exchange (HTTP 4xx with a
// structured code/message body).
type APIError struct {
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange rejected request (http %d, code %d): %s", e.HTTPStatus, e.Code, e.Msg)
}

// TransportError covers network failures and 5xx responses; these are the
// only errors it is ever safe to retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("exchange transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is retriable at the transport level.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejection reports whether the exchange rejected the request for a
// business reason; retrying without changing the request cannot succeed.
func IsRejection(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}
