package binance

import (
	"fmt"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// Binance error codes this client gives special treatment.
const (
	// codeWouldTrigger is returned for a stop order whose trigger price
	// is already breached by the current mark price.
	codeWouldTrigger = -2021
	// codeUnknownOrder is returned when querying or cancelling an order
	// the venue no longer knows about.
	codeUnknownOrder = -2011
)

// APIError is a non-2xx response from the Binance futures API.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: HTTP %d code %d: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps well-known venue error codes onto domain sentinels so
// callers can branch with errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case codeWouldTrigger:
		return domain.ErrWouldTrigger
	case codeUnknownOrder:
		return domain.ErrNotFound
	}
	return nil
}
