package paystackclient

import "fmt"

// APIError is returned when Paystack answers with a non-2xx status or with
// an envelope whose status flag is false.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("paystack api error: op=%s status=%d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("paystack api error: op=%s status=%d message=%s", e.Op, e.StatusCode, e.Message)
}

// DecodeError is returned when a Paystack response body could not be decoded.
type DecodeError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("paystack malformed response: op=%s status=%d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
