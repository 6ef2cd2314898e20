package booking

import (
	"errors"
	"fmt"
)

// ErrTransient marks failures worth retrying: network errors, 429 and 5xx.
var ErrTransient = errors.New("transient booking error")

type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// APIError wraps non-retryable non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("booking api error: status=%d body=%s", e.StatusCode, e.Body)
}
