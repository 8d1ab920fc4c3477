package immich

import (
	"errors"
	"fmt"
)

var (
	// ErrCannotConnect is returned for transport failures: DNS, TCP, TLS, timeouts.
	ErrCannotConnect = errors.New("cannot connect to immich")

	// ErrAPI is matched by every *APIError.
	ErrAPI = errors.New("immich api error")

	// ErrInvalidCommand is returned before any I/O for an unknown job command.
	ErrInvalidCommand = errors.New("invalid job command")

	// ErrCommandRejected marks a job command the server answered with a non-200.
	// SendJobCommand itself reports that as false; callers wrap this.
	ErrCommandRejected = errors.New("job command rejected")
)

// APIError reports a non-200 response from a read endpoint, or a 200 whose
// body could not be decoded (Err set)
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap exposes the decode error, if any
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrAPI) match any APIError
func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

func cannotConnect(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrCannotConnect, err)
}
