package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

// ErrConnectionTimeout is matched by errors.Is for every *ConnectionTimeoutError
var ErrConnectionTimeout = errors.New("timed out waiting for connection")

// ConnectionTimeoutError reports that the command link did not become ready
// within the configured timeout.
type ConnectionTimeoutError struct {
	// Target is the connection target that never became ready.
	Target string

	// Timeout is the readiness timeout that elapsed.
	Timeout time.Duration
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("connection to %s not ready after %s: %v", e.Target, e.Timeout, ErrConnectionTimeout)
}

// Is allows errors.Is to match ConnectionTimeoutError with ErrConnectionTimeout.
func (e *ConnectionTimeoutError) Is(target error) bool {
	return target == ErrConnectionTimeout
}

// LinkError tags an error reported by one of the three links with its role.
type LinkError struct {
	Role storelink.Role
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s link error: %v", e.Role, e.Err)
}

// Unwrap returns the underlying error.
func (e *LinkError) Unwrap() error {
	return e.Err
}
