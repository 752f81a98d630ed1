package relay

import (
	"fmt"

	"moff.io/walletconnect-sign/pkg/errors"
)

var (
	ErrNotConnected = errors.New("relay socket not connected")
	ErrAckTimeout   = errors.New("relay acknowledgement timed out")
	ErrStopped      = errors.New("relay dispatcher stopped")
)

// NetworkError is a failed relay call: a send on a broken socket or an
// error response from the relay.
type NetworkError struct {
	Method  string
	Code    int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("relay %s: %d %s", e.Method, e.Code, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err came from the relay transport, in
// which case a retry may succeed.
func IsTransportError(err error) bool {
	var netErr *NetworkError
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrAckTimeout) || errors.As(err, &netErr)
}
