package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	ErrTimeout          = errors.New("client: timed out")
	ErrNetwork          = errors.New("client: network error")
	ErrConnectionDenied = errors.New("client: connection denied")
	ErrInvalidResponse  = errors.New("client: invalid handshake response")
	ErrClosed           = errors.New("client: connection closed")
)

// DeniedError carries the server's reason for refusing a handshake.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("client: connection denied: %s", e.Reason)
}

func (e *DeniedError) Unwrap() error {
	return ErrConnectionDenied
}

// classify tags a transport error as a timeout or a generic network failure.
func classify(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
}
