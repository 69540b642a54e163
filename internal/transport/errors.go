package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	ErrBind      = errors.New("transport: bind failed")
	ErrHandshake = errors.New("transport: handshake failed")
	ErrChannel   = errors.New("transport: channel accept failed")
	ErrTimeout   = errors.New("transport: timed out")

	ErrInvalidKind         = errors.New("transport: invalid transport kind")
	ErrALPNRequired        = errors.New("transport: alpn required")
	ErrHostsRequired       = errors.New("transport: self-signed identity requires hosts")
	ErrTLSCertFileRequired = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("transport: tls key file required")
	ErrTLSCAFileRequired   = errors.New("transport: tls ca file required")
	ErrInvalidTimeout      = errors.New("transport: timeout must be positive")
)

// IsTimeout reports whether err came from a deadline at any suspension point.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// waitError maps a failed blocking wait onto the package taxonomy: deadlines
// become ErrTimeout, cancellation passes through, everything else is wrapped
// with kind.
func waitError(ctx context.Context, kind error, err error) error {
	if IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", kind, err)
}
