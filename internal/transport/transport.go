package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// Channel is one bidirectional ordered byte stream within a Conn.
type Channel interface {
	io.Reader
	io.Writer
	// CloseWrite finishes the send half; the peer observes end of stream.
	CloseWrite() error
	// Close releases both halves.
	Close() error
	SetReadDeadline(t time.Time) error
	ID() uint64
}

// Conn is one established secure multiplexed session.
type Conn interface {
	AcceptChannel(ctx context.Context) (Channel, error)
	OpenChannel(ctx context.Context) (Channel, error)
	RemoteAddr() net.Addr
	// Protocol is the negotiated application protocol identifier.
	Protocol() string
	Done() <-chan struct{}
	Close() error
}

// Listener yields established connections after the secure handshake.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Listen binds addr for cfg.Kind and presents id during handshakes.
func Listen(cfg Config, id Identity, addr string) (Listener, error) {
	cfg = cfg.WithDefaults()
	tlsCfg := ServerTLSConfig(id, cfg.ALPN)
	switch cfg.Kind {
	case KindQUIC:
		return listenQUIC(cfg, tlsCfg, addr)
	case KindTLSYamux:
		return listenYamux(cfg, tlsCfg, addr)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, cfg.Kind)
	}
}

// Dial establishes a client session to addr, bounded by HandshakeTimeout.
func Dial(ctx context.Context, cfg Config, addr string) (Conn, error) {
	cfg = cfg.WithDefaults()
	tlsCfg, err := ClientTLSConfig(cfg, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	switch cfg.Kind {
	case KindQUIC:
		return dialQUIC(dialCtx, cfg, tlsCfg, addr)
	case KindTLSYamux:
		return dialYamux(dialCtx, cfg, tlsCfg, addr)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, cfg.Kind)
	}
}

func checkProtocol(want, got string) error {
	if got != want {
		return fmt.Errorf("%w: negotiated protocol %q, want %q", ErrHandshake, got, want)
	}
	return nil
}
