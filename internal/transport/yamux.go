package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

func yamuxConfig(cfg Config) *yamux.Config {
	mux := yamux.DefaultConfig()
	mux.LogOutput = log.Logger.With().Str("component", "yamux").Logger()
	mux.ConnectionWriteTimeout = cfg.BodyTimeout
	mux.StreamOpenTimeout = cfg.ChannelTimeout
	if cfg.KeepAlivePeriod > 0 {
		mux.KeepAliveInterval = cfg.KeepAlivePeriod
	}
	return mux
}

// deadliner is implemented by *net.TCPListener.
type deadliner interface {
	SetDeadline(t time.Time) error
}

type yamuxListener struct {
	ln     net.Listener
	tls    *tls.Config
	cfg    Config
	closed atomic.Bool
}

func listenYamux(cfg Config, tlsCfg *tls.Config, addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}
	return &yamuxListener{ln: ln, tls: tlsCfg, cfg: cfg}, nil
}

// Accept waits for a TCP peer, runs the TLS handshake bounded by
// HandshakeTimeout, then starts a yamux server session over it.
func (l *yamuxListener) Accept(ctx context.Context) (Conn, error) {
	raw, err := l.acceptRaw(ctx)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Server(raw, l.tls)
	hsCtx, cancel := context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		_ = raw.Close()
		return nil, waitError(hsCtx, ErrHandshake, err)
	}
	proto := tlsConn.ConnectionState().NegotiatedProtocol
	if err := checkProtocol(l.cfg.ALPN, proto); err != nil {
		_ = tlsConn.Close()
		return nil, err
	}

	session, err := yamux.Server(tlsConn, yamuxConfig(l.cfg))
	if err != nil {
		_ = tlsConn.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return &yamuxConn{session: session, proto: proto}, nil
}

func (l *yamuxListener) acceptRaw(ctx context.Context) (net.Conn, error) {
	dl, ok := l.ln.(deadliner)
	if !ok {
		return l.ln.Accept()
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = dl.SetDeadline(time.Unix(1, 0))
		close(fired)
	})
	raw, err := l.ln.Accept()
	if !stop() {
		// ctx fired: wait for the past deadline to land, then clear it.
		<-fired
		_ = dl.SetDeadline(time.Time{})
		if raw != nil {
			_ = raw.Close()
		}
		return nil, waitError(ctx, ErrHandshake, ctx.Err())
	}
	if err != nil {
		if l.closed.Load() {
			return nil, fmt.Errorf("%w: %w", net.ErrClosed, err)
		}
		return nil, waitError(ctx, ErrHandshake, err)
	}
	return raw, nil
}

func (l *yamuxListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *yamuxListener) Close() error {
	l.closed.Store(true)
	return l.ln.Close()
}

func dialYamux(ctx context.Context, cfg Config, tlsCfg *tls.Config, addr string) (Conn, error) {
	dialer := net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, waitError(ctx, ErrHandshake, err)
	}
	tlsConn := tls.Client(raw, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, waitError(ctx, ErrHandshake, err)
	}
	proto := tlsConn.ConnectionState().NegotiatedProtocol
	if err := checkProtocol(cfg.ALPN, proto); err != nil {
		_ = tlsConn.Close()
		return nil, err
	}
	session, err := yamux.Client(tlsConn, yamuxConfig(cfg))
	if err != nil {
		_ = tlsConn.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return &yamuxConn{session: session, proto: proto}, nil
}

type yamuxConn struct {
	session *yamux.Session
	proto   string
}

func (c *yamuxConn) AcceptChannel(ctx context.Context) (Channel, error) {
	st, err := c.session.AcceptStreamWithContext(ctx)
	if err != nil {
		return nil, waitError(ctx, ErrChannel, err)
	}
	return &yamuxChannel{st: st}, nil
}

func (c *yamuxConn) OpenChannel(ctx context.Context) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, waitError(ctx, ErrChannel, err)
	}
	st, err := c.session.OpenStream()
	if err != nil {
		return nil, waitError(ctx, ErrChannel, err)
	}
	return &yamuxChannel{st: st}, nil
}

func (c *yamuxConn) RemoteAddr() net.Addr {
	return c.session.RemoteAddr()
}

func (c *yamuxConn) Protocol() string {
	return c.proto
}

func (c *yamuxConn) Done() <-chan struct{} {
	return c.session.CloseChan()
}

func (c *yamuxConn) Close() error {
	return c.session.Close()
}

// yamux streams half-close on Close: the peer sees EOF while reads here
// still drain until the peer closes too.
type yamuxChannel struct {
	st *yamux.Stream
}

func (ch *yamuxChannel) Read(p []byte) (int, error) {
	return ch.st.Read(p)
}

func (ch *yamuxChannel) Write(p []byte) (int, error) {
	return ch.st.Write(p)
}

func (ch *yamuxChannel) CloseWrite() error {
	return ch.st.Close()
}

func (ch *yamuxChannel) Close() error {
	return ch.st.Close()
}

func (ch *yamuxChannel) SetReadDeadline(t time.Time) error {
	return ch.st.SetReadDeadline(t)
}

func (ch *yamuxChannel) ID() uint64 {
	return uint64(ch.st.StreamID())
}
