package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/atomic"
)

const (
	quicCodeNoError  quic.ApplicationErrorCode = 0
	quicCodeProtocol quic.ApplicationErrorCode = 1
	quicStreamDone   quic.StreamErrorCode      = 0
)

func quicConfig(cfg Config) *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: cfg.HandshakeTimeout,
		MaxIdleTimeout:       cfg.IdleTimeout,
		KeepAlivePeriod:      cfg.KeepAlivePeriod,
	}
}

type quicListener struct {
	ln     *quic.Listener
	alpn   string
	closed atomic.Bool
}

func listenQUIC(cfg Config, tlsCfg *tls.Config, addr string) (Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsCfg, quicConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}
	return &quicListener{ln: ln, alpn: cfg.ALPN}, nil
}

// Accept returns once a peer has completed the QUIC handshake.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		if l.closed.Load() {
			return nil, fmt.Errorf("%w: %w", net.ErrClosed, err)
		}
		return nil, waitError(ctx, ErrHandshake, err)
	}
	proto := conn.ConnectionState().TLS.NegotiatedProtocol
	if err := checkProtocol(l.alpn, proto); err != nil {
		_ = conn.CloseWithError(quicCodeProtocol, "unexpected application protocol")
		return nil, err
	}
	return &quicConn{conn: conn, proto: proto}, nil
}

func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *quicListener) Close() error {
	l.closed.Store(true)
	return l.ln.Close()
}

func dialQUIC(ctx context.Context, cfg Config, tlsCfg *tls.Config, addr string) (Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsCfg, quicConfig(cfg))
	if err != nil {
		return nil, waitError(ctx, ErrHandshake, err)
	}
	proto := conn.ConnectionState().TLS.NegotiatedProtocol
	if err := checkProtocol(cfg.ALPN, proto); err != nil {
		_ = conn.CloseWithError(quicCodeProtocol, "unexpected application protocol")
		return nil, err
	}
	return &quicConn{conn: conn, proto: proto}, nil
}

type quicConn struct {
	conn  quic.Connection
	proto string
}

// AcceptChannel surfaces a stream once the peer has sent its first frame on it.
func (c *quicConn) AcceptChannel(ctx context.Context) (Channel, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, waitError(ctx, ErrChannel, err)
	}
	return &quicChannel{s: s}, nil
}

func (c *quicConn) OpenChannel(ctx context.Context) (Channel, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, waitError(ctx, ErrChannel, err)
	}
	return &quicChannel{s: s}, nil
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *quicConn) Protocol() string {
	return c.proto
}

func (c *quicConn) Done() <-chan struct{} {
	return c.conn.Context().Done()
}

func (c *quicConn) Close() error {
	return c.conn.CloseWithError(quicCodeNoError, "")
}

type quicChannel struct {
	s quic.Stream
}

func (ch *quicChannel) Read(p []byte) (int, error) {
	return ch.s.Read(p)
}

func (ch *quicChannel) Write(p []byte) (int, error) {
	return ch.s.Write(p)
}

func (ch *quicChannel) CloseWrite() error {
	return ch.s.Close()
}

func (ch *quicChannel) Close() error {
	ch.s.CancelRead(quicStreamDone)
	return ch.s.Close()
}

func (ch *quicChannel) SetReadDeadline(t time.Time) error {
	return ch.s.SetReadDeadline(t)
}

func (ch *quicChannel) ID() uint64 {
	return uint64(ch.s.StreamID())
}
