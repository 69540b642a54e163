// Package sender frames messages and writes each one on a fresh channel of a
// secure multiplexed connection.
package sender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/framegate/internal/protocol"
	"github.com/danmuck/framegate/internal/protocol/frame"
	"github.com/danmuck/framegate/internal/transport"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

var (
	ErrAddressRequired = errors.New("sender: address required")
	ErrSend            = errors.New("sender: send failed")
	ErrSessionClosed   = errors.New("sender: session closed")
)

type ClientConfig struct {
	Address   string
	Transport transport.Config
	Limits    frame.Limits
	// CloseTimeout bounds the wait for the receiver to close a channel after
	// the frame was written.
	CloseTimeout time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:      "127.0.0.1:4567",
		Transport:    transport.DefaultConfig(),
		Limits:       frame.DefaultLimits(),
		CloseTimeout: 5 * time.Second,
	}
}

type Client struct {
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg.Transport = cfg.Transport.WithDefaults()
	if cfg.Limits.MaxBodyBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultClientConfig().CloseTimeout
	}
	if err := cfg.Transport.ValidateClientTransport(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg}, nil
}

// Connect dials the receiver; the handshake is bounded by HandshakeTimeout.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	conn, err := transport.Dial(ctx, c.cfg.Transport, c.cfg.Address)
	if err != nil {
		log.Warn().Err(err).Str("addr", c.cfg.Address).Msg("sender: dial failed")
		return nil, err
	}
	log.Debug().
		Str("addr", c.cfg.Address).
		Str("transport", string(c.cfg.Transport.Kind)).
		Str("protocol", conn.Protocol()).
		Msg("sender: connected")
	return &Session{conn: conn, cfg: c.cfg}, nil
}

// Session is safe for concurrent Send calls; each uses its own channel.
type Session struct {
	conn transport.Conn
	cfg  ClientConfig
	sent atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// Send writes msg as one frame on a fresh channel.
func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, msg.Frame(), s.cfg.Limits); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return s.SendRaw(ctx, buf.Bytes())
}

// SendRaw writes raw unmodified on a fresh channel, finishes the send half
// and waits for the receiver to close its side.
func (s *Session) SendRaw(ctx context.Context, raw []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	ch, err := s.conn.OpenChannel(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	defer ch.Close()

	if _, err := ch.Write(raw); err != nil {
		return fmt.Errorf("%w: write: %w", ErrSend, err)
	}
	if err := ch.CloseWrite(); err != nil {
		return fmt.Errorf("%w: close write: %w", ErrSend, err)
	}
	n := s.sent.Inc()
	log.Debug().Uint64("channel_id", ch.ID()).Int("bytes", len(raw)).Int64("sent", n).Msg("sender: frame written")

	s.awaitClose(ctx, ch)
	return nil
}

// awaitClose drains ch until the receiver closes it so the connection is
// not torn down under data still in flight.
func (s *Session) awaitClose(ctx context.Context, ch transport.Channel) {
	deadline := time.Now().Add(s.cfg.CloseTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = ch.SetReadDeadline(deadline)
	if _, err := io.Copy(io.Discard, ch); err != nil {
		log.Debug().Err(err).Uint64("channel_id", ch.ID()).Msg("sender: channel ended without clean close")
	}
}

func (s *Session) Sent() int64 {
	return s.sent.Load()
}

func (s *Session) Protocol() string {
	return s.conn.Protocol()
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
