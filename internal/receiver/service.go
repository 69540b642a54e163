package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/danmuck/framegate/internal/node"
	"github.com/danmuck/framegate/internal/observability"
	"github.com/danmuck/framegate/internal/protocol"
	"github.com/danmuck/framegate/internal/transport"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/pborman/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// Receiver runtime: connection loop, channel queue and flow results.
type Service struct {
	cfg ServiceConfig

	connsMu sync.Mutex
	conns   map[transport.Conn]struct{}

	listenAddr atomic.String

	activeConns     atomic.Int64
	activeChannels  atomic.Int64
	flows           atomic.Int64
	decoded         atomic.Int64
	decodeFailed    atomic.Int64
	failed          atomic.Int64
	aborted         atomic.Int64
	handshakeFailed atomic.Int64

	resultsMu sync.Mutex
	results   []FlowResult
}

// Status is a point-in-time snapshot of the receiver.
type Status struct {
	ListenAddr      string     `json:"listen_addr"`
	Transport       string     `json:"transport"`
	ALPN            string     `json:"alpn"`
	ActiveConns     int64      `json:"active_conns"`
	ActiveChannels  int64      `json:"active_channels"`
	Flows           int64      `json:"flows"`
	Decoded         int64      `json:"decoded"`
	DecodeFailed    int64      `json:"decode_failed"`
	Failed          int64      `json:"failed"`
	Aborted         int64      `json:"aborted"`
	HandshakeFailed int64      `json:"handshake_failed"`
	Recent          []FlowView `json:"recent"`
}

type flowJob struct {
	connID  string
	remote  string
	tracker *Tracker
	ch      transport.Channel
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return &Service{
		cfg:   cfg.withDefaults(),
		conns: make(map[transport.Conn]struct{}),
	}
}

// Run blocks until SIGINT/SIGTERM, a fatal error, or MaxFlows.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.cfg.Validate(); err != nil {
		return err
	}
	id, err := transport.ServerIdentity(s.cfg.Transport.TLS)
	if err != nil {
		return err
	}
	if path := strings.TrimSpace(s.cfg.Transport.TLS.ExportCertFile); path != "" {
		if err := id.WriteCertPEM(path); err != nil {
			return fmt.Errorf("receiver: export certificate %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("receiver: certificate exported")
	}

	ln, err := transport.Listen(s.cfg.Transport, id, s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("transport", string(s.cfg.Transport.Kind)).
		Str("alpn", s.cfg.Transport.ALPN).
		Int("max_flows", s.cfg.MaxFlows).
		Msg("receiver: listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		go func() {
			adminErr <- node.ServeHTTP(ctx, s, addr)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

// Serve handles one connection at a time from ln until ctx ends or MaxFlows
// channel flows have closed. Failed handshakes are logged and skipped.
func (s *Service) Serve(ctx context.Context, ln transport.Listener) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer ln.Close()
	s.listenAddr.Store(ln.Addr().String())

	go func() {
		<-ctx.Done()
		if err := s.closeAllConns(); err != nil {
			log.Warn().Err(err).Msg("receiver: close connections")
		}
		_ = ln.Close()
	}()

	kind := string(s.cfg.Transport.Kind)
	for {
		tr := NewTracker()
		conn, err := ln.Accept(ctx)
		if err != nil {
			_ = tr.Advance(StateClosed)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, transport.ErrHandshake) || errors.Is(err, transport.ErrTimeout) {
				s.handshakeFailed.Inc()
				observability.RecordConnection(kind, "handshake_failed")
				log.Warn().Err(err).Msg("receiver: handshake failed")
				continue
			}
			return err
		}
		_ = tr.Advance(StateHandshaking)
		_ = tr.Advance(StateAwaitingChannel)
		s.handleConn(ctx, stop, conn, tr)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleConn accepts channels until the peer goes away or stays idle past
// ChannelTimeout, feeding them to a fixed worker pool.
func (s *Service) handleConn(ctx context.Context, stop context.CancelFunc, conn transport.Conn, tr *Tracker) {
	connID := uuid.New()
	remote := conn.RemoteAddr().String()
	kind := string(s.cfg.Transport.Kind)
	logger := log.With().Str("conn_id", connID).Str("remote", remote).Logger()

	s.trackConn(conn)
	defer s.untrackConn(conn)
	defer conn.Close()

	active := s.activeConns.Inc()
	observability.RecordConnection(kind, "accepted")
	logger.Info().
		Str("protocol", conn.Protocol()).
		Int64("active_conns", active).
		Msg("receiver: connection accepted")
	defer func() {
		remaining := s.activeConns.Dec()
		logger.Info().Int64("active_conns", remaining).Msg("receiver: connection closed")
	}()

	jobs := make(chan flowJob, s.cfg.QueueDepth)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				s.runFlow(ctx, stop, job)
			}
		}()
	}

	accepted := 0
	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.Transport.ChannelTimeout)
		ch, err := conn.AcceptChannel(waitCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, transport.ErrTimeout):
				logger.Warn().Err(err).Int("channels", accepted).Msg("receiver: no channel before timeout")
			default:
				logger.Info().Err(err).Int("channels", accepted).Msg("receiver: channel accept ended")
			}
			break
		}
		accepted++
		s.activeChannels.Inc()
		observability.RecordChannel(kind)
		job := flowJob{connID: connID, remote: remote, tracker: tr.Fork(), ch: ch}
		select {
		case jobs <- job:
		case <-ctx.Done():
			s.activeChannels.Dec()
			_ = ch.Close()
		}
	}
	close(jobs)
	wg.Wait()
}

func (s *Service) runFlow(ctx context.Context, stop context.CancelFunc, job flowJob) {
	res := s.handleChannel(ctx, job.connID, job.remote, job.tracker, job.ch)
	s.activeChannels.Dec()
	done := s.record(res)
	if s.cfg.MaxFlows > 0 && done >= int64(s.cfg.MaxFlows) {
		log.Info().Int64("flows", done).Int("max_flows", s.cfg.MaxFlows).Msg("receiver: flow limit reached")
		stop()
	}
}

// record stores res and returns the number of closed flows so far.
func (s *Service) record(res FlowResult) int64 {
	switch {
	case res.Err == nil:
		s.decoded.Inc()
	case errors.Is(res.Err, protocol.ErrDecode):
		s.decodeFailed.Inc()
	case errors.Is(res.Err, ErrAborted):
		s.aborted.Inc()
	default:
		s.failed.Inc()
	}
	observability.RecordFlow(string(res.Reached), res.Outcome(), res.BodyLen, res.Duration())

	s.resultsMu.Lock()
	s.results = append(s.results, res)
	if over := len(s.results) - s.cfg.RecentResults; over > 0 {
		s.results = append([]FlowResult(nil), s.results[over:]...)
	}
	s.resultsMu.Unlock()

	log.Info().
		Str("conn_id", res.ConnID).
		Uint64("channel_id", res.ChannelID).
		Str("reached", string(res.Reached)).
		Str("outcome", res.Outcome()).
		Dur("duration", res.Duration()).
		Msg("receiver: flow closed")
	return s.flows.Inc()
}

// Results returns the retained flow results, oldest first.
func (s *Service) Results() []FlowResult {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	out := make([]FlowResult, len(s.results))
	copy(out, s.results)
	return out
}

func (s *Service) Status() Status {
	results := s.Results()
	recent := make([]FlowView, 0, len(results))
	for _, res := range results {
		recent = append(recent, res.View())
	}
	return Status{
		ListenAddr:      s.listenAddr.Load(),
		Transport:       string(s.cfg.Transport.Kind),
		ALPN:            s.cfg.Transport.ALPN,
		ActiveConns:     s.activeConns.Load(),
		ActiveChannels:  s.activeChannels.Load(),
		Flows:           s.flows.Load(),
		Decoded:         s.decoded.Load(),
		DecodeFailed:    s.decodeFailed.Load(),
		Failed:          s.failed.Load(),
		Aborted:         s.aborted.Load(),
		HandshakeFailed: s.handshakeFailed.Load(),
		Recent:          recent,
	}
}

func (s *Service) trackConn(conn transport.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Service) untrackConn(conn transport.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Service) closeAllConns() error {
	s.connsMu.Lock()
	conns := make([]transport.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.Unlock()

	var result *multierror.Error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
