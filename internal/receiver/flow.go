package receiver

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/framegate/internal/protocol"
	"github.com/danmuck/framegate/internal/protocol/frame"
	"github.com/danmuck/framegate/internal/transport"
	"github.com/rs/zerolog/log"
)

// handleChannel reads one frame from ch and decodes its body. tr must be a
// flow tracker positioned at StateAwaitingChannel. Every failure ends this
// flow only.
func (s *Service) handleChannel(ctx context.Context, connID, remote string, tr *Tracker, ch transport.Channel) FlowResult {
	res := FlowResult{
		ConnID:    connID,
		ChannelID: ch.ID(),
		Remote:    remote,
		BodyLen:   -1,
		Started:   time.Now(),
	}
	logger := log.With().Str("conn_id", connID).Uint64("channel_id", res.ChannelID).Logger()
	defer ch.Close()

	// Shutdown unblocks a pending read through its deadline.
	stopAbort := context.AfterFunc(ctx, func() {
		_ = ch.SetReadDeadline(time.Unix(1, 0))
	})
	defer stopAbort()

	finish := func(err error) FlowResult {
		res.Err = err
		res.Reached = tr.State()
		_ = tr.Advance(StateClosed)
		res.History = tr.History()
		res.Finished = time.Now()
		return res
	}

	_ = tr.Advance(StateAwaitingHeader)
	logger.Debug().Msg("receiver: channel accepted, reading header")
	_ = ch.SetReadDeadline(time.Now().Add(s.cfg.Transport.HeaderTimeout))
	h, err := frame.ReadHeader(ch)
	if err != nil {
		err = flowError(ctx, err)
		logger.Warn().Err(err).Msg("receiver: error reading header")
		return finish(err)
	}
	res.Header = h
	logger.Info().
		Uint8("version", h.Version).
		Uint8("message_type", h.MessageType).
		Uint32("length", h.BodyLen).
		Msg("receiver: header read")

	_ = tr.Advance(StateAwaitingBody)
	_ = ch.SetReadDeadline(time.Now().Add(s.cfg.Transport.BodyTimeout))
	body, err := frame.ReadBody(ch, h, s.cfg.Limits)
	if err != nil {
		err = flowError(ctx, err)
		logger.Warn().Err(err).Uint32("length", h.BodyLen).Msg("receiver: error reading body")
		return finish(err)
	}
	res.BodyLen = len(body)
	logger.Info().Int("bytes", len(body)).Msg("receiver: body read")

	_ = tr.Advance(StateDecoded)
	text, err := protocol.DecodeText(body)
	if err != nil {
		logger.Warn().Err(err).Msg("receiver: error decoding utf-8")
		return finish(err)
	}
	res.Text = text
	logger.Info().Str("text", text).Msg("receiver: message decoded")
	return finish(nil)
}

// flowError tags read failures caused by shutdown or an expired deadline.
func flowError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	if transport.IsTimeout(err) {
		return fmt.Errorf("%w: %w", transport.ErrTimeout, err)
	}
	return err
}
