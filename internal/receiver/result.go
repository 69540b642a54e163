package receiver

import (
	"errors"
	"time"

	"github.com/danmuck/framegate/internal/protocol"
	"github.com/danmuck/framegate/internal/protocol/frame"
	"github.com/danmuck/framegate/internal/transport"
)

var ErrAborted = errors.New("receiver: flow aborted by shutdown")

// FlowResult is the outcome of one channel flow.
type FlowResult struct {
	ConnID    string
	ChannelID uint64
	Remote    string
	Header    frame.Header
	// BodyLen is -1 when the body was never fully received.
	BodyLen int
	Text    string
	Err     error
	// Reached is the last state before StateClosed.
	Reached  FlowState
	History  []FlowState
	Started  time.Time
	Finished time.Time
}

func (r FlowResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Outcome classifies Err into a short stable label for logs and metrics.
func (r FlowResult) Outcome() string {
	switch {
	case r.Err == nil:
		return "ok"
	case errors.Is(r.Err, protocol.ErrDecode):
		return "decode_error"
	case errors.Is(r.Err, ErrAborted):
		return "aborted"
	case errors.Is(r.Err, transport.ErrTimeout):
		return "timeout"
	case errors.Is(r.Err, frame.ErrIncompleteHeader):
		return "incomplete_header"
	case errors.Is(r.Err, frame.ErrBodyTooLarge):
		return "body_too_large"
	case errors.Is(r.Err, frame.ErrShortBody):
		return "short_body"
	case errors.Is(r.Err, frame.ErrBodyRead):
		return "body_read_error"
	default:
		return "error"
	}
}

// FlowView is the JSON form of a FlowResult.
type FlowView struct {
	ConnID      string   `json:"conn_id"`
	ChannelID   uint64   `json:"channel_id"`
	Remote      string   `json:"remote"`
	Version     uint8    `json:"version"`
	MessageType uint8    `json:"message_type"`
	Length      uint32   `json:"length"`
	BodyLen     int      `json:"body_len"`
	Text        string   `json:"text,omitempty"`
	Outcome     string   `json:"outcome"`
	Error       string   `json:"error,omitempty"`
	Reached     string   `json:"reached"`
	History     []string `json:"history"`
	DurationMS  int64    `json:"duration_ms"`
	FinishedAt  string   `json:"finished_at"`
}

func (r FlowResult) View() FlowView {
	v := FlowView{
		ConnID:      r.ConnID,
		ChannelID:   r.ChannelID,
		Remote:      r.Remote,
		Version:     r.Header.Version,
		MessageType: r.Header.MessageType,
		Length:      r.Header.BodyLen,
		BodyLen:     r.BodyLen,
		Text:        r.Text,
		Outcome:     r.Outcome(),
		Reached:     string(r.Reached),
		History:     make([]string, 0, len(r.History)),
		DurationMS:  r.Duration().Milliseconds(),
		FinishedAt:  r.Finished.UTC().Format(time.RFC3339Nano),
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	for _, st := range r.History {
		v.History = append(v.History, string(st))
	}
	return v
}
