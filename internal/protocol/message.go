package protocol

import "github.com/danmuck/framegate/internal/protocol/frame"

// Message is one decoded frame. It is read-only once the body is received.
type Message struct {
	Header frame.Header
	Body   []byte
}

// NewMessage builds a text message; BodyLen is derived from the text.
func NewMessage(version, messageType uint8, text string) Message {
	body := []byte(text)
	return Message{
		Header: frame.Header{
			Version:     version,
			MessageType: messageType,
			BodyLen:     uint32(len(body)),
		},
		Body: body,
	}
}

func FromFrame(f frame.Frame) Message {
	return Message{Header: f.Header, Body: f.Body}
}

func (m Message) Frame() frame.Frame {
	return frame.Frame{Header: m.Header, Body: m.Body}
}

func (m Message) Text() (string, error) {
	return DecodeText(m.Body)
}
