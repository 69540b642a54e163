package protocol

import (
	"errors"
	"fmt"
)

var ErrDecode = errors.New("protocol: body is not valid utf-8")

// DecodeError reports where strict text decoding stopped.
type DecodeError struct {
	Offset int
	Len    int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: invalid sequence of %d bytes at index %d", ErrDecode, e.Len, e.Offset)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
