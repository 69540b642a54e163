package protocol

import "unicode/utf8"

// DecodeText interprets body as strict UTF-8. The returned error is a
// *DecodeError that matches ErrDecode.
func DecodeText(body []byte) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}
	for offset := 0; offset < len(body); {
		r, size := utf8.DecodeRune(body[offset:])
		if r == utf8.RuneError && size <= 1 {
			return "", &DecodeError{Offset: offset, Len: invalidRun(body[offset:])}
		}
		offset += size
	}
	return "", &DecodeError{Offset: len(body)}
}

// invalidRun counts the bytes of the malformed sequence starting at b[0]:
// a lead byte plus any continuation bytes that follow it.
func invalidRun(b []byte) int {
	n := 1
	for n < len(b) && n < utf8.UTFMax && b[n]&0xC0 == 0x80 {
		n++
	}
	return n
}
