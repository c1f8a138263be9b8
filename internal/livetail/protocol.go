// Package livetail streams newly written log fragments to a local WebSocket
// client.
//
// # Binary frame protocol
//
// Binary frame format: [1 byte: class length][class bytes][fragment bytes]
//
//   - Byte 0: uint8 length of the class name.
//   - Bytes 1..1+classLen: class name ("system", "debug" or "error").
//   - Remaining bytes: the fragment exactly as written to the log file.
//
// The client selects classes with a JSON text message:
//
//	{"action":"subscribe","classes":["error","debug"]}
//
// "unsubscribe" removes classes again. Invalid requests are answered with
// {"type":"error","message":"..."}.
package livetail

import (
	"errors"
	"fmt"

	"diaglog/internal/entry"
)

const maxClassLen = 255

var errEmptyFrame = errors.New("livetail: decode fragment: empty frame")

// EncodeFragment builds the binary frame for one fragment.
func EncodeFragment(class entry.Class, data []byte) ([]byte, error) {
	if class == "" {
		return nil, fmt.Errorf("livetail: encode fragment: class must not be empty")
	}
	if len(class) > maxClassLen {
		return nil, fmt.Errorf("livetail: encode fragment: class name too long (%d bytes)", len(class))
	}
	n := len(class)
	buf := make([]byte, 1+n+len(data))
	buf[0] = byte(n)
	copy(buf[1:1+n], class)
	copy(buf[1+n:], data)
	return buf, nil
}

// DecodeFragment parses a frame produced by EncodeFragment. The returned data
// shares memory with frame.
func DecodeFragment(frame []byte) (entry.Class, []byte, error) {
	if len(frame) < 1 {
		return "", nil, errEmptyFrame
	}
	n := int(frame[0])
	if len(frame) < 1+n {
		return "", nil, fmt.Errorf("livetail: decode fragment: frame too short for class length %d (frame length %d)", n, len(frame))
	}
	return entry.Class(frame[1 : 1+n]), frame[1+n:], nil
}
