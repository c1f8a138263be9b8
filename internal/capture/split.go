package capture

import "bytes"

// LineSplitter cuts a byte stream into lines, carrying an unterminated tail
// over to the next chunk. CR and CRLF line endings are both accepted.
type LineSplitter struct {
	partial []byte
}

// Feed returns the complete lines in chunk, without their terminators.
// Empty lines are omitted.
func (s *LineSplitter) Feed(chunk []byte) [][]byte {
	var lines [][]byte
	for len(chunk) > 0 {
		i := bytes.IndexAny(chunk, "\r\n")
		if i < 0 {
			s.partial = append(s.partial, chunk...)
			break
		}
		var l []byte
		if len(s.partial) > 0 {
			l = append(s.partial, chunk[:i]...)
			s.partial = nil
		} else {
			l = bytes.Clone(chunk[:i])
		}
		if len(l) > 0 {
			lines = append(lines, l)
		}
		chunk = chunk[i+1:]
	}
	return lines
}

// Flush returns the pending partial line, if any.
func (s *LineSplitter) Flush() []byte {
	if len(s.partial) == 0 {
		return nil
	}
	l := s.partial
	s.partial = nil
	return l
}
