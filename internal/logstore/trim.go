package logstore

import (
	"bytes"
	"fmt"
	"os"

	"diaglog/internal/fsutil"
)

// TrimOffset returns the number of leading bytes of data to drop so that the
// remainder is at most maxSize-headroom bytes. Only whole lines are dropped:
// the returned offset is always 0 or the index just past a '\n'. If data has
// too few line breaks to reach the target, the offset stops after the last one.
// A cut inside a session delimiter is moved past the rest of it so the kept
// data starts at the session header line.
func TrimOffset(data []byte, maxSize, headroom int64) int {
	target := maxSize - headroom
	size := int64(len(data))
	pos := 0
	for size-int64(pos) > target {
		i := bytes.IndexByte(data[pos:], '\n')
		if i < 0 {
			break
		}
		pos += i + 1
	}
	if pos == 0 {
		return 0
	}
	return skipDelimiterLines(data, pos)
}

// skipDelimiterLines advances pos over empty and "---" lines.
func skipDelimiterLines(data []byte, pos int) int {
	for pos < len(data) {
		i := bytes.IndexByte(data[pos:], '\n')
		if i < 0 {
			break
		}
		if l := data[pos : pos+i]; len(l) != 0 && string(l) != delimiterRule {
			break
		}
		pos += i + 1
	}
	return pos
}

const delimiterRule = "---"


// trimLocked shrinks the log file once it has grown past maxSize. The caller
// must hold the exclusive coordination lock and run on the writer goroutine.
func (s *Store) trimLocked() {
	if s.size <= s.maxSize {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.report(fmt.Errorf("%w: read: %w", ErrTrim, err))
		return
	}
	if len(data) == 0 {
		s.size = 0
		return
	}

	cut := TrimOffset(data, s.maxSize, s.headroom)
	if cut == 0 {
		s.size = int64(len(data))
		return
	}
	if err := fsutil.AtomicWriteFile(s.path, data[cut:], 0o600); err != nil {
		// Keep growing rather than lose the whole log.
		s.report(fmt.Errorf("%w: rewrite: %w", ErrTrim, err))
		return
	}
	s.size = int64(len(data)) - int64(cut)
	s.trims.Add(1)
	s.logger.Debug("[DEBUG-STORE] trimmed log", "path", s.path, "removedBytes", cut, "size", s.size)
}
