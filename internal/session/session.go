// Package session frames the log into sessions.
//
// A session starts with a SessionStart entry: the delimiter followed by a
// single header line. Sessions are never stored separately; they are
// recovered at read time by splitting the whole file on the delimiter.
package session

import (
	"slices"
	"strings"

	"diaglog/internal/entry"
)

// Session is one read-time partition of the log.
type Session struct {
	// Title is the start date for structured sessions and the first line for
	// legacy ones.
	Title string
	// Header is the session header line, empty for legacy sessions.
	Header string
	// Body holds the fragments after the header.
	Body string
	// Legacy marks content written without a structured header.
	Legacy bool
}

// Text returns the header and body as stored.
func (s Session) Text() string {
	if s.Header == "" {
		return s.Body
	}
	return s.Header + "\n" + s.Body
}

// Lines returns the body lines carrying class.
func (s Session) Lines(class entry.Class) []string {
	return entry.FilterLines(s.Body, class)
}

func (s Session) Errors() []string { return s.Lines(entry.ClassError) }
func (s Session) Debug() []string  { return s.Lines(entry.ClassDebug) }
func (s Session) System() []string { return s.Lines(entry.ClassSystem) }

// Parse splits log text into sessions, newest first. Chunks holding only
// whitespace are dropped.
func Parse(text string) []Session {
	chunks := strings.Split(text, entry.SessionDelimiter)
	sessions := make([]Session, 0, len(chunks))
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		sessions = append(sessions, parseChunk(chunk))
	}
	slices.Reverse(sessions)
	return sessions
}

func parseChunk(chunk string) Session {
	// A file trimmed by an older writer can start inside the delimiter.
	for {
		l, rest, ok := strings.Cut(chunk, "\n")
		if !ok || (l != "" && l != "---") {
			break
		}
		chunk = rest
	}
	first, rest, _ := strings.Cut(chunk, "\n")
	if entry.IsSessionHeader(first) {
		return Session{Title: headerTitle(first), Header: first, Body: rest}
	}
	body := strings.TrimLeft(chunk, "\r\n")
	title, _, _ := strings.Cut(body, "\n")
	return Session{Title: strings.TrimSpace(title), Body: body, Legacy: true}
}

const dateLabel = "<span>Date: </span>"

func headerTitle(header string) string {
	_, after, ok := strings.Cut(header, dateLabel)
	if !ok {
		return "Session"
	}
	date, _, _ := strings.Cut(after, "</p>")
	return date
}
