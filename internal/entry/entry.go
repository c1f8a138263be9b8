// Package entry defines the loggable occurrences accepted by the log store and
// their rendering into classified text fragments.
//
// Rendering is pure: every entry carries the time it was created, so the same
// entry always renders to the same bytes and never touches storage.
package entry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Class is the classification tag attached to every rendered fragment.
type Class string

const (
	ClassSystem Class = "system"
	ClassDebug  Class = "debug"
	ClassError  Class = "error"
)

// Classes lists every classification in display order.
func Classes() []Class {
	return []Class{ClassSystem, ClassDebug, ClassError}
}

// ParseClass maps a class name to a Class. Matching is case-insensitive.
func ParseClass(name string) (Class, error) {
	switch Class(strings.ToLower(strings.TrimSpace(name))) {
	case ClassSystem:
		return ClassSystem, nil
	case ClassDebug:
		return ClassDebug, nil
	case ClassError:
		return ClassError, nil
	}
	return "", fmt.Errorf("unknown log class %q", name)
}

// Fragment is the rendered on-disk form of an entry.
type Fragment struct {
	Class Class
	Text  string
}

// Bytes returns the fragment text as it is written to the log file.
func (f Fragment) Bytes() []byte {
	return []byte(f.Text)
}

// Entry is one loggable occurrence.
type Entry interface {
	Fragment() Fragment
}

// Message is a plain developer message.
type Message struct {
	At     time.Time
	Caller string
	Text   string
}

// NewMessage creates a Message stamped with the current time.
func NewMessage(text, caller string) Message {
	return Message{At: time.Now(), Caller: caller, Text: text}
}

func (m Message) Fragment() Fragment {
	return line(ClassDebug, m.At, m.Caller, m.Text)
}

// Error records an error with an optional extra description.
type Error struct {
	At          time.Time
	Caller      string
	Err         error
	Description string
}

// NewError creates an Error stamped with the current time.
func NewError(err error, description, caller string) Error {
	return Error{At: time.Now(), Caller: caller, Err: err, Description: description}
}

func (e Error) Fragment() Fragment {
	text := "ERROR: " + ErrorIdentifier(e.Err)
	if desc := describe(e.Err, e.Description); desc != "" {
		text += " | " + desc
	}
	return line(ClassError, e.At, e.Caller, text)
}

// Describer is implemented by errors that carry a human readable description
// separate from their identifier.
type Describer interface {
	Description() string
}

// ErrorIdentifier returns the short identifier rendered after "ERROR:".
func ErrorIdentifier(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

func describe(err error, explicit string) string {
	if explicit != "" {
		return explicit
	}
	var d Describer
	if errors.As(err, &d) {
		return d.Description()
	}
	return ""
}

// CapturedLine is one line read from a captured output stream. Source names
// the child command the line came from; it is empty for the host process's
// own stdout/stderr.
type CapturedLine struct {
	At     time.Time
	Source string
	Text   string
}

// NewCapturedLine creates a CapturedLine stamped with the current time.
func NewCapturedLine(text, source string) CapturedLine {
	return CapturedLine{At: time.Now(), Source: source, Text: text}
}

func (c CapturedLine) Fragment() Fragment {
	return line(ClassDebug, c.At, c.Source, c.Text)
}

// Crash records a crash or recovered panic together with its stack.
type Crash struct {
	At          time.Time
	Description string
	Stack       string
}

// NewCrash creates a Crash stamped with the current time.
func NewCrash(description, stack string) Crash {
	return Crash{At: time.Now(), Description: description, Stack: stack}
}

func (c Crash) Fragment() Fragment {
	text := "CRASH: " + c.Description
	if stack := strings.TrimRight(c.Stack, "\n"); stack != "" {
		text += "\n" + stack
	}
	return line(ClassError, c.At, "", text)
}

// Metadata describes the environment a session was started in.
type Metadata struct {
	StartedAt   time.Time
	SessionID   string
	Platform    string
	GoVersion   string
	AppName     string
	AppVersion  string
	Host        string
	User        string
	FreeDisk    string
	ProcessID   int
	Executable  string
	ExtraFields []Field
}

// Field is an additional key/value pair shown in a session header.
type Field struct {
	Name  string
	Value string
}

// SessionStart marks the beginning of a new session.
type SessionStart struct {
	Meta Metadata
}

func (s SessionStart) Fragment() Fragment {
	return Fragment{Class: ClassSystem, Text: SessionDelimiter + renderHeader(s.Meta)}
}
