package entry

import (
	"strconv"
	"strings"
	"time"
)

const (
	// SessionDelimiter separates sessions in the log file.
	SessionDelimiter = "\n\n---\n\n"

	// SessionHeaderMarker identifies a structured session header line.
	SessionHeaderMarker = `class="system session-header"`

	// TimeLayout is the timestamp format used in fragments (UTC).
	TimeLayout = "2006-01-02 15:04:05"
)

var htmlEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// EscapeHTML escapes angle brackets so captured text cannot inject markup.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// escapeLine escapes s and folds line breaks into <br> so that the result
// never spans more than one physical line.
func escapeLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimRight(s, "\n")
	s = EscapeHTML(s)
	return strings.ReplaceAll(s, "\n", "<br>")
}

// FormatTime renders t in the fragment timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func line(class Class, at time.Time, prefix, text string) Fragment {
	var b strings.Builder
	b.Grow(len(text) + 160)
	b.WriteString(`<p class="`)
	b.WriteString(string(class))
	b.WriteString(`"><span class="log-date">`)
	b.WriteString(FormatTime(at))
	b.WriteString(`</span><span class="log-separator"> | </span>`)
	if prefix != "" {
		b.WriteString(`<span class="log-prefix">`)
		b.WriteString(escapeLine(prefix))
		b.WriteString(`</span>`)
	}
	b.WriteString(`<span class="log-message">`)
	b.WriteString(escapeLine(text))
	b.WriteString("</span></p>\n")
	return Fragment{Class: class, Text: b.String()}
}

func renderHeader(m Metadata) string {
	var b strings.Builder
	b.WriteString(`<summary ` + SessionHeaderMarker + `>`)
	field := func(name, value string) {
		if value == "" {
			return
		}
		b.WriteString(`<p><span>`)
		b.WriteString(escapeLine(name))
		b.WriteString(`: </span>`)
		b.WriteString(escapeLine(value))
		b.WriteString(`</p>`)
	}
	field("Date", FormatTime(m.StartedAt))
	field("Session", m.SessionID)
	field("System", m.Platform)
	field("Go", m.GoVersion)
	field("App", strings.TrimSpace(m.AppName+" "+m.AppVersion))
	field("Host", m.Host)
	field("User", m.User)
	field("Free disk", m.FreeDisk)
	if m.ProcessID > 0 {
		field("PID", strconv.Itoa(m.ProcessID))
	}
	field("Executable", m.Executable)
	for _, f := range m.ExtraFields {
		field(f.Name, f.Value)
	}
	b.WriteString("</summary>\n")
	return b.String()
}
