package entry

import "strings"

const classAttr = `class="`

// Classify recovers the classification of a single fragment line from its
// leading marker: the first token of the class attribute of the line's
// leading tag. Lines without a recognizable marker report ok=false.
func Classify(line string) (Class, bool) {
	if !strings.HasPrefix(line, "<") {
		return "", false
	}
	end := strings.IndexByte(line, '>')
	if end < 0 {
		return "", false
	}
	tag := line[:end]
	idx := strings.Index(tag, classAttr)
	if idx < 0 {
		return "", false
	}
	value := tag[idx+len(classAttr):]
	if q := strings.IndexByte(value, '"'); q >= 0 {
		value = value[:q]
	}
	name, _, _ := strings.Cut(value, " ")
	class, err := ParseClass(name)
	if err != nil {
		return "", false
	}
	return class, true
}

// FilterLines returns the lines of text whose leading marker is class.
func FilterLines(text string, class Class) []string {
	var out []string
	for l := range strings.Lines(text) {
		l = strings.TrimRight(l, "\r\n")
		if c, ok := Classify(l); ok && c == class {
			out = append(out, l)
		}
	}
	return out
}

// IsSessionHeader reports whether text contains a structured session header.
func IsSessionHeader(text string) bool {
	return strings.Contains(text, SessionHeaderMarker)
}
