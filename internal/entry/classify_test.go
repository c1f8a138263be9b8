package entry

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line   string
		want   Class
		wantOK bool
	}{
		{line: `<p class="debug"><span>x</span></p>`, want: ClassDebug, wantOK: true},
		{line: `<p class="error">x</p>`, want: ClassError, wantOK: true},
		{line: `<summary class="system session-header"><p>x</p></summary>`, want: ClassSystem, wantOK: true},
		{line: `<p class="ERROR">x</p>`, want: ClassError, wantOK: true},
		{line: `<p class="warning">x</p>`},
		{line: `<p>class="debug"</p>`},
		{line: `plain text class="debug"`},
		{line: `<p class="debug"`},
		{line: ``},
	}
	for _, tt := range tests {
		got, ok := Classify(tt.line)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Classify(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFilterLines(t *testing.T) {
	text := Message{At: fixedTime, Text: "one"}.Fragment().Text +
		Error{At: fixedTime, Err: errors.New("two")}.Fragment().Text +
		"legacy line\n" +
		CapturedLine{At: fixedTime, Text: "three"}.Fragment().Text

	if got := len(FilterLines(text, ClassDebug)); got != 2 {
		t.Fatalf("debug lines = %d, want 2", got)
	}
	errs := FilterLines(text, ClassError)
	if len(errs) != 1 {
		t.Fatalf("error lines = %d, want 1", len(errs))
	}
	if got := len(FilterLines(text, ClassSystem)); got != 0 {
		t.Fatalf("system lines = %d, want 0", got)
	}
}

func TestParseClass(t *testing.T) {
	for _, c := range Classes() {
		got, err := ParseClass(" " + string(c) + " ")
		if err != nil || got != c {
			t.Fatalf("ParseClass(%q) = %q, %v", c, got, err)
		}
	}
	if _, err := ParseClass("info"); err == nil {
		t.Fatal("ParseClass(info) should fail")
	}
}

func TestEscapeHTML(t *testing.T) {
	if got := EscapeHTML("<CONTENT>"); got != "&lt;CONTENT&gt;" {
		t.Fatalf("EscapeHTML = %q", got)
	}
}
