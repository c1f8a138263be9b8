package livetail

import (
	"bytes"
	"testing"

	"diaglog/internal/entry"
)

func TestEncodeDecodeFragment(t *testing.T) {
	tests := []struct {
		name  string
		class entry.Class
		data  []byte
	}{
		{name: "error line", class: entry.ClassError, data: []byte("<p class=\"error\">x</p>\n")},
		{name: "empty payload", class: entry.ClassDebug, data: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeFragment(tt.class, tt.data)
			if err != nil {
				t.Fatalf("EncodeFragment() error = %v", err)
			}
			if int(frame[0]) != len(tt.class) {
				t.Fatalf("length byte = %d, want %d", frame[0], len(tt.class))
			}
			class, data, err := DecodeFragment(frame)
			if err != nil {
				t.Fatalf("DecodeFragment() error = %v", err)
			}
			if class != tt.class || !bytes.Equal(data, tt.data) {
				t.Fatalf("decoded (%q, %q)", class, data)
			}
		})
	}
}

func TestEncodeFragmentErrors(t *testing.T) {
	if _, err := EncodeFragment("", []byte("x")); err == nil {
		t.Fatal("empty class accepted")
	}
	if _, err := EncodeFragment(entry.Class(bytes.Repeat([]byte("a"), 256)), nil); err == nil {
		t.Fatal("oversized class accepted")
	}
}

func TestDecodeFragmentErrors(t *testing.T) {
	for _, frame := range [][]byte{nil, {5, 'a', 'b'}} {
		if _, _, err := DecodeFragment(frame); err == nil {
			t.Fatalf("DecodeFragment(%v) succeeded", frame)
		}
	}
}

func TestURLForAddr(t *testing.T) {
	if got := URLForAddr("127.0.0.1:9000"); got != "ws://127.0.0.1:9000/ws" {
		t.Fatalf("URLForAddr = %q", got)
	}
	if got := URLForAddr("ws://host/ws"); got != "ws://host/ws" {
		t.Fatalf("URLForAddr kept = %q", got)
	}
}
