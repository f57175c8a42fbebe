package htmlsanitize_test

import (
	"testing"

	"github.com/dalemusser/chatdesk/internal/app/system/htmlsanitize"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "Hello, World!", "Hello, World!"},
		{"strips tags", "Hello <b>there</b>", "Hello there"},
		{"drops script body", "<script>alert('xss')</script>hi", "hi"},
		{"keeps ampersand", "a & b", "a & b"},
		{"decodes entity", "a &amp; b", "a & b"},
		{"strips attributes", `<a href="javascript:alert(1)">click</a>`, "click"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := htmlsanitize.PlainText(tt.input)
			if got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsPlainText(t *testing.T) {
	if !htmlsanitize.IsPlainText("") {
		t.Error("expected empty string to be plain text")
	}
	if !htmlsanitize.IsPlainText("Hello") {
		t.Error("expected string without tags to be plain text")
	}
	if htmlsanitize.IsPlainText("<p>Hello</p>") {
		t.Error("expected string with tags to NOT be plain text")
	}
}
