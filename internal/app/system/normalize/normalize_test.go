package normalize

import "testing"

func TestEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"user@example.com", "user@example.com"},
		{"USER@EXAMPLE.COM", "user@example.com"},
		{"  User@Example.Com  ", "user@example.com"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := Email(tt.input)
			if got != tt.want {
				t.Errorf("Email(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"John Doe", "John Doe"},
		{"  John   Doe  ", "John Doe"},
		{"", ""},
		{"   ", ""},
		{"UPPERCASE NAME", "UPPERCASE NAME"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := Name(tt.input)
			if got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestQueryParam(t *testing.T) {
	if got := QueryParam("  trimmed  "); got != "trimmed" {
		t.Errorf("QueryParam = %q, want %q", got, "trimmed")
	}
	if got := QueryParam("UPPERCASE"); got != "UPPERCASE" {
		t.Errorf("QueryParam = %q, want %q", got, "UPPERCASE")
	}
}

func TestRoleFilter(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"All", ""},
		{"all", ""},
		{"  ALL ", ""},
		{"", ""},
		{"Admin", "Admin"},
		{" User ", "User"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := RoleFilter(tt.input)
			if got != tt.want {
				t.Errorf("RoleFilter(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
