package userutil

import (
	"errors"
	"os/user"
	"testing"
)

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "pi", want: "pi"},
		{input: "DOMAIN\\ovos", want: "DOMAIN_ovos"},
		{input: "mycroft@neon.local", want: "mycroft_neon.local"},
		{input: "two  spaces", want: "two_spaces"},
		{input: "  ", want: "unknown"},
	}
	for _, tt := range tests {
		if got := SanitizeUsername(tt.input); got != tt.want {
			t.Errorf("SanitizeUsername(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCurrentUsername(t *testing.T) {
	orig := lookupUserFn
	t.Cleanup(func() { lookupUserFn = orig })

	t.Setenv("USER", "ovos user")
	t.Setenv("USERNAME", "ignored")
	if got := CurrentUsername(); got != "ovos_user" {
		t.Fatalf("CurrentUsername() = %q, want ovos_user", got)
	}

	t.Setenv("USER", "")
	if got := CurrentUsername(); got != "ignored" {
		t.Fatalf("CurrentUsername() = %q, want USERNAME fallback", got)
	}

	t.Setenv("USERNAME", "")
	lookupUserFn = func() (*user.User, error) { return &user.User{Username: "mycroft"}, nil }
	if got := CurrentUsername(); got != "mycroft" {
		t.Fatalf("CurrentUsername() = %q, want mycroft", got)
	}

	lookupUserFn = func() (*user.User, error) { return nil, errors.New("no passwd") }
	if got := CurrentUsername(); got != "unknown" {
		t.Fatalf("CurrentUsername() = %q, want unknown", got)
	}
}
