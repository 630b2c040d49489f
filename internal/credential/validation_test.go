package credential

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTopicPattern(t *testing.T) {
	tests := []struct {
		pattern string
		valid   bool
	}{
		{"owntracks/owntrack/42/#", true},
		{"owntracks/+/42/event", true},
		{"#", true},
		{"+", true},
		{"owntracks/owntrack/42", true},
		{"", false},
		{"owntracks/#/42", false},
		{"owntracks/owntrack/42#", false},
		{"owntracks/a+b", false},
		{"owntracks/\n/42", false},
		{" owntracks/42", false},
		{strings.Repeat("a", 257), false},
	}

	for _, tt := range tests {
		err := ValidateTopicPattern(tt.pattern)
		if tt.valid && err != nil {
			t.Errorf("ValidateTopicPattern(%q) error = %v, want nil", tt.pattern, err)
		}
		if !tt.valid && !errors.Is(err, ErrValidation) {
			t.Errorf("ValidateTopicPattern(%q) error = %v, want ErrValidation", tt.pattern, err)
		}
	}
}

func TestParsePermission(t *testing.T) {
	for _, s := range []string{"read", "write", "readwrite"} {
		if p, err := ParsePermission(s); err != nil || string(p) != s {
			t.Errorf("ParsePermission(%q) = %q, %v", s, p, err)
		}
	}
	for _, s := range []string{"", "deny", "READ", "read write"} {
		if _, err := ParsePermission(s); !errors.Is(err, ErrValidation) {
			t.Errorf("ParsePermission(%q) error = %v, want ErrValidation", s, err)
		}
	}
}

func TestValidateDeviceID(t *testing.T) {
	for _, id := range []string{"42", "clx9abc.def", "tracker-01_b"} {
		if err := ValidateDeviceID(id); err != nil {
			t.Errorf("ValidateDeviceID(%q) error = %v", id, err)
		}
	}
	for _, id := range []string{"", "a/b", "a+b", "a#", "a b", "a:b", strings.Repeat("x", 65)} {
		if err := ValidateDeviceID(id); !errors.Is(err, ErrValidation) {
			t.Errorf("ValidateDeviceID(%q) error = %v, want ErrValidation", id, err)
		}
	}
}

func TestValidateUsernameAndPassword(t *testing.T) {
	if err := ValidateUsername("tracker.alice"); err != nil {
		t.Errorf("ValidateUsername() error = %v", err)
	}
	if err := ValidateUsername("alice:admin"); !errors.Is(err, ErrValidation) {
		t.Errorf("ValidateUsername with ':' error = %v, want ErrValidation", err)
	}
	if err := ValidatePassword("short"); !errors.Is(err, ErrValidation) {
		t.Errorf("ValidatePassword(short) error = %v, want ErrValidation", err)
	}
	if err := ValidatePassword("long-enough"); err != nil {
		t.Errorf("ValidatePassword() error = %v", err)
	}
}

func TestDefaultTopicPattern(t *testing.T) {
	tests := []struct {
		prefix, device, want string
	}{
		{"", "42", "owntracks/owntrack/42/#"},
		{"owntracks/owntrack", "42", "owntracks/owntrack/42/#"},
		{"fleet/", "7", "fleet/7/#"},
	}
	for _, tt := range tests {
		if got := DefaultTopicPattern(tt.prefix, tt.device); got != tt.want {
			t.Errorf("DefaultTopicPattern(%q, %q) = %q, want %q", tt.prefix, tt.device, got, tt.want)
		}
	}
}
