package validation

import (
	"testing"
)

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"alice", true},
		{"alice.smith", true},
		{"alice@corp.example", true},
		{"user_01", true},
		{"a", true},

		// Invalid cases
		{"", false},
		{".alice", false}, // Cannot start with separator
		{"alice smith", false},
		{"alice\x00", false},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false}, // 65 chars
	}

	for _, tc := range tests {
		result := IsValidUsername(tc.name)
		if result != tc.valid {
			t.Errorf("IsValidUsername(%q) = %v, want %v", tc.name, result, tc.valid)
		}
	}
}

func TestIsValidIP(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"192.168.1.1", true},
		{"10.0.0.1", true},
		{"2001:db8::1", true},
		{"::1", true},

		{"", false},
		{"192.168.1", false},
		{"999.1.1.1", false},
		{"not-an-ip", false},
	}

	for _, tc := range tests {
		result := IsValidIP(tc.addr)
		if result != tc.valid {
			t.Errorf("IsValidIP(%q) = %v, want %v", tc.addr, result, tc.valid)
		}
	}
}

func TestIsValidDeviceID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"laptop-1", true},
		{"iPhone 15", true},
		{"fp:9a8b7c6d", true},

		{"", false},
		{"-leading-dash", false},
		{"tab\tchar", false},
	}

	for _, tc := range tests {
		result := IsValidDeviceID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidDeviceID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Valid input
	errors := Validate(
		Required("username", "alice"),
		ValidUsername("username", "alice"),
		ValidIP("ip", "192.168.1.1"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Invalid input
	errors = Validate(
		Required("username", ""),
		ValidIP("ip", "not-an-ip"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestOneOf(t *testing.T) {
	if err := OneOf("method", "web", "web", "mobile", "voice", "atm")(); err != nil {
		t.Errorf("Expected no error for allowed value, got %v", err)
	}
	if err := OneOf("method", "carrier-pigeon", "web", "mobile")(); err == nil {
		t.Error("Expected error for disallowed value")
	}
	// Empty passes; pair with Required for mandatory fields.
	if err := OneOf("method", "", "web")(); err != nil {
		t.Errorf("Expected no error for empty value, got %v", err)
	}
}

func TestMaxLength(t *testing.T) {
	if err := MaxLength("field", "hello", 10)(); err != nil {
		t.Error("Expected no error for string under limit")
	}
	if err := MaxLength("field", "hello", 5)(); err != nil {
		t.Error("Expected no error for string at limit")
	}
	if err := MaxLength("field", "hello world", 5)(); err == nil {
		t.Error("Expected error for string over limit")
	}
}
