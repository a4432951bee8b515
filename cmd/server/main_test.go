package main

import (
	"testing"

	"shopdesk/backend/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	strongSecret := "0123456789abcdef0123456789abcdef"

	cases := []struct {
		name    string
		secret  string
		pin     string
		wantErr bool
	}{
		{"strong values pass", strongSecret, "739154", false},
		{"short secret rejected", "short", "739154", true},
		{"short pin rejected", strongSecret, "1234", true},
		{"empty secret rejected", "", "739154", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(config.Config{AuthSecret: tc.secret, ManagerPIN: tc.pin})
			if tc.wantErr && err == nil {
				t.Fatalf("expected rejection for %s", tc.name)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected pass, got %v", err)
			}
		})
	}
}

func TestValidatePINStrength(t *testing.T) {
	weak := []string{"123456", "654321", "000000", "999999", "112233", "876543"}
	for _, pin := range weak {
		if err := validatePINStrength(pin); err == nil {
			t.Fatalf("expected %q to be rejected as weak", pin)
		}
	}

	strong := []string{"739154", "204817", "581236"}
	for _, pin := range strong {
		if err := validatePINStrength(pin); err != nil {
			t.Fatalf("expected %q to pass, got %v", pin, err)
		}
	}
}
