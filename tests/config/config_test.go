// Package config_test contains unit tests for the DarkAuth config package.
package config_test

import (
	"testing"

	"github.com/darkauth/darkauth/internal/config"
)

func reset() {
	config.ResetConfig()
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DARKAUTH_POSTGRES_URI", "postgres://localhost/darkauth")
	t.Setenv("DARKAUTH_ISSUER", "https://auth.example.com")
	t.Setenv("DARKAUTH_PUBLIC_ORIGIN", "https://auth.example.com")
	t.Setenv("DARKAUTH_KEK_PASSPHRASE", "this-is-a-very-long-passphrase")
}

func TestInitConfig_Valid(t *testing.T) {
	reset()
	defer reset()
	setRequired(t)

	if err := config.InitConfig(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if config.Issuer() != "https://auth.example.com" {
		t.Errorf("unexpected issuer: %q", config.Issuer())
	}
	if config.JWKSAlg() != "EdDSA" {
		t.Errorf("expected default jwks alg EdDSA, got %q", config.JWKSAlg())
	}
	if config.OTPMaxFailures() != 5 {
		t.Errorf("expected default otp max failures 5, got %d", config.OTPMaxFailures())
	}
}

func TestInitConfig_MissingPostgresURI(t *testing.T) {
	reset()
	defer reset()
	t.Setenv("DARKAUTH_ISSUER", "https://auth.example.com")
	t.Setenv("DARKAUTH_PUBLIC_ORIGIN", "https://auth.example.com")
	t.Setenv("DARKAUTH_KEK_PASSPHRASE", "this-is-a-very-long-passphrase")

	if err := config.InitConfig(); err == nil {
		t.Fatal("expected error for missing DARKAUTH_POSTGRES_URI")
	}
}

func TestInitConfig_ShortKekPassphraseRejected(t *testing.T) {
	reset()
	defer reset()
	setRequired(t)
	t.Setenv("DARKAUTH_KEK_PASSPHRASE", "short")

	if err := config.InitConfig(); err == nil {
		t.Fatal("expected error for short kek passphrase")
	}
}

func TestInitConfig_RequiresHTTPSOutsideDevelopment(t *testing.T) {
	reset()
	defer reset()
	t.Setenv("DARKAUTH_POSTGRES_URI", "postgres://localhost/darkauth")
	t.Setenv("DARKAUTH_ISSUER", "http://auth.example.com")
	t.Setenv("DARKAUTH_PUBLIC_ORIGIN", "http://auth.example.com")
	t.Setenv("DARKAUTH_KEK_PASSPHRASE", "this-is-a-very-long-passphrase")

	if err := config.InitConfig(); err == nil {
		t.Fatal("expected error for non-HTTPS issuer outside development")
	}
}

func TestInitConfig_AllowsHTTPInDevelopment(t *testing.T) {
	reset()
	defer reset()
	t.Setenv("DARKAUTH_POSTGRES_URI", "postgres://localhost/darkauth")
	t.Setenv("DARKAUTH_ISSUER", "http://auth.example.com")
	t.Setenv("DARKAUTH_PUBLIC_ORIGIN", "http://auth.example.com")
	t.Setenv("DARKAUTH_KEK_PASSPHRASE", "this-is-a-very-long-passphrase")
	t.Setenv("DARKAUTH_IS_DEVELOPMENT", "true")

	if err := config.InitConfig(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestInitConfig_CannotReinitialize(t *testing.T) {
	reset()
	defer reset()
	setRequired(t)

	if err := config.InitConfig(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if err := config.InitConfig(); err == nil {
		t.Fatal("expected error on reinitialize")
	}
}
