// Package config provides process-wide configuration for the DarkAuth
// server, loaded once at startup from the environment (and optionally a
// YAML overlay) and exposed through typed accessors.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const minKekPassphraseLength = 16

var (
	cfg   *data
	cfgMu sync.RWMutex
)

// data holds the parsed configuration values. Immutable after InitConfig.
type data struct {
	postgresURI               string
	userPort                  string
	adminPort                 string
	kekPassphrase             string
	isDevelopment             bool
	publicOrigin              string
	issuer                    string
	rpID                      string
	selfRegistrationEnabled   bool
	emailVerificationRequired bool
	redisURL                  string
	jwksAlg                   string

	otpMaxFailures           int
	otpLockoutMinutes        int
	loginBucketSize          int
	loginBucketWindowSeconds int
}

// fileOverlay is the shape of the optional DARKAUTH_CONFIG_FILE YAML document.
// Only non-secret, deployment-shaped values belong here; env always wins.
type fileOverlay struct {
	UserPort                  string `yaml:"userPort"`
	AdminPort                 string `yaml:"adminPort"`
	PublicOrigin              string `yaml:"publicOrigin"`
	Issuer                    string `yaml:"issuer"`
	RPID                      string `yaml:"rpId"`
	SelfRegistrationEnabled   *bool  `yaml:"selfRegistrationEnabled"`
	EmailVerificationRequired *bool  `yaml:"emailVerificationRequired"`
	JWKSAlg                   string `yaml:"jwksAlg"`
}

// InitConfig loads configuration from the environment (and, if
// DARKAUTH_CONFIG_FILE is set, a YAML overlay beneath it) and must be
// called exactly once at startup before any other accessor is used.
func InitConfig() error {
	cfgMu.Lock()
	defer cfgMu.Unlock()

	if cfg != nil {
		return errors.New("config: already initialized, cannot reinitialize")
	}

	overlay, err := loadOverlay(os.Getenv("DARKAUTH_CONFIG_FILE"))
	if err != nil {
		return err
	}

	c := &data{
		userPort:                  firstNonEmpty(os.Getenv("DARKAUTH_USER_PORT"), overlay.UserPort, "8080"),
		adminPort:                 firstNonEmpty(os.Getenv("DARKAUTH_ADMIN_PORT"), overlay.AdminPort, "8081"),
		publicOrigin:              firstNonEmpty(os.Getenv("DARKAUTH_PUBLIC_ORIGIN"), overlay.PublicOrigin),
		issuer:                    firstNonEmpty(os.Getenv("DARKAUTH_ISSUER"), overlay.Issuer),
		rpID:                      firstNonEmpty(os.Getenv("DARKAUTH_RP_ID"), overlay.RPID),
		jwksAlg:                   firstNonEmpty(os.Getenv("DARKAUTH_JWKS_ALG"), overlay.JWKSAlg, "EdDSA"),
		postgresURI:               os.Getenv("DARKAUTH_POSTGRES_URI"),
		kekPassphrase:             os.Getenv("DARKAUTH_KEK_PASSPHRASE"),
		redisURL:                  os.Getenv("DARKAUTH_REDIS_URL"),
		isDevelopment:             os.Getenv("DARKAUTH_IS_DEVELOPMENT") == "true",
		selfRegistrationEnabled:   boolOr(os.Getenv("DARKAUTH_SELF_REGISTRATION_ENABLED"), overlay.SelfRegistrationEnabled, false),
		emailVerificationRequired: boolOr(os.Getenv("DARKAUTH_EMAIL_VERIFICATION_REQUIRED"), overlay.EmailVerificationRequired, true),
		otpMaxFailures:            intOr(os.Getenv("DARKAUTH_OTP_MAX_FAILURES"), 5),
		otpLockoutMinutes:         intOr(os.Getenv("DARKAUTH_OTP_LOCKOUT_MINUTES"), 15),
		loginBucketSize:           intOr(os.Getenv("DARKAUTH_LOGIN_BUCKET_SIZE"), 10),
		loginBucketWindowSeconds:  intOr(os.Getenv("DARKAUTH_LOGIN_BUCKET_WINDOW_SECONDS"), 60),
	}

	if c.postgresURI == "" {
		return errors.New("config: DARKAUTH_POSTGRES_URI is required")
	}
	if c.issuer == "" {
		return errors.New("config: DARKAUTH_ISSUER is required")
	}
	if c.kekPassphrase == "" {
		return errors.New("config: DARKAUTH_KEK_PASSPHRASE is required")
	}
	if len(c.kekPassphrase) < minKekPassphraseLength {
		return fmt.Errorf("config: DARKAUTH_KEK_PASSPHRASE must be at least %d characters (got %d)", minKekPassphraseLength, len(c.kekPassphrase))
	}
	if c.publicOrigin == "" {
		return errors.New("config: DARKAUTH_PUBLIC_ORIGIN is required")
	}
	if !c.isDevelopment && !strings.HasPrefix(c.publicOrigin, "https://") {
		return fmt.Errorf("config: DARKAUTH_PUBLIC_ORIGIN must use HTTPS outside development (got: %s)", c.publicOrigin)
	}
	if !c.isDevelopment && !strings.HasPrefix(c.issuer, "https://") {
		return fmt.Errorf("config: DARKAUTH_ISSUER must use HTTPS outside development (got: %s)", c.issuer)
	}
	if c.jwksAlg != "EdDSA" && c.jwksAlg != "RS256" {
		return fmt.Errorf("config: invalid DARKAUTH_JWKS_ALG '%s' (must be 'EdDSA' or 'RS256')", c.jwksAlg)
	}
	if c.isDevelopment {
		log.Warn().Msg("config: running with DARKAUTH_IS_DEVELOPMENT=true, relaxed HTTPS enforcement")
	}

	cfg = c
	return nil
}

func loadOverlay(path string) (fileOverlay, error) {
	var overlay fileOverlay
	if path == "" {
		return overlay, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return overlay, fmt.Errorf("config: reading DARKAUTH_CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return overlay, fmt.Errorf("config: parsing DARKAUTH_CONFIG_FILE: %w", err)
	}
	return overlay, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolOr(env string, overlay *bool, def bool) bool {
	if env != "" {
		return env == "true"
	}
	if overlay != nil {
		return *overlay
	}
	return def
}

func intOr(env string, def int) int {
	if env == "" {
		return def
	}
	n, err := strconv.Atoi(env)
	if err != nil {
		return def
	}
	return n
}

// ResetConfig clears the loaded configuration. Test-only.
func ResetConfig() {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	cfg = nil
}

func must() *data {
	if cfg == nil {
		panic("config: not initialized - call InitConfig first")
	}
	return cfg
}

func PostgresURI() string { cfgMu.RLock(); defer cfgMu.RUnlock(); return must().postgresURI }
func UserPort() string    { cfgMu.RLock(); defer cfgMu.RUnlock(); return must().userPort }
func AdminPort() string   { cfgMu.RLock(); defer cfgMu.RUnlock(); return must().adminPort }
func KekPassphrase() string {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return must().kekPassphrase
}
func IsDevelopment() bool { cfgMu.RLock(); defer cfgMu.RUnlock(); return must().isDevelopment }
func PublicOrigin() string { cfgMu.RLock(); defer cfgMu.RUnlock(); return must().publicOrigin }
func Issuer() string       { cfgMu.RLock(); defer cfgMu.RUnlock(); return must().issuer }
func RPID() string         { cfgMu.RLock(); defer cfgMu.RUnlock(); return must().rpID }
func SelfRegistrationEnabled() bool {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return must().selfRegistrationEnabled
}
func EmailVerificationRequired() bool {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return must().emailVerificationRequired
}
func RedisURL() string { cfgMu.RLock(); defer cfgMu.RUnlock(); return must().redisURL }
func JWKSAlg() string  { cfgMu.RLock(); defer cfgMu.RUnlock(); return must().jwksAlg }
func OTPMaxFailures() int {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return must().otpMaxFailures
}
func OTPLockoutMinutes() int {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return must().otpLockoutMinutes
}
func LoginBucketSize() int {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return must().loginBucketSize
}
func LoginBucketWindowSeconds() int {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return must().loginBucketWindowSeconds
}
