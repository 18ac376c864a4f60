// Package otp implements TOTP-based MFA enrollment, verification, and
// backup codes. Enrollment secrets and backup code hashes are
// persisted by internal/storage (not held in memory), so a server
// restart never loses an enrolled factor.
// Verification itself is grounded on github.com/pquerna/otp/totp;
// per-identifier lockout reuses internal/ratelimit.AccountLockout
// verbatim, the same state machine the teacher uses for login
// failures. That lockout state is held in memory only: a restart
// resets it.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/darkauth/darkauth/internal/ratelimit"
)

var (
	ErrInvalidCode     = errors.New("otp: invalid code")
	ErrLocked          = errors.New("otp: too many failed attempts, temporarily locked")
	ErrAlreadyEnrolled = errors.New("otp: factor already enrolled")
	ErrNotEnrolled     = errors.New("otp: no factor enrolled")
)

const (
	period    = 30
	digits    = otp.DigitsSix
	skew      = 1 // spec's +/-1 step verification window
	numBackup = 10
)

// Secret is the durable enrollment record (spec.md's otp_configs row).
type Secret struct {
	Base32Key        string
	BackupCodeHashes []string // SHA-256 hex, one per unused backup code
}

// Enroll generates a new TOTP secret. Backup codes are not issued here:
// they are only generated once VerifyEnrollment confirms the user's
// authenticator app is actually configured correctly, so a pending
// enrollment the user never completes never hands out usable codes.
func Enroll(issuer, accountName string) (secret *Secret, otpauthURL string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      period,
		Digits:      digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, "", fmt.Errorf("otp: generating secret: %w", err)
	}

	return &Secret{Base32Key: key.Secret()}, key.URL(), nil
}

// VerifyEnrollment checks the first TOTP code during enrollment,
// confirming the user's authenticator app is correctly configured
// before the factor is activated.
func VerifyEnrollment(secret *Secret, code string) bool {
	ok, _ := totp.ValidateCustom(code, secret.Base32Key, time.Now(), validateOpts())
	return ok
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{Period: period, Skew: skew, Digits: digits, Algorithm: otp.AlgorithmSHA1}
}

// Verify checks a login-time TOTP code or backup code against secret,
// consulting lockout before attempting the check and recording the
// outcome afterward. A matched backup code is consumed (removed from
// secret.BackupCodeHashes) and the caller must persist the updated
// Secret.
func Verify(lockout *ratelimit.AccountLockout, lockoutKey, code string, secret *Secret) (usedBackupCode bool, err error) {
	if lockout != nil {
		if res := lockout.Check(lockoutKey); res.Locked {
			return false, ErrLocked
		}
	}

	if ok, _ := totp.ValidateCustom(code, secret.Base32Key, time.Now(), validateOpts()); ok {
		if lockout != nil {
			lockout.RecordSuccess(lockoutKey)
		}
		return false, nil
	}

	if idx := matchBackupCode(secret, code); idx >= 0 {
		secret.BackupCodeHashes = append(secret.BackupCodeHashes[:idx], secret.BackupCodeHashes[idx+1:]...)
		if lockout != nil {
			lockout.RecordSuccess(lockoutKey)
		}
		return true, nil
	}

	if lockout != nil {
		if res := lockout.RecordFailure(lockoutKey); res.Locked {
			return false, ErrLocked
		}
	}
	return false, ErrInvalidCode
}

func matchBackupCode(secret *Secret, code string) int {
	normalized := normalizeBackupCode(code)
	if normalized == "" {
		return -1
	}
	sum := sha256.Sum256([]byte(normalized))
	hexSum := fmt.Sprintf("%x", sum)
	for i, h := range secret.BackupCodeHashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(hexSum)) == 1 {
			return i
		}
	}
	return -1
}

func normalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	if len(code) != 12 {
		return ""
	}
	return code
}

// RegenerateBackupCodes produces a fresh set of backup codes,
// invalidating every previously issued one. Callers persist the
// returned hashes onto the enrolled Secret.
func RegenerateBackupCodes() (plaintext []string, hashes []string, err error) {
	return generateBackupCodes(numBackup)
}

// generateBackupCodes returns n plaintext codes of the form
// "XXXX-XXXX-XXXX" (standard RFC 4648 base32 alphabet) plus their
// SHA-256 hex digests for storage.
func generateBackupCodes(n int) (plaintext []string, hashes []string, err error) {
	for i := 0; i < n; i++ {
		raw := make([]byte, 8)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, fmt.Errorf("otp: generating backup code: %w", err)
		}
		encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
		encoded = strings.ToUpper(encoded)[:12]
		formatted := fmt.Sprintf("%s-%s-%s", encoded[0:4], encoded[4:8], encoded[8:12])

		sum := sha256.Sum256([]byte(encoded))
		plaintext = append(plaintext, formatted)
		hashes = append(hashes, fmt.Sprintf("%x", sum))
	}
	return plaintext, hashes, nil
}
