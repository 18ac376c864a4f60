package otp_test

import (
	"testing"
	"time"

	pquernaotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkauth/darkauth/internal/otp"
	"github.com/darkauth/darkauth/internal/ratelimit"
)

func TestEnroll_ProducesValidatableSecretWithNoBackupCodesYet(t *testing.T) {
	secret, url, err := otp.Enroll("DarkAuth", "user@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.Empty(t, secret.BackupCodeHashes, "backup codes are only minted once enrollment is confirmed")

	code, err := pquernaotp.GenerateCode(secret.Base32Key, time.Now())
	require.NoError(t, err)
	assert.True(t, otp.VerifyEnrollment(secret, code))
}

func enrolledSecret(t *testing.T) (*otp.Secret, []string) {
	t.Helper()
	secret, _, err := otp.Enroll("DarkAuth", "user@example.com")
	require.NoError(t, err)
	codes, hashes, err := otp.RegenerateBackupCodes()
	require.NoError(t, err)
	secret.BackupCodeHashes = hashes
	return secret, codes
}

func TestVerify_ValidTOTPSucceeds(t *testing.T) {
	secret, _ := enrolledSecret(t)
	code, err := pquernaotp.GenerateCode(secret.Base32Key, time.Now())
	require.NoError(t, err)

	usedBackup, err := otp.Verify(nil, "user-1", code, secret)
	require.NoError(t, err)
	assert.False(t, usedBackup)
}

func TestVerify_InvalidCodeFails(t *testing.T) {
	secret, _ := enrolledSecret(t)

	_, err := otp.Verify(nil, "user-1", "000000", secret)
	assert.ErrorIs(t, err, otp.ErrInvalidCode)
}

func TestVerify_BackupCodeIsSingleUse(t *testing.T) {
	secret, codes := enrolledSecret(t)
	before := len(secret.BackupCodeHashes)

	usedBackup, err := otp.Verify(nil, "user-1", codes[0], secret)
	require.NoError(t, err)
	assert.True(t, usedBackup)
	assert.Len(t, secret.BackupCodeHashes, before-1)

	_, err = otp.Verify(nil, "user-1", codes[0], secret)
	assert.ErrorIs(t, err, otp.ErrInvalidCode, "a backup code must not be usable twice")
}

func TestVerify_LockoutAfterRepeatedFailures(t *testing.T) {
	secret, _ := enrolledSecret(t)

	lockout := ratelimit.NewAccountLockout(ratelimit.LockoutConfig{
		MaxFailures:     3,
		LockoutDuration: time.Minute,
		FailureWindow:   time.Minute,
	}, "otp")
	defer lockout.Stop()

	for i := 0; i < 3; i++ {
		_, err := otp.Verify(lockout, "user-2", "000000", secret)
		assert.Error(t, err)
	}

	_, err := otp.Verify(lockout, "user-2", "000000", secret)
	assert.ErrorIs(t, err, otp.ErrLocked)
}

func TestRegenerateBackupCodes_ProducesTenCodes(t *testing.T) {
	codes, hashes, err := otp.RegenerateBackupCodes()
	require.NoError(t, err)
	assert.Len(t, codes, 10)
	assert.Len(t, hashes, 10)
}
