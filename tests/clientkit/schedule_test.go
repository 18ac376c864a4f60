package clientkit_test

import (
	"crypto/ecdh"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkauth/darkauth/internal/clientkit"
)

func fixedExportKey() []byte {
	ek := make([]byte, clientkit.KeyLength)
	for i := range ek {
		ek[i] = byte(i)
	}
	return ek
}

func TestKeySchedule_IsDeterministic(t *testing.T) {
	ek := fixedExportKey()
	mk1, err := clientkit.DeriveMasterKeyBytes(ek, "default", "user-1")
	require.NoError(t, err)
	mk2, err := clientkit.DeriveMasterKeyBytes(ek, "default", "user-1")
	require.NoError(t, err)
	assert.Equal(t, mk1, mk2)

	kw1, err := clientkit.DeriveWrapKey(mk1)
	require.NoError(t, err)
	kd1, err := clientkit.DeriveDataKey(mk1)
	require.NoError(t, err)
	assert.NotEqual(t, kw1, kd1)
}

func TestKeySchedule_DifferentUsersDiverge(t *testing.T) {
	ek := fixedExportKey()
	mkA, err := clientkit.DeriveMasterKeyBytes(ek, "default", "user-a")
	require.NoError(t, err)
	mkB, err := clientkit.DeriveMasterKeyBytes(ek, "default", "user-b")
	require.NoError(t, err)
	assert.NotEqual(t, mkA, mkB)
}

func TestDeriveMasterKey_RejectsWrongLength(t *testing.T) {
	_, err := clientkit.DeriveMasterKeyBytes([]byte("too-short"), "default", "user-1")
	assert.ErrorIs(t, err, clientkit.ErrInvalidExportKey)
}

func TestWrapUnwrapDRK_RoundTrips(t *testing.T) {
	ek := fixedExportKey()
	mk, err := clientkit.DeriveMasterKeyBytes(ek, "default", "user-1")
	require.NoError(t, err)
	kw, err := clientkit.DeriveWrapKey(mk)
	require.NoError(t, err)

	drk, err := clientkit.GenerateDRK()
	require.NoError(t, err)

	wrapped, err := clientkit.WrapDRK(kw, "user-1", drk)
	require.NoError(t, err)
	assert.NotEqual(t, drk, wrapped)

	got, err := clientkit.UnwrapDRK(kw, "user-1", wrapped)
	require.NoError(t, err)
	assert.Equal(t, drk, got)
}

func TestUnwrapDRK_WrongSubjectFails(t *testing.T) {
	ek := fixedExportKey()
	mk, err := clientkit.DeriveMasterKeyBytes(ek, "default", "user-1")
	require.NoError(t, err)
	kw, err := clientkit.DeriveWrapKey(mk)
	require.NoError(t, err)

	drk, err := clientkit.GenerateDRK()
	require.NoError(t, err)
	wrapped, err := clientkit.WrapDRK(kw, "user-1", drk)
	require.NoError(t, err)

	_, err = clientkit.UnwrapDRK(kw, "user-2", wrapped)
	assert.ErrorIs(t, err, clientkit.ErrInvalidCiphertext)
}

func TestPasswordChangeRecovery_ReencryptsDRKIdentically(t *testing.T) {
	// Simulates spec scenario 6: DRK recovery via old password. Two distinct
	// export_keys (old/new password) must unwrap to the same DRK bytes once
	// the client rewraps under the new KW.
	oldEK := fixedExportKey()
	newEK := make([]byte, clientkit.KeyLength)
	copy(newEK, oldEK)
	newEK[0] ^= 0xFF

	oldMK, err := clientkit.DeriveMasterKeyBytes(oldEK, "default", "user-1")
	require.NoError(t, err)
	oldKW, err := clientkit.DeriveWrapKey(oldMK)
	require.NoError(t, err)

	drk, err := clientkit.GenerateDRK()
	require.NoError(t, err)
	wrappedOld, err := clientkit.WrapDRK(oldKW, "user-1", drk)
	require.NoError(t, err)

	recoveredDRK, err := clientkit.UnwrapDRK(oldKW, "user-1", wrappedOld)
	require.NoError(t, err)
	require.Equal(t, drk, recoveredDRK)

	newMK, err := clientkit.DeriveMasterKeyBytes(newEK, "default", "user-1")
	require.NoError(t, err)
	newKW, err := clientkit.DeriveWrapKey(newMK)
	require.NoError(t, err)

	wrappedNew, err := clientkit.WrapDRK(newKW, "user-1", recoveredDRK)
	require.NoError(t, err)

	finalDRK, err := clientkit.UnwrapDRK(newKW, "user-1", wrappedNew)
	require.NoError(t, err)
	assert.Equal(t, drk, finalDRK)
}

func TestWrapUnwrapPrivateKey_RoundTrips(t *testing.T) {
	drk, err := clientkit.GenerateDRK()
	require.NoError(t, err)

	priv := []byte("pretend-marshaled-ecdh-private-key-bytes")
	wrapped, err := clientkit.WrapPrivateKey(drk, priv)
	require.NoError(t, err)

	got, err := clientkit.UnwrapPrivateKey(drk, wrapped)
	require.NoError(t, err)
	assert.Equal(t, priv, got)
}

func TestEncryptDecryptJSON_RoundTrips(t *testing.T) {
	drk, err := clientkit.GenerateDRK()
	require.NoError(t, err)

	type payload struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}
	in := payload{Title: "note", Count: 3}

	ct, err := clientkit.EncryptJSON(drk, in)
	require.NoError(t, err)

	out, err := clientkit.DecryptJSON[payload](drk, ct)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDeriveEncKeypair_IsDeterministicPerDeriveKey(t *testing.T) {
	ek := fixedExportKey()
	mk, err := clientkit.DeriveMasterKeyBytes(ek, "default", "user-1")
	require.NoError(t, err)
	kd, err := clientkit.DeriveDataKey(mk)
	require.NoError(t, err)

	kp1, err := clientkit.DeriveEncKeypair(kd)
	require.NoError(t, err)
	kp2, err := clientkit.DeriveEncKeypair(kd)
	require.NoError(t, err)
	assert.Equal(t, kp1.Public.Bytes(), kp2.Public.Bytes())
}

func TestShareDEK_RoundTripsToRecipient(t *testing.T) {
	ek := fixedExportKey()
	mk, err := clientkit.DeriveMasterKeyBytes(ek, "default", "user-2")
	require.NoError(t, err)
	kd, err := clientkit.DeriveDataKey(mk)
	require.NoError(t, err)
	recipient, err := clientkit.DeriveEncKeypair(kd)
	require.NoError(t, err)

	dek := []byte("0123456789abcdef0123456789abcdef")
	blob, err := clientkit.ShareDEK(recipient.Public, dek)
	require.NoError(t, err)

	got, err := clientkit.OpenSharedDEK(recipient.Private, blob)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestShareDEKToMany_SucceedsIfAtLeastOneRecipientSucceeds(t *testing.T) {
	ek := fixedExportKey()
	mk, err := clientkit.DeriveMasterKeyBytes(ek, "default", "user-3")
	require.NoError(t, err)
	kd, err := clientkit.DeriveDataKey(mk)
	require.NoError(t, err)
	recipient, err := clientkit.DeriveEncKeypair(kd)
	require.NoError(t, err)

	dek := []byte("0123456789abcdef0123456789abcdef")
	results, err := clientkit.ShareDEKToMany([]*ecdh.PublicKey{recipient.Public}, dek, 4)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
}
