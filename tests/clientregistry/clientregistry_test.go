package clientregistry_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkauth/darkauth/internal/clientregistry"
	"github.com/darkauth/darkauth/internal/kek"
	"github.com/darkauth/darkauth/internal/storage"
)

// TestMain unseals the key-encryption key once for the whole package:
// every confidential-client secret in this suite is AEAD-wrapped under
// it at registration time.
func TestMain(m *testing.M) {
	kek.ResetForTest()
	if err := kek.Unseal("a-sufficiently-long-test-passphrase", []byte("test-salt-0123456789012345678901")); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestRegister_ConfidentialClient_IssuesSecret(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	result, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{
		ClientName:   "<b>Acme</b> Docs",
		IsPublic:     false,
		RedirectURIs: []string{"https://acme.example/callback"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ClientSecret)
	assert.Equal(t, "Acme Docs", result.Client.ClientName, "client name must be sanitized")
	assert.False(t, result.Client.IsPublic)

	fetched, err := clientregistry.Authenticate(ctx, storage.DB, result.Client.ClientID, result.ClientSecret)
	require.NoError(t, err)
	assert.Equal(t, result.Client.ClientID, fetched.ClientID)

	_, err = clientregistry.Authenticate(ctx, storage.DB, result.Client.ClientID, "wrong-secret")
	assert.Error(t, err)
}

func TestRegister_PublicClient_HasNoSecret(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	result, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{
		ClientName:   "Mobile App",
		IsPublic:     true,
		RedirectURIs: []string{"com.acme.app:/callback"},
	})
	require.NoError(t, err)
	assert.Empty(t, result.ClientSecret)

	_, err = clientregistry.RotateSecret(ctx, storage.DB, result.Client.ClientID)
	assert.ErrorIs(t, err, clientregistry.ErrNoSecret)
}

func TestRegister_RejectsMissingRedirectURIs(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{ClientName: "No URIs"})
	assert.ErrorIs(t, err, clientregistry.ErrNoRedirectURIs)
}

func TestRegister_RejectsInvalidRedirectURI(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{
		ClientName:   "Bad URI",
		RedirectURIs: []string{"not-a-uri"},
	})
	assert.ErrorIs(t, err, clientregistry.ErrInvalidRedirectURI)
}

func TestValidateRedirectURI_ExactMatchOnly(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	result, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{
		ClientName:   "Exact Match",
		IsPublic:     true,
		RedirectURIs: []string{"https://acme.example/callback"},
	})
	require.NoError(t, err)

	assert.True(t, clientregistry.ValidateRedirectURI(result.Client, "https://acme.example/callback"))
	assert.False(t, clientregistry.ValidateRedirectURI(result.Client, "https://acme.example/callback/extra"))
}

func TestRotateSecret_InvalidatesOldSecret(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	result, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{
		ClientName:   "Rotate Me",
		RedirectURIs: []string{"https://acme.example/callback"},
	})
	require.NoError(t, err)

	newSecret, err := clientregistry.RotateSecret(ctx, storage.DB, result.Client.ClientID)
	require.NoError(t, err)
	assert.NotEqual(t, result.ClientSecret, newSecret)

	_, err = clientregistry.Authenticate(ctx, storage.DB, result.Client.ClientID, result.ClientSecret)
	assert.Error(t, err, "old secret must no longer authenticate")

	_, err = clientregistry.Authenticate(ctx, storage.DB, result.Client.ClientID, newSecret)
	assert.NoError(t, err)
}

func TestUpdate_ChangesPolicyWithoutTouchingSecret(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	result, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{
		ClientName:   "Before Update",
		RedirectURIs: []string{"https://acme.example/callback"},
	})
	require.NoError(t, err)

	newName := "After Update"
	requirePKCE := false
	updated, err := clientregistry.Update(ctx, storage.DB, result.Client.ClientID, clientregistry.UpdateInput{
		ClientName:       &newName,
		RedirectURIs:     []string{"https://acme.example/callback", "https://acme.example/callback2"},
		AllowedZKOrigins: []string{"https://acme.example"},
		RequirePKCE:      &requirePKCE,
	})
	require.NoError(t, err)
	assert.Equal(t, "After Update", updated.ClientName)
	assert.False(t, updated.RequirePKCE)
	assert.True(t, clientregistry.ValidateRedirectURI(updated, "https://acme.example/callback2"))
	assert.Equal(t, result.Client.ClientSecretEnc, updated.ClientSecretEnc, "update must not touch the secret")

	_, err = clientregistry.Authenticate(ctx, storage.DB, updated.ClientID, result.ClientSecret)
	assert.NoError(t, err, "secret must still authenticate after an unrelated policy update")
}

func TestValidateZKOrigin_ExactMatchOnlyAndEmptyListAllowsAll(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	noAllowlist, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{
		ClientName:   "No Allowlist",
		RedirectURIs: []string{"https://acme.example/callback"},
	})
	require.NoError(t, err)
	assert.True(t, clientregistry.ValidateZKOrigin(noAllowlist.Client, "https://anything.example"), "an empty allowlist imposes no restriction")

	withAllowlist, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{
		ClientName:       "With Allowlist",
		RedirectURIs:     []string{"https://acme.example/callback"},
		AllowedZKOrigins: []string{"https://acme.example"},
	})
	require.NoError(t, err)
	assert.True(t, clientregistry.ValidateZKOrigin(withAllowlist.Client, "https://acme.example"))
	assert.False(t, clientregistry.ValidateZKOrigin(withAllowlist.Client, "https://evil.example"))
	assert.False(t, clientregistry.ValidateZKOrigin(withAllowlist.Client, "https://acme.example.evil.com"))
}

func TestDeregister_RemovesClient(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	result, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{
		ClientName:   "Temp Client",
		RedirectURIs: []string{"https://acme.example/callback"},
	})
	require.NoError(t, err)

	require.NoError(t, clientregistry.Deregister(ctx, storage.DB, result.Client.ClientID))
	_, err = clientregistry.Get(ctx, storage.DB, result.Client.ClientID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
