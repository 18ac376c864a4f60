package token_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkauth/darkauth/internal/authorize"
	"github.com/darkauth/darkauth/internal/clientregistry"
	"github.com/darkauth/darkauth/internal/jwks"
	"github.com/darkauth/darkauth/internal/kek"
	"github.com/darkauth/darkauth/internal/storage"
	"github.com/darkauth/darkauth/internal/token"
)

func newKeyStore(t *testing.T) *jwks.Store {
	t.Helper()
	kek.ResetForTest()
	require.NoError(t, kek.Unseal("a-sufficiently-long-test-passphrase", []byte("test-salt-0123456789012345678901")))
	store := jwks.NewStore(kek.Instance())
	_, err := store.EnsureSigningKey(jwks.EdDSA)
	require.NoError(t, err)
	return store
}

func pkcePair(t *testing.T) (verifier, challenge string) {
	t.Helper()
	verifier = "a-code-verifier-that-is-long-enough-for-pkce-1234567890"
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return
}

func setupAuthorizedCode(t *testing.T, scope string) (clientID, code, sub string) {
	t.Helper()
	ctx := context.Background()
	verifier, challenge := pkcePair(t)

	result, err := clientregistry.Register(ctx, storage.DB, clientregistry.RegisterInput{
		ClientName:   "Test RP",
		IsPublic:     true,
		RedirectURIs: []string{"https://rp.example/cb"},
	})
	require.NoError(t, err)

	sub = storage.GenerateID()
	_, err = storage.CreateUser(ctx, storage.DB, sub, sub+"@example.com")
	require.NoError(t, err)

	started, err := authorize.Start(ctx, storage.DB, authorize.StartInput{
		ClientID:            result.Client.ClientID,
		RedirectURI:         "https://rp.example/cb",
		Scope:               scope,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	finalized, err := authorize.Finalize(ctx, storage.DB, authorize.FinalizeInput{
		RequestID: started.RequestID,
		Sub:       sub,
		Approve:   true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {})
	_ = verifier
	return result.Client.ClientID, finalized.Code, sub
}

func TestExchangeCode_IssuesTokens(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	keys := newKeyStore(t)
	verifier, _ := pkcePair(t)

	clientID, code, sub := setupAuthorizedCode(t, "openid offline_access")

	resp, err := token.Exchange(context.Background(), storage.DB, keys, token.Config{Issuer: "https://auth.example"}, token.Request{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://rp.example/cb",
		CodeVerifier: verifier,
		ClientID:     clientID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.IDToken)
	assert.NotEmpty(t, resp.RefreshToken, "offline_access scope must yield a refresh token")
	_ = sub
}

func TestExchangeCode_RejectsWrongVerifier(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	keys := newKeyStore(t)

	clientID, code, _ := setupAuthorizedCode(t, "openid")

	_, err := token.Exchange(context.Background(), storage.DB, keys, token.Config{Issuer: "https://auth.example"}, token.Request{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://rp.example/cb",
		CodeVerifier: "wrong-verifier",
		ClientID:     clientID,
	})
	assert.ErrorIs(t, err, token.ErrPKCEMismatch)
}

func TestExchangeCode_RejectsReplay(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	keys := newKeyStore(t)
	verifier, _ := pkcePair(t)

	clientID, code, _ := setupAuthorizedCode(t, "openid offline_access")
	cfg := token.Config{Issuer: "https://auth.example"}
	req := token.Request{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://rp.example/cb",
		CodeVerifier: verifier,
		ClientID:     clientID,
	}

	first, err := token.Exchange(context.Background(), storage.DB, keys, cfg, req)
	require.NoError(t, err)
	require.NotEmpty(t, first.RefreshToken)

	_, err = token.Exchange(context.Background(), storage.DB, keys, cfg, req)
	assert.ErrorIs(t, err, token.ErrCodeReplayed)

	// Replay must have revoked the refresh token issued on first redemption.
	_, err = storage.GetRefreshToken(context.Background(), storage.DB, first.RefreshToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExchangeRefreshToken_Rotates(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	keys := newKeyStore(t)
	verifier, _ := pkcePair(t)

	clientID, code, _ := setupAuthorizedCode(t, "openid offline_access")
	cfg := token.Config{Issuer: "https://auth.example"}

	first, err := token.Exchange(context.Background(), storage.DB, keys, cfg, token.Request{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://rp.example/cb",
		CodeVerifier: verifier,
		ClientID:     clientID,
	})
	require.NoError(t, err)

	second, err := token.Exchange(context.Background(), storage.DB, keys, cfg, token.Request{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
		ClientID:     clientID,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = storage.GetRefreshToken(context.Background(), storage.DB, first.RefreshToken)
	assert.ErrorIs(t, err, storage.ErrNotFound, "old refresh token must be revoked after rotation")
}
