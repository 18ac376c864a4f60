package opaqueauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkauth/darkauth/internal/kek"
	"github.com/darkauth/darkauth/internal/opaqueauth"
	"github.com/darkauth/darkauth/internal/pake"
	"github.com/darkauth/darkauth/internal/storage"
)

func newServiceAndKek(t *testing.T) (*opaqueauth.Service, *kek.Kek) {
	t.Helper()
	kek.ResetForTest()
	require.NoError(t, kek.Unseal("a-sufficiently-long-test-passphrase", []byte("test-salt-0123456789012345678901")))
	k := kek.Instance()
	pending := pake.NewMemStore(time.Minute)
	sessions := pake.NewMemStore(time.Minute)
	t.Cleanup(func() { pending.Stop(); sessions.Stop() })
	return opaqueauth.NewService(pending, sessions, k), k
}

func registerUser(t *testing.T, svc *opaqueauth.Service, email, password string) string {
	t.Helper()
	client := pake.NewClient()
	reqBlob, state, err := client.RegisterStart(password)
	require.NoError(t, err)

	msgBlob, pendingID, err := svc.RegisterStart(reqBlob)
	require.NoError(t, err)

	recordBlob, _, err := client.RegisterFinish(state, password, msgBlob)
	require.NoError(t, err)

	sub, err := svc.RegisterFinish(context.Background(), storage.DB, pendingID, email, recordBlob)
	require.NoError(t, err)
	return sub
}

func TestRegisterThenLogin_RoundTrips(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	svc, _ := newServiceAndKek(t)

	email := storage.GenerateID() + "@example.com"
	password := "correct horse battery staple"
	sub := registerUser(t, svc, email, password)
	assert.NotEmpty(t, sub)

	client := pake.NewClient()
	reqBlob, loginState, err := client.LoginStart(password)
	require.NoError(t, err)

	msgBlob, sessionID, gotSub, err := svc.LoginStart(context.Background(), storage.DB, email, reqBlob)
	require.NoError(t, err)
	assert.Equal(t, sub, gotSub)

	finishBlob, _, _, err := client.LoginFinish(loginState, password, msgBlob)
	require.NoError(t, err)

	finishedSub, _, err := svc.LoginFinish(sessionID, finishBlob)
	require.NoError(t, err)
	assert.Equal(t, sub, finishedSub)
}

func TestLogin_WrongPasswordFails(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	svc, _ := newServiceAndKek(t)

	email := storage.GenerateID() + "@example.com"
	registerUser(t, svc, email, "correct horse battery staple")

	client := pake.NewClient()
	reqBlob, loginState, err := client.LoginStart("wrong password entirely")
	require.NoError(t, err)

	msgBlob, sessionID, _, err := svc.LoginStart(context.Background(), storage.DB, email, reqBlob)
	require.NoError(t, err)

	finishBlob, _, _, err := client.LoginFinish(loginState, "wrong password entirely", msgBlob)
	require.NoError(t, err)

	_, _, err = svc.LoginFinish(sessionID, finishBlob)
	assert.ErrorIs(t, err, pake.ErrUnauthorized)
}

func TestLogin_UnknownEmailIsIndistinguishable(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	svc, _ := newServiceAndKek(t)

	client := pake.NewClient()
	reqBlob, _, err := client.LoginStart("whatever")
	require.NoError(t, err)

	msgBlob, sessionID, sub, err := svc.LoginStart(context.Background(), storage.DB, "nobody@example.com", reqBlob)
	require.NoError(t, err)
	assert.NotEmpty(t, msgBlob)
	assert.NotEmpty(t, sessionID)
	assert.NotEmpty(t, sub)
}

func TestRegisterFinish_RejectsDuplicateEmail(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	svc, _ := newServiceAndKek(t)

	email := storage.GenerateID() + "@example.com"
	registerUser(t, svc, email, "first password")

	client := pake.NewClient()
	reqBlob, state, err := client.RegisterStart("second password")
	require.NoError(t, err)
	msgBlob, pendingID, err := svc.RegisterStart(reqBlob)
	require.NoError(t, err)
	recordBlob, _, err := client.RegisterFinish(state, "second password", msgBlob)
	require.NoError(t, err)

	_, err = svc.RegisterFinish(context.Background(), storage.DB, pendingID, email, recordBlob)
	assert.ErrorIs(t, err, opaqueauth.ErrEmailTaken)
}
