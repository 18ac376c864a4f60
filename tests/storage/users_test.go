package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkauth/darkauth/internal/storage"
)

func TestCreateAndGetUser_RoundTrips(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sub := storage.GenerateID()
	email := sub + "@example.com"

	created, err := storage.CreateUser(ctx, storage.DB, sub, email)
	require.NoError(t, err)
	assert.Equal(t, email, created.Email)
	assert.False(t, created.EmailVerified)

	fetched, err := storage.GetUserBySub(ctx, storage.DB, sub)
	require.NoError(t, err)
	assert.Equal(t, created.Email, fetched.Email)

	_, err = storage.CreateUser(ctx, storage.DB, storage.GenerateID(), email)
	assert.ErrorIs(t, err, storage.ErrConflict, "a duplicate email must be rejected")
}

func TestGetUserBySub_NotFound(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()

	_, err := storage.GetUserBySub(context.Background(), storage.DB, "no-such-sub")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetEmailVerified(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sub := storage.GenerateID()
	_, err := storage.CreateUser(ctx, storage.DB, sub, sub+"@example.com")
	require.NoError(t, err)

	require.NoError(t, storage.SetEmailVerified(ctx, storage.DB, sub))
	fetched, err := storage.GetUserBySub(ctx, storage.DB, sub)
	require.NoError(t, err)
	assert.True(t, fetched.EmailVerified)
}

func TestSetPasswordResetRequired(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sub := storage.GenerateID()
	created, err := storage.CreateUser(ctx, storage.DB, sub, sub+"@example.com")
	require.NoError(t, err)
	assert.False(t, created.PasswordResetRequired)

	require.NoError(t, storage.SetPasswordResetRequired(ctx, storage.DB, sub, true))
	fetched, err := storage.GetUserBySub(ctx, storage.DB, sub)
	require.NoError(t, err)
	assert.True(t, fetched.PasswordResetRequired)

	require.NoError(t, storage.SetPasswordResetRequired(ctx, storage.DB, sub, false))
	fetched, err = storage.GetUserBySub(ctx, storage.DB, sub)
	require.NoError(t, err)
	assert.False(t, fetched.PasswordResetRequired)

	err = storage.SetPasswordResetRequired(ctx, storage.DB, "no-such-sub", true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListUsers_NewestFirst(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sub1 := storage.GenerateID()
	_, err := storage.CreateUser(ctx, storage.DB, sub1, sub1+"@example.com")
	require.NoError(t, err)
	sub2 := storage.GenerateID()
	_, err = storage.CreateUser(ctx, storage.DB, sub2, sub2+"@example.com")
	require.NoError(t, err)

	users, err := storage.ListUsers(ctx, storage.DB, 0)
	require.NoError(t, err)
	require.NotEmpty(t, users)

	found1, found2 := false, false
	for _, u := range users {
		if u.Sub == sub1 {
			found1 = true
		}
		if u.Sub == sub2 {
			found2 = true
		}
	}
	assert.True(t, found1)
	assert.True(t, found2)
}
