package scope_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkauth/darkauth/internal/scope"
)

func TestParseWire_DedupsAndPreservesOrder(t *testing.T) {
	list := scope.ParseWire("openid profile openid email")
	assert.Equal(t, []string{"openid", "profile", "email"}, list.Keys())
	assert.Equal(t, "openid profile email", list.String())
}

func TestParseWire_Empty(t *testing.T) {
	assert.Empty(t, scope.ParseWire(""))
	assert.Empty(t, scope.ParseWire("   "))
}

func TestParseJSON_HandlesHeterogeneousEntries(t *testing.T) {
	raw := json.RawMessage(`["openid", {"key": "email", "description": "View your email address"}, "openid"]`)
	list, err := scope.ParseJSON(raw)
	require.NoError(t, err)
	require.Len(t, list, 2, "duplicate openid entry must collapse")
	assert.Equal(t, "openid", list[0].Key)
	assert.Empty(t, list[0].Description)
	assert.Equal(t, "email", list[1].Key)
	assert.Equal(t, "View your email address", list[1].Description)
}

func TestParseJSON_RejectsEntryWithoutKey(t *testing.T) {
	_, err := scope.ParseJSON(json.RawMessage(`[{"description": "no key here"}]`))
	assert.Error(t, err)
}

func TestParseJSON_RejectsMalformedEntry(t *testing.T) {
	_, err := scope.ParseJSON(json.RawMessage(`[42]`))
	assert.Error(t, err)
}

func TestParseJSON_Empty(t *testing.T) {
	list, err := scope.ParseJSON(nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHas(t *testing.T) {
	list := scope.ParseWire("openid offline_access")
	assert.True(t, list.Has("offline_access"))
	assert.False(t, list.Has("zkd"))
}
