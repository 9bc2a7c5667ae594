package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "playgate/pkg/domain-errors"
)

func TestManagedByRejectsUnknownValues(t *testing.T) {
	var p Permission
	err := json.Unmarshal([]byte(`{"name":"x","managedBy":"ROBOT"}`), &p)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnknownValue))
}

func TestManagedByAcceptsKnownValues(t *testing.T) {
	for _, v := range []ManagedBy{ManagedByPlayer, ManagedByGuardian, ManagedByProhibited} {
		var p Permission
		require.NoError(t, json.Unmarshal([]byte(`{"name":"x","managedBy":"`+string(v)+`"}`), &p))
		assert.Equal(t, v, p.ManagedBy)
	}
}

func TestFindPermissionReturnsMutablePointer(t *testing.T) {
	info := sampleSession()
	perm := info.FindPermission("voice-chat")
	require.NotNil(t, perm)
	perm.Enabled = true
	assert.True(t, info.FindPermission("voice-chat").Enabled)
}

func TestAccessModeString(t *testing.T) {
	assert.Equal(t, "None", AccessNone.String())
	assert.Equal(t, "Data Lite", AccessDataLite.String())
	assert.Equal(t, "Full", AccessFull.String())
}
