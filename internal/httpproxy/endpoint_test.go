package httpproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateURLWithNewInternalID(t *testing.T) {
	e := NewEndPoint("example.cumulocity.com", "main-device")
	updated, err := e.UpdateURLWithNewInternalID("https://example.cumulocity.com/inventory/managedObjects/123/childAssets", "123", "456")
	require.NoError(t, err)
	assert.Equal(t, "https://example.cumulocity.com/inventory/managedObjects/456/childAssets", updated)
}

func TestURLIsInMyTenantDomain(t *testing.T) {
	e := NewEndPoint("example.cumulocity.com", "main-device")
	assert.True(t, e.URLIsInMyTenantDomain("https://example.cumulocity.com/inventory/binaries/1"))
	assert.False(t, e.URLIsInMyTenantDomain("https://other.example.com/file"))
}

func TestInternalIDCaching(t *testing.T) {
	e := NewEndPoint("example.cumulocity.com", "main-device")
	_, ok := e.InternalID("main-device")
	assert.False(t, ok, "expected no cached id initially")

	e.SetInternalID("main-device", "123")
	id, ok := e.InternalID("main-device")
	require.True(t, ok)
	assert.Equal(t, "123", id)

	e.ClearInternalID("main-device")
	_, ok = e.InternalID("main-device")
	assert.False(t, ok, "expected id to be cleared")
}
