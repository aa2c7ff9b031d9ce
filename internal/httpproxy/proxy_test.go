package httpproxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadBinaryRequestRejectsOversizedContent(t *testing.T) {
	content := make([]byte, MaxBinaryUploadSize+1)
	_, err := UploadBinaryRequest("main-device", content)
	require.Error(t, err)
}

func TestUploadBinaryRequestBuildsPostToBinariesEndpoint(t *testing.T) {
	req, err := UploadBinaryRequest("main-device", []byte("log contents"))
	require.NoError(t, err)
	assert.Equal(t, "inventory/binaries", req.URL)
	assert.Equal(t, "main-device", req.ExternalID)
	assert.True(t, req.Bearer)
}

func TestCreateEventRequestAttachesBearer(t *testing.T) {
	req := CreateEventRequest("main-device", "custom_event", "hello", time.Date(2021, 4, 23, 19, 0, 0, 0, time.UTC))
	assert.True(t, req.Bearer)
	assert.Equal(t, "event/events", req.URL)
	assert.Contains(t, string(req.Body), `"id":"{id}"`)
}

func TestSendInventoryTwinRequestBuildsPutToManagedObject(t *testing.T) {
	req, err := SendInventoryTwinRequest("main-device", "hardware", []byte(`{"serial":"1234"}`))
	require.NoError(t, err)
	assert.Equal(t, "inventory/managedObjects/{id}", req.URL)
	assert.Equal(t, "main-device", req.ExternalID)
	assert.JSONEq(t, `{"hardware":{"serial":"1234"}}`, string(req.Body))
}

func TestResolvePlaceholdersSubstitutesCachedInternalID(t *testing.T) {
	endpoint := NewEndPoint("example.c8y.io", "main-device")
	endpoint.SetInternalID("main-device", "12345")
	p := New(endpoint, nil, nil, nil)

	req := CreateEventRequest("main-device", "custom_event", "hello", time.Date(2021, 4, 23, 19, 0, 0, 0, time.UTC))
	resolved, err := p.resolvePlaceholders(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, string(resolved.Body), `"id":"12345"`)
	assert.NotContains(t, string(resolved.Body), "{id}")
}

func TestResolvePlaceholdersLeavesRequestsWithoutPlaceholderAlone(t *testing.T) {
	endpoint := NewEndPoint("example.c8y.io", "main-device")
	p := New(endpoint, nil, nil, nil)

	req, err := UploadBinaryRequest("main-device", []byte("log contents"))
	require.NoError(t, err)
	resolved, err := p.resolvePlaceholders(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req, resolved)
}
