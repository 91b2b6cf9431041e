package invoker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub-go/internal/mcperr"
)

func TestNormalizeToolResult(t *testing.T) {
	raw := json.RawMessage(`{
		"content": [
			{"type": "text", "text": "Sunny"},
			{"type": "image", "data": "aW1n", "mimeType": "image/png"},
			{"type": "text", "text": "21C"},
			{"type": "resource", "resource": {"uri": "weather://map", "mimeType": "image/jpeg", "blob": "bWFw"}},
			{"type": "resource", "resource": {"uri": "weather://note", "text": "updated hourly"}}
		]
	}`)

	res, err := NormalizeToolResult(raw)
	require.NoError(t, err)

	assert.Equal(t, "Sunny\n21C\nupdated hourly", res.Text)
	assert.Equal(t, []Image{
		{Data: "aW1n", MimeType: "image/png"},
		{Data: "bWFw", MimeType: "image/jpeg"},
	}, res.Images)
	assert.False(t, res.IsError)
}

func TestNormalizeToolResult_ErrorIsData(t *testing.T) {
	res, err := NormalizeToolResult(json.RawMessage(`{"content":[{"type":"text","text":"city not found"}],"isError":true}`))
	require.NoError(t, err)

	assert.True(t, res.IsError)
	assert.Equal(t, "Tool execution failed: city not found", res.Text)
}

func TestNormalizeToolResult_StructuredOnly(t *testing.T) {
	res, err := NormalizeToolResult(json.RawMessage(`{"content":[],"structuredContent":{"temp":21}}`))
	require.NoError(t, err)

	assert.JSONEq(t, `{"temp":21}`, res.Text)
}

func TestNormalizeToolResult_Invalid(t *testing.T) {
	_, err := NormalizeToolResult(json.RawMessage(`{"result":"nope"}`))

	e, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.CodeToolError, e.Code)
	assert.Equal(t, "invalid_result", e.Details["reason"])
}

func TestNormalizeResourceResult(t *testing.T) {
	raw := json.RawMessage(`{
		"contents": [
			{"uri": "weather://stations", "mimeType": "text/plain", "text": "De Bilt"},
			{"uri": "weather://radar", "mimeType": "image/gif", "blob": "cmFkYXI="},
			{"uri": "weather://archive", "mimeType": "application/zip", "blob": "emlw"}
		]
	}`)

	res, err := NormalizeResourceResult(raw)
	require.NoError(t, err)

	assert.Equal(t, "De Bilt\n[binary content: weather://archive (application/zip)]", res.Text)
	assert.Equal(t, []Image{{Data: "cmFkYXI=", MimeType: "image/gif"}}, res.Images)
}
