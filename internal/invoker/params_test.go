package invoker

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forecastTool() mcp.Tool {
	return mcp.NewTool("forecast",
		mcp.WithDescription("Daily forecast"),
		mcp.WithString("units", mcp.Enum("metric", "imperial")),
		mcp.WithString("city", mcp.Required(), mcp.Description("City name")),
		mcp.WithNumber("days"),
		mcp.WithBoolean("alerts"),
		mcp.WithArray("tags"),
		mcp.WithObject("filters"),
		mcp.WithString("country", mcp.Required()),
	)
}

func paramNames(params []Param) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p.Name
	}
	return out
}

func TestToolParams_Order(t *testing.T) {
	params := toolParams(forecastTool())

	assert.Equal(t, []string{"city", "country", "alerts", "days", "filters", "tags", "units"}, paramNames(params))
	assert.True(t, params[0].Required)
	assert.Equal(t, "City name", params[0].Description)
	assert.False(t, params[2].Required)
}

func TestToolParams_Types(t *testing.T) {
	byName := map[string]Param{}
	for _, p := range toolParams(forecastTool()) {
		byName[p.Name] = p
	}

	assert.Equal(t, TypeString, byName["city"].Type)
	assert.Equal(t, TypeNumber, byName["days"].Type)
	assert.Equal(t, TypeBoolean, byName["alerts"].Type)
	assert.Equal(t, TypeArray, byName["tags"].Type)
	assert.Equal(t, TypeObject, byName["filters"].Type)
	assert.Equal(t, TypeEnum, byName["units"].Type)
	assert.Equal(t, []string{"metric", "imperial"}, byName["units"].Enum)
}

func TestToolParams_DecodedSchema(t *testing.T) {
	var tool mcp.Tool
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "tune",
		"inputSchema": {
			"type": "object",
			"properties": {
				"count": {"type": "integer"},
				"ratio": {"type": ["null", "number"]},
				"label": {},
				"level": {"enum": [1, 2, 3]}
			},
			"required": ["count"]
		}
	}`), &tool))

	params := toolParams(tool)

	require.Equal(t, []string{"count", "label", "level", "ratio"}, paramNames(params))
	assert.Equal(t, TypeInteger, params[0].Type)
	assert.Equal(t, TypeString, params[1].Type)
	assert.Equal(t, TypeEnum, params[2].Type)
	assert.Equal(t, []string{"1", "2", "3"}, params[2].Enum)
	assert.Equal(t, TypeNumber, params[3].Type)
}

func TestToolParams_RawSchema(t *testing.T) {
	tool := mcp.NewToolWithRawSchema("raw", "", json.RawMessage(`{
		"type": "object",
		"properties": {"q": {"type": "string"}, "limit": {"type": "integer"}},
		"required": ["q"]
	}`))

	assert.Equal(t, []string{"q", "limit"}, paramNames(toolParams(tool)))
}

func TestToolParams_NoInputs(t *testing.T) {
	assert.Empty(t, toolParams(mcp.NewTool("ping")))
}

func TestTemplateParams(t *testing.T) {
	tmpl := mcp.NewResourceTemplate("repo://{owner}/{name}/files{/path}", "files")

	params := templateHandler{}.Params(Capability{Kind: KindResourceTemplate, Template: &tmpl})

	assert.Equal(t, []string{"name", "owner", "path"}, paramNames(params))
	for _, p := range params {
		assert.True(t, p.Required)
		assert.Equal(t, TypeString, p.Type)
	}
}
