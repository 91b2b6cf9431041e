// Package contracts defines typed data transfer objects for hub API communication
package contracts

import (
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// HubServerID is the server_id the hub reports from its health endpoint
const HubServerID = "mcp-hub"

// ServerStatus is the lifecycle status of a single downstream server as reported by the hub
type ServerStatus string

const (
	StatusDisabled      ServerStatus = "disabled"
	StatusDisconnected  ServerStatus = "disconnected"
	StatusConnecting    ServerStatus = "connecting"
	StatusConnected     ServerStatus = "connected"
	StatusDisconnecting ServerStatus = "disconnecting"
	StatusUnauthorized  ServerStatus = "unauthorized"
)

// Capabilities lists what a connected server exposes
type Capabilities struct {
	Tools             []mcp.Tool             `json:"tools"`
	Resources         []mcp.Resource         `json:"resources"`
	ResourceTemplates []mcp.ResourceTemplate `json:"resourceTemplates"`
	Prompts           []mcp.Prompt           `json:"prompts"`
}

// Instructions is the client-side custom instruction overlay for a server
type Instructions struct {
	Text     string `json:"text,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// ServerRecord represents one downstream server managed by the hub
type ServerRecord struct {
	Name          string       `json:"name"`
	DisplayName   string       `json:"displayName,omitempty"`
	Description   string       `json:"description,omitempty"`
	TransportType string       `json:"transportType,omitempty"`
	Status        ServerStatus `json:"status"`
	Error         string       `json:"error,omitempty"`
	Uptime        float64      `json:"uptime"` // seconds
	LastStarted   string       `json:"lastStarted,omitempty"`
	Capabilities  Capabilities `json:"capabilities"`

	// Overlay sourced from the servers config file, never from the hub
	DisabledTools []string      `json:"disabled_tools,omitempty"`
	Instructions  *Instructions `json:"custom_instructions,omitempty"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status        string         `json:"status"`
	ServerID      string         `json:"server_id"`
	Version       string         `json:"version,omitempty"`
	ActiveClients int            `json:"activeClients"`
	Servers       []ServerRecord `json:"servers"`
	Timestamp     string         `json:"timestamp,omitempty"`
}

// IsHub reports whether the response identifies a healthy hub
func (h *HealthResponse) IsHub() bool {
	return h != nil && h.ServerID == HubServerID && h.Status == "ok"
}

// ClientRequest is the body of POST /client/register and POST /client/unregister
type ClientRequest struct {
	ClientID string `json:"clientId"`
}

// ClientResponse is the response for client registration calls
type ClientResponse struct {
	Status        string `json:"status,omitempty"`
	OK            bool   `json:"ok,omitempty"`
	ActiveClients int    `json:"activeClients,omitempty"`
}

// ServersResponse is the response for GET /servers and GET /refresh
type ServersResponse struct {
	Status    string         `json:"status,omitempty"`
	Servers   []ServerRecord `json:"servers"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// ServerInfoResponse is the response for GET /servers/{name}/info
type ServerInfoResponse struct {
	Server    ServerRecord `json:"server"`
	Timestamp string       `json:"timestamp,omitempty"`
}

// ServerActionResponse is the response for POST /servers/{name}/start|stop
type ServerActionResponse struct {
	Status    string        `json:"status"`
	Server    *ServerRecord `json:"server,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
}

// ToolCallRequest is the body of POST /servers/{name}/tools
type ToolCallRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ResourceRequest is the body of POST /servers/{name}/resources
type ResourceRequest struct {
	URI string `json:"uri"`
}

// CallResponse wraps the raw MCP result of a tool call or resource read
type CallResponse struct {
	Result    json.RawMessage `json:"result"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// APIError is the structured error body the hub returns with non-2xx statuses
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// MarketplaceItem is one catalog entry
type MarketplaceItem struct {
	MCPID       string   `json:"mcpId"`
	Name        string   `json:"name"`
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url,omitempty"`
	GithubURL   string   `json:"githubUrl,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Stars       int      `json:"stars,omitempty"`
	LastCommit  int64    `json:"lastCommit,omitempty"`
}

// MarketplaceQuery filters GET /marketplace
type MarketplaceQuery struct {
	Search   string `json:"search,omitempty"`
	Category string `json:"category,omitempty"`
	Sort     string `json:"sort,omitempty"`
}

// MarketplaceResponse is the response for GET /marketplace
type MarketplaceResponse struct {
	Items     []MarketplaceItem `json:"items"`
	Timestamp string            `json:"timestamp,omitempty"`
}

// MarketplaceDetailsRequest is the body of POST /marketplace/details
type MarketplaceDetailsRequest struct {
	MCPID string `json:"mcpId"`
}

// MarketplaceDetails is a catalog entry plus its long-form documentation
type MarketplaceDetails struct {
	MarketplaceItem
	ReadmeContent string `json:"readmeContent,omitempty"`
}

// MarketplaceDetailsResponse is the response for POST /marketplace/details
type MarketplaceDetailsResponse struct {
	Server    MarketplaceDetails `json:"server"`
	Timestamp string             `json:"timestamp,omitempty"`
}

// LogRecord is one structured log line, either printed by the hub process or pushed over the event stream
type LogRecord struct {
	Type      string         `json:"type"` // info, warn, error, debug
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToolListChanged is the payload of a tool_list_changed stream event
type ToolListChanged struct {
	Server string     `json:"server"`
	Tools  []mcp.Tool `json:"tools"`
}

// ResourceListChanged is the payload of a resource_list_changed stream event
type ResourceListChanged struct {
	Server            string                 `json:"server"`
	Resources         []mcp.Resource         `json:"resources"`
	ResourceTemplates []mcp.ResourceTemplate `json:"resourceTemplates"`
}
