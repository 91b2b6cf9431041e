// Package hubtest runs an in-process fake of the hub HTTP API for tests.
package hubtest

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mcphub-go/internal/contracts"
)

// Version is reported by the fake health endpoint
const Version = "4.2.1"

// ToolCall is one recorded POST /servers/{name}/tools
type ToolCall struct {
	Server    string
	Tool      string
	Arguments map[string]any
}

type failure struct {
	status    int
	body      any
	remaining int // < 0 means forever
}

// Hub is a fake hub. Route keys used by Fail, Delay and Hits are
// "METHOD pattern", e.g. "GET /health" or "POST /servers/{name}/tools".
type Hub struct {
	t      testing.TB
	srv    *httptest.Server
	router *chi.Mux

	mu           sync.Mutex
	servers      []contracts.ServerRecord
	clients      map[string]bool
	registered   []string
	unregistered []string
	toolCalls    []ToolCall
	resourceURIs []string
	toolResults  map[string]json.RawMessage
	resResults   map[string]json.RawMessage
	marketplace  []contracts.MarketplaceItem
	details      map[string]contracts.MarketplaceDetails
	failures     map[string]*failure
	delays       map[string]time.Duration
	hits         map[string]int
	queries      map[string][]string
	streams      map[chan string]struct{}
}

// New starts a fake hub on a random loopback port and stops it on cleanup
func New(t testing.TB) *Hub {
	t.Helper()
	h := &Hub{
		t:           t,
		router:      chi.NewRouter(),
		clients:     map[string]bool{},
		toolResults: map[string]json.RawMessage{},
		resResults:  map[string]json.RawMessage{},
		details:     map[string]contracts.MarketplaceDetails{},
		failures:    map[string]*failure{},
		delays:      map[string]time.Duration{},
		hits:        map[string]int{},
		queries:     map[string][]string{},
		streams:     map[chan string]struct{}{},
	}
	h.routes()

	h.srv = httptest.NewServer(h.router)
	t.Cleanup(h.Close)
	return h
}

// Close stops the server and ends open event streams
func (h *Hub) Close() {
	h.mu.Lock()
	for ch := range h.streams {
		close(ch)
		delete(h.streams, ch)
	}
	h.mu.Unlock()
	h.srv.Close()
}

// URL returns the API root
func (h *Hub) URL() string {
	return h.srv.URL + "/api"
}

// Port returns the listening port
func (h *Hub) Port() int {
	_, port, _ := net.SplitHostPort(h.srv.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

func (h *Hub) routes() {
	h.router.Use(middleware.Recoverer)
	h.router.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handle("GET /health", h.handleHealth))
		r.Post("/client/register", h.handle("POST /client/register", h.handleRegister))
		r.Post("/client/unregister", h.handle("POST /client/unregister", h.handleUnregister))
		r.Get("/servers", h.handle("GET /servers", h.handleServers))
		r.Get("/refresh", h.handle("GET /refresh", h.handleServers))
		r.Route("/servers/{name}", func(r chi.Router) {
			r.Get("/info", h.handle("GET /servers/{name}/info", h.handleInfo))
			r.Post("/start", h.handle("POST /servers/{name}/start", h.handleStart))
			r.Post("/stop", h.handle("POST /servers/{name}/stop", h.handleStop))
			r.Post("/tools", h.handle("POST /servers/{name}/tools", h.handleTool))
			r.Post("/resources", h.handle("POST /servers/{name}/resources", h.handleResource))
		})
		r.Get("/marketplace", h.handle("GET /marketplace", h.handleMarketplace))
		r.Post("/marketplace/details", h.handle("POST /marketplace/details", h.handleDetails))
		r.Get("/events", h.handle("GET /events", h.handleEvents))
	})
}

// handle counts the hit, then applies configured delays and failures
func (h *Hub) handle(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.hits[route]++
		h.queries[route] = append(h.queries[route], r.URL.RawQuery)
		delay := h.delays[route]
		var fail *failure
		if f, ok := h.failures[route]; ok && f.remaining != 0 {
			fail = f
			if f.remaining > 0 {
				f.remaining--
			}
		}
		h.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail != nil {
			if s, ok := fail.body.(string); ok {
				w.WriteHeader(fail.status)
				_, _ = w.Write([]byte(s))
				return
			}
			writeJSON(w, fail.status, fail.body)
			return
		}
		next(w, r)
	}
}

// SetServers replaces the server list
func (h *Hub) SetServers(servers ...contracts.ServerRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.servers = append([]contracts.ServerRecord(nil), servers...)
}

// SetServerStatus changes one server's status
func (h *Hub) SetServerStatus(name string, status contracts.ServerStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.servers {
		if h.servers[i].Name == name {
			h.servers[i].Status = status
		}
	}
}

// Fail makes the next n requests to route fail with status and body
// (a string is written raw, anything else as JSON). n < 0 fails forever.
func (h *Hub) Fail(route string, status int, body any, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[route] = &failure{status: status, body: body, remaining: n}
}

// Recover clears a failure set with Fail
func (h *Hub) Recover(route string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, route)
}

// Delay holds every request to route for d
func (h *Hub) Delay(route string, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delays[route] = d
}

// Hits returns how many requests reached route
func (h *Hub) Hits(route string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[route]
}

// Queries returns the raw query strings seen on route
func (h *Hub) Queries(route string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.queries[route]...)
}

// Clients returns the currently registered client ids
func (h *Hub) Clients() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	return out
}

// Registered returns every id seen on register, in order
func (h *Hub) Registered() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.registered...)
}

// Unregistered returns every id seen on unregister, in order
func (h *Hub) Unregistered() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.unregistered...)
}

// ToolCalls returns the recorded tool calls
func (h *Hub) ToolCalls() []ToolCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ToolCall(nil), h.toolCalls...)
}

// ResourceReads returns the URIs read so far
func (h *Hub) ResourceReads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.resourceURIs...)
}

// SetToolResult sets the raw MCP result returned for server/tool
func (h *Hub) SetToolResult(server, tool string, result string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.toolResults[server+"/"+tool] = json.RawMessage(result)
}

// SetResourceResult sets the raw MCP result returned for server/uri
func (h *Hub) SetResourceResult(server, uri string, result string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resResults[server+"/"+uri] = json.RawMessage(result)
}

// SetMarketplace replaces the catalog
func (h *Hub) SetMarketplace(items ...contracts.MarketplaceItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.marketplace = append([]contracts.MarketplaceItem(nil), items...)
}

// SetDetails adds one catalog entry's details
func (h *Hub) SetDetails(d contracts.MarketplaceDetails) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.details[d.MCPID] = d
}

// Streams returns the number of open event streams
func (h *Hub) Streams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Publish sends one server-sent event to every open stream
func (h *Hub) Publish(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.t.Errorf("hubtest: marshal event: %v", err)
		return
	}
	frame := fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload)

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.streams {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	resp := contracts.HealthResponse{
		Status:        "ok",
		ServerID:      contracts.HubServerID,
		Version:       Version,
		ActiveClients: len(h.clients),
		Servers:       append([]contracts.ServerRecord(nil), h.servers...),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (h *Hub) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req contracts.ClientRequest
	if !decode(w, r, &req) {
		return
	}
	h.mu.Lock()
	h.clients[req.ClientID] = true
	h.registered = append(h.registered, req.ClientID)
	n := len(h.clients)
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, contracts.ClientResponse{Status: "registered", ActiveClients: n})
}

func (h *Hub) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req contracts.ClientRequest
	if !decode(w, r, &req) {
		return
	}
	h.mu.Lock()
	delete(h.clients, req.ClientID)
	h.unregistered = append(h.unregistered, req.ClientID)
	n := len(h.clients)
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, contracts.ClientResponse{Status: "unregistered", ActiveClients: n})
}

func (h *Hub) handleServers(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	servers := append([]contracts.ServerRecord(nil), h.servers...)
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, contracts.ServersResponse{Status: "ok", Servers: servers})
}

func (h *Hub) server(w http.ResponseWriter, r *http.Request) (contracts.ServerRecord, bool) {
	name := chi.URLParam(r, "name")
	h.mu.Lock()
	rec, ok := contracts.FindServer(h.servers, name)
	h.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, contracts.APIError{
			Error: fmt.Sprintf("Server '%s' not found", name),
			Code:  "SERVER_NOT_FOUND",
			Data:  map[string]any{"server": name},
		})
	}
	return rec, ok
}

func (h *Hub) handleInfo(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.server(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, contracts.ServerInfoResponse{Server: rec})
}

func (h *Hub) handleStart(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.server(w, r)
	if !ok {
		return
	}
	h.SetServerStatus(rec.Name, contracts.StatusConnected)
	rec.Status = contracts.StatusConnected
	writeJSON(w, http.StatusOK, contracts.ServerActionResponse{Status: "ok", Server: &rec})
}

func (h *Hub) handleStop(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.server(w, r)
	if !ok {
		return
	}
	status := contracts.StatusDisconnected
	if r.URL.Query().Get("disable") == "true" {
		status = contracts.StatusDisabled
	}
	h.SetServerStatus(rec.Name, status)
	rec.Status = status
	writeJSON(w, http.StatusOK, contracts.ServerActionResponse{Status: "ok", Server: &rec})
}

func (h *Hub) handleTool(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.server(w, r)
	if !ok {
		return
	}
	var req contracts.ToolCallRequest
	if !decode(w, r, &req) {
		return
	}
	h.mu.Lock()
	h.toolCalls = append(h.toolCalls, ToolCall{Server: rec.Name, Tool: req.Tool, Arguments: req.Arguments})
	result, found := h.toolResults[rec.Name+"/"+req.Tool]
	h.mu.Unlock()
	if !found {
		result = json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`)
	}
	writeJSON(w, http.StatusOK, contracts.CallResponse{Result: result})
}

func (h *Hub) handleResource(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.server(w, r)
	if !ok {
		return
	}
	var req contracts.ResourceRequest
	if !decode(w, r, &req) {
		return
	}
	h.mu.Lock()
	h.resourceURIs = append(h.resourceURIs, req.URI)
	result, found := h.resResults[rec.Name+"/"+req.URI]
	h.mu.Unlock()
	if !found {
		result = json.RawMessage(fmt.Sprintf(`{"contents":[{"uri":%q,"mimeType":"text/plain","text":"ok"}]}`, req.URI))
	}
	writeJSON(w, http.StatusOK, contracts.CallResponse{Result: result})
}

func (h *Hub) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(r.URL.Query().Get("search"))
	category := r.URL.Query().Get("category")

	h.mu.Lock()
	items := make([]contracts.MarketplaceItem, 0, len(h.marketplace))
	for _, item := range h.marketplace {
		if search != "" && !strings.Contains(strings.ToLower(item.Name+" "+item.Description), search) {
			continue
		}
		if category != "" && item.Category != category {
			continue
		}
		items = append(items, item)
	}
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, contracts.MarketplaceResponse{Items: items})
}

func (h *Hub) handleDetails(w http.ResponseWriter, r *http.Request) {
	var req contracts.MarketplaceDetailsRequest
	if !decode(w, r, &req) {
		return
	}
	h.mu.Lock()
	d, ok := h.details[req.MCPID]
	h.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, contracts.APIError{Error: "Server not found", Code: "NOT_FOUND"})
		return
	}
	writeJSON(w, http.StatusOK, contracts.MarketplaceDetailsResponse{Server: d})
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	ch := make(chan string, 32)
	h.mu.Lock()
	h.streams[ch] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if _, ok := h.streams[ch]; ok {
			delete(h.streams, ch)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprint(w, frame)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, contracts.APIError{Error: "invalid request body", Code: "BAD_REQUEST"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
