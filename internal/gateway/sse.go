package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/reqcontext"
)

// EventsPath is the server-sent event stream
const EventsPath = "/events"

// ServerEvent is one event read from the stream
type ServerEvent struct {
	ID    string
	Event string
	Data  json.RawMessage
}

// Decode unmarshals the event data into out
func (e ServerEvent) Decode(out any) error {
	return decodeInto(e.Data, out)
}

// Stream reads the event stream until ctx is cancelled or the hub closes it.
// Unlike Send it is bound to ctx: cancelling ctx ends the stream and returns nil.
// Events whose data is not JSON are passed through as JSON strings.
func (g *Gateway) Stream(ctx context.Context, handle func(ServerEvent)) error {
	req := Request{Method: http.MethodGet, Path: EventsPath}
	if err := g.checkReady(req); err != nil {
		return err
	}

	ctx, requestID := reqcontext.Ensure(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+EventsPath, http.NoBody)
	if err != nil {
		return mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeInvalidParams, "invalid event stream request", err, nil)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(reqcontext.RequestIDHeader, requestID)

	base := map[string]any{"method": http.MethodGet, "path": EventsPath, "request_id": requestID}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return mcperr.Wrap(mcperr.CategoryServer, mcperr.CodeConnection, "failed to open hub event stream", err, base)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mcperr.Server(mcperr.CodeAPIError,
			fmt.Sprintf("event stream returned status %d", resp.StatusCode),
			withDetails(base, map[string]any{"status": resp.StatusCode}))
	}

	g.logger.Debug("Event stream connected", zap.String("request_id", requestID))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		id, event string
		data      strings.Builder
	)
	flush := func() {
		if data.Len() == 0 {
			event, id = "", ""
			return
		}
		if event == "" {
			event = "message"
		}
		handle(ServerEvent{ID: id, Event: event, Data: toJSON(data.String())})
		event, id = "", ""
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteString("\n")
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	// an event cut off before its blank line is incomplete and dropped

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return mcperr.Wrap(mcperr.CategoryServer, mcperr.CodeConnection, "hub event stream interrupted", err, base)
	}
	return nil
}

func toJSON(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
