package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// HassClient is a minimal Home Assistant REST client backing the shipped
// automation tools.
type HassClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHassClient creates a client for the Home Assistant REST API at baseURL.
func NewHassClient(baseURL, token string) *HassClient {
	return &HassClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HassClient) get(ctx context.Context, path string) (any, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *HassClient) post(ctx context.Context, path string, body any) (any, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *HassClient) do(ctx context.Context, method, path string, body any) (any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("home assistant request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("home assistant returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var result any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// NewHassRegistry builds the registry of Home Assistant automation tools
// backed by client.
func NewHassRegistry(client *HassClient) *Registry {
	r := NewRegistry()

	r.Register(Tool{
		Name:        "get_states",
		Description: "Get current states of Home Assistant entities",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"entity_ids": {
					"type": "array",
					"items": {"type": "string"},
					"description": "List of entity IDs to query"
				}
			},
			"required": ["entity_ids"]
		}`),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		ids, _ := args["entity_ids"].([]any)
		states := make([]any, 0, len(ids))
		for _, raw := range ids {
			id, _ := raw.(string)
			state, err := client.get(ctx, "/api/states/"+id)
			if err != nil {
				log.Error().Err(err).Str("entity_id", id).Msg("Failed to fetch state")
				states = append(states, map[string]any{"entity_id": id, "error": err.Error()})
				continue
			}
			states = append(states, state)
		}
		return states, nil
	})

	r.Register(Tool{
		Name:        "call_service",
		Description: "Call a Home Assistant service",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"domain": {"type": "string", "description": "The service domain (e.g., light, switch)"},
				"service": {"type": "string", "description": "The service name (e.g., turn_on, toggle)"},
				"data": {"type": "object", "description": "Service data parameters"}
			},
			"required": ["domain", "service", "data"]
		}`),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		domain, _ := args["domain"].(string)
		service, _ := args["service"].(string)
		data, _ := args["data"].(map[string]any)
		return client.post(ctx, fmt.Sprintf("/api/services/%s/%s", domain, service), data)
	})

	r.Register(Tool{
		Name:        "get_weather",
		Description: "Get current weather information from a weather entity",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"entity_id": {"type": "string", "description": "The weather entity ID (e.g., weather.home)"}
			},
			"required": ["entity_id"]
		}`),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		id, _ := args["entity_id"].(string)
		return client.get(ctx, "/api/states/"+id)
	})

	r.Register(Tool{
		Name:        "send_notification",
		Description: "Send a persistent notification to Home Assistant",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {"type": "string", "description": "The notification message content"},
				"title": {"type": "string", "description": "Optional notification title"}
			},
			"required": ["message"]
		}`),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		data := map[string]any{"message": args["message"]}
		if title, ok := args["title"].(string); ok && title != "" {
			data["title"] = title
		}
		return client.post(ctx, "/api/services/notify/persistent_notification", data)
	})

	r.Register(Tool{
		Name:        "get_calendar",
		Description: "Get events from a Home Assistant calendar entity",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"entity_id": {"type": "string", "description": "The calendar entity ID"},
				"days": {"type": "integer", "description": "Number of days ahead to fetch events", "default": 7}
			},
			"required": ["entity_id"]
		}`),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		id, _ := args["entity_id"].(string)
		return client.get(ctx, "/api/calendars/"+id)
	})

	r.Register(Tool{
		Name:        "control_media",
		Description: "Control a media player entity",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"entity_id": {"type": "string", "description": "The media_player entity ID"},
				"action": {
					"type": "string",
					"enum": ["media_play", "media_pause", "media_stop", "media_next_track", "media_previous_track", "toggle"],
					"description": "The action to perform"
				}
			},
			"required": ["entity_id", "action"]
		}`),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		id, _ := args["entity_id"].(string)
		action, _ := args["action"].(string)
		return client.post(ctx, "/api/services/media_player/"+action, map[string]any{"entity_id": id})
	})

	return r
}
