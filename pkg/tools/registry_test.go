package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExecute_UnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "does_not_exist", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("got %v, want ErrUnknownTool", err)
	}
}

func TestExecute_ValidatesArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Name: "echo",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	})

	if _, err := r.Execute(context.Background(), "echo", map[string]any{}); !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("missing required arg: got %v, want ErrInvalidArguments", err)
	}

	out, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("valid call failed: %v", err)
	}
	if out != "hi" {
		t.Errorf("got %v, want hi", out)
	}
}

func TestExecute_NoSchemaSkipsValidation(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Name: "free"}, func(ctx context.Context, args map[string]any) (any, error) {
		return "ok", nil
	})
	if _, err := r.Execute(context.Background(), "free", map[string]any{"anything": 1}); err != nil {
		t.Errorf("schemaless tool must accept any args: %v", err)
	}
}

func TestTools_RegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		r.Register(Tool{Name: name}, func(ctx context.Context, args map[string]any) (any, error) {
			return nil, nil
		})
	}
	catalog := r.Tools()
	if len(catalog) != 3 {
		t.Fatalf("got %d tools, want 3", len(catalog))
	}
	for i, want := range []string{"c", "a", "b"} {
		if catalog[i].Name != want {
			t.Errorf("catalog[%d] = %s, want %s", i, catalog[i].Name, want)
		}
	}
}

func TestHassRegistry_GetWeather(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states/weather.home" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entity_id": "weather.home", "state": "sunny", "attributes": {"temperature": 21.5}}`))
	}))
	defer server.Close()

	r := NewHassRegistry(NewHassClient(server.URL, "test-token"))

	out, err := r.Execute(context.Background(), "get_weather", map[string]any{"entity_id": "weather.home"})
	if err != nil {
		t.Fatalf("get_weather failed: %v", err)
	}

	state, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("got %T, want object", out)
	}
	if state["state"] != "sunny" {
		t.Errorf("state = %v, want sunny", state["state"])
	}
}

func TestHassRegistry_ErrorStatusSurfacesAsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	r := NewHassRegistry(NewHassClient(server.URL, "bad"))
	if _, err := r.Execute(context.Background(), "get_weather", map[string]any{"entity_id": "weather.home"}); err == nil {
		t.Error("expected error for 401 response")
	}
}
