package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/urmzd/watchgate/pkg/tools"
)

type stubExecutor struct {
	catalog []tools.Tool
	execErr error
	result  any
	calls   []string
}

func (s *stubExecutor) Tools() []tools.Tool {
	return s.catalog
}

func (s *stubExecutor) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	s.calls = append(s.calls, name)
	if s.execErr != nil {
		return nil, s.execErr
	}
	return s.result, nil
}

func decodeReply(t *testing.T, reply []byte) map[string]any {
	t.Helper()
	if reply == nil {
		t.Fatal("expected a reply")
	}
	var msg map[string]any
	if err := json.Unmarshal(reply, &msg); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	return msg
}

func TestInitializeReply(t *testing.T) {
	b := New("wss://broker.example/mcp", &stubExecutor{})

	reply := b.handleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"agent"}}}`))
	msg := decodeReply(t, reply)

	if msg["id"] != float64(1) {
		t.Errorf("reply id mismatch: %v", msg["id"])
	}
	result, _ := msg["result"].(map[string]any)
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("unexpected protocol version: %v", result["protocolVersion"])
	}
	info, _ := result["serverInfo"].(map[string]any)
	if info["name"] != "watchgate" {
		t.Errorf("unexpected server name: %v", info["name"])
	}
}

func TestInitializedNotificationIsSilent(t *testing.T) {
	b := New("wss://broker.example/mcp", &stubExecutor{})

	reply := b.handleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if reply != nil {
		t.Errorf("notification must not be answered, got %s", reply)
	}
}

func TestToolsListReturnsCatalog(t *testing.T) {
	exec := &stubExecutor{catalog: []tools.Tool{
		{Name: "get_states", Description: "Read entity states", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}}
	b := New("wss://broker.example/mcp", exec)

	reply := b.handleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	msg := decodeReply(t, reply)

	result, _ := msg["result"].(map[string]any)
	list, _ := result["tools"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(list))
	}
	first, _ := list[0].(map[string]any)
	if first["name"] != "get_states" {
		t.Errorf("unexpected tool name: %v", first["name"])
	}
}

func TestToolCallSuccess(t *testing.T) {
	exec := &stubExecutor{result: map[string]any{"ok": true}}
	b := New("wss://broker.example/mcp", exec)

	reply := b.handleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_states","arguments":{"domain":"light"}}}`))
	msg := decodeReply(t, reply)

	result, _ := msg["result"].(map[string]any)
	if result["isError"] != false {
		t.Errorf("expected isError false, got %v", result["isError"])
	}
	content, _ := result["content"].([]any)
	block, _ := content[0].(map[string]any)
	if block["type"] != "text" || block["text"] != `{"ok":true}` {
		t.Errorf("unexpected content block: %v", block)
	}
	if len(exec.calls) != 1 || exec.calls[0] != "get_states" {
		t.Errorf("executor received calls %v", exec.calls)
	}
}

func TestToolCallFailureWrappedAsIsError(t *testing.T) {
	exec := &stubExecutor{execErr: errors.New("boom")}
	b := New("wss://broker.example/mcp", exec)

	reply := b.handleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"get_weather","arguments":{}}}`))
	msg := decodeReply(t, reply)

	if msg["error"] != nil {
		t.Error("tool failures must not become protocol errors")
	}
	result, _ := msg["result"].(map[string]any)
	if result["isError"] != true {
		t.Errorf("expected isError true, got %v", result["isError"])
	}
	content, _ := result["content"].([]any)
	block, _ := content[0].(map[string]any)
	if block["text"] != "Error: boom" {
		t.Errorf("unexpected error text: %v", block["text"])
	}
}

func TestUnknownToolWrappedAsIsError(t *testing.T) {
	exec := &stubExecutor{execErr: tools.ErrUnknownTool}
	b := New("wss://broker.example/mcp", exec)

	reply := b.handleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"nope","arguments":{}}}`))
	msg := decodeReply(t, reply)

	result, _ := msg["result"].(map[string]any)
	if result["isError"] != true {
		t.Errorf("expected isError true, got %v", result["isError"])
	}
}

func TestPingAnsweredWithEmptyResult(t *testing.T) {
	b := New("wss://broker.example/mcp", &stubExecutor{})

	reply := b.handleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":6,"method":"ping"}`))
	msg := decodeReply(t, reply)

	result, ok := msg["result"].(map[string]any)
	if !ok || len(result) != 0 {
		t.Errorf("expected empty result object, got %v", msg["result"])
	}
}

func TestBrokerResponsesIgnored(t *testing.T) {
	b := New("wss://broker.example/mcp", &stubExecutor{})

	if reply := b.handleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":7,"result":{}}`)); reply != nil {
		t.Errorf("responses must be ignored, got %s", reply)
	}
	if reply := b.handleMessage(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":8,"error":{"code":-32000}}`)); reply != nil {
		t.Errorf("errors must be ignored, got %s", reply)
	}
}

func TestInvalidJSONSkipped(t *testing.T) {
	b := New("wss://broker.example/mcp", &stubExecutor{})

	if reply := b.handleMessage(context.Background(), []byte(`{nope`)); reply != nil {
		t.Errorf("invalid JSON must be skipped, got %s", reply)
	}
}

type countingConn struct {
	frames   chan []byte
	inFlight atomic.Int32
	overlaps atomic.Int32
	pings    atomic.Int32
}

func (c *countingConn) ReadMessage() (int, []byte, error) {
	frame, ok := <-c.frames
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, frame, nil
}

func (c *countingConn) WriteMessage(messageType int, data []byte) error {
	if c.inFlight.Add(1) > 1 {
		c.overlaps.Add(1)
	}
	time.Sleep(time.Millisecond)
	c.inFlight.Add(-1)
	if messageType == websocket.PingMessage {
		c.pings.Add(1)
	}
	return nil
}

func (c *countingConn) Close() error { return nil }

func TestKeepaliveAndServeWritesNeverOverlap(t *testing.T) {
	conn := &countingConn{frames: make(chan []byte)}
	b := New("wss://broker.example/mcp", &stubExecutor{})
	b.pingInterval = time.Millisecond
	b.dial = func(string) (brokerConn, error) { return conn, nil }

	go func() {
		for i := 0; i < 30; i++ {
			conn.frames <- []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, i))
			time.Sleep(time.Millisecond)
		}
		close(conn.frames)
	}()

	if err := b.connect(); err == nil {
		t.Fatal("expected connect to return once the broker closes")
	}

	if conn.pings.Load() == 0 {
		t.Fatal("keepalive never fired")
	}
	if n := conn.overlaps.Load(); n != 0 {
		t.Errorf("observed %d overlapping writes on the broker connection", n)
	}
}

func TestTruncateStopsAtRuneBoundary(t *testing.T) {
	s := strings.Repeat("日", 10)

	got := truncate(s, 7)
	if !utf8.ValidString(got) {
		t.Errorf("truncate produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("日", 2) {
		t.Errorf("expected two runes, got %q", got)
	}

	if got := truncate("plain ascii", 5); got != "plain" {
		t.Errorf("ascii truncation broken: %q", got)
	}
	if got := truncate("short", 200); got != "short" {
		t.Errorf("under-limit string must pass through, got %q", got)
	}
}
