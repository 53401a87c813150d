// Package bridge maintains the reversed MCP link to the cloud tool
// broker: the gateway dials out over WebSocket, then answers JSON-RPC
// requests as an MCP server. The broker drives the conversation.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/watchgate/pkg/tools"
)

const (
	// ReconnectDelay is the fixed pause between broker dial attempts.
	ReconnectDelay = 10 * time.Second

	// PingInterval is the keepalive spacing on an established link.
	PingInterval = 30 * time.Second

	protocolVersion = "2024-11-05"
	serverName      = "watchgate"
	serverVersion   = "1.0.0"
)

// brokerConn is the subset of the WebSocket connection the bridge uses.
type brokerConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// request is one inbound JSON-RPC message. Result and Error mark
// responses to traffic we originated, which the bridge ignores.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Bridge runs the broker connection loop.
type Bridge struct {
	url          string
	executor     tools.Executor
	dial         func(url string) (brokerConn, error)
	pingInterval time.Duration

	mu      sync.Mutex // guards conn slot and lifecycle flags
	writeMu sync.Mutex // serializes conn writes
	conn    brokerConn
	running bool
	done    chan struct{}
}

// New creates a bridge that will dial url and serve calls from executor.
func New(url string, executor tools.Executor) *Bridge {
	return &Bridge{
		url:      url,
		executor: executor,
		dial: func(url string) (brokerConn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
		pingInterval: PingInterval,
	}
}

// Start launches the connection loop. It returns immediately.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.run()
	log.Info().Str("url", b.url).Msg("MCP bridge started")
}

// Stop ends the connection loop and closes any live link.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	conn := b.conn
	done := b.done
	b.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	close(done)
	log.Info().Msg("MCP bridge stopped")
}

func (b *Bridge) run() {
	for {
		b.mu.Lock()
		running := b.running
		done := b.done
		b.mu.Unlock()
		if !running {
			return
		}

		if err := b.connect(); err != nil {
			log.Error().Err(err).Msg("MCP broker connection failed")
		}

		select {
		case <-done:
			return
		case <-time.After(ReconnectDelay):
			log.Info().Dur("delay", ReconnectDelay).Msg("Reconnecting to MCP broker")
		}
	}
}

func (b *Bridge) connect() error {
	log.Info().Msg("Connecting to MCP broker")
	conn, err := b.dial(b.url)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	log.Info().Msg("Connected to MCP broker")

	defer func() {
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		_ = conn.Close()
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go b.keepalive(conn, stopPing)

	return b.serve(conn)
}

// keepalive sends WebSocket pings until stop closes.
func (b *Bridge) keepalive(conn brokerConn, stop <-chan struct{}) {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := b.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// write serializes all outbound frames. The keepalive goroutine and the
// serve loop share the connection; gorilla allows one writer at a time.
func (b *Bridge) write(conn brokerConn, messageType int, data []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// serve reads broker frames until the connection drops. Malformed
// frames and unknown methods are logged and skipped.
func (b *Bridge) serve(conn brokerConn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("broker read: %w", err)
		}

		reply := b.handleMessage(context.Background(), raw)
		if reply == nil {
			continue
		}
		if err := b.write(conn, websocket.TextMessage, reply); err != nil {
			return fmt.Errorf("broker write: %w", err)
		}
	}
}

// handleMessage dispatches one JSON-RPC message and returns the encoded
// reply, or nil when the message needs no answer.
func (b *Bridge) handleMessage(ctx context.Context, raw []byte) []byte {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Warn().Str("frame", truncate(string(raw), 200)).Msg("Invalid JSON from broker")
		return nil
	}

	switch {
	case req.Method == "initialize":
		return b.handleInitialize(req)
	case req.Method == "notifications/initialized":
		log.Info().Msg("MCP handshake complete")
		return nil
	case req.Method == "tools/list":
		return b.handleToolsList(req)
	case req.Method == "tools/call":
		return b.handleToolCall(ctx, req)
	case req.Method == "ping":
		return encode(response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}})
	case req.Result != nil || req.Error != nil:
		// Response to something we sent. Nothing to do.
		return nil
	default:
		log.Debug().Str("method", req.Method).Msg("Unknown MCP method")
		return nil
	}
}

func (b *Bridge) handleInitialize(req request) []byte {
	log.Info().RawJSON("params", nonEmpty(req.Params)).Msg("MCP initialize from broker")
	return encode(response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": serverName, "version": serverVersion},
		},
	})
}

func (b *Bridge) handleToolsList(req request) []byte {
	catalog := b.executor.Tools()
	log.Info().Int("count", len(catalog)).Msg("Sent tool catalog to broker")
	return encode(response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]any{"tools": catalog},
	})
}

// handleToolCall executes the named tool. Failures come back as a
// successful JSON-RPC response with isError set, keeping the broker
// conversation alive.
func (b *Bridge) handleToolCall(ctx context.Context, req request) []byte {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return b.callError(req.ID, fmt.Errorf("decoding params: %w", err))
	}
	log.Info().Str("tool", params.Name).Msg("Broker tool call")

	result, err := b.executor.Execute(ctx, params.Name, params.Arguments)
	if err != nil {
		log.Error().Err(err).Str("tool", params.Name).Msg("Tool call failed")
		return b.callError(req.ID, err)
	}

	text := stringify(result)
	log.Info().Str("tool", params.Name).Str("result", truncate(text, 200)).Msg("Tool call succeeded")
	return encode(response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: callResult{
			Content: []contentBlock{{Type: "text", Text: text}},
			IsError: false,
		},
	})
}

func (b *Bridge) callError(id json.RawMessage, err error) []byte {
	return encode(response{
		JSONRPC: "2.0",
		ID:      id,
		Result: callResult{
			Content: []contentBlock{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		},
	})
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

func encode(resp response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode broker response")
		return nil
	}
	return data
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so
// the result stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func nonEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
