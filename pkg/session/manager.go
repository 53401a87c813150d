package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/watchgate/pkg/ai"
	"github.com/urmzd/watchgate/pkg/bus"
	"github.com/urmzd/watchgate/pkg/outbox"
	"github.com/urmzd/watchgate/pkg/perception"
)

// State is the lifecycle phase of a device session.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	listenStopDelay = 500 * time.Millisecond
	flushPause      = 100 * time.Millisecond
	eventTextLimit  = 255
)

// deviceConn is the subset of the WebSocket connection the manager uses.
// Satisfied by *websocket.Conn; tests substitute fakes.
type deviceConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is the single active device connection.
type Session struct {
	ID    string
	conn  deviceConn
	state State
}

// Options configures a Manager.
type Options struct {
	// VisionURL is the callback URL pushed to the device after hello.
	VisionURL string
	// VisionToken is the bearer token for the vision callback.
	VisionToken string
	// CustomPrompt overrides the default scene-analysis prompt.
	CustomPrompt string
	// ConfidenceThreshold gates alert events, 0-1.
	ConfidenceThreshold float64
}

// Manager is the device session state machine. It owns the single
// session slot and the outbox; producers reach the device only through
// SendToDevice.
type Manager struct {
	upgrader  websocket.Upgrader
	publisher bus.Publisher
	detector  *perception.Detector
	analyzer  *perception.Analyzer
	speech    ai.SpeechProvider
	backoff   *Backoff

	mu      sync.Mutex // guards session slot, outbox, settings
	writeMu sync.Mutex // serializes conn writes
	session *Session
	outbox  *outbox.Outbox

	customPrompt        string
	confidenceThreshold float64
	visionURL           string
	visionToken         string

	mcpID        atomic.Int64
	binaryFrames atomic.Int64
}

// NewManager creates a session manager.
func NewManager(publisher bus.Publisher, detector *perception.Detector, analyzer *perception.Analyzer, speech ai.SpeechProvider, opts Options) *Manager {
	return &Manager{
		upgrader:            websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		publisher:           publisher,
		detector:            detector,
		analyzer:            analyzer,
		speech:              speech,
		backoff:             NewBackoff(),
		outbox:              outbox.New(),
		customPrompt:        opts.CustomPrompt,
		confidenceThreshold: opts.ConfidenceThreshold,
		visionURL:           opts.VisionURL,
		visionToken:         opts.VisionToken,
	}
}

// Backoff exposes the reconnect delay for the accept loop.
func (m *Manager) Backoff() *Backoff {
	return m.backoff
}

// SetMonitoringEnabled implements bus.Gateway.
func (m *Manager) SetMonitoringEnabled(enabled bool) {
	m.detector.SetMonitoringEnabled(enabled)
}

// SetCustomPrompt implements bus.Gateway.
func (m *Manager) SetCustomPrompt(prompt string) {
	m.mu.Lock()
	m.customPrompt = prompt
	m.mu.Unlock()
}

// SetMonitoringInterval implements bus.Gateway.
func (m *Manager) SetMonitoringInterval(seconds int) {
	m.analyzer.SetInterval(time.Duration(seconds) * time.Second)
}

// SetConfidenceThreshold implements bus.Gateway.
func (m *Manager) SetConfidenceThreshold(threshold float64) {
	m.mu.Lock()
	m.confidenceThreshold = threshold
	m.mu.Unlock()
}

// HandleConnection upgrades the HTTP request and runs the session until
// the socket closes. Per-message failures are logged and the loop
// continues; the call never panics out.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	log.Info().Str("remote", r.RemoteAddr).Msg("Device connected")
	m.runSession(conn)
}

// runSession installs conn as the active session and reads until error.
func (m *Manager) runSession(conn deviceConn) {
	sess := &Session{conn: conn, state: StateConnecting}

	m.mu.Lock()
	prev := m.session
	m.session = sess
	// A new connection supersedes any prior one.
	if prev != nil {
		prev.state = StateClosed
	}
	m.mu.Unlock()

	if prev != nil {
		_ = prev.conn.Close()
		log.Info().Msg("Superseded previous device session")
	}

	m.backoff.Reset()
	m.publishState("binary_sensor/connected", "ON")
	m.flushOutbox()

	defer m.teardown(sess)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Device read failed")
			return
		}

		if msgType == websocket.BinaryMessage {
			m.handleBinary(data)
			continue
		}

		m.dispatch(sess, data)
	}
}

func (m *Manager) teardown(sess *Session) {
	if r := recover(); r != nil {
		log.Error().Interface("panic", r).Msg("Device session panicked")
	}

	m.mu.Lock()
	sess.state = StateClosed
	current := m.session == sess
	if current {
		m.session = nil
	}
	m.mu.Unlock()
	_ = sess.conn.Close()

	if !current {
		return // already superseded; the new session owns the slot
	}

	m.publishState("binary_sensor/connected", "OFF")
	delay := m.backoff.Advance()
	log.Info().Dur("next_delay", delay).Msg("Device disconnected")
}

// dispatch parses and handles one text frame. Protocol errors are logged
// and the frame is dropped.
func (m *Manager) dispatch(sess *Session, raw []byte) {
	msg, err := ParseMessage(raw)
	if err != nil {
		log.Error().Err(err).Msg("Dropping malformed device frame")
		return
	}

	switch v := msg.(type) {
	case Hello:
		m.handleHello(sess)
	case Listen:
		m.handleListen(v)
	case Audio:
		m.handleAudio(v)
	case Image:
		m.handleImage(v)
	case MCP:
		m.handleMCP(v)
	case Wheel:
		log.Info().Str("direction", v.Direction).Msg("Wheel event")
	case Button:
		log.Info().Str("action", v.Action).Msg("Button event")
	case Status:
		log.Debug().RawJSON("payload", nonEmptyJSON(v.Payload)).Msg("Device status")
	case Unknown:
		log.Debug().Str("type", v.Type).Msg("Dropping unrecognized device message")
	}
}

// handleHello completes the handshake: a hello-ack with a fresh session
// id, then the initialize push advertising the vision callback.
func (m *Manager) handleHello(sess *Session) {
	m.mu.Lock()
	sess.state = StateHandshaking
	sess.ID = uuid.NewString()
	m.mu.Unlock()

	ack := map[string]any{
		"type":       "hello",
		"transport":  "websocket",
		"session_id": sess.ID,
		"audio_params": map[string]any{
			"sample_rate":    24000,
			"frame_duration": 60,
		},
	}
	data, err := json.Marshal(ack)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode hello response")
		return
	}
	if err := m.write(sess, data); err != nil {
		log.Warn().Err(err).Msg("Failed to send hello response")
		return
	}

	m.mu.Lock()
	sess.state = StateActive
	m.mu.Unlock()
	log.Info().Str("session_id", sess.ID).Msg("Hello handshake completed")

	init := map[string]any{
		"type": "mcp",
		"payload": map[string]any{
			"jsonrpc": "2.0",
			"id":      m.mcpID.Add(1),
			"method":  "initialize",
			"params": map[string]any{
				"capabilities": map[string]any{
					"vision": map[string]any{
						"url":   m.visionURL,
						"token": m.visionToken,
					},
				},
			},
		},
	}
	m.sendJSON(init)
}

// handleListen ends the current listening turn after a fixed delay, then
// drains the outbox while the device is attentive.
func (m *Manager) handleListen(msg Listen) {
	log.Info().Str("state", msg.State).Msg("Device listen state")
	if msg.State != "detect" && msg.State != "start" {
		return
	}

	time.Sleep(listenStopDelay)
	m.sendJSON(map[string]any{"type": "tts", "state": "stop"})
	m.flushOutbox()
}

func (m *Manager) handleAudio(msg Audio) {
	if len(msg.Data) == 0 {
		return
	}

	noise := m.detector.DetectNoise(msg.Data)
	m.publishState("binary_sensor/noise_detected", onOff(noise))

	text, err := m.speech.Recognize(context.Background(), msg.Data)
	if err != nil {
		log.Warn().Err(err).Msg("Speech recognition failed")
		return
	}
	if text == "" {
		return
	}

	log.Info().Str("text", text).Msg("Voice command recognized")
	if err := m.publisher.FireEvent("voice_command", map[string]any{"text": text}); err != nil {
		log.Warn().Err(err).Msg("Failed to fire voice_command event")
	}
}

func (m *Manager) handleImage(msg Image) {
	if len(msg.Data) == 0 {
		return
	}

	if err := m.publisher.PublishRaw(bus.ImageTopic(), msg.Data, true); err != nil {
		log.Warn().Err(err).Msg("Failed to publish snapshot")
	}

	motion, err := m.detector.DetectMotion(msg.Data)
	if err != nil {
		log.Error().Err(err).Msg("Motion detection failed")
		return
	}
	m.publishState("binary_sensor/motion_detected", onOff(motion))

	if !motion || !m.detector.MonitoringEnabled() {
		return
	}

	m.mu.Lock()
	prompt := m.customPrompt
	threshold := m.confidenceThreshold
	m.mu.Unlock()

	result, err := m.analyzer.Analyze(context.Background(), msg.Data, prompt, false)
	if err != nil {
		log.Error().Err(err).Msg("Scene analysis failed")
		return
	}
	if result == nil {
		return // rate limited
	}

	m.publishState("sensor/last_event", truncate(result.Description, eventTextLimit))

	if result.Confidence >= threshold {
		err := m.publisher.FireEvent("alert", map[string]any{
			"description": result.Description,
			"confidence":  result.Confidence,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to fire alert event")
		}
	}
}

// handleMCP bridges the device's embedded JSON-RPC traffic to the bus as
// a truncated textual echo. No semantic interpretation.
func (m *Manager) handleMCP(msg MCP) {
	echo := "MCP: " + truncate(string(nonEmptyJSON(msg.Payload)), eventTextLimit)
	log.Info().Str("echo", echo).Msg("MCP message from device")
	m.publishState("sensor/last_event", echo)
}

// handleBinary counts raw opus frames; no further processing.
func (m *Manager) handleBinary(data []byte) {
	n := m.binaryFrames.Add(1)
	if n == 1 || n%100 == 0 {
		log.Debug().Int64("frames", n).Int("bytes", len(data)).Msg("Opus audio frames received")
	}
}

// SendToDevice delivers payload immediately when a session is active;
// otherwise, or on any send failure, the payload joins the outbox.
// Messages are never dropped silently.
func (m *Manager) SendToDevice(payload []byte) {
	m.mu.Lock()
	sess := m.session
	active := sess != nil && sess.state == StateActive
	m.mu.Unlock()

	if active {
		if err := m.write(sess, payload); err == nil {
			return
		} else {
			log.Warn().Err(err).Msg("Device send failed, queueing")
		}
	}

	m.mu.Lock()
	m.outbox.Append(payload)
	size := m.outbox.Len()
	m.mu.Unlock()
	log.Info().Int("queue_size", size).Msg("Command queued for delivery")
}

// flushOutbox drains queued commands in order while the session stays
// active, pausing briefly between sends. A failed send pushes the
// message back to the front and stops the flush.
func (m *Manager) flushOutbox() {
	flushed := 0
	for {
		m.mu.Lock()
		sess := m.session
		if sess == nil || sess.state == StateClosed || m.outbox.Len() == 0 {
			m.mu.Unlock()
			break
		}
		env, _ := m.outbox.Pop()
		m.mu.Unlock()

		if err := m.write(sess, env.Payload); err != nil {
			log.Warn().Err(err).Msg("Failed to deliver queued command")
			m.mu.Lock()
			m.outbox.PushFront(env)
			m.mu.Unlock()
			break
		}
		flushed++
		time.Sleep(flushPause)
	}

	if flushed > 0 {
		log.Info().Int("count", flushed).Msg("Flushed queued commands")
	}
}

// Close shuts the active session down, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	if sess != nil {
		sess.state = StateClosed
	}
	m.mu.Unlock()

	if sess != nil {
		_ = sess.conn.Close()
	}
}

func (m *Manager) write(sess *Session, payload []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return sess.conn.WriteMessage(websocket.TextMessage, payload)
}

func (m *Manager) sendJSON(msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode device message")
		return
	}
	m.SendToDevice(data)
}

func (m *Manager) publishState(entityID string, value any) {
	if err := m.publisher.PublishState(entityID, value); err != nil {
		log.Warn().Err(err).Str("entity", entityID).Msg("Bus publish failed")
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
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

func nonEmptyJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

var _ bus.Gateway = (*Manager)(nil)
