package bus

import (
	"encoding/json"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Gateway is the surface the command router drives: device-bound pushes
// and configuration changes. The session manager implements it.
type Gateway interface {
	// SendToDevice delivers a message to the device, queueing when offline.
	SendToDevice(payload []byte)

	SetMonitoringEnabled(enabled bool)
	SetCustomPrompt(prompt string)
	SetMonitoringInterval(seconds int)
	SetConfidenceThreshold(threshold float64)
}

type routeKey struct {
	component string
	objectID  string
}

type routeAction func(r *Router, payload string)

// Router maps (component, object id) pairs to gateway actions. The table
// is built once; unknown pairs are logged at debug level and dropped.
// Every successful action echoes the new state back to its own state
// topic so the bus UI stays consistent.
type Router struct {
	publisher Publisher
	gateway   Gateway
	routes    map[routeKey]routeAction
	mcpID     atomic.Int64
}

// NewRouter builds the command routing table.
func NewRouter(publisher Publisher, gateway Gateway) *Router {
	r := &Router{publisher: publisher, gateway: gateway}
	r.routes = map[routeKey]routeAction{
		{"switch", "monitoring"}:           (*Router).handleMonitoring,
		{"button", "analyze_scene"}:        (*Router).handleAnalyzeScene,
		{"text", "custom_prompt"}:          (*Router).handleCustomPrompt,
		{"number", "monitoring_interval"}:  (*Router).handleMonitoringInterval,
		{"number", "confidence_threshold"}: (*Router).handleConfidenceThreshold,
		{"switch", "voice_assistant"}:      (*Router).handleVoiceAssistant,
		{"notify", "tts"}:                  (*Router).handleTTS,
		{"siren", "alarm"}:                 (*Router).handleSiren,
		{"select", "display_mode"}:         (*Router).handleDisplayMode,
		{"text", "display_message"}:        (*Router).handleDisplayMessage,
		{"switch", "display_power"}:        (*Router).handleDisplayPower,
		{"raw", "mcp"}:                     (*Router).handleRawMCP,
	}
	return r
}

// Handle dispatches one inbound bus command.
func (r *Router) Handle(cmd Command) {
	action, ok := r.routes[routeKey{cmd.Component, cmd.ObjectID}]
	if !ok {
		log.Debug().
			Str("component", cmd.Component).
			Str("object_id", cmd.ObjectID).
			Msg("No route for bus command")
		return
	}
	action(r, cmd.Payload)
}

func (r *Router) echo(entityID, state string) {
	if err := r.publisher.PublishState(entityID, state); err != nil {
		log.Warn().Err(err).Str("entity", entityID).Msg("Failed to echo state")
	}
}

func (r *Router) push(msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode device message")
		return
	}
	r.gateway.SendToDevice(data)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func (r *Router) handleMonitoring(payload string) {
	enabled := payload == "ON" || payload == "on"
	r.gateway.SetMonitoringEnabled(enabled)
	r.echo("switch/monitoring", onOff(enabled))
}

func (r *Router) handleAnalyzeScene(string) {
	r.push(map[string]any{
		"type":    "alert",
		"status":  "Analyzing",
		"message": "Analyzing scene...",
		"emotion": "thinking",
	})
}

func (r *Router) handleCustomPrompt(payload string) {
	r.gateway.SetCustomPrompt(payload)
	r.echo("text/custom_prompt", payload)
}

func (r *Router) handleMonitoringInterval(payload string) {
	seconds, err := strconv.Atoi(payload)
	if err != nil {
		log.Warn().Str("payload", payload).Msg("Invalid monitoring interval")
		return
	}
	r.gateway.SetMonitoringInterval(seconds)
	r.echo("number/monitoring_interval", payload)
}

func (r *Router) handleConfidenceThreshold(payload string) {
	percent, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		log.Warn().Str("payload", payload).Msg("Invalid confidence threshold")
		return
	}
	// The bus carries 0-100; internally confidence is 0-1.
	r.gateway.SetConfidenceThreshold(percent / 100)
	r.echo("number/confidence_threshold", payload)
}

func (r *Router) handleVoiceAssistant(payload string) {
	r.echo("switch/voice_assistant", payload)
}

func (r *Router) handleTTS(payload string) {
	r.push(map[string]any{"type": "tts", "state": "sentence_start", "text": payload})
}

func (r *Router) handleSiren(payload string) {
	if payload == "ON" || payload == "on" {
		r.push(map[string]any{
			"type":    "alert",
			"status":  "ALARM",
			"message": "Alarm triggered!",
			"emotion": "shocked",
		})
	} else {
		r.push(map[string]any{"type": "llm", "emotion": "neutral"})
	}
	r.echo("siren/alarm", payload)
}

var displayModeEmotions = map[string]string{
	"Clock":   "neutral",
	"Weather": "cool",
	"Status":  "thinking",
	"AI Log":  "confident",
	"Custom":  "neutral",
}

func (r *Router) handleDisplayMode(payload string) {
	emotion, ok := displayModeEmotions[payload]
	if !ok {
		log.Debug().Str("mode", payload).Msg("Unknown display mode")
		return
	}
	r.push(map[string]any{"type": "llm", "emotion": emotion})
	r.echo("select/display_mode", payload)
}

func (r *Router) handleDisplayMessage(payload string) {
	r.push(map[string]any{"type": "tts", "state": "sentence_start", "text": payload})
	r.echo("text/display_message", payload)
}

func (r *Router) handleDisplayPower(payload string) {
	on := payload == "ON" || payload == "on"
	if on {
		r.push(map[string]any{"type": "llm", "emotion": "neutral"})
	}
	r.echo("switch/display_power", onOff(on))
}

// handleRawMCP forwards a tool call to the device's embedded JSON-RPC
// endpoint. The payload is either a bare tool name or
// {"name": ..., "arguments": {...}}.
func (r *Router) handleRawMCP(payload string) {
	name := payload
	arguments := map[string]any{}

	var parsed struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err == nil && parsed.Name != "" {
		name = parsed.Name
		if parsed.Arguments != nil {
			arguments = parsed.Arguments
		}
	}

	id := r.mcpID.Add(1)
	r.push(map[string]any{
		"type": "mcp",
		"payload": map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"method":  "tools/call",
			"params": map[string]any{
				"name":      name,
				"arguments": arguments,
			},
		},
	})
	log.Info().Str("tool", name).Msg("Forwarded tool call to device")
}
