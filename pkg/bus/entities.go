// Package bus integrates the gateway with the home-automation message bus
// via MQTT discovery: it registers the entity catalog, publishes state,
// fires events, and routes inbound bus commands to gateway actions.
package bus

import "fmt"

// NodeID is the topic namespace for all gateway entities.
const NodeID = "sensecap_watcher"

// deviceInfo is the shared device-identity block embedded in every
// discovery payload so the controller UI groups the entities.
var deviceInfo = map[string]any{
	"identifiers":  []string{NodeID},
	"name":         "SenseCAP Watcher",
	"manufacturer": "Seeed Studio",
	"model":        "SenseCAP Watcher",
}

// Entity is one bus-exposed entity: its discovery payload plus the default
// state published at startup. The catalog is immutable after startup.
type Entity struct {
	Component    string
	ObjectID     string
	Config       map[string]any
	InitialState string
}

// ID returns the "component/object" entity identifier.
func (e Entity) ID() string {
	return e.Component + "/" + e.ObjectID
}

// EventType is one bus event channel registered alongside the entities.
type EventType struct {
	Type   string
	Config map[string]any
}

// DiscoveryTopic returns the retained config topic for an entity.
func DiscoveryTopic(component, objectID string) string {
	return fmt.Sprintf("homeassistant/%s/%s/%s/config", component, NodeID, objectID)
}

// EventDiscoveryTopic returns the retained config topic for an event type.
func EventDiscoveryTopic(eventType string) string {
	return fmt.Sprintf("homeassistant/event/%s_%s/config", NodeID, eventType)
}

// StateTopic returns the state topic for an entity.
func StateTopic(component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/state", NodeID, component, objectID)
}

// CommandTopic returns the command topic for an entity.
func CommandTopic(component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/set", NodeID, component, objectID)
}

// EventStateTopic returns the non-retained topic events are fired on.
func EventStateTopic(eventType string) string {
	return fmt.Sprintf("%s/event/%s/state", NodeID, eventType)
}

// ImageTopic is the retained topic carrying raw snapshot bytes.
func ImageTopic() string {
	return fmt.Sprintf("%s/image/snapshot/image", NodeID)
}

// CommandSubscription is the wildcard filter covering every command topic.
func CommandSubscription() string {
	return fmt.Sprintf("%s/+/+/set", NodeID)
}

// Entities returns the full 16-entity catalog.
func Entities() []Entity {
	return []Entity{
		{
			Component: "image", ObjectID: "snapshot",
			Config: map[string]any{
				"name":        "Watcher Snapshot",
				"unique_id":   NodeID + "_snapshot",
				"image_topic": ImageTopic(),
				"device":      deviceInfo,
			},
		},
		{
			Component: "switch", ObjectID: "monitoring",
			Config: map[string]any{
				"name":          "Watcher Monitoring",
				"unique_id":     NodeID + "_monitoring",
				"state_topic":   StateTopic("switch", "monitoring"),
				"command_topic": CommandTopic("switch", "monitoring"),
				"payload_on":    "ON",
				"payload_off":   "OFF",
				"device":        deviceInfo,
			},
			InitialState: "OFF",
		},
		{
			Component: "sensor", ObjectID: "last_event",
			Config: map[string]any{
				"name":        "Watcher Last Event",
				"unique_id":   NodeID + "_last_event",
				"state_topic": StateTopic("sensor", "last_event"),
				"icon":        "mdi:message-text",
				"device":      deviceInfo,
			},
			InitialState: "",
		},
		{
			Component: "text", ObjectID: "custom_prompt",
			Config: map[string]any{
				"name":          "Watcher Custom Prompt",
				"unique_id":     NodeID + "_custom_prompt",
				"state_topic":   StateTopic("text", "custom_prompt"),
				"command_topic": CommandTopic("text", "custom_prompt"),
				"mode":          "text",
				"max":           500,
				"device":        deviceInfo,
			},
			InitialState: "",
		},
		{
			Component: "button", ObjectID: "analyze_scene",
			Config: map[string]any{
				"name":          "Watcher Analyze Scene",
				"unique_id":     NodeID + "_analyze_scene",
				"command_topic": CommandTopic("button", "analyze_scene"),
				"payload_press": "PRESS",
				"icon":          "mdi:eye",
				"device":        deviceInfo,
			},
		},
		{
			Component: "binary_sensor", ObjectID: "motion_detected",
			Config: map[string]any{
				"name":         "Watcher Motion Detected",
				"unique_id":    NodeID + "_motion_detected",
				"state_topic":  StateTopic("binary_sensor", "motion_detected"),
				"payload_on":   "ON",
				"payload_off":  "OFF",
				"device_class": "motion",
				"device":       deviceInfo,
			},
			InitialState: "OFF",
		},
		{
			Component: "number", ObjectID: "monitoring_interval",
			Config: map[string]any{
				"name":                "Watcher Monitoring Interval",
				"unique_id":           NodeID + "_monitoring_interval",
				"state_topic":         StateTopic("number", "monitoring_interval"),
				"command_topic":       CommandTopic("number", "monitoring_interval"),
				"min":                 10,
				"max":                 300,
				"step":                1,
				"unit_of_measurement": "s",
				"icon":                "mdi:timer",
				"device":              deviceInfo,
			},
			InitialState: "30",
		},
		{
			Component: "number", ObjectID: "confidence_threshold",
			Config: map[string]any{
				"name":                "Watcher Confidence Threshold",
				"unique_id":           NodeID + "_confidence_threshold",
				"state_topic":         StateTopic("number", "confidence_threshold"),
				"command_topic":       CommandTopic("number", "confidence_threshold"),
				"min":                 0,
				"max":                 100,
				"step":                1,
				"unit_of_measurement": "%",
				"icon":                "mdi:percent",
				"device":              deviceInfo,
			},
			InitialState: "50",
		},
		{
			Component: "switch", ObjectID: "voice_assistant",
			Config: map[string]any{
				"name":          "Watcher Voice Assistant",
				"unique_id":     NodeID + "_voice_assistant",
				"state_topic":   StateTopic("switch", "voice_assistant"),
				"command_topic": CommandTopic("switch", "voice_assistant"),
				"payload_on":    "ON",
				"payload_off":   "OFF",
				"icon":          "mdi:microphone",
				"device":        deviceInfo,
			},
			InitialState: "OFF",
		},
		{
			Component: "notify", ObjectID: "tts",
			Config: map[string]any{
				"name":          "Watcher TTS",
				"unique_id":     NodeID + "_tts",
				"command_topic": CommandTopic("notify", "tts"),
				"icon":          "mdi:text-to-speech",
				"device":        deviceInfo,
			},
		},
		{
			Component: "siren", ObjectID: "alarm",
			Config: map[string]any{
				"name":               "Watcher Siren",
				"unique_id":          NodeID + "_siren",
				"state_topic":        StateTopic("siren", "alarm"),
				"command_topic":      CommandTopic("siren", "alarm"),
				"payload_on":         "ON",
				"payload_off":        "OFF",
				"available_tones":    []string{"alarm", "alert", "chime"},
				"support_duration":   true,
				"support_volume_set": true,
				"device":             deviceInfo,
			},
			InitialState: "OFF",
		},
		{
			Component: "binary_sensor", ObjectID: "noise_detected",
			Config: map[string]any{
				"name":         "Watcher Noise Detected",
				"unique_id":    NodeID + "_noise_detected",
				"state_topic":  StateTopic("binary_sensor", "noise_detected"),
				"payload_on":   "ON",
				"payload_off":  "OFF",
				"device_class": "sound",
				"device":       deviceInfo,
			},
			InitialState: "OFF",
		},
		{
			Component: "select", ObjectID: "display_mode",
			Config: map[string]any{
				"name":          "Watcher Display Mode",
				"unique_id":     NodeID + "_display_mode",
				"state_topic":   StateTopic("select", "display_mode"),
				"command_topic": CommandTopic("select", "display_mode"),
				"options":       []string{"Clock", "Weather", "Status", "AI Log", "Custom"},
				"icon":          "mdi:monitor",
				"device":        deviceInfo,
			},
			InitialState: "Clock",
		},
		{
			Component: "text", ObjectID: "display_message",
			Config: map[string]any{
				"name":          "Watcher Display Message",
				"unique_id":     NodeID + "_display_message",
				"state_topic":   StateTopic("text", "display_message"),
				"command_topic": CommandTopic("text", "display_message"),
				"mode":          "text",
				"max":           100,
				"icon":          "mdi:message-text-outline",
				"device":        deviceInfo,
			},
			InitialState: "",
		},
		{
			Component: "switch", ObjectID: "display_power",
			Config: map[string]any{
				"name":          "Watcher Display Power",
				"unique_id":     NodeID + "_display_power",
				"state_topic":   StateTopic("switch", "display_power"),
				"command_topic": CommandTopic("switch", "display_power"),
				"payload_on":    "ON",
				"payload_off":   "OFF",
				"icon":          "mdi:monitor-shimmer",
				"device":        deviceInfo,
			},
			InitialState: "ON",
		},
		{
			Component: "binary_sensor", ObjectID: "connected",
			Config: map[string]any{
				"name":         "Watcher Connected",
				"unique_id":    NodeID + "_connected",
				"state_topic":  StateTopic("binary_sensor", "connected"),
				"payload_on":   "ON",
				"payload_off":  "OFF",
				"device_class": "connectivity",
				"device":       deviceInfo,
			},
			InitialState: "OFF",
		},
	}
}

// Events returns the two event channels fired by the gateway.
func Events() []EventType {
	return []EventType{
		{
			Type: "alert",
			Config: map[string]any{
				"name":        "Watcher Alert",
				"unique_id":   NodeID + "_alert",
				"state_topic": EventStateTopic("alert"),
				"event_types": []string{"alert"},
				"device":      deviceInfo,
			},
		},
		{
			Type: "voice_command",
			Config: map[string]any{
				"name":        "Watcher Voice Command",
				"unique_id":   NodeID + "_voice_command",
				"state_topic": EventStateTopic("voice_command"),
				"event_types": []string{"voice_command"},
				"device":      deviceInfo,
			},
		},
	}
}
