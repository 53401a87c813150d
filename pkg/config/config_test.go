package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Device.WebSocketPort != 8000 || cfg.Device.HandshakePort != 8001 {
		t.Errorf("unexpected default ports: %d/%d", cfg.Device.WebSocketPort, cfg.Device.HandshakePort)
	}
	if cfg.MQTT.Host != "core-mosquitto" || cfg.MQTT.Port != 1883 {
		t.Errorf("unexpected default broker: %s:%d", cfg.MQTT.Host, cfg.MQTT.Port)
	}
	if cfg.Device.VisionToken != "sensecap-local" {
		t.Errorf("unexpected vision token: %q", cfg.Device.VisionToken)
	}
	if cfg.Vision.ConfidenceThreshold != 0.7 {
		t.Errorf("unexpected confidence threshold: %v", cfg.Vision.ConfidenceThreshold)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
device:
  websocket_port: 9000
mqtt:
  host: broker.local
vision:
  confidence_threshold: 0.9
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.Device.WebSocketPort != 9000 {
		t.Errorf("file value not applied: %d", cfg.Device.WebSocketPort)
	}
	if cfg.MQTT.Host != "broker.local" {
		t.Errorf("file value not applied: %q", cfg.MQTT.Host)
	}
	if cfg.Vision.ConfidenceThreshold != 0.9 {
		t.Errorf("file value not applied: %v", cfg.Vision.ConfidenceThreshold)
	}
	// Unset fields still default.
	if cfg.Device.HandshakePort != 8001 {
		t.Errorf("defaults not applied alongside file: %d", cfg.Device.HandshakePort)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("MQTT_HOST", "env-broker")
	t.Setenv("MQTT_PORT", "2883")
	t.Setenv("HASS_TOKEN", "secret-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.MQTT.Host != "env-broker" || cfg.MQTT.Port != 2883 {
		t.Errorf("env not applied: %s:%d", cfg.MQTT.Host, cfg.MQTT.Port)
	}
	if cfg.Hass.Token != "secret-token" {
		t.Errorf("env token not applied: %q", cfg.Hass.Token)
	}
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Username = "mqttadmin"

	s := cfg.String()
	if want := "mqt***"; !strings.Contains(s, want) {
		t.Errorf("expected masked username %q in %q", want, s)
	}
	if strings.Contains(s, "mqttadmin") {
		t.Errorf("unmasked username leaked in %q", s)
	}
}
