package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all gateway settings. Values absent from the file fall back
// to defaults; MQTT credentials can additionally come from the environment.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Vision  VisionConfig  `yaml:"vision"`
	Speech  SpeechConfig  `yaml:"speech"`
	Hass    HassConfig    `yaml:"homeassistant"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

type DeviceConfig struct {
	WebSocketPort int    `yaml:"websocket_port"`
	HandshakePort int    `yaml:"handshake_port"`
	AdvertiseHost string `yaml:"advertise_host"`
	FirmwarePath  string `yaml:"firmware_path"`
	VisionToken   string `yaml:"vision_token"`
}

type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type BridgeConfig struct {
	BrokerURL string `yaml:"broker_url"`
}

type VisionConfig struct {
	CustomPrompt        string  `yaml:"custom_prompt"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

type SpeechConfig struct {
	APIKey   string `yaml:"api_key"`
	FolderID string `yaml:"folder_id"`
}

type HassConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type StorageConfig struct {
	DBPath      string `yaml:"db_path"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the config file at path. A missing file is not an error:
// the default configuration is returned so the gateway can start with
// environment-only settings.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MQTT_HOST"); v != "" {
		c.MQTT.Host = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.MQTT.Port = p
		}
	}
	if v := os.Getenv("MQTT_USER"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("HASS_URL"); v != "" {
		c.Hass.BaseURL = v
	}
	if v := os.Getenv("HASS_TOKEN"); v != "" {
		c.Hass.Token = v
	}
}

func (c *Config) applyDefaults() {
	if c.Device.WebSocketPort == 0 {
		c.Device.WebSocketPort = 8000
	}
	if c.Device.HandshakePort == 0 {
		c.Device.HandshakePort = 8001
	}
	if c.Device.FirmwarePath == "" {
		c.Device.FirmwarePath = "/data/firmware.bin"
	}
	if c.Device.VisionToken == "" {
		c.Device.VisionToken = "sensecap-local"
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = "core-mosquitto"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.Vision.ConfidenceThreshold == 0 {
		c.Vision.ConfidenceThreshold = 0.7
	}
	if c.Storage.SnapshotDir == "" {
		c.Storage.SnapshotDir = "/share/watcher/snapshots"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// String renders the config with secrets masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config(ws_port=%d, handshake_port=%d, mqtt=%s:%d user=%s, hass=%s, broker=%q, snapshots=%s)",
		c.Device.WebSocketPort, c.Device.HandshakePort,
		c.MQTT.Host, c.MQTT.Port, mask(c.MQTT.Username),
		c.Hass.BaseURL, c.Bridge.BrokerURL, c.Storage.SnapshotDir,
	)
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 3 {
		return "***"
	}
	return v[:3] + "***"
}
