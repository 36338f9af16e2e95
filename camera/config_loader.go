package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// VacuumConfig describes one vacuum and how its frames are drawn
type VacuumConfig struct {
	ID          string            `yaml:"id" json:"id"`
	Topic       string            `yaml:"topic" json:"topic"`
	Format      Format            `yaml:"format" json:"format"`
	NativeUnits bool              `yaml:"nativeUnits,omitempty" json:"nativeUnits,omitempty"`
	Colors      map[string]string `yaml:"colors,omitempty" json:"colors,omitempty"`
	Rotation    int               `yaml:"rotation,omitempty" json:"rotation,omitempty"`
	Trim        bool              `yaml:"trim,omitempty" json:"trim,omitempty"`
	ApiURL      string            `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty"`
}

// HTTPConfig holds the HTTP server settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// LogConfig selects the log level and encoding
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config represents the full configuration file
type Config struct {
	MQTT        MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Vacuums     []VacuumConfig `yaml:"vacuums" json:"vacuums"`
	Workers     int            `yaml:"workers,omitempty" json:"workers,omitempty"`
	HTTP        HTTPConfig     `yaml:"http" json:"http"`
	Log         LogConfig      `yaml:"log" json:"log"`
	SnapshotDir string         `yaml:"snapshotDir,omitempty" json:"snapshotDir,omitempty"`
}

const (
	defaultHTTPPort      = 8080
	defaultPublishPrefix = "tudocam"
	defaultClientID      = "tudocam"
	defaultSnapshotDir   = "snapshots"
)

// LoadConfig loads the configuration from a YAML file. A .env file next to
// the working directory is loaded first; environment variables then
// override the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies env overrides and defaults, and validates
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	config.applyEnv()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.MQTT.Broker, "MQTT_BROKER")
	override(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	override(&c.MQTT.Username, "MQTT_USERNAME")
	override(&c.MQTT.Password, "MQTT_PASSWORD")
	override(&c.MQTT.PublishPrefix, "MQTT_PUBLISH_PREFIX")
	override(&c.Log.Level, "TUDOCAM_LOG_LEVEL")
}

func (c *Config) applyDefaults() {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = defaultClientID
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = defaultPublishPrefix
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = defaultHTTPPort
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = defaultSnapshotDir
	}
	if c.Workers < 1 {
		c.Workers = max(len(c.Vacuums), 1)
	}
	for i := range c.Vacuums {
		c.Vacuums[i].Topic = strings.TrimSuffix(c.Vacuums[i].Topic, "/")
		if c.Vacuums[i].Format == "" {
			c.Vacuums[i].Format = FormatHypfer
		}
	}
}

// Validate checks the required fields
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if len(c.Vacuums) == 0 {
		return fmt.Errorf("at least one vacuum must be defined")
	}

	seen := make(map[string]bool, len(c.Vacuums))
	for i, vc := range c.Vacuums {
		if vc.ID == "" {
			return fmt.Errorf("vacuum[%d].id is required", i)
		}
		if seen[vc.ID] {
			return fmt.Errorf("vacuum[%d].id %q is defined twice", i, vc.ID)
		}
		seen[vc.ID] = true
		if vc.Topic == "" {
			return fmt.Errorf("vacuum[%d].topic is required for %s", i, vc.ID)
		}
		if vc.Format != FormatHypfer && vc.Format != FormatRand256 {
			return fmt.Errorf("vacuum[%d].format %q must be hypfer or rand256", i, vc.Format)
		}
		switch vc.Rotation {
		case 0, 90, 180, 270:
		default:
			return fmt.Errorf("vacuum[%d].rotation %d must be 0, 90, 180 or 270", i, vc.Rotation)
		}
		if _, err := DefaultPalette().WithOverrides(vc.Colors); err != nil {
			return fmt.Errorf("vacuum[%d].colors: %w", i, err)
		}
	}
	return nil
}

// GetVacuumByID returns the vacuum config for the given ID
func (c *Config) GetVacuumByID(id string) *VacuumConfig {
	for i := range c.Vacuums {
		if c.Vacuums[i].ID == id {
			return &c.Vacuums[i]
		}
	}
	return nil
}

// RenderOptions builds the renderer settings of the vacuum
func (vc *VacuumConfig) RenderOptions() (RenderOptions, error) {
	palette, err := DefaultPalette().WithOverrides(vc.Colors)
	if err != nil {
		return RenderOptions{}, err
	}
	opts := DefaultRenderOptions()
	opts.Palette = palette
	opts.Rotation = vc.Rotation
	opts.Trim = vc.Trim
	return opts, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
