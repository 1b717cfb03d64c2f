package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCapability           = "report-status"
	DefaultReportTimeoutSeconds = 30
	DefaultConcurrency          = 4
	DefaultGatewayTimeout       = 30
	DefaultDeliveryTimeout      = 15
	ChannelTelegram             = "telegram"
)

// Config models missioncontrol.yml.
type Config struct {
	Gateway  GatewayConfig   `yaml:"gateway" json:"gateway"`
	Delivery DeliveryConfig  `yaml:"delivery" json:"delivery"`
	WarRoom  WarRoomConfig   `yaml:"war_room" json:"war_room"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type GatewayConfig struct {
	URL            string        `yaml:"url" json:"url,omitempty"`
	Token          string        `yaml:"token" json:"-"`
	TimeoutSeconds int           `yaml:"timeout_seconds" json:"timeout_seconds"`
	Breaker        BreakerConfig `yaml:"breaker" json:"breaker"`
}

type BreakerConfig struct {
	MaxFailures uint32 `yaml:"max_failures" json:"max_failures"`
	OpenSeconds int    `yaml:"open_seconds" json:"open_seconds"`
}

// DeliveryConfig names where a run's final answer is posted.
type DeliveryConfig struct {
	Channel        string `yaml:"channel" json:"channel"`
	ChatID         string `yaml:"chat_id" json:"chat_id,omitempty"`
	TopicID        string `yaml:"topic_id" json:"topic_id,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

type WarRoomConfig struct {
	Capability           string   `yaml:"capability" json:"capability"`
	ReportTimeoutSeconds int      `yaml:"report_timeout_seconds" json:"report_timeout_seconds"`
	Concurrency          int      `yaml:"concurrency" json:"concurrency"`
	ApplyMoves           bool     `yaml:"apply_moves" json:"apply_moves"`
	RequiredFields       []string `yaml:"required_fields" json:"required_fields,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Overrides carries process-level settings (flags and env) that win over the file.
type Overrides struct {
	GatewayURL   string
	GatewayToken string
	ChatID       string
	TopicID      string
	ApplyMoves   *bool
}

// Apply folds non-empty overrides into c.
func (c *Config) Apply(o Overrides) {
	if o.GatewayURL != "" {
		c.Gateway.URL = o.GatewayURL
	}
	if o.GatewayToken != "" {
		c.Gateway.Token = o.GatewayToken
	}
	if o.ChatID != "" {
		c.Delivery.ChatID = o.ChatID
	}
	if o.TopicID != "" {
		c.Delivery.TopicID = o.TopicID
	}
	if o.ApplyMoves != nil {
		c.WarRoom.ApplyMoves = *o.ApplyMoves
	}
}

// Default returns the configuration used when no missioncontrol.yml exists.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	cfg.fillDefaults()
	return &cfg
}

func (c *Config) fillDefaults() {
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = DefaultGatewayTimeout
	}
	if c.Gateway.Breaker.MaxFailures == 0 {
		c.Gateway.Breaker.MaxFailures = 5
	}
	if c.Gateway.Breaker.OpenSeconds == 0 {
		c.Gateway.Breaker.OpenSeconds = 30
	}
	if c.Delivery.Channel == "" {
		c.Delivery.Channel = ChannelTelegram
	}
	if c.Delivery.TimeoutSeconds == 0 {
		c.Delivery.TimeoutSeconds = DefaultDeliveryTimeout
	}
	if c.WarRoom.Capability == "" {
		c.WarRoom.Capability = DefaultCapability
	}
	if c.WarRoom.ReportTimeoutSeconds == 0 {
		c.WarRoom.ReportTimeoutSeconds = DefaultReportTimeoutSeconds
	}
	if c.WarRoom.Concurrency == 0 {
		c.WarRoom.Concurrency = DefaultConcurrency
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Gateway.URL != "" {
		u, err := url.Parse(c.Gateway.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.gateway.url must be an absolute URL")
		}
	}
	if c.Gateway.TimeoutSeconds < 0 || c.Delivery.TimeoutSeconds < 0 || c.WarRoom.ReportTimeoutSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Gateway.Breaker.OpenSeconds < 0 {
		return fmt.Errorf("config.gateway.breaker.open_seconds must not be negative")
	}
	if c.Delivery.Channel != ChannelTelegram {
		return fmt.Errorf("config.delivery.channel %q not supported", c.Delivery.Channel)
	}
	if c.WarRoom.Concurrency < 1 {
		return fmt.Errorf("config.war_room.concurrency must be at least 1")
	}
	if strings.TrimSpace(c.WarRoom.Capability) == "" {
		return fmt.Errorf("config.war_room.capability is required")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func (c *Config) ReportTimeout() time.Duration {
	return time.Duration(c.WarRoom.ReportTimeoutSeconds) * time.Second
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.Delivery.TimeoutSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with mc config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "missioncontrol.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `gateway:
  # OpenClaw gateway; token usually comes from MISSIONCONTROL_GATEWAY_TOKEN
  url: ""
  timeout_seconds: 30
  breaker:
    max_failures: 5
    open_seconds: 30

delivery:
  channel: telegram
  chat_id: ""
  topic_id: ""
  timeout_seconds: 15

war_room:
  capability: report-status
  report_timeout_seconds: 30
  concurrency: 4
  apply_moves: false
  required_fields: [current_task, status, next_step, blockers]

webhooks: []
`
