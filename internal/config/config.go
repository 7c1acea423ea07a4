package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Panels    PanelsConfig    `yaml:"panels"`
	Payment   PaymentConfig   `yaml:"payment"`
	Plans     []PlanConfig    `yaml:"plans"`
	Trial     TrialConfig     `yaml:"trial"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Token         string `yaml:"token"`
	AdminID       int64  `yaml:"admin_id"`
	AdminUsername string `yaml:"admin_username"`
}

// PanelsConfig holds credentials for the supported panel variants.
// A variant with an empty URL is treated as not configured.
type PanelsConfig struct {
	XUI     XUIPanelConfig     `yaml:"xui"`
	Marzban MarzbanPanelConfig `yaml:"marzban"`
}

// XUIPanelConfig holds 3x-ui panel configuration
type XUIPanelConfig struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	ServerHost string `yaml:"server_host"`
	SubPort    int    `yaml:"sub_port"`
	// RestartPath is the endpoint used to reload Xray after adding a
	// device-limited client. Resolved once at startup, not probed per call.
	RestartPath string `yaml:"restart_path"`
}

// MarzbanPanelConfig holds Marzban panel configuration
type MarzbanPanelConfig struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ServerHost  string `yaml:"server_host"`
	InboundName string `yaml:"inbound_name"`
}

// PaymentConfig holds manual payment display information
type PaymentConfig struct {
	ReceiverName  string `yaml:"receiver_name"`
	KPayNumber    string `yaml:"kpay_number"`
	AYAPayNumber  string `yaml:"aya_pay_number"`
	WavePayNumber string `yaml:"wave_pay_number"`
}

// PlanConfig describes one catalog entry. When the plans list is empty
// the built-in catalog is used.
type PlanConfig struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Protocol    string `yaml:"protocol"`
	Price       string `yaml:"price"`
	DeviceLimit int    `yaml:"device_limit"`
	KeyCount    int    `yaml:"key_count"`
	Days        int    `yaml:"days"`
	TrafficGB   int    `yaml:"traffic_gb"`
	InboundID   int    `yaml:"inbound_id"`
}

// TrialConfig holds free trial settings
type TrialConfig struct {
	Enabled       bool `yaml:"enabled"`
	InboundID     int  `yaml:"inbound_id"`
	DurationHours int  `yaml:"duration_hours"`
	TrafficGB     int  `yaml:"traffic_gb"`
	DeviceLimit   int  `yaml:"device_limit"`
}

// StorageConfig selects the state backend
type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory" or "sqlite"
	Path   string `yaml:"path"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`
	WindowSeconds        int `yaml:"window_seconds"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from the given YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}

	if c.Telegram.AdminID == 0 {
		return fmt.Errorf("telegram.admin_id is required")
	}

	if c.Panels.XUI.URL == "" && c.Panels.Marzban.URL == "" {
		return fmt.Errorf("at least one panel must be configured")
	}

	if c.Panels.XUI.URL != "" {
		if c.Panels.XUI.Username == "" || c.Panels.XUI.Password == "" {
			return fmt.Errorf("panels.xui.username and panels.xui.password are required")
		}
	}

	if c.Panels.Marzban.URL != "" {
		if c.Panels.Marzban.Username == "" || c.Panels.Marzban.Password == "" {
			return fmt.Errorf("panels.marzban.username and panels.marzban.password are required")
		}
	}

	for i, p := range c.Plans {
		if p.Key == "" {
			return fmt.Errorf("plans[%d].key is required", i)
		}
		if p.Protocol != "vless" && p.Protocol != "outline" {
			return fmt.Errorf("plans[%d].protocol must be vless or outline", i)
		}
		if p.DeviceLimit < 0 {
			return fmt.Errorf("plans[%d].device_limit must not be negative", i)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Panels.XUI.SubPort == 0 {
		c.Panels.XUI.SubPort = 2053
	}
	if c.Panels.XUI.RestartPath == "" {
		c.Panels.XUI.RestartPath = "/panel/setting/restartXrayService"
	}
	if c.Panels.Marzban.InboundName == "" {
		c.Panels.Marzban.InboundName = "Shadowsocks TCP"
	}
	if c.Trial.DurationHours == 0 {
		c.Trial.DurationHours = 24
	}
	if c.Trial.TrafficGB == 0 {
		c.Trial.TrafficGB = 1
	}
	if c.Trial.DeviceLimit == 0 {
		c.Trial.DeviceLimit = 1
	}
	if c.Trial.InboundID == 0 {
		c.Trial.InboundID = 1
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "vpn-shop.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
