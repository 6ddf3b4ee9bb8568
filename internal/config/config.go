package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Wallbox  WallboxConfig  `mapstructure:"wallbox"`
	Controls ControlsConfig `mapstructure:"controls"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	API      APIConfig      `mapstructure:"api"`
	Datadog  DatadogConfig  `mapstructure:"datadog"`
}

// WallboxConfig contains the vendor account and car matching settings
type WallboxConfig struct {
	Email        string      `mapstructure:"email"`
	Password     string      `mapstructure:"password"`
	LocationName string      `mapstructure:"location_name"` // restrict to one charger group
	Cars         []CarConfig `mapstructure:"cars"`
}

// CarConfig maps a charger to the battery capacity of the car that uses it
type CarConfig struct {
	ChargerName string  `mapstructure:"charger_name"`
	KWH         float64 `mapstructure:"kwh"`
}

// ControlsConfig selects which accessory projections are exposed
type ControlsConfig struct {
	// ShowControls: 0 none, 1 switch, 3 thermostat, 4 all, 5 outlet,
	// 8 all with Fahrenheit scaling off (normalized to 4 at load)
	ShowControls     int  `mapstructure:"show_controls"`
	UseFahrenheit    bool `mapstructure:"use_fahrenheit"`
	SOCSensor        bool `mapstructure:"soc_sensor"`
	ShowAPIMessages  bool `mapstructure:"show_api_messages"`
	ShowUserMessages bool `mapstructure:"show_user_messages"`
}

// PollingConfig contains refresh cadence and discovery retry settings
type PollingConfig struct {
	RefreshIntervalHours   int `mapstructure:"refresh_interval_hours"`
	LiveRefreshTimeoutMins int `mapstructure:"live_refresh_timeout_minutes"`
	LiveRefreshRateSecs    int `mapstructure:"live_refresh_rate_seconds"`
	RetryWaitSecs          int `mapstructure:"retry_wait_seconds"`
	RetryMax               int `mapstructure:"retry_max"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"` // Optional: log file path
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// APIConfig contains the local HTTP control surface settings
type APIConfig struct {
	Port int        `mapstructure:"port"`
	Auth AuthConfig `mapstructure:"auth"`
}

// AuthConfig contains Basic Auth settings for the API server
type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DatadogConfig contains Datadog APM settings
type DatadogConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	AgentHost   string `mapstructure:"agent_host"`
	AgentPort   int    `mapstructure:"agent_port"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.wallbox-bridge")
		v.AddConfigPath("/etc/wallbox-bridge")
	}

	// Set defaults
	v.SetDefault("controls.show_controls", 4)
	v.SetDefault("controls.use_fahrenheit", true)
	v.SetDefault("polling.refresh_interval_hours", 24)
	v.SetDefault("polling.live_refresh_timeout_minutes", 2)
	v.SetDefault("polling.live_refresh_rate_seconds", 20)
	v.SetDefault("polling.retry_wait_seconds", 60)
	v.SetDefault("polling.retry_max", 3)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("mqtt.enabled", true)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "wallbox-bridge")
	v.SetDefault("mqtt.topic_prefix", "wallbox")
	v.SetDefault("api.port", 8080)
	v.SetDefault("datadog.enabled", false)
	v.SetDefault("datadog.agent_host", "localhost")
	v.SetDefault("datadog.agent_port", 8126)
	v.SetDefault("datadog.service_name", "wallbox-bridge")
	v.SetDefault("datadog.environment", "production")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintf(os.Stderr, "Warning: Config file not found, using defaults\n")
		} else {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.normalize()

	return &cfg, nil
}

// normalize applies the legacy show_controls=8 mapping: all controls with
// Fahrenheit scaling off.
func (c *Config) normalize() {
	if c.Controls.ShowControls == 8 {
		c.Controls.ShowControls = 4
		c.Controls.UseFahrenheit = false
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Wallbox.Email == "" || c.Wallbox.Password == "" {
		return fmt.Errorf("wallbox.email and wallbox.password are required")
	}

	switch c.Controls.ShowControls {
	case 0, 1, 3, 4, 5:
	default:
		return fmt.Errorf("controls.show_controls must be one of 0, 1, 3, 4, 5, 8")
	}

	if c.Polling.RefreshIntervalHours < 1 {
		return fmt.Errorf("polling.refresh_interval_hours must be at least 1")
	}

	if c.Polling.LiveRefreshRateSecs < 1 {
		return fmt.Errorf("polling.live_refresh_rate_seconds must be at least 1")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}

	for _, car := range c.Wallbox.Cars {
		if car.ChargerName == "" {
			return fmt.Errorf("every car entry needs a charger_name")
		}
		if car.KWH <= 0 {
			return fmt.Errorf("car %q: kwh must be positive", car.ChargerName)
		}
	}

	return nil
}

// ShowSwitch reports whether the start/pause switch projection is exposed.
func (c *ControlsConfig) ShowSwitch() bool {
	return c.ShowControls == 1 || c.ShowControls == 4
}

// ShowThermostat reports whether the amperage thermostat projection is exposed.
func (c *ControlsConfig) ShowThermostat() bool {
	return c.ShowControls == 3 || c.ShowControls == 4
}

// ShowOutlet reports whether the start/pause outlet projection is exposed.
func (c *ControlsConfig) ShowOutlet() bool {
	return c.ShowControls == 5 || c.ShowControls == 4
}

// BatteryCapacity returns the configured car battery size for a charger
// name. The second return is false when the charger has no car entry.
func (w *WallboxConfig) BatteryCapacity(chargerName string) (float64, bool) {
	for _, car := range w.Cars {
		if car.ChargerName == chargerName {
			return car.KWH, true
		}
	}
	return 0, false
}
