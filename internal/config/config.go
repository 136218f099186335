package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	Hardware        HardwareConfig    `yaml:"hardware"`
	RFID            RFIDConfig        `yaml:"rfid"`
	Buttons         ButtonsConfig     `yaml:"buttons"`
	Fixtures        []FixtureConfig   `yaml:"fixtures"`
	Ambient         AmbientConfig     `yaml:"ambient"`
	Tags            []TagConfig       `yaml:"tags"`
	Loop            LoopConfig        `yaml:"loop"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"` // Emit JSON lines instead of console output
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HardwareConfig contains output back-end settings
type HardwareConfig struct {
	DryRun     bool `yaml:"dry_run"`    // Log outputs instead of touching GPIO/SPI
	Brightness int  `yaml:"brightness"` // Global strip brightness 0-255 (default: 255)
	// AllowUnsupported enables the digital fixture kind
	AllowUnsupported bool `yaml:"allow_unsupported"`
}

// RFIDConfig contains tag reader settings
type RFIDConfig struct {
	Enabled  *bool   `yaml:"enabled"`   // Defaults to true
	Port     string  `yaml:"port"`      // SPI port name, e.g. /dev/spidev0.1
	ResetPin string  `yaml:"reset_pin"` // Hardware reset line (default: GPIO25)
	Key      string  `yaml:"key"`       // Sector key A as 12 hex digits
	PollRate float64 `yaml:"poll_rate"` // Detect attempts per second (default: 10)

	DataBlock  int `yaml:"data_block"`  // First data block (default: 4)
	BlockCount int `yaml:"block_count"` // Data blocks used per sector (default: 3)
	MaxSlots   int `yaml:"max_slots"`   // Fixture slots on a tag (default: 15)
}

// IsEnabled returns whether a tag reader is installed (default: true)
func (c *RFIDConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ButtonsConfig maps control buttons to input pins and sets their timing
type ButtonsConfig struct {
	Admin string `yaml:"admin"`
	Mode  string `yaml:"mode"`
	Color string `yaml:"color"`
	Tag   string `yaml:"tag"`

	PollInterval Duration `yaml:"poll_interval"`
	Debounce     Duration `yaml:"debounce"`
	Click        Duration `yaml:"click"`
	DoubleClick  Duration `yaml:"double_click"`
	LongPress    Duration `yaml:"long_press"`
}

// Pins returns the configured pin per button name, skipping unset ones
func (c *ButtonsConfig) Pins() map[string]string {
	pins := make(map[string]string)
	for name, pin := range map[string]string{"admin": c.Admin, "mode": c.Mode, "color": c.Color, "tag": c.Tag} {
		if pin != "" {
			pins[name] = pin
		}
	}
	return pins
}

// Fixture kinds
const (
	KindStrip   = "strip"
	KindPWM     = "pwm"
	KindDigital = "digital"
	KindFairy   = "fairy"
)

// FixtureConfig declares one fixture. Order defines tag slots.
type FixtureConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// strip
	Strips []StripConfig `yaml:"strips"`

	// pwm, digital, fairy
	Pin string `yaml:"pin"`

	// pwm
	Frequency int `yaml:"frequency"` // PWM frequency in Hz (default: 1000)

	// digital
	ActiveLow bool `yaml:"active_low"`

	// fairy
	Patterns int `yaml:"patterns"` // Controller pattern count (default: 9)
	Off      int `yaml:"off"`      // Dark pattern id (default: 0)
	On       int `yaml:"on"`       // Steady-on pattern id (default: 8)
}

// StripConfig is one physical strip. Leds 0 mirrors the first strip.
type StripConfig struct {
	Port string `yaml:"port"`
	Leds int    `yaml:"leds"`
}

// AmbientConfig tunes the ambient shimmer pattern of strips
type AmbientConfig struct {
	Floor       int   `yaml:"floor"`        // Lowest brightness (default: 40)
	PeriodShift int   `yaml:"period_shift"` // Wave period is 2^shift ms (default: 12)
	Sparkles    int   `yaml:"sparkles"`     // Sparkling pixels per frame (default: 2)
	Seed        int64 `yaml:"seed"`
}

// TagConfig is a known tag
type TagConfig struct {
	UID  string `yaml:"uid"`
	Name string `yaml:"name"`
}

// LoopConfig contains scheduling loop settings
type LoopConfig struct {
	TickInterval Duration `yaml:"tick_interval"` // Pass interval (default: 2ms)
}

// LedgerConfig contains tag ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"` // Defaults to true
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IsEnabled returns whether the ledger records tag operations (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 64)
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 64
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./flickerd.sqlite"
	}

	// Hardware defaults
	if cfg.Hardware.Brightness == 0 {
		cfg.Hardware.Brightness = 255
	}

	// Tag reader defaults
	if cfg.RFID.Port == "" {
		cfg.RFID.Port = "/dev/spidev0.1"
	}
	if cfg.RFID.ResetPin == "" {
		cfg.RFID.ResetPin = "GPIO25"
	}
	if cfg.RFID.Key == "" {
		cfg.RFID.Key = "FFFFFFFFFFFF"
	}
	if cfg.RFID.PollRate == 0 {
		cfg.RFID.PollRate = 10
	}
	if cfg.RFID.DataBlock == 0 {
		cfg.RFID.DataBlock = 4
	}
	if cfg.RFID.BlockCount == 0 {
		cfg.RFID.BlockCount = 3
	}
	if cfg.RFID.MaxSlots == 0 {
		cfg.RFID.MaxSlots = 15
	}

	// Button timing defaults
	if cfg.Buttons.PollInterval == 0 {
		cfg.Buttons.PollInterval = Duration(5 * time.Millisecond)
	}
	if cfg.Buttons.Debounce == 0 {
		cfg.Buttons.Debounce = Duration(20 * time.Millisecond)
	}
	if cfg.Buttons.Click == 0 {
		cfg.Buttons.Click = Duration(200 * time.Millisecond)
	}
	if cfg.Buttons.DoubleClick == 0 {
		cfg.Buttons.DoubleClick = Duration(400 * time.Millisecond)
	}
	if cfg.Buttons.LongPress == 0 {
		cfg.Buttons.LongPress = Duration(1000 * time.Millisecond)
	}

	// Fixture defaults
	for i := range cfg.Fixtures {
		f := &cfg.Fixtures[i]
		switch f.Kind {
		case KindPWM:
			if f.Frequency == 0 {
				f.Frequency = 1000
			}
		case KindFairy:
			if f.Patterns == 0 {
				f.Patterns = 9
				if f.On == 0 {
					f.On = 8
				}
			}
		}
	}

	// Ambient defaults
	if cfg.Ambient.Floor == 0 {
		cfg.Ambient.Floor = 40
	}
	if cfg.Ambient.PeriodShift == 0 {
		cfg.Ambient.PeriodShift = 12
	}
	if cfg.Ambient.Sparkles == 0 {
		cfg.Ambient.Sparkles = 2
	}
	if cfg.Ambient.Seed == 0 {
		cfg.Ambient.Seed = 1
	}

	// Loop defaults
	if cfg.Loop.TickInterval == 0 {
		cfg.Loop.TickInterval = Duration(2 * time.Millisecond)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 90
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks fixture declarations. Pin names are resolved later by
// the hardware layer.
func (cfg *Config) Validate() error {
	if len(cfg.Fixtures) == 0 {
		return errors.New("config: no fixtures declared")
	}
	if cfg.Hardware.Brightness < 0 || cfg.Hardware.Brightness > 255 {
		return fmt.Errorf("config: brightness %d out of range 0..255", cfg.Hardware.Brightness)
	}

	names := make(map[string]bool)
	for i, f := range cfg.Fixtures {
		if f.Name == "" {
			return fmt.Errorf("config: fixture %d has no name", i)
		}
		if names[f.Name] {
			return fmt.Errorf("config: duplicate fixture %q", f.Name)
		}
		names[f.Name] = true

		switch f.Kind {
		case KindStrip:
			if len(f.Strips) == 0 {
				return fmt.Errorf("config: strip fixture %q has no strips", f.Name)
			}
			if f.Strips[0].Leds <= 0 {
				return fmt.Errorf("config: first strip of %q needs a led count", f.Name)
			}
			for _, s := range f.Strips {
				if s.Port == "" {
					return fmt.Errorf("config: strip of %q has no port", f.Name)
				}
			}
		case KindPWM, KindDigital:
			if f.Pin == "" {
				return fmt.Errorf("config: %s fixture %q has no pin", f.Kind, f.Name)
			}
		case KindFairy:
			if f.Pin == "" {
				return fmt.Errorf("config: fairy fixture %q has no pin", f.Name)
			}
			if f.Patterns < 1 || f.Patterns > 127 {
				return fmt.Errorf("config: fairy fixture %q pattern count %d out of range", f.Name, f.Patterns)
			}
		default:
			return fmt.Errorf("config: fixture %q has unknown kind %q", f.Name, f.Kind)
		}
	}

	if len(cfg.Fixtures) > cfg.RFID.MaxSlots {
		return fmt.Errorf("config: %d fixtures exceed %d tag slots", len(cfg.Fixtures), cfg.RFID.MaxSlots)
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
