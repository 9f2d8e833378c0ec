package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"choreline/internal/domain"
)

// Config models choreline.yml.
type Config struct {
	Household struct {
		ID       string `yaml:"id"`
		Timezone string `yaml:"timezone"`
	} `yaml:"household"`
	Store            StoreConfig             `yaml:"store"`
	Scanner          ScannerConfig           `yaml:"scanner"`
	Log              LogConfig               `yaml:"log"`
	SharedResetOrder domain.SharedResetOrder `yaml:"shared_reset_order"`
	Webhooks         []WebhookConfig         `yaml:"webhooks"`
	Chores           []domain.Chore          `yaml:"chores"`
}

type StoreConfig struct {
	// Driver is sqlite or redis.
	Driver      string `yaml:"driver"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type ScannerConfig struct {
	Tick       string `yaml:"tick"`
	Rollover   string `yaml:"rollover"`
	Workers    int    `yaml:"workers"`
	SkipLocked bool   `yaml:"skip_locked"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"

	DefaultTick     = "@every 5m"
	DefaultRollover = "0 0 * * *"
	DefaultWorkers  = 4
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default("home"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

func (c *Config) applyDefaults() {
	if c.Household.Timezone == "" {
		c.Household.Timezone = "Local"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.RedisPrefix == "" {
		c.Store.RedisPrefix = "choreline"
	}
	if c.Scanner.Tick == "" {
		c.Scanner.Tick = DefaultTick
	}
	if c.Scanner.Rollover == "" {
		c.Scanner.Rollover = DefaultRollover
	}
	if c.Scanner.Workers <= 0 {
		c.Scanner.Workers = DefaultWorkers
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.SharedResetOrder == "" {
		c.SharedResetOrder = domain.ResetWaitForAll
	}
	for i := range c.Chores {
		c.Chores[i].Normalize()
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Household.ID) == "" {
		return fmt.Errorf("config.household.id is required")
	}
	if _, err := time.LoadLocation(c.Household.Timezone); err != nil {
		return fmt.Errorf("config.household.timezone: %w", err)
	}
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverRedis:
		if strings.TrimSpace(c.Store.RedisAddr) == "" {
			return fmt.Errorf("config.store.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("config.store.driver must be sqlite or redis, got %q", c.Store.Driver)
	}
	if _, err := cronParser.Parse(c.Scanner.Tick); err != nil {
		return fmt.Errorf("config.scanner.tick: %w", err)
	}
	if _, err := cronParser.Parse(c.Scanner.Rollover); err != nil {
		return fmt.Errorf("config.scanner.rollover: %w", err)
	}
	if !c.SharedResetOrder.Valid() {
		return fmt.Errorf("config.shared_reset_order must be wait_for_all or per_assignee")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be positive", i)
		}
	}
	seen := map[string]bool{}
	for _, ch := range c.Chores {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chore %s: %w", ch.ID, err)
		}
		if seen[ch.ID] {
			return fmt.Errorf("chore %s is defined twice", ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}

// Location returns the household time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Household.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "choreline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(householdID string) string {
	return fmt.Sprintf(defaultTemplate, householdID)
}

// Default returns the default Config struct for a household.
func Default(householdID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(householdID))).Decode(&cfg)
	cfg.Household.ID = householdID
	cfg.applyDefaults()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
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

// Marshal renders cfg back to YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const defaultTemplate = `household:
  id: %s
  timezone: Local

store:
  driver: sqlite

scanner:
  tick: "@every 5m"
  rollover: "0 0 * * *"
  workers: 4
  skip_locked: false

log:
  level: info

shared_reset_order: wait_for_all

chores:
  - id: dishes
    name: Dishes
    assignees: [alex, sam]
    completion: independent
    rotation: simple
    recurrence:
      frequency: daily
      due_time: "20:00"
    approval_reset: at_midnight_once
    pending_claim: hold
    overdue: at_due_date
    claim_window_minutes: 240
    reward: 1

  - id: trash
    name: Take out the trash
    assignees: [alex, sam]
    completion: shared_first
    recurrence:
      frequency: weekly
      weekdays: [mon, thu]
      due_time: "07:00"
    approval_reset: at_due_date_once
    overdue: missed_lock
    reward: 2
`
