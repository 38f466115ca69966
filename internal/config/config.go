package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models stakeproof.yml.
type Config struct {
	Economy struct {
		MinStake             int64 `yaml:"min_stake"`
		StartingBalance      int64 `yaml:"starting_balance"`
		VotePenalty          int64 `yaml:"vote_penalty"`
		VoteReward           int64 `yaml:"vote_reward"`
		PayoutMultiplier     int64 `yaml:"payout_multiplier"`
		CompletionReputation int   `yaml:"completion_reputation"`
	} `yaml:"economy"`
	Verification struct {
		AIWeight          float64       `yaml:"ai_weight"`
		CommunityWeight   float64       `yaml:"community_weight"`
		ApproveThreshold  float64       `yaml:"approve_threshold"`
		MinVotes          int           `yaml:"min_votes"`
		AssessmentTimeout time.Duration `yaml:"assessment_timeout"`
		SweepInterval     time.Duration `yaml:"sweep_interval"`
		Workers           int           `yaml:"workers"`
	} `yaml:"verification"`
	Suggestions struct {
		PerMinute   int           `yaml:"per_minute"`
		PerHour     int           `yaml:"per_hour"`
		CacheTTL    time.Duration `yaml:"cache_ttl"`
		RerollQuota int           `yaml:"reroll_quota"`
		RedisURL    string        `yaml:"redis_url"`
	} `yaml:"suggestions"`
	Gemini struct {
		Model     string `yaml:"model"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"gemini"`
	Storage struct {
		Driver    string `yaml:"driver"`
		Workspace string `yaml:"workspace"`
	} `yaml:"storage"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook is an outbound event subscription.
type Webhook struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Enabled bool     `yaml:"enabled"`
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	e := c.Economy
	if e.MinStake <= 0 {
		return fmt.Errorf("config.economy.min_stake must be positive")
	}
	if e.StartingBalance < 0 {
		return fmt.Errorf("config.economy.starting_balance must not be negative")
	}
	if e.VotePenalty < 0 || e.VoteReward < 0 {
		return fmt.Errorf("config.economy vote_penalty and vote_reward must not be negative")
	}
	if e.PayoutMultiplier < 1 {
		return fmt.Errorf("config.economy.payout_multiplier must be at least 1")
	}
	v := c.Verification
	if v.AIWeight < 0 || v.CommunityWeight < 0 {
		return fmt.Errorf("config.verification weights must not be negative")
	}
	if v.AIWeight+v.CommunityWeight != 100 {
		return fmt.Errorf("config.verification ai_weight + community_weight must equal 100")
	}
	if v.ApproveThreshold <= 0 || v.ApproveThreshold > 100 {
		return fmt.Errorf("config.verification.approve_threshold must be in (0,100]")
	}
	if v.MinVotes < 1 {
		return fmt.Errorf("config.verification.min_votes must be at least 1")
	}
	if v.AssessmentTimeout <= 0 {
		return fmt.Errorf("config.verification.assessment_timeout must be positive")
	}
	if v.SweepInterval < 0 {
		return fmt.Errorf("config.verification.sweep_interval must not be negative")
	}
	if v.Workers < 1 {
		return fmt.Errorf("config.verification.workers must be at least 1")
	}
	s := c.Suggestions
	if s.PerMinute < 1 || s.PerHour < s.PerMinute {
		return fmt.Errorf("config.suggestions limits invalid: per_minute=%d per_hour=%d", s.PerMinute, s.PerHour)
	}
	if s.CacheTTL < 0 {
		return fmt.Errorf("config.suggestions.cache_ttl must not be negative")
	}
	if s.RerollQuota < 0 {
		return fmt.Errorf("config.suggestions.reroll_quota must not be negative")
	}
	if strings.TrimSpace(c.Gemini.Model) == "" {
		return fmt.Errorf("config.gemini.model is required")
	}
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	default:
		return fmt.Errorf("config.storage.driver must be %q or %q", DriverMemory, DriverSQLite)
	}
	for i, h := range c.Webhooks {
		if strings.TrimSpace(h.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stakeproof.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sp config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `economy:
  min_stake: 100
  starting_balance: 1000
  vote_penalty: 50
  vote_reward: 20
  payout_multiplier: 2
  completion_reputation: 50

verification:
  ai_weight: 60
  community_weight: 40
  approve_threshold: 50
  min_votes: 5
  assessment_timeout: 30s
  sweep_interval: 0s
  workers: 4

suggestions:
  per_minute: 15
  per_hour: 60
  cache_ttl: 5m
  reroll_quota: 3
  redis_url: ""

gemini:
  model: gemini-2.0-flash
  api_key_env: GEMINI_API_KEY

storage:
  driver: memory
  workspace: .

webhooks: []
`
