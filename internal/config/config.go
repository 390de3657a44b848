// Package config loads the typed platform configuration. The configuration
// is read once at startup and passed by reference; services never reload it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Matrix holds the compensation-plan constants.
type Matrix struct {
	// SlotCosts is the ascending cost ladder; index 0 is slot 1.
	SlotCosts []float64 `yaml:"slot_costs"`
	// JoiningPercent of the join amount goes to the referrer.
	JoiningPercent float64 `yaml:"joining_percent"`
	// UpgradePercent of the upgrade amount goes to the immediate upline.
	UpgradePercent float64 `yaml:"upgrade_percent"`
	// MentorshipPercent of qualifying amounts goes to the super-upline.
	MentorshipPercent float64 `yaml:"mentorship_percent"`
	Currency          string  `yaml:"currency"`
}

// MaxSlot returns the highest defined slot number.
func (m Matrix) MaxSlot() int { return len(m.SlotCosts) }

// SlotCost returns the cost of the given slot, or an error when the slot is
// outside the ladder.
func (m Matrix) SlotCost(slot int) (float64, error) {
	if slot < 1 || slot > len(m.SlotCosts) {
		return 0, fmt.Errorf("slot %d outside cost ladder (1..%d)", slot, len(m.SlotCosts))
	}
	return m.SlotCosts[slot-1], nil
}

// Ledger configures the external credit collaborator.
type Ledger struct {
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"api_key"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// HTTP configures the request surface.
type HTTP struct {
	Addr              string   `yaml:"addr"`
	AuthTokens        []string `yaml:"auth_tokens"`
	JWTSecret         string   `yaml:"jwt_secret"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	RequestsPerSecond int      `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	AuditFile         string   `yaml:"audit_file"`
}

// Database configures persistence. An empty DSN selects the in-memory store.
type Database struct {
	DSN string `yaml:"dsn"`
}

// Config is the root configuration document.
type Config struct {
	Matrix   Matrix   `yaml:"matrix"`
	Ledger   Ledger   `yaml:"ledger"`
	HTTP     HTTP     `yaml:"http"`
	Database Database `yaml:"database"`
}

// Default returns the built-in compensation plan.
func Default() *Config {
	return &Config{
		Matrix: Matrix{
			SlotCosts:         []float64{11, 33, 99, 297, 891},
			JoiningPercent:    10,
			UpgradePercent:    10,
			MentorshipPercent: 5,
			Currency:          "USD",
		},
		Ledger: Ledger{
			RetryInterval: 30 * time.Second,
		},
		HTTP: HTTP{
			Addr:              ":8080",
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// Load reads config/matrix.yaml relative to the working directory.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "matrix.yaml"))
}

// LoadFromPath reads and validates the configuration at path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault falls back to the built-in plan when no file is present.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks the plan constants for internal consistency.
func (c *Config) Validate() error {
	if len(c.Matrix.SlotCosts) == 0 {
		return fmt.Errorf("matrix: slot_costs must not be empty")
	}
	prev := 0.0
	for i, cost := range c.Matrix.SlotCosts {
		if cost <= prev {
			return fmt.Errorf("matrix: slot_costs must be strictly ascending (slot %d)", i+1)
		}
		prev = cost
	}
	for name, pct := range map[string]float64{
		"joining_percent":    c.Matrix.JoiningPercent,
		"upgrade_percent":    c.Matrix.UpgradePercent,
		"mentorship_percent": c.Matrix.MentorshipPercent,
	} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("matrix: %s must be within 0..100", name)
		}
	}
	if c.Matrix.Currency == "" {
		return fmt.Errorf("matrix: currency is required")
	}
	return nil
}
