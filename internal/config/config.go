// Package config loads lab configuration from defaults, an optional YAML
// file, a .env file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/honest-lab/internal/belief"
	"github.com/danielpatrickdp/honest-lab/internal/biology"
	"github.com/danielpatrickdp/honest-lab/internal/eval"
	"github.com/danielpatrickdp/honest-lab/internal/gate"
	"github.com/danielpatrickdp/honest-lab/internal/lab"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/orchestrator"
)

// #region config

// Config is every tunable the lab and its campaigns read.
type Config struct {
	Seed       int64  `yaml:"seed" env:"LAB_SEED"`
	Workers    int    `yaml:"workers" env:"LAB_WORKERS"`
	DataDir    string `yaml:"data_dir" env:"LAB_DATA_DIR"` // event logs are written under DataDir/<campaign>
	DBPath     string `yaml:"db_path" env:"LAB_DB_PATH"`
	ListenAddr string `yaml:"listen_addr" env:"LAB_LISTEN_ADDR"`

	Logging LoggingConfig `yaml:"logging"`

	Params   biology.Params      `yaml:"params" env:"-"`
	Biology  biology.Config      `yaml:"biology" env:"-"`
	Noise    noise.Config        `yaml:"noise" env:"-"`
	Gates    gate.Config         `yaml:"gates" env:"-"`
	Belief   belief.Config       `yaml:"belief" env:"-"`
	Eval     eval.EvalConfig     `yaml:"eval" env:"-"`
	Campaign orchestrator.Config `yaml:"campaign"`
}

// LoggingConfig configures the operational logger.
type LoggingConfig struct {
	// Level is "info" (default), "debug" or "trace".
	Level string `yaml:"level" env:"LAB_LOG_LEVEL"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Seed:       0,
		Workers:    4,
		DataDir:    "labdata",
		DBPath:     "labdata/lab.db",
		ListenAddr: "127.0.0.1:50061",
		Logging:    LoggingConfig{Level: "info"},
		Params:     biology.DefaultParams(),
		Biology:    biology.DefaultConfig(),
		Noise:      noise.DefaultConfig(),
		Gates:      gate.DefaultConfig(),
		Belief:     belief.DefaultConfig(),
		Eval:       eval.DefaultEvalConfig(),
		Campaign:   orchestrator.DefaultConfig(),
	}
}

// Lab returns the runner settings.
func (c *Config) Lab() lab.Config {
	return lab.Config{Seed: c.Seed, Workers: c.Workers}
}

// #endregion

// #region load

// Load builds a config: defaults, then path if non-empty, then envFile if it
// exists, then the process environment.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML file over the defaults. Keys absent from the file keep their default.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Write renders the config as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

// #endregion

// #region validate

// Validate checks that the configuration is usable. Bad compound tables fail
// here rather than in the middle of a campaign.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	validLevels := map[string]bool{"": true, "info": true, "debug": true, "trace": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	for name, comp := range c.Params.Compounds {
		if comp.Name == "" {
			comp.Name = name
		}
		if err := biology.ValidateIC50(comp); err != nil {
			return err
		}
	}
	if len(c.Params.CellLines) == 0 {
		return errors.New("params: at least one cell line is required")
	}

	var share float64
	for _, sp := range c.Biology.Subpopulations {
		if sp.Share < 0 || sp.IC50Multiplier <= 0 {
			return fmt.Errorf("subpopulation %s: share %v and ic50 multiplier %v must be positive", sp.Name, sp.Share, sp.IC50Multiplier)
		}
		share += sp.Share
	}
	if math.Abs(share-1) > 1e-9 {
		return fmt.Errorf("subpopulation shares sum to %v, want 1", share)
	}
	if c.Biology.CommitmentMinHours <= 0 || c.Biology.CommitmentMinHours >= c.Biology.CommitmentMaxHours {
		return fmt.Errorf("commitment bounds [%v, %v] are not an interval", c.Biology.CommitmentMinHours, c.Biology.CommitmentMaxHours)
	}
	if c.Biology.SubstepHours <= 0 {
		return fmt.Errorf("substep_hours must be positive, got %v", c.Biology.SubstepHours)
	}

	if c.Noise.Policy != observation.PolicyStrict && c.Noise.Policy != observation.PolicyLenient {
		return fmt.Errorf("invalid noise policy: %q", c.Noise.Policy)
	}
	for _, v := range []float64{c.Gates.NoiseCeiling, c.Gates.EvidenceCeiling, c.Belief.ConfidenceThreshold, c.Belief.SandbagThreshold, c.Campaign.ClaimConfidence} {
		if v < 0 || v > 1 {
			return fmt.Errorf("confidence settings must lie in [0, 1], got %v", v)
		}
	}

	camp := c.Campaign
	if camp.Budget < 0 || camp.MaxCycles < 1 {
		return fmt.Errorf("campaign: budget %d and max_cycles %d", camp.Budget, camp.MaxCycles)
	}
	if _, ok := c.Params.CellLines[camp.CellLine]; !ok {
		return fmt.Errorf("campaign: unknown cell line %q", camp.CellLine)
	}
	if v, ok := c.Params.Compounds[camp.Vehicle]; !ok || !v.Vehicle {
		return fmt.Errorf("campaign: %q is not a vehicle compound", camp.Vehicle)
	}
	if len(camp.Compounds) == 0 {
		return errors.New("campaign: no compounds to probe")
	}
	for _, name := range camp.Compounds {
		comp, ok := c.Params.Compounds[name]
		if !ok {
			return fmt.Errorf("campaign: unknown compound %q", name)
		}
		if comp.Vehicle {
			return fmt.Errorf("campaign: %q is a vehicle and cannot be probed", name)
		}
	}
	return nil
}

// #endregion
