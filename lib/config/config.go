// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Strategy selects how a release is confirmed.
type Strategy string

const (
	// StrategyLocal prompts the operator at the local terminal.
	StrategyLocal Strategy = "local"
	// StrategyRemote runs a challenge round against the paired device.
	StrategyRemote Strategy = "remote"
	// StrategyOff skips confirmation entirely.
	StrategyOff Strategy = "off"
)

// Config is the complete keyward configuration. It is constructed
// once at startup by Load and never mutated afterwards; gates receive
// values from it, not a handle to it.
type Config struct {
	// Paths configures state file locations.
	Paths PathsConfig `yaml:"paths"`

	// Gates configures the authorization chain.
	Gates GatesConfig `yaml:"gates"`

	// Confirmation configures the confirmation step.
	Confirmation ConfirmationConfig `yaml:"confirmation"`

	// Challenge configures remote approval rounds.
	Challenge ChallengeConfig `yaml:"challenge"`

	expiration time.Duration
	lockout    time.Duration
	ttl        time.Duration
}

// PathsConfig configures where keyward keeps its state. Every file
// is owner-only; the directory is created on first use.
type PathsConfig struct {
	// State is the base directory for all state files. Individual
	// paths default to well-known names under it.
	State string `yaml:"state"`

	// Vault is the sealed credential file.
	Vault string `yaml:"vault"`

	// PublicKey and PrivateKey are the host keypair files.
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`

	// RateLimit is the attempt window state file.
	RateLimit string `yaml:"rate_limit"`

	// Audit is the append-only decision log.
	Audit string `yaml:"audit"`

	// Pairing is the device pairing record.
	Pairing string `yaml:"pairing"`
}

// GatesConfig configures the authorization gates.
type GatesConfig struct {
	// AllowedPaths are working-directory prefixes admitted by the
	// path gate. Raw string prefixes, no canonicalization.
	AllowedPaths []string `yaml:"allowed_paths"`

	// AllowedProcesses are parent executable names admitted by the
	// process identity gate.
	AllowedProcesses []string `yaml:"allowed_processes"`

	// SessionVariables are the environment variables checked by the
	// session attestation gate; at least one must be present.
	SessionVariables []string `yaml:"session_variables"`

	// ExpirationWindow is how long a stored credential stays
	// revealable, as a Go duration string.
	ExpirationWindow string `yaml:"expiration_window"`

	// MaxAttemptsPerHour is the rate limiter ceiling.
	MaxAttemptsPerHour int `yaml:"max_attempts_per_hour"`

	// LockoutDuration is how long the limiter locks out after the
	// ceiling is hit, as a Go duration string.
	LockoutDuration string `yaml:"lockout_duration"`
}

// ConfirmationConfig configures the confirmation step.
type ConfirmationConfig struct {
	// Strategy is local, remote, or off.
	Strategy Strategy `yaml:"strategy"`
}

// ChallengeConfig configures remote approval rounds.
type ChallengeConfig struct {
	// TTL bounds each round, as a Go duration string.
	TTL string `yaml:"ttl"`

	// GatewayURL is the push gateway base URL notifications are
	// POSTed to. Required when the strategy is remote.
	GatewayURL string `yaml:"gateway_url"`

	// ListenAddress overrides the callback listen address derived
	// from the pairing record. Empty in normal operation.
	ListenAddress string `yaml:"listen_address"`
}

// Default returns the default configuration. The defaults describe a
// single-user workstation: state under the XDG state directory, sudo
// as the only admitted parent, local confirmation.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			State: defaultStateDir(),
		},
		Gates: GatesConfig{
			AllowedPaths:       []string{userHomeDir()},
			AllowedProcesses:   []string{"sudo", "sudoedit"},
			SessionVariables:   []string{"TERM", "SSH_AUTH_SOCK", "SSH_TTY"},
			ExpirationWindow:   "8h",
			MaxAttemptsPerHour: 10,
			LockoutDuration:    "1h",
		},
		Confirmation: ConfirmationConfig{
			Strategy: StrategyLocal,
		},
		Challenge: ChallengeConfig{
			TTL: "30s",
		},
	}
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/"
	}
	return home
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "keyward")
	}
	return filepath.Join(userHomeDir(), ".local", "state", "keyward")
}

// DefaultFilePath returns the config file path consulted when none
// is given explicitly: $KEYWARD_CONFIG, then the XDG config location.
func DefaultFilePath() string {
	if path := os.Getenv("KEYWARD_CONFIG"); path != "" {
		return path
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(userHomeDir(), ".config")
	}
	return filepath.Join(base, "keyward", "config.yaml")
}

// Load builds the effective configuration: defaults, then the file at
// path (if it exists), then KEYWARD_* environment overrides. A
// missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnvironment()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges one configuration file into the current config.
// JSON and JSONC files are translated before parsing; everything
// else is read as YAML.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironment applies KEYWARD_* overrides on top of the file.
// Only scalar knobs are overridable; list-valued policy stays in the
// file where it can be reviewed.
func (c *Config) applyEnvironment() {
	if value := os.Getenv("KEYWARD_STATE_DIR"); value != "" {
		c.Paths.State = value
	}
	if value := os.Getenv("KEYWARD_STRATEGY"); value != "" {
		c.Confirmation.Strategy = Strategy(value)
	}
	if value := os.Getenv("KEYWARD_GATEWAY_URL"); value != "" {
		c.Challenge.GatewayURL = value
	}
	if value := os.Getenv("KEYWARD_EXPIRATION_WINDOW"); value != "" {
		c.Gates.ExpirationWindow = value
	}
	if value := os.Getenv("KEYWARD_MAX_ATTEMPTS_PER_HOUR"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			c.Gates.MaxAttemptsPerHour = parsed
		}
	}
	if value := os.Getenv("KEYWARD_CHALLENGE_TTL"); value != "" {
		c.Challenge.TTL = value
	}
}

// finalize fills derived paths, parses durations, and validates.
func (c *Config) finalize() error {
	state := c.Paths.State
	if state == "" {
		return fmt.Errorf("config: paths.state must not be empty")
	}
	fill := func(target *string, name string) {
		if *target == "" {
			*target = filepath.Join(state, name)
		}
	}
	fill(&c.Paths.Vault, "credential.age")
	fill(&c.Paths.PublicKey, "host.pub")
	fill(&c.Paths.PrivateKey, "host.key")
	fill(&c.Paths.RateLimit, "rate_limit.json")
	fill(&c.Paths.Audit, "audit.log")
	fill(&c.Paths.Pairing, "pairing.json")

	var err error
	if c.expiration, err = parseDuration("gates.expiration_window", c.Gates.ExpirationWindow); err != nil {
		return err
	}
	if c.lockout, err = parseDuration("gates.lockout_duration", c.Gates.LockoutDuration); err != nil {
		return err
	}
	if c.ttl, err = parseDuration("challenge.ttl", c.Challenge.TTL); err != nil {
		return err
	}

	if c.Gates.MaxAttemptsPerHour <= 0 {
		return fmt.Errorf("config: gates.max_attempts_per_hour must be positive, got %d", c.Gates.MaxAttemptsPerHour)
	}
	if len(c.Gates.AllowedPaths) == 0 {
		return fmt.Errorf("config: gates.allowed_paths must not be empty")
	}
	if len(c.Gates.AllowedProcesses) == 0 {
		return fmt.Errorf("config: gates.allowed_processes must not be empty")
	}

	switch c.Confirmation.Strategy {
	case StrategyLocal, StrategyOff:
	case StrategyRemote:
		if c.Challenge.GatewayURL == "" {
			return fmt.Errorf("config: challenge.gateway_url is required with the remote strategy")
		}
		if !strings.HasPrefix(c.Challenge.GatewayURL, "http://") && !strings.HasPrefix(c.Challenge.GatewayURL, "https://") {
			return fmt.Errorf("config: challenge.gateway_url must be an http(s) URL, got %q", c.Challenge.GatewayURL)
		}
	default:
		return fmt.Errorf("config: unknown confirmation strategy %q", c.Confirmation.Strategy)
	}
	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %s", field, value)
	}
	return parsed, nil
}

// ExpirationWindow returns the parsed credential expiration window.
func (c *Config) ExpirationWindow() time.Duration { return c.expiration }

// LockoutDuration returns the parsed rate limiter lockout duration.
func (c *Config) LockoutDuration() time.Duration { return c.lockout }

// ChallengeTTL returns the parsed approval round TTL.
func (c *Config) ChallengeTTL() time.Duration { return c.ttl }
