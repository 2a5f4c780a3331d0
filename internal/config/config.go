// ABOUTME: Configuration loading for codevault
// ABOUTME: TOML with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/relayforge/codevault/internal/cooldown"
	"github.com/relayforge/codevault/internal/panel"
)

type Config struct {
	Matrix    MatrixConfig    `toml:"matrix"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Panel     PanelConfig     `toml:"panel"`
	Cooldowns CooldownsConfig `toml:"cooldowns"`
	Logging   LoggingConfig   `toml:"logging"`
}

type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
}

type LedgerConfig struct {
	// APIURL is the contents-API base. Defaults to the public GitHub API;
	// point it elsewhere for GitHub Enterprise or tests.
	APIURL string `toml:"api_url"`
	Token  string `toml:"token"`
	// Repo is "owner/name".
	Repo string `toml:"repo"`
	Path string `toml:"path"`
}

type PanelConfig struct {
	RoomID string `toml:"room_id"`
	// Mode is "indefinite" (default) or "timeboxed".
	Mode string `toml:"mode"`
	// Lifetime applies in timeboxed mode, e.g. "24h".
	Lifetime string `toml:"lifetime"`

	ParsedLifetime time.Duration `toml:"-"`
}

type CooldownsConfig struct {
	Issue  string `toml:"issue"`
	Reveal string `toml:"reveal"`
	Reset  string `toml:"reset"`

	Parsed cooldown.Config `toml:"-"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads config from the given path, expanding ${VAR} environment
// references before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Ledger.APIURL == "" {
		c.Ledger.APIURL = "https://api.github.com"
	}
	if c.Panel.Mode == "" {
		c.Panel.Mode = string(panel.ModeIndefinite)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
// Absent cooldowns fall back to the stock durations.
func (c *Config) parseDurations() error {
	c.Cooldowns.Parsed = cooldown.DefaultConfig()

	var err error
	if c.Cooldowns.Issue != "" {
		if c.Cooldowns.Parsed.Issue, err = time.ParseDuration(c.Cooldowns.Issue); err != nil {
			return fmt.Errorf("parsing cooldowns.issue %q: %w", c.Cooldowns.Issue, err)
		}
	}
	if c.Cooldowns.Reveal != "" {
		if c.Cooldowns.Parsed.Reveal, err = time.ParseDuration(c.Cooldowns.Reveal); err != nil {
			return fmt.Errorf("parsing cooldowns.reveal %q: %w", c.Cooldowns.Reveal, err)
		}
	}
	if c.Cooldowns.Reset != "" {
		if c.Cooldowns.Parsed.Reset, err = time.ParseDuration(c.Cooldowns.Reset); err != nil {
			return fmt.Errorf("parsing cooldowns.reset %q: %w", c.Cooldowns.Reset, err)
		}
	}
	if c.Panel.Lifetime != "" {
		if c.Panel.ParsedLifetime, err = time.ParseDuration(c.Panel.Lifetime); err != nil {
			return fmt.Errorf("parsing panel.lifetime %q: %w", c.Panel.Lifetime, err)
		}
	}
	return nil
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}

	if c.Ledger.Token == "" {
		return fmt.Errorf("ledger.token is required")
	}
	if c.Ledger.Repo == "" || !strings.Contains(c.Ledger.Repo, "/") {
		return fmt.Errorf("ledger.repo must be \"owner/name\"")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}

	if c.Panel.RoomID == "" {
		return fmt.Errorf("panel.room_id is required")
	}
	switch panel.Mode(c.Panel.Mode) {
	case panel.ModeIndefinite:
	case panel.ModeTimeBoxed:
		if c.Panel.ParsedLifetime <= 0 {
			return fmt.Errorf("panel.lifetime is required in timeboxed mode")
		}
	default:
		return fmt.Errorf("panel.mode must be %q or %q", panel.ModeIndefinite, panel.ModeTimeBoxed)
	}

	return nil
}
