package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/zhmcctl/internal/hmc"
)

// defaultConfig is used when no configuration file is given. Connection
// settings come from the environment.
const defaultConfig = `
hmc:
  host: ${ZHMC_HOST}
  auth:
    userid: ${ZHMC_USERID}
    password: ${ZHMC_PASSWORD}
    session_id: ${ZHMC_SESSION_ID}
    ca_certs: ${ZHMC_CA_CERTS}
ledger:
  path: ${ZHMC_LEDGER}
`

// Config represents the application configuration
type Config struct {
	HMC    HMCConfig    `yaml:"hmc"`
	Log    LogConfig    `yaml:"log"`
	Ledger LedgerConfig `yaml:"ledger"`
}

// HMCConfig contains HMC connection settings
type HMCConfig struct {
	Host    string     `yaml:"host"`
	Port    int        `yaml:"port"`
	Auth    AuthConfig `yaml:"auth"`
	Timeout Duration   `yaml:"timeout"` // HTTP timeout for HMC requests

	RateLimitRPS float64 `yaml:"rate_limit_rps"`

	// Waiting for a partition to leave the starting/stopping status
	StatusTimeout      Duration `yaml:"status_timeout"`
	StatusPollInterval Duration `yaml:"status_poll_interval"`
}

// AuthConfig contains HMC credentials and TLS settings. Either userid and
// password or session_id must be set.
type AuthConfig struct {
	Userid    string `yaml:"userid"`
	Password  string `yaml:"password"`
	SessionID string `yaml:"session_id"`
	CACerts   string `yaml:"ca_certs"` // PEM file or directory, empty = system pool
	Verify    *bool  `yaml:"verify"`   // default: true
}

// VerifyEnabled reports whether the HMC certificate is verified.
func (a *AuthConfig) VerifyEnabled() bool {
	return a.Verify == nil || *a.Verify
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
	File   string `yaml:"file"` // JSON log file instead of stderr
}

// LedgerConfig contains invocation ledger settings
type LedgerConfig struct {
	Path          string `yaml:"path"` // empty disables the ledger
	RetentionDays int    `yaml:"retention_days"`
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

// Load reads and parses the configuration file. An empty path loads the
// built-in configuration that reads the ZHMC_* environment variables.
func Load(path string) (*Config, error) {
	data := []byte(defaultConfig)
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	expanded, err := expandYAML(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// HMC defaults
	if cfg.HMC.Port == 0 {
		cfg.HMC.Port = hmc.DefaultPort
	}
	if cfg.HMC.Timeout == 0 {
		cfg.HMC.Timeout = Duration(30 * time.Second)
	}
	if cfg.HMC.RateLimitRPS == 0 {
		cfg.HMC.RateLimitRPS = 10.0 // 10 requests per second
	}
	if cfg.HMC.StatusTimeout == 0 {
		cfg.HMC.StatusTimeout = Duration(60 * time.Second)
	}
	if cfg.HMC.StatusPollInterval == 0 {
		cfg.HMC.StatusPollInterval = Duration(2 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	return &cfg, nil
}

// Validate checks the settings needed to connect to the HMC. It is called
// after command line overrides have been applied.
func (c *Config) Validate() error {
	if c.HMC.Host == "" {
		return fmt.Errorf("hmc.host is required")
	}
	if c.HMC.Port < 0 || c.HMC.Port > 65535 {
		return fmt.Errorf("hmc.port %d is out of range", c.HMC.Port)
	}

	auth := c.HMC.Auth
	hasCreds := auth.Userid != "" || auth.Password != ""
	switch {
	case hasCreds && auth.SessionID != "":
		return fmt.Errorf("hmc.auth: userid/password and session_id are mutually exclusive")
	case !hasCreds && auth.SessionID == "":
		return fmt.Errorf("hmc.auth: userid and password or session_id is required")
	case hasCreds && (auth.Userid == "" || auth.Password == ""):
		return fmt.Errorf("hmc.auth: both userid and password are required")
	}

	if c.HMC.RateLimitRPS < 0 {
		return fmt.Errorf("hmc.rate_limit_rps must not be negative")
	}
	if c.Ledger.RetentionDays < 0 {
		return fmt.Errorf("ledger.retention_days must not be negative")
	}
	return nil
}

// HMCOptions returns the client options for the HMC section.
func (c *Config) HMCOptions() hmc.Options {
	return hmc.Options{
		Host:               c.HMC.Host,
		Port:               c.HMC.Port,
		Userid:             c.HMC.Auth.Userid,
		Password:           c.HMC.Auth.Password,
		SessionID:          c.HMC.Auth.SessionID,
		CACerts:            c.HMC.Auth.CACerts,
		Verify:             c.HMC.Auth.VerifyEnabled(),
		Timeout:            c.HMC.Timeout.Duration(),
		RateLimitRPS:       c.HMC.RateLimitRPS,
		StatusTimeout:      c.HMC.StatusTimeout.Duration(),
		StatusPollInterval: c.HMC.StatusPollInterval.Duration(),
	}
}

// expandYAML expands environment variables inside the scalars of a YAML
// document. Substituted values are never parsed as YAML, so they may contain
// comment markers, colons or anchor characters.
func expandYAML(data []byte) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 {
		return data, nil
	}
	expandNode(&root)
	return yaml.Marshal(&root)
}

func expandNode(n *yaml.Node) {
	if n.Kind != yaml.ScalarNode {
		for _, child := range n.Content {
			expandNode(child)
		}
		return
	}

	expanded := expandEnvVars(n.Value)
	if expanded == n.Value {
		return
	}
	n.Value = expanded

	quoted := yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle | yaml.LiteralStyle | yaml.FoldedStyle
	if n.Style&quoted == 0 {
		// Plain scalars resolve again, so ${PORT:6794} stays a number
		n.Tag = ""
		if n.ShortTag() == "!!null" {
			n.Tag = "!!str"
		}
	}
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
