package orm

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/strata/dialect"
)

// Config describes a database connection and the default behavior of
// the sessions of an engine.
//
//	dialect: postgres
//	dsn: postgres://localhost/app?sslmode=disable
//	expire_on_commit: true
//	slow_query_threshold: 200ms
type Config struct {
	Dialect      string `yaml:"dialect"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns,omitempty"`
	// Autoflush and ExpireOnCommit default to true.
	Autoflush       *bool `yaml:"autoflush,omitempty"`
	ExpireOnCommit  *bool `yaml:"expire_on_commit,omitempty"`
	WeakIdentityMap bool  `yaml:"weak_identity_map,omitempty"`
	TwoPhase        bool  `yaml:"two_phase,omitempty"`
	// Echo logs every statement.
	Echo               bool     `yaml:"echo,omitempty"`
	SlowQueryThreshold Duration `yaml:"slow_query_threshold,omitempty"`
	MSSQL              struct {
		WindowFunctions bool `yaml:"window_functions,omitempty"`
	} `yaml:"mssql,omitempty"`
}

// Duration is a time.Duration written as a string such as "150ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("orm: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orm: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("orm: parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Dialect {
	case dialect.SQLite, dialect.Postgres, dialect.MySQL, dialect.MSSQL:
	case "":
		return fmt.Errorf("orm: config: dialect is required")
	default:
		return fmt.Errorf("orm: config: unsupported dialect %q", c.Dialect)
	}
	if c.DSN == "" {
		return fmt.Errorf("orm: config: dsn is required")
	}
	if c.TwoPhase && !dialect.CapabilitiesOf(c.Dialect).TwoPhase {
		return fmt.Errorf("orm: config: dialect %s does not support two-phase commit", c.Dialect)
	}
	return nil
}

// sessionOptions returns the session defaults of the configuration.
func (c *Config) sessionOptions() []SessionOption {
	var opts []SessionOption
	if c.Autoflush != nil {
		opts = append(opts, WithAutoflush(*c.Autoflush))
	}
	if c.ExpireOnCommit != nil {
		opts = append(opts, WithExpireOnCommit(*c.ExpireOnCommit))
	}
	if c.WeakIdentityMap {
		opts = append(opts, WithWeakIdentityMap())
	}
	if c.TwoPhase {
		opts = append(opts, WithTwoPhase())
	}
	return opts
}
