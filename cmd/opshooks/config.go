package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/internal/connection"
	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/internal/runner"
	"github.com/loykin/opshooks/internal/store"
	"github.com/loykin/opshooks/internal/store/postgresql"
	"github.com/loykin/opshooks/internal/store/sqlite"
	"gopkg.in/yaml.v3"
)

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json, color
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable sensitive data masking
}

type StoreConfig struct {
	Disabled bool              `mapstructure:"disabled" yaml:"disabled"`
	Type     string            `mapstructure:"type" yaml:"type"`
	SQLite   sqlite.Config     `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres postgresql.Config `mapstructure:"postgres" yaml:"postgres"`
	// Optional table name customization
	TablePrefix  string `mapstructure:"table_prefix" yaml:"table_prefix"`
	TableResults string `mapstructure:"table_results" yaml:"table_results"`
	TableRuns    string `mapstructure:"table_runs" yaml:"table_runs"`
}

type ClientConfig struct {
	Insecure      bool   `mapstructure:"insecure" yaml:"insecure"`
	MinTLSVersion string `mapstructure:"min_tls_version" yaml:"min_tls_version"`
	MaxTLSVersion string `mapstructure:"max_tls_version" yaml:"max_tls_version"`
}

type WaitConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Method   string `mapstructure:"method" yaml:"method"`
	Status   int    `mapstructure:"status" yaml:"status"`
	Timeout  string `mapstructure:"timeout" yaml:"timeout"`
	Interval string `mapstructure:"interval" yaml:"interval"`
}

type ConfigDoc struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Client  ClientConfig  `mapstructure:"client"`
	// Wait is polled before any task runs.
	Wait        WaitConfig       `mapstructure:"wait"`
	Connections []map[string]any `mapstructure:"connections"`
	Vars        map[string]any   `mapstructure:"vars"`
	// ScriptDir resolves relative .sh commands; defaults to the config file directory.
	ScriptDir string        `mapstructure:"script_dir"`
	Tasks     []runner.Task `mapstructure:"tasks"`

	path string
}

// Load reads the YAML file at path. Map keys keep their case, so environment
// variable names in task params survive decoding.
func (c *ConfigDoc) Load(path string) error {
	clean := filepath.Clean(path)
	if info, statErr := os.Stat(clean); statErr != nil || !info.Mode().IsRegular() {
		if statErr != nil {
			return statErr
		}
		return fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- config path is provided intentionally by the user/CI; cleaned and validated above
	raw, err := os.ReadFile(clean)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", clean, err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			connection.SecondsDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(doc); err != nil {
		return fmt.Errorf("decode %s: %w", clean, err)
	}
	c.path = clean
	if strings.TrimSpace(c.ScriptDir) == "" {
		c.ScriptDir = filepath.Dir(clean)
	}
	return nil
}

// ToStoreConfig returns nil when the store is disabled. The sqlite file
// defaults to the config file directory.
func (c *ConfigDoc) ToStoreConfig() *store.Config {
	if c.Store.Disabled {
		return nil
	}
	names := store.TableNamesWithPrefix(c.Store.TablePrefix, store.TableNames{
		Results: c.Store.TableResults,
		Runs:    c.Store.TableRuns,
	})
	switch strings.ToLower(strings.TrimSpace(c.Store.Type)) {
	case store.DriverPostgresql, "postgres":
		pg := c.Store.Postgres
		return &store.Config{Driver: store.DriverPostgresql, TableNames: names, DriverConfig: &pg}
	default:
		sq := c.Store.SQLite
		if strings.TrimSpace(sq.Path) == "" && strings.TrimSpace(sq.DSN) == "" && c.path != "" {
			sq.Path = filepath.Join(filepath.Dir(c.path), constants.DefaultSQLiteFile)
		}
		return &store.Config{Driver: store.DriverSqlite, TableNames: names, DriverConfig: &sq}
	}
}

// ConnectionRegistry builds the connection registry from the config file and
// OPSHOOKS_CONN_<ID> environment variables. Environment entries win.
func (c *ConfigDoc) ConnectionRegistry() (*connection.Registry, error) {
	reg := connection.NewRegistry()
	if err := reg.AddMaps(c.Connections); err != nil {
		return nil, err
	}
	if _, err := reg.LoadEnv(constants.EnvPrefix); err != nil {
		return nil, err
	}
	return reg, nil
}

func (c *ConfigDoc) parseLogLevel() (common.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "error":
		return common.LogLevelError, nil
	case "warn", "warning":
		return common.LogLevelWarn, nil
	case "info", "":
		return common.LogLevelInfo, nil
	case "debug":
		return common.LogLevelDebug, nil
	default:
		return common.LogLevelInfo, fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", c.Logging.Level)
	}
}

// SetupLogging configures the global logger based on config settings
func (c *ConfigDoc) SetupLogging() error {
	level, err := c.parseLogLevel()
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "text", "json", "color":
	default:
		return fmt.Errorf("invalid logging format: %s (valid: text, json, color)", c.Logging.Format)
	}
	logger := common.NewLoggerFromFormat(format, level)

	maskingEnabled := true
	if c.Logging.MaskSensitive != nil {
		maskingEnabled = *c.Logging.MaskSensitive
	}
	common.EnableMasking(maskingEnabled)
	common.SetDefaultLogger(logger)

	logger.Debug("logging configured", "level", level.String(), "format", format, "mask_sensitive", maskingEnabled)
	return nil
}
