package store

import (
	"fmt"
	"regexp"

	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/internal/retry"
	"github.com/loykin/opshooks/internal/util"
)

const (
	DriverSqlite     = "sqlite"
	DriverPostgresql = "postgresql"
)

type Config struct {
	Driver       string `mapstructure:"driver"`
	TableNames   TableNames
	DriverConfig DriverConfig
	// Retry applies to writes; nil means retry.DefaultPolicy.
	Retry *retry.Policy
}

type DriverConfig interface {
	ToMap() map[string]interface{}
}

// TableNames names the two store tables.
type TableNames struct {
	Results string `mapstructure:"results"`
	Runs    string `mapstructure:"runs"`
}

// TableNamesWithPrefix derives table names from prefix, keeping explicit names.
func TableNamesWithPrefix(prefix string, names TableNames) TableNames {
	out := TableNames{
		Results: util.TrimWithDefault(names.Results, constants.DefaultTaskResultsTable),
		Runs:    util.TrimWithDefault(names.Runs, constants.DefaultTaskRunsTable),
	}
	if p, ok := util.TrimEmptyCheck(prefix); ok {
		if names.Results == "" {
			out.Results = p + constants.TaskResultsSuffix
		}
		if names.Runs == "" {
			out.Runs = p + constants.TaskRunsSuffix
		}
	}
	return out
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func (t TableNames) validate() error {
	for _, name := range []string{t.Results, t.Runs} {
		if !identRe.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}
