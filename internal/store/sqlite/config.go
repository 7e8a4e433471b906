package sqlite

import (
	"fmt"

	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/internal/util"
)

const busyTimeoutMS = 5000

// Config selects the database file.
type Config struct {
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`
}

func (c *Config) ToMap() map[string]interface{} {
	dsn, ok := util.TrimEmptyCheck(c.DSN)
	if !ok {
		path := util.TrimWithDefault(c.Path, constants.DefaultSQLiteFile)
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, busyTimeoutMS)
	}
	return map[string]interface{}{"dsn": dsn}
}
