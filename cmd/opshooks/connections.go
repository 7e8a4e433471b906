package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type connectionView struct {
	ID       string         `yaml:"id"`
	Type     string         `yaml:"type"`
	Host     string         `yaml:"host,omitempty"`
	Port     int            `yaml:"port,omitempty"`
	User     string         `yaml:"user,omitempty"`
	Password string         `yaml:"password,omitempty"`
	KeyFile  string         `yaml:"key_file,omitempty"`
	Timeout  time.Duration  `yaml:"timeout,omitempty"`
	Extra    map[string]any `yaml:"extra,omitempty"`
}

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List configured connections with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(viper.GetViper().GetString("config"))
		if err != nil {
			return err
		}
		reg, err := doc.ConnectionRegistry()
		if err != nil {
			return err
		}
		views := make([]connectionView, 0, len(reg.IDs()))
		for _, id := range reg.IDs() {
			s, err := reg.Resolve(id)
			if err != nil {
				return err
			}
			m := s.Masked()
			views = append(views, connectionView{
				ID: m.ID, Type: m.Type, Host: m.Host, Port: m.Port, User: m.User,
				Password: m.Password, KeyFile: m.KeyFile, Timeout: m.Timeout, Extra: m.Extra,
			})
		}
		b, err := yaml.Marshal(views)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), string(b))
		return err
	},
}
