package plugin

import (
	"time"

	"github.com/loykin/opshooks/internal/watcher"
	"github.com/loykin/opshooks/pkg/fabric"
	"github.com/loykin/opshooks/pkg/local"
	"github.com/loykin/opshooks/pkg/mattermost"
	"github.com/loykin/opshooks/pkg/task"
)

// Built-in unit types.
const (
	TypeFabric       = "fabric"
	TypeFabricSensor = "fabric_sensor"
	TypeMattermost   = "mattermost"
	TypeBash         = "bash"
	TypeBashSensor   = "bash_sensor"
)

type fabricParams struct {
	ConnID     string `mapstructure:"conn_id"`
	RemoteHost string `mapstructure:"remote_host"`
	Command    string `mapstructure:"command"`

	UseSudo  bool   `mapstructure:"use_sudo"`
	SudoUser string `mapstructure:"sudo_user"`

	Watchers                    []watcher.Spec `mapstructure:"watchers"`
	AddSudoPasswordResponder    bool           `mapstructure:"add_sudo_password_responder"`
	AddGenericPasswordResponder bool           `mapstructure:"add_generic_password_responder"`
	AddUnknownHostKeyResponder  bool           `mapstructure:"add_unknown_host_key_responder"`

	ConnectTimeout time.Duration     `mapstructure:"connect_timeout"`
	Environment    map[string]string `mapstructure:"environment"`
	InlineEnv      bool              `mapstructure:"inline_ssh_env"`
	ResultKey      string            `mapstructure:"result_key"`
	StripStdout    bool              `mapstructure:"strip_stdout"`
	GetPty         bool              `mapstructure:"get_pty"`
}

func fabricOperator(params map[string]any, env Env) (*fabric.Operator, error) {
	var p fabricParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return &fabric.Operator{
		ConnID:                      p.ConnID,
		Resolver:                    env.Resolver,
		RemoteHost:                  p.RemoteHost,
		Command:                     p.Command,
		ScriptDir:                   env.ScriptDir,
		UseSudo:                     p.UseSudo,
		SudoUser:                    p.SudoUser,
		Watchers:                    p.Watchers,
		AddSudoPasswordResponder:    p.AddSudoPasswordResponder,
		AddGenericPasswordResponder: p.AddGenericPasswordResponder,
		AddUnknownHostKeyResponder:  p.AddUnknownHostKeyResponder,
		ConnectTimeout:              p.ConnectTimeout,
		Environment:                 p.Environment,
		InlineEnv:                   p.InlineEnv,
		ResultKey:                   p.ResultKey,
		StripStdout:                 p.StripStdout,
		GetPty:                      p.GetPty,
		SessionFactory:              env.SessionFactory,
	}, nil
}

func buildFabric(params map[string]any, env Env) (Unit, error) {
	op, err := fabricOperator(params, env)
	if err != nil {
		return Unit{}, err
	}
	return Unit{Operator: op}, nil
}

func buildFabricSensor(params map[string]any, env Env) (Unit, error) {
	op, err := fabricOperator(params, env)
	if err != nil {
		return Unit{}, err
	}
	return Unit{Sensor: &fabric.Sensor{Operator: *op}}, nil
}

type mattermostParams struct {
	ConnID       string           `mapstructure:"conn_id"`
	WebhookToken string           `mapstructure:"webhook_token"`
	Message      string           `mapstructure:"message"`
	Channel      string           `mapstructure:"channel"`
	Username     string           `mapstructure:"username"`
	IconEmoji    string           `mapstructure:"icon_emoji"`
	IconURL      string           `mapstructure:"icon_url"`
	Attachments  []map[string]any `mapstructure:"attachments"`
	Props        map[string]any   `mapstructure:"props"`
	PostType     string           `mapstructure:"post_type"`
	Proxy        string           `mapstructure:"proxy"`

	Extra mattermost.ExtraOptions `mapstructure:",squash"`
}

func buildMattermost(params map[string]any, env Env) (Unit, error) {
	var p mattermostParams
	if err := decode(params, &p); err != nil {
		return Unit{}, err
	}
	return Unit{Operator: &mattermost.Operator{
		ConnID:       p.ConnID,
		Resolver:     env.Resolver,
		WebhookToken: p.WebhookToken,
		Message: mattermost.Message{
			Text:        p.Message,
			Channel:     p.Channel,
			Username:    p.Username,
			IconEmoji:   p.IconEmoji,
			IconURL:     p.IconURL,
			Attachments: p.Attachments,
			Props:       p.Props,
			PostType:    p.PostType,
		},
		Proxy:        p.Proxy,
		ExtraOptions: p.Extra,
	}}, nil
}

type bashParams struct {
	Command   string            `mapstructure:"command"`
	Env       map[string]string `mapstructure:"env"`
	WorkDir   string            `mapstructure:"work_dir"`
	ResultKey string            `mapstructure:"result_key"`
}

func buildBash(params map[string]any, _ Env) (Unit, error) {
	var p bashParams
	if err := decode(params, &p); err != nil {
		return Unit{}, err
	}
	return Unit{Operator: &local.BashOperator{Command: p.Command, Env: p.Env, WorkDir: p.WorkDir, ResultKey: p.ResultKey}}, nil
}

func buildBashSensor(params map[string]any, _ Env) (Unit, error) {
	var p bashParams
	if err := decode(params, &p); err != nil {
		return Unit{}, err
	}
	if p.ResultKey != "" {
		return Unit{}, task.Configf("bash_sensor does not publish results; remove result_key")
	}
	return Unit{Sensor: &local.BashSensor{Command: p.Command, Env: p.Env, WorkDir: p.WorkDir}}, nil
}
