package mattermost

import (
	"context"

	"github.com/loykin/opshooks/internal/connection"
	"github.com/loykin/opshooks/pkg/task"
)

// Operator posts Message through a Hook. The token, proxy and every string
// field of the message, including those nested in attachments and props,
// are templated.
type Operator struct {
	ConnID       string
	Resolver     connection.Resolver
	WebhookToken string
	Message      Message
	Proxy        string
	ExtraOptions ExtraOptions
}

var _ task.Operator = (*Operator)(nil)

func (o *Operator) Execute(ctx context.Context, tc *task.Context) (any, error) {
	opts, err := o.render(tc)
	if err != nil {
		return nil, err
	}
	h, err := NewHook(o.Resolver, opts)
	if err != nil {
		return nil, err
	}
	if err := h.Execute(ctx); err != nil {
		return nil, task.WrapCommand(err)
	}
	return true, nil
}

func (o *Operator) render(tc *task.Context) (HookOptions, error) {
	r := &renderer{tc: tc}
	m := o.Message
	opts := HookOptions{
		ConnID:       r.str("conn_id", o.ConnID),
		WebhookToken: r.str("webhook_token", o.WebhookToken),
		Proxy:        r.str("proxy", o.Proxy),
		Extra:        o.ExtraOptions,
	}
	m.Text = r.str("message", m.Text)
	m.Channel = r.str("channel", m.Channel)
	m.Username = r.str("username", m.Username)
	m.IconEmoji = r.str("icon_emoji", m.IconEmoji)
	m.IconURL = r.str("icon_url", m.IconURL)
	m.PostType = r.str("post_type", m.PostType)
	if m.Props != nil {
		if v, ok := r.any("props", m.Props).(map[string]any); ok {
			m.Props = v
		}
	}
	if m.Attachments != nil {
		atts := make([]map[string]any, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			if v, ok := r.any("attachments", a).(map[string]any); ok {
				atts = append(atts, v)
			}
		}
		m.Attachments = atts
	}
	opts.Message = m
	return opts, r.err
}

// renderer keeps the first rendering error.
type renderer struct {
	tc  *task.Context
	err error
}

func (r *renderer) str(field, s string) string {
	if r.err != nil {
		return s
	}
	out, err := r.tc.Render(s)
	if err != nil {
		r.err = &task.ConfigurationError{Msg: "render " + field, Err: err}
		return s
	}
	return out
}

func (r *renderer) any(field string, v any) any {
	if r.err != nil {
		return v
	}
	out, err := r.tc.RenderAny(v)
	if err != nil {
		r.err = &task.ConfigurationError{Msg: "render " + field, Err: err}
		return v
	}
	return out
}
