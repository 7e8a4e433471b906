// Package mattermost posts messages to Mattermost incoming webhooks.
package mattermost

import (
	"encoding/json"
	"strings"

	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/pkg/task"
)

// Message is the webhook payload. Text is always sent; other fields only when set.
type Message struct {
	Text        string           `json:"text" mapstructure:"text"`
	Channel     string           `json:"channel,omitempty" mapstructure:"channel"`
	Username    string           `json:"username,omitempty" mapstructure:"username"`
	IconEmoji   string           `json:"icon_emoji,omitempty" mapstructure:"icon_emoji"`
	IconURL     string           `json:"icon_url,omitempty" mapstructure:"icon_url"`
	Attachments []map[string]any `json:"attachments,omitempty" mapstructure:"attachments"`
	Props       map[string]any   `json:"props,omitempty" mapstructure:"props"`
	// PostType must start with "custom_".
	PostType string `json:"type,omitempty" mapstructure:"post_type"`
}

// Validate checks the fields Mattermost constrains.
func (m Message) Validate() error {
	if m.PostType != "" && !strings.HasPrefix(m.PostType, constants.CustomPostTypePrefix) {
		return task.Configf("post type %q must start with %q", m.PostType, constants.CustomPostTypePrefix)
	}
	return nil
}

// JSON validates and encodes the message.
func (m Message) JSON() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
