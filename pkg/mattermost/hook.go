package mattermost

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/internal/connection"
	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/internal/httpc"
	"github.com/loykin/opshooks/pkg/task"
)

// Connection extra keys read by the hook besides the webhook token.
const (
	ExtraOAuth2TokenURL     = "oauth2_token_url"
	ExtraOAuth2ClientID     = "oauth2_client_id"
	ExtraOAuth2ClientSecret = "oauth2_client_secret"
	ExtraOAuth2Scopes       = "oauth2_scopes"
)

// ExtraOptions tune the HTTP call.
type ExtraOptions struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Insecure skips TLS certificate verification.
	Insecure bool `mapstructure:"insecure"`
	// SkipResponseCheck accepts any status code.
	SkipResponseCheck bool `mapstructure:"skip_response_check"`
}

// HookOptions configure a Hook. With ConnID the connection supplies the base
// URL and WebhookToken is the endpoint; without it WebhookToken is the full URL.
type HookOptions struct {
	ConnID       string
	WebhookToken string
	Message      Message
	// Proxy is used for https requests only.
	Proxy string
	Extra ExtraOptions
}

// ResponseError reports a webhook call answered with an error status.
type ResponseError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%d:%s", e.StatusCode, e.Status)
}

// Hook sends one message to one webhook.
type Hook struct {
	url     string
	message Message
	proxy   string
	extra   ExtraOptions
	oauth   *httpc.OAuth2
	logger  *common.Logger
}

// NewHook resolves the webhook URL. It performs no network I/O.
func NewHook(resolver connection.Resolver, opts HookOptions) (*Hook, error) {
	if err := opts.Message.Validate(); err != nil {
		return nil, err
	}
	token := strings.TrimSpace(opts.WebhookToken)
	h := &Hook{
		message: opts.Message,
		proxy:   strings.TrimSpace(opts.Proxy),
		extra:   opts.Extra,
		logger:  common.GetLogger().WithComponent("mattermost"),
	}

	switch {
	case opts.ConnID != "":
		if resolver == nil {
			return nil, task.Configf("no connection resolver for %q", opts.ConnID)
		}
		s, err := resolver.Resolve(opts.ConnID)
		if err != nil {
			return nil, err
		}
		if token == "" {
			token = s.ExtraString(constants.WebhookTokenExtraKey)
		}
		h.url = joinURL(s.BaseURL(), token)
		h.oauth = oauthFromExtra(s)
	case token != "":
		h.url = token
	default:
		return nil, task.Configf("cannot get webhook token: no valid Mattermost webhook token nor conn_id supplied")
	}
	if token != "" {
		common.RegisterSecret(token)
	}
	if h.url == "" {
		return nil, task.Configf("mattermost webhook url is empty")
	}
	return h, nil
}

// joinURL adds the separating slash when neither side has one.
func joinURL(base, endpoint string) string {
	if base != "" && endpoint != "" && !strings.HasSuffix(base, "/") && !strings.HasPrefix(endpoint, "/") {
		return base + "/" + endpoint
	}
	return base + endpoint
}

func oauthFromExtra(s connection.Settings) *httpc.OAuth2 {
	tokenURL := s.ExtraString(ExtraOAuth2TokenURL)
	if tokenURL == "" {
		return nil
	}
	var scopes []string
	for _, sc := range strings.Split(s.ExtraString(ExtraOAuth2Scopes), ",") {
		if sc = strings.TrimSpace(sc); sc != "" {
			scopes = append(scopes, sc)
		}
	}
	return &httpc.OAuth2{
		TokenURL:     tokenURL,
		ClientID:     s.ExtraString(ExtraOAuth2ClientID),
		ClientSecret: s.ExtraString(ExtraOAuth2ClientSecret),
		Scopes:       scopes,
	}
}

// URL returns the resolved webhook URL.
func (h *Hook) URL() string { return h.url }

// Payload returns the JSON body the hook sends.
func (h *Hook) Payload() ([]byte, error) { return h.message.JSON() }

// Execute posts the message once. There are no retries.
func (h *Hook) Execute(ctx context.Context) error {
	body, err := h.Payload()
	if err != nil {
		return err
	}
	hc := &httpc.Httpc{
		Insecure: h.extra.Insecure,
		Timeout:  h.extra.Timeout,
		OAuth2:   h.oauth,
	}
	if hc.Timeout <= 0 {
		hc.Timeout = constants.DefaultWebhookTimeout
	}
	if h.proxy != "" {
		hc.Proxies = map[string]string{"https": h.proxy}
	}
	client, err := hc.New(ctx)
	if err != nil {
		return &task.ConfigurationError{Msg: "mattermost http client", Err: err}
	}

	h.logger.WithRequest(http.MethodPost, h.url).Info("posting mattermost message", "channel", h.message.Channel)
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-type", constants.JSONContentType).
		SetBody(body).
		Post(h.url)
	if err != nil {
		return fmt.Errorf("mattermost webhook: %w", common.MaskErr(err))
	}
	if !h.extra.SkipResponseCheck && resp.StatusCode() >= http.StatusBadRequest {
		h.logger.Error("mattermost webhook rejected message", "status", resp.StatusCode(), "body", resp.String())
		return &ResponseError{StatusCode: resp.StatusCode(), Status: http.StatusText(resp.StatusCode()), Body: resp.String()}
	}
	return nil
}
