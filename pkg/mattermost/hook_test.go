package mattermost

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loykin/opshooks/internal/connection"
	"github.com/loykin/opshooks/pkg/task"
)

type captured struct {
	method      string
	path        string
	contentType string
	body        string
}

func webhookServer(t *testing.T, status int) (*httptest.Server, *captured, *int32) {
	t.Helper()
	var got captured
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		b, _ := io.ReadAll(r.Body)
		got = captured{method: r.Method, path: r.URL.Path, contentType: r.Header.Get("Content-Type"), body: string(b)}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got, &calls
}

func TestHook_TokenAsFullURL(t *testing.T) {
	srv, got, calls := webhookServer(t, http.StatusOK)
	h, err := NewHook(nil, HookOptions{WebhookToken: srv.URL + "/hooks/abc123", Message: Message{Text: "hi", Channel: "general"}})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	if err := h.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected exactly one request, got %d", *calls)
	}
	if got.method != http.MethodPost || got.path != "/hooks/abc123" || got.contentType != "application/json" {
		t.Fatalf("unexpected request %+v", got)
	}
	m := decode(t, []byte(got.body))
	if len(m) != 2 || m["text"] != "hi" || m["channel"] != "general" {
		t.Fatalf("unexpected body %v", m)
	}
}

func TestHook_ConnectionBaseURLAndExtraToken(t *testing.T) {
	srv, got, _ := webhookServer(t, http.StatusOK)
	reg := connection.NewRegistry()
	if err := reg.Add(connection.Settings{
		ID: "mm", Type: "http", Host: srv.URL,
		Extra: map[string]any{"webhook_token": "hooks/from-extra"},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	h, err := NewHook(reg, HookOptions{ConnID: "mm", Message: Message{Text: "x"}})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	if h.URL() != srv.URL+"/hooks/from-extra" {
		t.Fatalf("unexpected url %q", h.URL())
	}
	if err := h.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.path != "/hooks/from-extra" {
		t.Fatalf("unexpected path %q", got.path)
	}

	h, err = NewHook(reg, HookOptions{ConnID: "mm", WebhookToken: "/hooks/explicit", Message: Message{Text: "x"}})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	if h.URL() != srv.URL+"/hooks/explicit" {
		t.Fatalf("explicit token should win, got %q", h.URL())
	}
}

func TestHook_MissingTokenIsConfigurationError(t *testing.T) {
	_, err := NewHook(nil, HookOptions{Message: Message{Text: "x"}})
	if !errors.Is(err, task.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := NewHook(connection.NewRegistry(), HookOptions{ConnID: "missing"}); !errors.Is(err, task.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown conn, got %v", err)
	}
}

func TestHook_ErrorStatus(t *testing.T) {
	srv, _, _ := webhookServer(t, http.StatusBadRequest)
	h, _ := NewHook(nil, HookOptions{WebhookToken: srv.URL + "/hooks/x", Message: Message{Text: "x"}})
	err := h.Execute(context.Background())
	var re *ResponseError
	if !errors.As(err, &re) || re.StatusCode != 400 {
		t.Fatalf("expected response error, got %v", err)
	}
	if err.Error() != "400:Bad Request" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	h, _ = NewHook(nil, HookOptions{WebhookToken: srv.URL + "/hooks/x", Message: Message{Text: "x"}, Extra: ExtraOptions{SkipResponseCheck: true}})
	if err := h.Execute(context.Background()); err != nil {
		t.Fatalf("skip response check: %v", err)
	}
}

func TestHook_ProxyOnlyForHTTPS(t *testing.T) {
	var proxied int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&proxied, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer proxy.Close()

	srv, _, calls := webhookServer(t, http.StatusOK)
	h, _ := NewHook(nil, HookOptions{WebhookToken: srv.URL + "/hooks/x", Message: Message{Text: "x"}, Proxy: proxy.URL})
	if err := h.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if atomic.LoadInt32(&proxied) != 0 || atomic.LoadInt32(calls) != 1 {
		t.Fatalf("plain http request must bypass the https proxy (proxied=%d direct=%d)", proxied, *calls)
	}
}

func TestHook_InvalidPostTypeBeforeIO(t *testing.T) {
	srv, _, calls := webhookServer(t, http.StatusOK)
	_, err := NewHook(nil, HookOptions{WebhookToken: srv.URL, Message: Message{Text: "x", PostType: "bad"}})
	if !errors.Is(err, task.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("no request expected")
	}
}

func TestJoinURL(t *testing.T) {
	cases := map[[2]string]string{
		{"http://h", "hooks/x"}:   "http://h/hooks/x",
		{"http://h/", "hooks/x"}:  "http://h/hooks/x",
		{"http://h", "/hooks/x"}:  "http://h/hooks/x",
		{"", "https://h/hooks/x"}: "https://h/hooks/x",
		{"http://h", ""}:          "http://h",
	}
	for in, want := range cases {
		if got := joinURL(in[0], in[1]); got != want {
			t.Fatalf("joinURL(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
	if !strings.HasPrefix(joinURL("a", "b"), "a/") {
		t.Fatalf("separator missing")
	}
}
