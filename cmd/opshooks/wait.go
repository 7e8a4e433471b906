package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/internal/httpc"
	"github.com/loykin/opshooks/pkg/task"
)

const (
	DefaultWaitTimeout  = 60 * time.Second
	DefaultWaitInterval = 2 * time.Second
)

// waitParams holds the parsed and normalized parameters for waiting
type waitParams struct {
	url      string
	method   string
	expected int
	timeout  time.Duration
	interval time.Duration
}

// parseWaitConfig applies defaults and renders the url against vars.
func parseWaitConfig(wc WaitConfig, vars map[string]any) (waitParams, error) {
	method := strings.ToUpper(strings.TrimSpace(wc.Method))
	if method != http.MethodHead {
		method = http.MethodGet
	}
	expected := wc.Status
	if expected == 0 {
		expected = http.StatusOK
	}
	timeout := DefaultWaitTimeout
	if s := strings.TrimSpace(wc.Timeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return waitParams{}, fmt.Errorf("wait: invalid timeout %q", s)
		}
		timeout = d
	}
	interval := DefaultWaitInterval
	if s := strings.TrimSpace(wc.Interval); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return waitParams{}, fmt.Errorf("wait: invalid interval %q", s)
		}
		interval = d
	}
	tc := task.NewContext("wait")
	tc.Values = vars
	url, err := tc.Render(strings.TrimSpace(wc.URL))
	if err != nil {
		return waitParams{}, fmt.Errorf("wait: %w", err)
	}
	return waitParams{url: url, method: method, expected: expected, timeout: timeout, interval: interval}, nil
}

// doWait polls an HTTP endpoint until it returns the expected status or the
// timeout elapses. An empty url disables waiting.
func doWait(ctx context.Context, wc WaitConfig, clientCfg ClientConfig, vars map[string]any) error {
	if strings.TrimSpace(wc.URL) == "" {
		return nil
	}
	params, err := parseWaitConfig(wc, vars)
	if err != nil {
		return err
	}
	hc := &httpc.Httpc{
		Insecure:      clientCfg.Insecure,
		MinTLSVersion: clientCfg.MinTLSVersion,
		MaxTLSVersion: clientCfg.MaxTLSVersion,
		Timeout:       params.timeout,
	}
	client, err := hc.New(ctx)
	if err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	logger := common.GetLogger().WithComponent("wait")
	logger.Info("waiting for endpoint", "url", params.url, "status", params.expected, "timeout", params.timeout)

	deadline := time.Now().Add(params.timeout)
	var lastStatus int
	for {
		resp, err := client.R().SetContext(ctx).Execute(params.method, params.url)
		if err == nil && resp.StatusCode() == params.expected {
			logger.Info("endpoint ready", "url", params.url)
			return nil
		}
		if resp != nil {
			lastStatus = resp.StatusCode()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("wait: timeout waiting for %s to return %d (last=%d)", params.url, params.expected, lastStatus)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(params.interval):
		}
	}
}
