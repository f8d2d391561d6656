// Package transport posts NDR notifications and operator tasks to HTTP
// endpoints as JSON.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultTimeout       = 10 * time.Second
	responseBodyLimit    = 64 << 10
	headerIdempotencyKey = "Idempotency-Key"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client delivers JSON documents with static headers and a bearer token.
type Client struct {
	HTTP    HTTPDoer
	Token   string
	Headers map[string]string
	Timeout time.Duration
}

func NewClient(cfg core.OutboundConfig, doer HTTPDoer) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	headers := make(map[string]string, len(cfg.Headers))
	for key, value := range cfg.Headers {
		if key = strings.TrimSpace(key); key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}
	return &Client{
		HTTP:    doer,
		Token:   strings.TrimSpace(cfg.Token),
		Headers: headers,
		Timeout: timeout,
	}
}

// PostJSON sends payload to target. Any non-2xx reply is an external error
// carrying the status code and a truncated response body.
func (c *Client) PostJSON(ctx context.Context, target string, idempotencyKey string, payload any) error {
	if c == nil || c.HTTP == nil {
		return core.NewCourierError("transport: client is not configured", goerrors.CategoryInternal, core.CourierErrorInternal)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return core.WrapCourierError(err, goerrors.CategoryBadInput, "transport: encode payload", core.CourierErrorBadInput)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return core.WrapCourierError(err, goerrors.CategoryBadInput, "transport: create request", core.CourierErrorBadInput).
			WithMetadata(map[string]any{"url": target})
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.Headers {
		req.Header.Set(key, value)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return core.WrapCourierError(err, goerrors.CategoryExternal, "transport: request failed", core.CourierErrorOutboundFailure).
			WithCode(http.StatusBadGateway).
			WithMetadata(map[string]any{"url": target})
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, responseBodyLimit))
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return core.NewCourierError(
		fmt.Sprintf("transport: %s replied %d", target, res.StatusCode),
		goerrors.CategoryExternal,
		core.CourierErrorOutboundFailure,
	).WithCode(http.StatusBadGateway).WithMetadata(map[string]any{
		"url":         target,
		"status_code": res.StatusCode,
		"body":        strings.TrimSpace(string(snippet)),
	})
}
