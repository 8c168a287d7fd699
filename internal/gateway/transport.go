package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"payments_core/internal/logger"
)

const maxResponseBody = 1 << 20

// Transport is the HTTP plumbing shared by every adapter.
type Transport struct {
	client *http.Client
	retry  RetryConfig
	log    *slog.Logger
}

func NewTransport(timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Transport{
		client: &http.Client{Timeout: timeout},
		retry:  DefaultRetryConfig(),
		log:    logger.Component("gateway"),
	}
}

// WithRetry returns a copy using cfg for idempotent calls.
func (t *Transport) WithRetry(cfg RetryConfig) *Transport {
	cp := *t
	cp.retry = cfg
	return &cp
}

type call struct {
	provider   string
	operation  string
	method     string
	url        string
	header     http.Header
	body       []byte
	idempotent bool
}

// doJSON runs c and decodes a 2xx body into out.
func (t *Transport) doJSON(ctx context.Context, c call, out any) error {
	body, err := t.do(ctx, c)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ValidationError{Provider: c.provider, Operation: c.operation, Msg: "malformed response body"}
	}
	return nil
}

func (t *Transport) do(ctx context.Context, c call) ([]byte, error) {
	var out []byte
	attempt := func(ctx context.Context) error {
		b, err := t.once(ctx, c)
		out = b
		return err
	}

	var err error
	if c.idempotent && t.retry.MaxRetries > 0 {
		r := &retrier{cfg: t.retry, log: t.log.With("provider", c.provider, "operation", c.operation)}
		err = r.do(ctx, attempt)
	} else {
		err = attempt(ctx)
	}
	return out, err
}

func (t *Transport) once(ctx context.Context, c call) ([]byte, error) {
	start := time.Now()
	body, err := t.send(ctx, c)
	requestDuration.WithLabelValues(c.provider, c.operation).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(c.provider, c.operation, outcomeLabel(err)).Inc()

	if err != nil {
		t.log.Warn("gateway call failed",
			"provider", c.provider,
			"operation", c.operation,
			"error", err,
			"duration", time.Since(start),
		)
	}
	return body, err
}

func (t *Transport) send(ctx context.Context, c call) ([]byte, error) {
	var reader io.Reader
	if c.body != nil {
		reader = bytes.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, reader)
	if err != nil {
		return nil, &ValidationError{Provider: c.provider, Operation: c.operation, Msg: err.Error()}
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: c.provider, Operation: c.operation, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportError{Provider: c.provider, Operation: c.operation, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Provider: c.provider, Status: resp.StatusCode, Msg: snippet(body)}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransportError{Provider: c.provider, Operation: c.operation, Status: resp.StatusCode,
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &ValidationError{Provider: c.provider, Operation: c.operation,
			Msg: fmt.Sprintf("rejected with %d: %s", resp.StatusCode, snippet(body))}
	}
	return body, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
