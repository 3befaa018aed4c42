package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/clinicvoice/relay/pkg/errorsx"
	"github.com/clinicvoice/relay/pkg/logging"
	"github.com/clinicvoice/relay/pkg/resilience"
)

type WebhookConfig struct {
	URL          string
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

func (c WebhookConfig) withDefaults() WebhookConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// WebhookExecutor delivers each action as one HTTP POST to the configured
// sink. The relay's responsibility ends at attempted delivery: any response,
// 2xx or not, counts as delivered. Only transport-level failure is an error.
type WebhookExecutor struct {
	cfg    WebhookConfig
	client *http.Client
	retry  resilience.RetryPolicy
	logger *slog.Logger
}

func NewWebhookExecutor(cfg WebhookConfig) *WebhookExecutor {
	cfg = cfg.withDefaults()
	return &WebhookExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  resilience.NewRetryPolicy(cfg.Retries, cfg.RetryBackoff),
		logger: logging.NewComponentLogger(slog.Default(), "webhook"),
	}
}

func (e *WebhookExecutor) Execute(ctx context.Context, action string, fields map[string]any) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonActionExecute)
	}
	var status int
	post := func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonActionExecute)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := e.client.Do(req)
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return errorsx.Wrap(err, errorsx.ReasonActionTimeout)
			}
			return errorsx.Wrap(err, errorsx.ReasonActionExecute)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		status = resp.StatusCode
		return nil
	}
	if err := e.retry.Do(post); err != nil {
		return Result{}, err
	}
	e.logger.Info("webhook_delivered", "action", action, "status", status)
	return Result{
		Success:        true,
		IdempotencyKey: idempotencyKey(action),
		Details:        map[string]any{"webhookResponse": status},
	}, nil
}

var keyPrefixes = func() map[string]string {
	out := make(map[string]string)
	for _, s := range Catalog() {
		out[s.Name] = s.KeyPrefix
	}
	return out
}()

var lastKeyNano atomic.Int64

// idempotencyKey derives a per-call identifier from the action type and a
// strictly increasing timestamp, so keys are never reused across calls.
func idempotencyKey(action string) string {
	prefix, ok := keyPrefixes[action]
	if !ok {
		prefix = "ACT"
	}
	for {
		now := time.Now().UnixNano()
		last := lastKeyNano.Load()
		if now <= last {
			now = last + 1
		}
		if lastKeyNano.CompareAndSwap(last, now) {
			return fmt.Sprintf("%s-%d", prefix, now)
		}
	}
}
