package confirmation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/cenkalti/backoff/v4"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Provider-CA-Signature"

// Notification is what the out-of-band channel delivers to the end user.
type Notification struct {
	OperationID string         `json:"operationId"`
	Kind        operation.Kind `json:"kind"`
	Tenant      string         `json:"tenant"`
	Login       string         `json:"login"`
	Link        string         `json:"link,omitempty"`
	Code        string         `json:"confirmationCode,omitempty"`
	Push        bool           `json:"push"`
}

// Notifier delivers confirmation material to the end user's device.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// CodeDeliverer is implemented by notifiers that hand confirmation codes to the end user.
type CodeDeliverer interface {
	DeliversCode() bool
}

// DeliversCode reports whether codes sent through n reach the end user.
func DeliversCode(n Notifier) bool {
	d, ok := n.(CodeDeliverer)
	return ok && d.DeliversCode()
}

// LogNotifier records deliveries in the service log. The code itself is never logged,
// so it cannot serve policies that require a code.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	slog.Info("Confirmation delivered",
		"operation_id", n.OperationID,
		"kind", n.Kind,
		"tenant", n.Tenant,
		"login", n.Login,
		"has_code", n.Code != "",
		"push", n.Push)
	return nil
}

type WebhookConfig struct {
	URL        string        `mapstructure:"url"`
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint64        `mapstructure:"max_retries"`
}

// WebhookNotifier posts every notification as JSON to the tenant's delivery gateway,
// which forwards link and code to the end user's device.
type WebhookNotifier struct {
	url        string
	secret     []byte
	maxRetries uint64
	httpClient *http.Client
}

func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}
	return &WebhookNotifier{
		url:        cfg.URL,
		secret:     []byte(cfg.Secret),
		maxRetries: retries,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// NewNotifier returns a webhook notifier when a url is configured, otherwise a
// LogNotifier.
func NewNotifier(cfg WebhookConfig) (Notifier, error) {
	if cfg.URL == "" {
		return LogNotifier{}, nil
	}
	return NewWebhookNotifier(cfg)
}

func (w *WebhookNotifier) DeliversCode() bool {
	return true
}

func (w *WebhookNotifier) sign(body []byte) string {
	mac := hmac.New(sha256.New, w.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Notify retries server errors and transport failures. Client errors are final.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second

	err = backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if len(w.secret) > 0 {
			req.Header.Set(SignatureHeader, w.sign(body))
		}

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook rejected notification with %d", resp.StatusCode))
		}
	}, backoff.WithContext(backoff.WithMaxRetries(policy, w.maxRetries), ctx))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return fmt.Errorf("failed to deliver confirmation for %s: %w", n.OperationID, err)
	}

	slog.Info("Confirmation delivered", "operation_id", n.OperationID, "tenant", n.Tenant, "channel", "webhook")
	return nil
}
