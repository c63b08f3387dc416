package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/careops/dispatch/security"
	"github.com/careops/dispatch/subscription"
)

const maxResponseBody = 4096 // cap on stored response body

// SenderConfig holds the service-wide defaults a Sender falls back to when
// a subscription does not configure its own.
type SenderConfig struct {
	Timeout        time.Duration
	ContentType    string
	UserAgent      string
	FallbackSecret string
}

// Sender performs HTTP webhook delivery.
type Sender struct {
	client *http.Client
	config SenderConfig
}

// NewSender creates a sender. Per-attempt timeouts come from the
// subscription or cfg.Timeout, applied through the request context.
func NewSender(cfg SenderConfig) *Sender {
	return &Sender{
		client: &http.Client{},
		config: cfg,
	}
}

// Send delivers the payload to the subscription's endpoint and returns the
// result. A 4xx/5xx response is not an error here; classification is the
// retrier's job. Result.Error is set only for network failures and timeouts.
// The outbound header set is recorded on the delivery.
func (s *Sender) Send(ctx context.Context, sub *subscription.Subscription, d *Delivery) Result {
	timeout := sub.Timeout
	if timeout <= 0 {
		timeout = s.config.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.EndpointURL, bytes.NewReader(d.Payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	// Standard headers.
	contentType := sub.ContentType
	if contentType == "" {
		contentType = s.config.ContentType
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("X-Webhook-ID", d.ID.String())
	req.Header.Set("X-Event-Name", d.EventName)
	req.Header.Set("X-Event-ID", d.EventID.String())

	// Custom subscriber headers.
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}

	// Security headers go last so custom headers cannot override them.
	scheme, err := security.ParseScheme(sub.SecurityScheme, sub.SecurityKey, sub.SecurityConfig, s.config.FallbackSecret)
	if err != nil {
		return Result{Error: fmt.Sprintf("security scheme: %v", err)}
	}
	scheme.Apply(req.Header, d.Payload, time.Now().UTC())

	d.RequestHeaders = flattenHeader(req.Header)

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return Result{
			Error:    err.Error(),
			Duration: duration,
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Headers:    flattenHeader(resp.Header),
			Error:      fmt.Sprintf("read response: %v", readErr),
			Duration:   duration,
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		Headers:    flattenHeader(resp.Header),
		Duration:   duration,
	}
}

// flattenHeader keeps the first value of each header for storage.
func flattenHeader(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k := range h {
		flat[k] = h.Get(k)
	}
	return flat
}
