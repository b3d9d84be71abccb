package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/patronhq/payment-service/internal/config"
	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/resilience"
)

// envelope is the provider's standard response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// client is a thin REST client over the provider API. Transport retries
// with backoff live in retryablehttp; error classification lives here.
type client struct {
	http    *retryablehttp.Client
	baseURL string
	secret  string
}

func newClient(cfg *config.PaystackConfig, logger ports.Logger) *client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil // request logging happens at the adapter level

	return &client{
		http:    rc,
		baseURL: cfg.BaseURL,
		secret:  cfg.SecretKey,
	}
}

// call performs one API request and unmarshals the data envelope into
// out (which may be nil for fire-and-forget calls).
func (c *client) call(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := resilience.WithProviderTimeout(ctx)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return domain.WrapError(domain.ErrorCodeInternalError, "marshal request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeProviderUnavailable, method+" "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.WrapError(domain.ErrorCodeProviderUnavailable, "read response", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return domain.WrapError(domain.ErrorCodeProviderUnavailable,
			fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode), nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.WrapError(domain.ErrorCodeProviderUnavailable, "decode response", err)
	}
	if resp.StatusCode >= 400 || !env.Status {
		return domain.WrapError(domain.ErrorCodeProviderPermanent,
			fmt.Sprintf("%s %s: %s", method, path, env.Message), nil)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return domain.WrapError(domain.ErrorCodeProviderUnavailable, "decode response data", err)
		}
	}
	return nil
}
