package fxrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

const cacheTTL = time.Hour

// Source implements ports.RateSource over a USD-base rates API, with an
// in-process cache. Rates only feed the reporting shadow fields, so an
// hour of staleness is acceptable and marked estimated downstream.
type Source struct {
	http   *retryablehttp.Client
	url    string
	logger ports.Logger

	mu        sync.RWMutex
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

// NewSource creates a rate source reading from the configured endpoint.
func NewSource(rateURL string, logger ports.Logger) *Source {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Source{
		http:   rc,
		url:    rateURL,
		logger: logger,
		rates:  make(map[string]decimal.Decimal),
	}
}

// USDRate returns how many units of currency one USD buys, plus the
// time the rate table was fetched.
func (s *Source) USDRate(ctx context.Context, currency string) (decimal.Decimal, time.Time, error) {
	currency = strings.ToUpper(currency)
	if currency == "USD" {
		return decimal.NewFromInt(1), time.Now().UTC(), nil
	}

	s.mu.RLock()
	rate, ok := s.rates[currency]
	fetchedAt := s.fetchedAt
	fresh := time.Since(fetchedAt) < cacheTTL
	s.mu.RUnlock()

	if ok && fresh {
		return rate, fetchedAt, nil
	}

	if err := s.refresh(ctx); err != nil {
		// Serve the stale rate when the refresh fails and we have one.
		if ok {
			s.logger.Warn("serving stale exchange rate",
				ports.String("currency", currency),
				ports.Err(err))
			return rate, fetchedAt, nil
		}
		return decimal.Zero, time.Time{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok = s.rates[currency]
	if !ok {
		return decimal.Zero, time.Time{}, domain.NewDomainError(
			domain.ErrorCodeInvalidRequest, "no rate for currency "+currency)
	}
	return rate, s.fetchedAt, nil
}

type ratesResponse struct {
	Rates map[string]json.Number `json:"rates"`
}

func (s *Source) refresh(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "build rates request", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeProviderUnavailable, "fetch rates", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.WrapError(domain.ErrorCodeProviderUnavailable,
			fmt.Sprintf("fetch rates: status %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.WrapError(domain.ErrorCodeProviderUnavailable, "read rates", err)
	}

	var parsed ratesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.WrapError(domain.ErrorCodeProviderUnavailable, "decode rates", err)
	}

	fresh := make(map[string]decimal.Decimal, len(parsed.Rates))
	for code, num := range parsed.Rates {
		rate, err := decimal.NewFromString(num.String())
		if err != nil || !rate.IsPositive() {
			continue
		}
		fresh[strings.ToUpper(code)] = rate
	}
	if len(fresh) == 0 {
		return domain.WrapError(domain.ErrorCodeProviderUnavailable, "rates response empty", nil)
	}

	s.mu.Lock()
	s.rates = fresh
	s.fetchedAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}
