package router

import (
	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/fees"
)

// Service picks the processor for a checkout. A known payer country
// decides: cross-border payers go to the regional processor when the
// creator has it connected, because its local rails settle in the
// payer's currency; other known countries go to the global processor.
// The creator's default only breaks the tie when the payer country is
// missing or unusable.
type Service struct {
	checkout map[domain.Provider]ports.CheckoutProvider
	logger   ports.Logger
}

// NewService creates a router over the registered checkout providers.
func NewService(providers []ports.CheckoutProvider, logger ports.Logger) *Service {
	m := make(map[domain.Provider]ports.CheckoutProvider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Service{checkout: m, logger: logger}
}

// Route picks the provider for a creator and payer country.
func (s *Service) Route(creator *domain.Creator, payerCountry string) (domain.Provider, error) {
	connected := creator.ConnectedProviders()
	if len(connected) == 0 {
		return "", domain.ErrProviderNotLinked
	}

	if isKnownCountry(payerCountry) {
		if fees.IsCrossBorderCountry(payerCountry) && creator.HasPaystack() {
			return domain.ProviderPaystack, nil
		}
		if creator.HasStripe() {
			return domain.ProviderStripe, nil
		}
	}

	if creator.DefaultProvider != "" {
		for _, p := range connected {
			if p == creator.DefaultProvider {
				return p, nil
			}
		}
	}
	return connected[0], nil
}

// isKnownCountry accepts a two-letter ISO code. Anything else means the
// caller could not geolocate the payer.
func isKnownCountry(country string) bool {
	if len(country) != 2 {
		return false
	}
	for _, c := range country {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// CheckoutProvider resolves the adapter for a routed provider.
func (s *Service) CheckoutProvider(provider domain.Provider) (ports.CheckoutProvider, error) {
	p, ok := s.checkout[provider]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeProviderNotLinked,
			"provider not configured: "+string(provider))
	}
	return p, nil
}
