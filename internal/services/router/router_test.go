package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

type fakeProvider struct {
	name domain.Provider
}

func (f *fakeProvider) Name() domain.Provider { return f.name }
func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, req *ports.CheckoutSessionRequest) (*ports.CheckoutSession, error) {
	return nil, nil
}
func (f *fakeProvider) VerifySession(ctx context.Context, sessionID string) (*ports.SessionStatus, error) {
	return nil, nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...ports.Field)  {}
func (nopLogger) Error(string, ...ports.Field) {}
func (nopLogger) Warn(string, ...ports.Field)  {}
func (nopLogger) Debug(string, ...ports.Field) {}

func str(s string) *string { return &s }

func newRouter() *Service {
	return NewService([]ports.CheckoutProvider{
		&fakeProvider{name: domain.ProviderStripe},
		&fakeProvider{name: domain.ProviderPaystack},
	}, nopLogger{})
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name         string
		creator      *domain.Creator
		payerCountry string
		want         domain.Provider
		wantErr      bool
	}{
		{
			name:    "nothing connected",
			creator: &domain.Creator{},
			wantErr: true,
		},
		{
			name:         "cross-border payer prefers regional processor",
			creator:      &domain.Creator{StripeAccountID: str("acct_1"), PaystackSubaccountCode: str("SUB_1")},
			payerCountry: "NG",
			want:         domain.ProviderPaystack,
		},
		{
			name:         "cross-border payer without regional connection stays on default",
			creator:      &domain.Creator{StripeAccountID: str("acct_1")},
			payerCountry: "KE",
			want:         domain.ProviderStripe,
		},
		{
			name: "domestic payer overrides creator default",
			creator: &domain.Creator{
				StripeAccountID:        str("acct_1"),
				PaystackSubaccountCode: str("SUB_1"),
				DefaultProvider:        domain.ProviderPaystack,
			},
			payerCountry: "US",
			want:         domain.ProviderStripe,
		},
		{
			name: "unknown payer country falls back to creator default",
			creator: &domain.Creator{
				StripeAccountID:        str("acct_1"),
				PaystackSubaccountCode: str("SUB_1"),
				DefaultProvider:        domain.ProviderPaystack,
			},
			payerCountry: "",
			want:         domain.ProviderPaystack,
		},
		{
			name: "garbage payer country falls back to creator default",
			creator: &domain.Creator{
				StripeAccountID:        str("acct_1"),
				PaystackSubaccountCode: str("SUB_1"),
				DefaultProvider:        domain.ProviderPaystack,
			},
			payerCountry: "usa",
			want:         domain.ProviderPaystack,
		},
		{
			name: "default not connected falls back to first connected",
			creator: &domain.Creator{
				PaystackSubaccountCode: str("SUB_1"),
				DefaultProvider:        domain.ProviderStripe,
			},
			payerCountry: "US",
			want:         domain.ProviderPaystack,
		},
		{
			name:         "no default picks first connected",
			creator:      &domain.Creator{StripeAccountID: str("acct_1")},
			payerCountry: "GB",
			want:         domain.ProviderStripe,
		},
	}

	svc := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Route(tt.creator, tt.payerCountry)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckoutProvider(t *testing.T) {
	svc := newRouter()

	p, err := svc.CheckoutProvider(domain.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderStripe, p.Name())

	_, err = svc.CheckoutProvider(domain.Provider("unknown"))
	assert.Error(t, err)
}
