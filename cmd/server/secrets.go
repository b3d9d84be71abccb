package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/patronhq/payment-service/internal/adapters/secrets"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/observability"
)

// secretNames are the values that may live in a remote secret manager
// instead of the environment.
var secretNames = []string{
	"DB_PASSWORD",
	"SESSION_SECRET",
	"ENCRYPTION_SECRET",
	"STRIPE_SECRET_KEY",
	"STRIPE_WEBHOOK_SECRET",
	"PAYSTACK_SECRET_KEY",
	"PAYSTACK_WEBHOOK_SECRET",
	"ADMIN_SECRET",
	"CRON_SECRET",
}

// loadSecretsIntoEnv resolves secrets before configuration loads.
// Supports:
//   - SECRETS_BACKEND=aws: AWS Secrets Manager, names optionally
//     prefixed with SECRETS_PREFIX (e.g. "payments/prod/")
//   - default: process environment, nothing to do
//
// Values already present in the environment win, so local overrides
// keep working against a remote backend.
func loadSecretsIntoEnv(ctx context.Context, logger *zap.Logger) error {
	if os.Getenv("SECRETS_BACKEND") != "aws" {
		return nil
	}

	adapter := observability.NewLoggerAdapter(logger)
	source, err := secrets.NewAWSSource(ctx, os.Getenv("AWS_REGION"), os.Getenv("AWS_PROFILE"), adapter)
	if err != nil {
		return err
	}

	prefix := os.Getenv("SECRETS_PREFIX")
	resolved := resolveSecrets(ctx, source, prefix, adapter)
	logger.Info("secrets loaded from aws", zap.Int("count", resolved))
	return nil
}

func resolveSecrets(ctx context.Context, source ports.SecretSource, prefix string, logger ports.Logger) int {
	resolved := 0
	for _, name := range secretNames {
		if os.Getenv(name) != "" {
			continue
		}
		value, err := source.GetSecret(ctx, prefix+name)
		if err != nil {
			// Missing optional secrets are fine; config validation
			// catches the required ones.
			logger.Debug("secret not resolved", ports.String("name", name), ports.Err(err))
			continue
		}
		os.Setenv(name, value)
		resolved++
	}
	return resolved
}
