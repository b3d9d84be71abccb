package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/patronhq/payment-service/internal/domain/ports"
)

const cacheTTL = 5 * time.Minute

// AWSSource resolves secrets from AWS Secrets Manager with a short
// in-memory cache. Production deployments use the IAM role credential
// chain; a profile can be set for local development.
type AWSSource struct {
	client *secretsmanager.Client
	logger ports.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// NewAWSSource creates a Secrets Manager backed secret source.
func NewAWSSource(ctx context.Context, region, profile string, logger ports.Logger) (*AWSSource, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &AWSSource{
		client:  secretsmanager.NewFromConfig(cfg),
		logger:  logger,
		entries: make(map[string]cacheEntry),
	}, nil
}

// GetSecret retrieves a secret by name or ARN.
func (s *AWSSource) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if entry, ok := s.entries[name]; ok && time.Now().Before(entry.expiresAt) {
		s.mu.Unlock()
		return entry.value, nil
	}
	s.mu.Unlock()

	start := time.Now()
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	s.logger.Debug("secret retrieved",
		ports.String("name", name),
		ports.Duration("elapsed", time.Since(start)))

	value := aws.ToString(result.SecretString)
	s.mu.Lock()
	s.entries[name] = cacheEntry{value: value, expiresAt: time.Now().Add(cacheTTL)}
	s.mu.Unlock()
	return value, nil
}
