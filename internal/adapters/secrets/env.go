package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvSource resolves secrets from the process environment. Development
// and test deployments use this instead of a remote manager.
type EnvSource struct{}

// NewEnvSource creates an environment-backed secret source.
func NewEnvSource() *EnvSource {
	return &EnvSource{}
}

// GetSecret reads the named environment variable.
func (s *EnvSource) GetSecret(_ context.Context, name string) (string, error) {
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", fmt.Errorf("secret %s not set", name)
	}
	return value, nil
}
