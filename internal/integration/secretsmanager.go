package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/ca-srg/toolbelt/internal/application"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManager loads credentials from a JSON secret and caches them for ttl.
type SecretsManager struct {
	client   SecretsManagerAPI
	secretID string
	ttl      time.Duration

	mu        sync.Mutex
	cached    application.Credentials
	fetchedAt time.Time
	now       func() time.Time
}

// NewSecretsManager creates a SecretsManager integration. A non-positive ttl caches forever.
func NewSecretsManager(client SecretsManagerAPI, secretID string, ttl time.Duration) *SecretsManager {
	return &SecretsManager{
		client:   client,
		secretID: secretID,
		ttl:      ttl,
		now:      time.Now,
	}
}

// NewSecretsManagerFromConfig builds the client from an AWS config.
func NewSecretsManagerFromConfig(cfg aws.Config, secretID string, ttl time.Duration) *SecretsManager {
	return NewSecretsManager(secretsmanager.NewFromConfig(cfg), secretID, ttl)
}

// Name returns the integration name.
func (s *SecretsManager) Name() string {
	return "secretsmanager:" + s.secretID
}

// Credentials fetches and decodes the secret. Non-string JSON values are re-encoded
// so nested service account documents survive as strings.
func (s *SecretsManager) Credentials(ctx context.Context) (application.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && (s.ttl <= 0 || s.now().Sub(s.fetchedAt) < s.ttl) {
		return s.cached, nil
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", s.secretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", s.secretID)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(*out.SecretString), &raw); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", s.secretID, err)
	}

	creds := make(application.Credentials, len(raw))
	for key, value := range raw {
		var str string
		if err := json.Unmarshal(value, &str); err == nil {
			creds[key] = str
			continue
		}
		creds[key] = string(value)
	}

	s.cached = creds
	s.fetchedAt = s.now()
	return creds, nil
}
