package scaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Scaler applies replica changes to the underlying platform.
type Scaler interface {
	ScaleUp(ctx context.Context, service string, replicas int) error
	ScaleDown(ctx context.Context, service string, replicas int) error
}

// APIScaler drives a remote orchestrator's scaling API with bearer auth.
type APIScaler struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewAPIScaler(endpoint, token string) *APIScaler {
	return &APIScaler{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *APIScaler) ScaleUp(ctx context.Context, service string, replicas int) error {
	return s.post(ctx, "scale-up", service, replicas)
}

func (s *APIScaler) ScaleDown(ctx context.Context, service string, replicas int) error {
	return s.post(ctx, "scale-down", service, replicas)
}

func (s *APIScaler) post(ctx context.Context, action, service string, replicas int) error {
	payload, err := json.Marshal(map[string]interface{}{
		"service":  service,
		"replicas": replicas,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal scaling request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", s.endpoint, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create scaling request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("scaling API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scaling API returned status %d for %s", resp.StatusCode, action)
	}
	return nil
}

// NoopScaler records nothing and always succeeds. It is used when no
// orchestrator endpoint is configured, so scaling decisions are still made
// and observable without taking effect.
type NoopScaler struct{}

func (NoopScaler) ScaleUp(ctx context.Context, service string, replicas int) error   { return nil }
func (NoopScaler) ScaleDown(ctx context.Context, service string, replicas int) error { return nil }
