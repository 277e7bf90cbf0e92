package core

import (
	"context"
	"sync"
	"time"

	"metergate/internal/types"
)

// MockAuthenticator implements Authenticator for testing. It returns the
// configured Actor for any token, or Err when set.
type MockAuthenticator struct {
	Actor *types.Actor
	Err   error

	mu     sync.Mutex
	tokens []string
}

var _ Authenticator = (*MockAuthenticator)(nil)

func (m *MockAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.tokens = append(m.tokens, token)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// SeenTokens returns the tokens passed to ResolveToken, in call order.
func (m *MockAuthenticator) SeenTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.tokens))
	copy(out, m.tokens)
	return out
}

// MockMetricsCollector records RecordRequest invocations for assertions.
type MockMetricsCollector struct {
	mu       sync.Mutex
	Requests []MockRequestMetric
}

// MockRequestMetric is one recorded RecordRequest call.
type MockRequestMetric struct {
	Method   string
	Endpoint string
	Status   string
	Duration time.Duration
}

var _ MetricsCollector = (*MockMetricsCollector)(nil)

func (m *MockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, MockRequestMetric{
		Method:   method,
		Endpoint: endpoint,
		Status:   status,
		Duration: duration,
	})
}

// Recorded returns a copy of the recorded metrics.
func (m *MockMetricsCollector) Recorded() []MockRequestMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockRequestMetric, len(m.Requests))
	copy(out, m.Requests)
	return out
}
