package core

import (
	"context"
	"time"

	"metergate/internal/types"
)

// Authenticator decouples the HTTP layer from specific auth mechanisms
// (session lookups, API key hashing), allowing for easy mocking in tests.
type Authenticator interface {
	// ResolveToken inspects a token prefix ("sess_", "mk_") and returns the
	// Actor it authenticates.
	//
	// Distinct error codes:
	//   - ErrCodeAuthTokenInvalid when the token is malformed, not found, or
	//     revoked.
	//   - ErrCodeAuthSessionExpired when the session exists but has expired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// MetricsCollector records API telemetry. Implementations publish request
// latency and count metrics to CloudWatch or equivalent backends.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}
