// Package config defines the global configuration structure for the metergate
// platform. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
package config

import (
	"time"

	"metergate/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the metergate platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"metergate-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Billing       BillingConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for checkout/portal redirects (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// BillingConfig holds the Stripe credentials and the static meter/plan
// catalogs. The catalogs are supplied as JSON env blobs and parsed into
// Meters/Plans by the loader; they are the single source of truth for which
// meter names may be submitted and which plans a subscription item can match.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	// EnableOrganizations gates organization-scoped billing. When false,
	// tenant references of kind "organization" are rejected.
	EnableOrganizations bool `envconfig:"BILLING_ENABLE_ORGANIZATIONS" default:"false"`

	// MetersJSON is a JSON array of meter definitions:
	//   [{"event_name":"emails.sent","display_name":"Emails sent"}]
	MetersJSON string `envconfig:"BILLING_METERS_JSON" validate:"required,json"`

	// PlansJSON is a JSON array of plan definitions:
	//   [{"name":"pro","price_id":"price_123","lookup_key":"pro-monthly"}]
	PlansJSON string `envconfig:"BILLING_PLANS_JSON" validate:"required,json"`

	// MeterCacheTTL bounds how long the provider meter-id mapping is reused
	// before a full re-listing.
	MeterCacheTTL time.Duration `envconfig:"BILLING_METER_CACHE_TTL" default:"5m"`

	// Parsed catalogs, populated by the loader from the JSON blobs above.
	Meters []types.Meter `ignored:"true"`
	Plans  []types.Plan  `ignored:"true"`
}

// ObservabilityConfig holds metrics emission settings.
type ObservabilityConfig struct {
	MetricsEnabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"Metergate/API"`
	AWSRegion        string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// MeterByEventName returns the configured meter for the given event name.
func (c *BillingConfig) MeterByEventName(eventName string) (types.Meter, bool) {
	for _, m := range c.Meters {
		if m.EventName == eventName {
			return m, true
		}
	}
	return types.Meter{}, false
}
