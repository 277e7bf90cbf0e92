// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Parse the meter and plan catalog JSON blobs.
//  5. Validate the struct and catalogs using go-playground/validator.
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"metergate/internal/types"
)

// LoadConfig loads and validates the metergate configuration from the
// environment. A missing or malformed required value returns an error; the
// caller is expected to treat that as fatal.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	// Best-effort dotenv for local development; absence is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	if err := parseCatalogs(&cfg); err != nil {
		return nil, err
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// parseCatalogs decodes the meter and plan JSON blobs into their typed
// catalogs and enforces the structural rules the resolvers rely on:
// unique meter event names, and at least one matchable identifier per plan.
func parseCatalogs(cfg *Config) error {
	if err := json.Unmarshal([]byte(cfg.Billing.MetersJSON), &cfg.Billing.Meters); err != nil {
		return fmt.Errorf("parsing BILLING_METERS_JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg.Billing.PlansJSON), &cfg.Billing.Plans); err != nil {
		return fmt.Errorf("parsing BILLING_PLANS_JSON: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Billing.Meters))
	for _, m := range cfg.Billing.Meters {
		if m.EventName == "" {
			return fmt.Errorf("meter catalog: event_name must not be empty")
		}
		if seen[m.EventName] {
			return fmt.Errorf("meter catalog: duplicate event_name %q", m.EventName)
		}
		seen[m.EventName] = true
	}

	for _, p := range cfg.Billing.Plans {
		if p.Name == "" {
			return fmt.Errorf("plan catalog: name must not be empty")
		}
		if p.PriceID == "" && p.LookupKey == "" && p.AnnualPriceID == "" && p.AnnualLookupKey == "" {
			return fmt.Errorf("plan catalog: plan %q has no price_id or lookup_key to match on", p.Name)
		}
	}

	return nil
}

// validateConfig runs struct-tag validation over the populated config.
func validateConfig(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	// SecretString fields validate against their unmasked value, not the
	// redacted placeholder String() would return.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if s, ok := field.Interface().(types.SecretString); ok {
			return s.Unmask()
		}
		return nil
	}, types.SecretString(""))

	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}
	return nil
}
