package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that cannot
// be expressed in tags.
//
// Returns an error describing the first validation failure.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if strings.TrimSpace(cfg.Server.ErrorPage) == "" {
		return fmt.Errorf("server.error_page: must not be empty")
	}

	if cfg.RateLimit.RequestsPerSecond == 0 && cfg.RateLimit.Burst > 0 {
		return fmt.Errorf("rate_limit.burst: requires requests_per_second")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Bind.Listen {
		return fmt.Errorf("metrics.port: %d already used by bind.listen", cfg.Metrics.Port)
	}

	for prefix := range cfg.Locations {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("locations[%q]: location must start with /", prefix)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
