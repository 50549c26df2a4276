package config

import (
	"fmt"
	"strings"

	"domainop/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// addErr appends err if it is a ValidationError.
func (ve *ValidationErrors) addErr(err error) {
	if err == nil {
		return
	}
	if v, ok := err.(ValidationError); ok {
		*ve = append(*ve, v)
		return
	}
	ve.Add("", err.Error())
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value, entityType string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("is required for %s", entityType),
		}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// FormatValidationError creates a consistent validation error message
func FormatValidationError(entityType, entityName string, err error) error {
	if err == nil {
		return nil
	}

	if entityName != "" {
		return fmt.Errorf("validation failed for %s '%s': %w", entityType, entityName, err)
	}
	return fmt.Errorf("validation failed for %s: %w", entityType, err)
}

// Validate checks every section and returns ValidationErrors listing all
// problems, or nil.
func (c DomainopConfig) Validate() error {
	var errs ValidationErrors

	if c.Engine.Workers < 1 {
		errs.Add("engine.workers", "must be at least 1", c.Engine.Workers)
	}
	if c.Engine.FiberTimeout < 0 {
		errs.Add("engine.fiberTimeout", "must not be negative", c.Engine.FiberTimeout)
	}
	if c.Engine.ShutdownTimeout < 0 {
		errs.Add("engine.shutdownTimeout", "must not be negative", c.Engine.ShutdownTimeout)
	}
	if c.Engine.MaxInFlightCalls < 1 {
		errs.Add("engine.maxInFlightCalls", "must be at least 1", c.Engine.MaxInFlightCalls)
	}
	if c.Engine.CallTimeout < 0 {
		errs.Add("engine.callTimeout", "must not be negative", c.Engine.CallTimeout)
	}

	errs.addErr(ValidateOneOf("retry.strategy", string(c.Retry.Strategy),
		[]string{string(RetryExponential), string(RetryFixed), string(RetryNone)}))
	if c.Retry.InitialInterval < 0 || c.Retry.MaxInterval < 0 {
		errs.Add("retry", "intervals must not be negative")
	}
	if c.Retry.MaxInterval > 0 && c.Retry.InitialInterval > c.Retry.MaxInterval {
		errs.Add("retry.initialInterval", "must not exceed retry.maxInterval", c.Retry.InitialInterval)
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		errs.Add("retry.multiplier", "must be at least 1", c.Retry.Multiplier)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		errs.Add("retry.jitter", "must be in [0, 1)", c.Retry.Jitter)
	}
	if c.Retry.MaxAttempts < 0 {
		errs.Add("retry.maxAttempts", "must not be negative", c.Retry.MaxAttempts)
	}

	errs.addErr(ValidateOneOf("reconciler.mode", string(c.Reconciler.Mode),
		[]string{string(WatchModeKubernetes), string(WatchModeFilesystem)}))
	if c.Reconciler.Mode == WatchModeFilesystem {
		errs.addErr(ValidateRequired("reconciler.path", c.Reconciler.Path, "filesystem mode"))
	}
	if c.Reconciler.DebounceInterval < 0 {
		errs.Add("reconciler.debounceInterval", "must not be negative", c.Reconciler.DebounceInterval)
	}
	if c.Reconciler.ResyncInterval < 0 {
		errs.Add("reconciler.resyncInterval", "must not be negative", c.Reconciler.ResyncInterval)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), c.Logging.Level)
	}
	errs.addErr(ValidateOneOf("logging.format", c.Logging.Format, []string{"text", "json"}))

	if c.Telemetry.Enabled {
		errs.addErr(ValidateRequired("telemetry.endpoint", c.Telemetry.Endpoint, "telemetry"))
		if c.Telemetry.Sampling < 0 || c.Telemetry.Sampling > 1 {
			errs.Add("telemetry.sampling", "must be in [0, 1]", c.Telemetry.Sampling)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
