package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, GetDefaultConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*DomainopConfig)
		field  string
	}{
		{"unknown retry strategy", func(c *DomainopConfig) { c.Retry.Strategy = "linear" }, "retry.strategy"},
		{"initial above max", func(c *DomainopConfig) { c.Retry.InitialInterval = c.Retry.MaxInterval * 2 }, "retry.initialInterval"},
		{"multiplier below one", func(c *DomainopConfig) { c.Retry.Multiplier = 0.5 }, "retry.multiplier"},
		{"jitter out of range", func(c *DomainopConfig) { c.Retry.Jitter = 1 }, "retry.jitter"},
		{"negative attempts", func(c *DomainopConfig) { c.Retry.MaxAttempts = -1 }, "retry.maxAttempts"},
		{"unknown mode", func(c *DomainopConfig) { c.Reconciler.Mode = "auto" }, "reconciler.mode"},
		{"filesystem without path", func(c *DomainopConfig) { c.Reconciler.Mode = WatchModeFilesystem }, "reconciler.path"},
		{"negative resync", func(c *DomainopConfig) { c.Reconciler.ResyncInterval = -1 }, "reconciler.resyncInterval"},
		{"no call slots", func(c *DomainopConfig) { c.Engine.MaxInFlightCalls = 0 }, "engine.maxInFlightCalls"},
		{"unknown log level", func(c *DomainopConfig) { c.Logging.Level = "verbose" }, "logging.level"},
		{"unknown log format", func(c *DomainopConfig) { c.Logging.Format = "xml" }, "logging.format"},
		{"telemetry without endpoint", func(c *DomainopConfig) { c.Telemetry.Enabled = true; c.Telemetry.Endpoint = "" }, "telemetry.endpoint"},
		{"sampling above one", func(c *DomainopConfig) { c.Telemetry.Enabled = true; c.Telemetry.Sampling = 1.5 }, "telemetry.sampling"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestValidate_DisabledTelemetryIsNotChecked(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Endpoint = ""
	cfg.Telemetry.Sampling = 7
	assert.NoError(t, cfg.Validate())
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())
	assert.False(t, errs.HasErrors())

	errs.Add("a", "is wrong")
	assert.Equal(t, "field 'a': is wrong", errs.Error())

	errs.Add("", "general problem")
	assert.Equal(t, "validation failed: field 'a': is wrong; general problem", errs.Error())
	assert.True(t, errs.HasErrors())
}

func TestFormatValidationError(t *testing.T) {
	assert.Nil(t, FormatValidationError("config", "x", nil))

	err := FormatValidationError("domain", "sales", ValidationError{Field: "spec.image", Message: "is required"})
	assert.EqualError(t, err, "validation failed for domain 'sales': field 'spec.image': is required")

	err = FormatValidationError("config", "", errors.New("boom"))
	assert.EqualError(t, err, "validation failed for config: boom")
}

func TestConfigurationErrorCollection(t *testing.T) {
	c := NewConfigurationErrorCollection()
	assert.False(t, c.HasErrors())
	assert.Equal(t, "No configuration errors to report", c.GetDetailedReport())

	c.Add(NewConfigurationError("/d/domains/a.yaml", "a.yaml", "domains", "parse", "bad yaml"))
	assert.Equal(t, "[domains] a.yaml: bad yaml", c.Error())

	c.Add(ConfigurationError{
		FilePath:    "/d/config.yaml",
		FileName:    "config.yaml",
		Category:    "config",
		ErrorType:   "validation",
		Message:     "engine.workers must be at least 1",
		Suggestions: []string{"set engine.workers"},
	})
	assert.Equal(t, 2, c.Count())
	assert.Len(t, c.GetErrorsByCategory("domains"), 1)
	assert.Contains(t, c.Error(), "2 configuration errors")

	report := c.GetDetailedReport()
	assert.Contains(t, report, "File: /d/config.yaml")
	assert.Contains(t, report, "- set engine.workers")
}
