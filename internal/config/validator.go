package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/prometheus/common/model"
	"go.uber.org/zap/zapcore"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(c, errs)
	validateProfile(c, errs)
	validateExport(&c.Export, errs)

	if c.SampleCapacity < 1 {
		errs.Add("sample_capacity", "must be at least 1")
	}
	if c.TickInterval <= 0 {
		errs.Add("tick_interval", "must be positive")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs.Add("log_level", fmt.Sprintf("unknown level %q", c.LogLevel))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(c *TestConfig, errs *ValidationErrors) {
	if c.URL == "" {
		errs.Add("url", "url is required")
	} else if err := validateURL(c.URL); err != nil {
		errs.Add("url", err.Error())
	}

	if !isToken(c.Method) {
		errs.Add("method", fmt.Sprintf("invalid HTTP method %q", c.Method))
	}

	for i, h := range c.Headers {
		if !isToken(h.Key) {
			errs.Add(fmt.Sprintf("headers[%d]", i), fmt.Sprintf("invalid header name %q", h.Key))
		}
	}

	if c.Timeout <= 0 {
		errs.Add("timeout", "must be positive")
	}
}

func validateProfile(c *TestConfig, errs *ValidationErrors) {
	if c.VUs < 1 {
		errs.Add("vus", "must be at least 1")
	}
	if c.RampUp < 0 {
		errs.Add("ramp_up", "must not be negative")
	}
	if c.Hold < 0 {
		errs.Add("hold", "must not be negative")
	}
	if c.RampDown < 0 {
		errs.Add("ramp_down", "must not be negative")
	}
	if c.MaxWorkers < 0 {
		errs.Add("max_workers", "must not be negative")
	}
}

func validateExport(e *ExportConfig, errs *ValidationErrors) {
	// Same rule as the namespace pattern in schema.json.
	if e.Namespace != "" && !model.IsValidLegacyMetricName(e.Namespace) {
		errs.Add("namespace", fmt.Sprintf("invalid metric namespace %q", e.Namespace))
	}

	switch e.Kind {
	case ExportNone:
		return
	case ExportRemoteWrite, ExportPushgateway:
	default:
		errs.Add("export.kind", fmt.Sprintf("unknown export kind %q", e.Kind))
		return
	}

	if e.URL == "" {
		errs.Add("export.url", "url is required when exporting")
	} else if err := validateURL(e.URL); err != nil {
		errs.Add("export.url", err.Error())
	}
	if strings.TrimSpace(e.Label) == "" {
		errs.Add("label", "must not be empty")
	}
	if e.Interval <= 0 {
		errs.Add("export_interval", "must be positive")
	}
	if e.Timeout <= 0 {
		errs.Add("export_timeout", "must be positive")
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

// isToken reports whether s is a valid HTTP token (RFC 7230), which covers
// both method names and header field names.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
