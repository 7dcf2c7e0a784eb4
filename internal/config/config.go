// Package config defines the load test configuration and loads it from
// flags, environment and config files.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ExportKind selects where live metrics are pushed.
type ExportKind string

const (
	// ExportNone disables metric export.
	ExportNone ExportKind = "none"

	// ExportRemoteWrite pushes to a Prometheus remote-write endpoint.
	ExportRemoteWrite ExportKind = "remote-write"

	// ExportPushgateway pushes to a Prometheus Pushgateway.
	ExportPushgateway ExportKind = "pushgateway"
)

// Default values.
const (
	DefaultMethod         = http.MethodGet
	DefaultVUs            = 10
	DefaultRampUp         = 10 * time.Second
	DefaultHold           = 30 * time.Second
	DefaultRampDown       = 10 * time.Second
	DefaultTimeout        = 30 * time.Second
	DefaultLabel          = "forgy"
	DefaultExportInterval = 10 * time.Second
	DefaultExportTimeout  = 5 * time.Second
	DefaultSampleCapacity = 10000
	DefaultTickInterval   = 100 * time.Millisecond
	DefaultLogLevel       = "info"
)

// Header is a single request header. Order is preserved and the same key may
// appear more than once.
type Header struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// String returns the header in "Key: Value" form.
func (h Header) String() string {
	return h.Key + ": " + h.Value
}

// ParseHeader parses a header in "Key: Value" form.
func ParseHeader(raw string) (Header, error) {
	key, value, ok := strings.Cut(raw, ":")
	if !ok {
		return Header{}, fmt.Errorf("header %q: expected \"Key: Value\"", raw)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Header{}, fmt.Errorf("header %q: empty key", raw)
	}
	return Header{Key: key, Value: strings.TrimSpace(value)}, nil
}

// ExportConfig configures the live metrics exporter.
type ExportConfig struct {
	Kind ExportKind `json:"kind" yaml:"kind"`
	URL  string     `json:"url,omitempty" yaml:"url,omitempty"`

	// Label is the job label attached to every exported series.
	Label string `json:"label" yaml:"label"`

	// Interval between pushes.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Namespace prefixes every metric name when set.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	// Timeout bounds a single push.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// TestConfig is the complete description of a load test run.
type TestConfig struct {
	// Target
	URL     string        `json:"url" yaml:"url"`
	Method  string        `json:"method" yaml:"method"`
	Headers []Header      `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string        `json:"body,omitempty" yaml:"body,omitempty"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Load profile
	VUs        int           `json:"vus" yaml:"vus"`
	RampUp     time.Duration `json:"ramp_up" yaml:"ramp_up"`
	Hold       time.Duration `json:"hold" yaml:"hold"`
	RampDown   time.Duration `json:"ramp_down" yaml:"ramp_down"`
	MaxWorkers int           `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`

	Export ExportConfig `json:"export" yaml:"export"`

	// Output is the result file path; empty disables the file.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	SampleCapacity int           `json:"sample_capacity" yaml:"sample_capacity"`
	TickInterval   time.Duration `json:"tick_interval" yaml:"tick_interval"`
	Insecure       bool          `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	LogLevel       string        `json:"log_level" yaml:"log_level"`
}

// Default returns a configuration with every default applied and no URL.
func Default() *TestConfig {
	return &TestConfig{
		Method:   DefaultMethod,
		Timeout:  DefaultTimeout,
		VUs:      DefaultVUs,
		RampUp:   DefaultRampUp,
		Hold:     DefaultHold,
		RampDown: DefaultRampDown,
		Export: ExportConfig{
			Kind:     ExportNone,
			Label:    DefaultLabel,
			Interval: DefaultExportInterval,
			Timeout:  DefaultExportTimeout,
		},
		SampleCapacity: DefaultSampleCapacity,
		TickInterval:   DefaultTickInterval,
		LogLevel:       DefaultLogLevel,
	}
}

// Normalize trims inputs, upper-cases the method and fills zero values
// with defaults.
func (c *TestConfig) Normalize() {
	c.URL = strings.TrimSpace(c.URL)
	c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
	if c.Method == "" {
		c.Method = DefaultMethod
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Export.Kind == "" {
		c.Export.Kind = ExportNone
	}
	if c.Export.Label == "" {
		c.Export.Label = DefaultLabel
	}
	if c.Export.Interval == 0 {
		c.Export.Interval = DefaultExportInterval
	}
	if c.Export.Timeout == 0 {
		c.Export.Timeout = DefaultExportTimeout
	}
	if c.SampleCapacity == 0 {
		c.SampleCapacity = DefaultSampleCapacity
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// TotalDuration returns the length of the full load profile.
func (c *TestConfig) TotalDuration() time.Duration {
	return c.RampUp + c.Hold + c.RampDown
}
