package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override config
// file values, e.g. FORGY_VUS or FORGY_RAMP_UP.
const EnvPrefix = "FORGY"

// Flag names.
const (
	FlagURL            = "url"
	FlagMethod         = "method"
	FlagHeader         = "header"
	FlagBody           = "body"
	FlagVUs            = "vus"
	FlagRampUp         = "ramp-up"
	FlagHold           = "hold"
	FlagRampDown       = "ramp-down"
	FlagTimeout        = "timeout"
	FlagMaxWorkers     = "max-workers"
	FlagRemoteWriteURL = "remote-write-url"
	FlagPushgatewayURL = "pushgateway-url"
	FlagLabel          = "label"
	FlagExportInterval = "export-interval"
	FlagExportTimeout  = "export-timeout"
	FlagNamespace      = "namespace"
	FlagOutput         = "output"
	FlagConfig         = "config"
	FlagInsecure       = "insecure"
	FlagLogLevel       = "log-level"
	FlagSampleCapacity = "sample-capacity"
	FlagTickInterval   = "tick-interval"
)

// settingKey maps a flag name to its config file and environment key.
func settingKey(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

// boundFlags lists every flag that maps onto a config setting.
var boundFlags = []string{
	FlagURL, FlagMethod, FlagHeader, FlagBody, FlagVUs, FlagRampUp, FlagHold,
	FlagRampDown, FlagTimeout, FlagMaxWorkers, FlagRemoteWriteURL,
	FlagPushgatewayURL, FlagLabel, FlagExportInterval, FlagExportTimeout,
	FlagNamespace, FlagOutput, FlagInsecure, FlagLogLevel, FlagSampleCapacity,
	FlagTickInterval,
}

// RegisterFlags registers the load test flags on a flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	// Target
	flags.String(FlagURL, "", "Target URL to load test")
	flags.StringP(FlagMethod, "X", DefaultMethod, "HTTP method")
	flags.StringArrayP(FlagHeader, "H", nil, "Request header in \"Key: Value\" form (repeatable)")
	flags.StringP(FlagBody, "d", "", "Request body")
	flags.Duration(FlagTimeout, DefaultTimeout, "Per-request timeout")

	// Load profile
	flags.IntP(FlagVUs, "u", DefaultVUs, "Peak number of virtual users")
	flags.Duration(FlagRampUp, DefaultRampUp, "Ramp-up duration")
	flags.Duration(FlagHold, DefaultHold, "Hold duration at peak VUs")
	flags.Duration(FlagRampDown, DefaultRampDown, "Ramp-down duration")
	flags.Int(FlagMaxWorkers, 0, "Upper bound on concurrent VUs (0 = no limit)")

	// Export
	flags.String(FlagRemoteWriteURL, "", "Prometheus remote-write endpoint for live metrics")
	flags.String(FlagPushgatewayURL, "", "Prometheus Pushgateway base URL for live metrics")
	flags.String(FlagLabel, DefaultLabel, "Job label attached to exported metrics")
	flags.Duration(FlagExportInterval, DefaultExportInterval, "Interval between metric pushes")
	flags.Duration(FlagExportTimeout, DefaultExportTimeout, "Deadline for a single metric push")
	flags.String(FlagNamespace, "", "Prefix for exported metric names")

	// Output and tuning
	flags.StringP(FlagOutput, "o", "", "Write the final result to a file (.json, .yaml or .yml)")
	flags.StringP(FlagConfig, "c", "", "Path to a config file (YAML, JSON or TOML)")
	flags.Bool(FlagInsecure, false, "Skip TLS certificate verification")
	flags.String(FlagLogLevel, DefaultLogLevel, "Log level (debug, info, warn, error)")
	flags.Int(FlagSampleCapacity, DefaultSampleCapacity, "Number of recent latencies kept for percentiles")
	flags.Duration(FlagTickInterval, DefaultTickInterval, "Scheduler tick interval")
}

// Loader builds a TestConfig from a config file, environment variables and
// flags. Flags win over environment, which wins over the file.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load resolves the configuration from flags registered with RegisterFlags.
// The result is normalized and validated.
func (Loader) Load(flags *pflag.FlagSet) (*TestConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configPath, _ := flags.GetString(FlagConfig); configPath != "" {
		settings, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(settings); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
	}

	for _, name := range boundFlags {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(settingKey(name), f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg, err := fromViper(v, flags)
	if err != nil {
		return nil, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfigFile reads a config file with its own viper instance so that its
// shape can be checked before it is merged with flags and environment.
func readConfigFile(path string) (map[string]interface{}, error) {
	fv := viper.New()
	fv.SetConfigFile(path)
	if err := fv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	settings := fv.AllSettings()
	if err := ValidateFileSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func fromViper(v *viper.Viper, flags *pflag.FlagSet) (*TestConfig, error) {
	cfg := &TestConfig{
		URL:            v.GetString(settingKey(FlagURL)),
		Method:         v.GetString(settingKey(FlagMethod)),
		Body:           v.GetString(settingKey(FlagBody)),
		Timeout:        v.GetDuration(settingKey(FlagTimeout)),
		VUs:            v.GetInt(settingKey(FlagVUs)),
		RampUp:         v.GetDuration(settingKey(FlagRampUp)),
		Hold:           v.GetDuration(settingKey(FlagHold)),
		RampDown:       v.GetDuration(settingKey(FlagRampDown)),
		MaxWorkers:     v.GetInt(settingKey(FlagMaxWorkers)),
		Output:         v.GetString(settingKey(FlagOutput)),
		SampleCapacity: v.GetInt(settingKey(FlagSampleCapacity)),
		TickInterval:   v.GetDuration(settingKey(FlagTickInterval)),
		Insecure:       v.GetBool(settingKey(FlagInsecure)),
		LogLevel:       v.GetString(settingKey(FlagLogLevel)),
		Export: ExportConfig{
			Kind:      ExportNone,
			Label:     v.GetString(settingKey(FlagLabel)),
			Interval:  v.GetDuration(settingKey(FlagExportInterval)),
			Timeout:   v.GetDuration(settingKey(FlagExportTimeout)),
			Namespace: v.GetString(settingKey(FlagNamespace)),
		},
	}

	// Viper reads string arrays back as CSV, which splits header values
	// containing commas, so take changed flags verbatim.
	var rawHeaders []string
	if flags.Changed(FlagHeader) {
		rawHeaders, _ = flags.GetStringArray(FlagHeader)
	} else {
		rawHeaders = v.GetStringSlice(settingKey(FlagHeader))
	}
	for _, raw := range rawHeaders {
		h, err := ParseHeader(raw)
		if err != nil {
			return nil, &ValidationErrors{Errors: []*ValidationError{{Field: "header", Message: err.Error()}}}
		}
		cfg.Headers = append(cfg.Headers, h)
	}

	remoteWrite := v.GetString(settingKey(FlagRemoteWriteURL))
	pushgateway := v.GetString(settingKey(FlagPushgatewayURL))
	switch {
	case remoteWrite != "" && pushgateway != "":
		return nil, &ValidationErrors{Errors: []*ValidationError{{
			Field:   "export",
			Message: "remote_write_url and pushgateway_url are mutually exclusive",
		}}}
	case remoteWrite != "":
		cfg.Export.Kind = ExportRemoteWrite
		cfg.Export.URL = remoteWrite
	case pushgateway != "":
		cfg.Export.Kind = ExportPushgateway
		cfg.Export.URL = pushgateway
	}

	return cfg, nil
}
