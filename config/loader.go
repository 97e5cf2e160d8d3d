package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/batchsync/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "BATCHSYNC"

// LegacyAdDirEnv is the variable the original tooling read the source
// directory from. BATCHSYNC_SOURCE_AD_DIR takes precedence.
const LegacyAdDirEnv = "SOURCE_AD_STORAGE_DIR"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies defaults, file layers and environment overrides in order
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw reads a JSON or YAML file into a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields
// present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	dec := json.NewDecoder(strings.NewReader(string(mergedJSON)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// durationKeys lists the fields decoded as duration strings, per section
var durationKeys = map[string][]string{
	"nats":    {"reconnect_wait", "timeout", "drain_timeout"},
	"metrics": {"stream_interval"},
}

// parseDurations converts duration strings ("2s", "500ms") to nanoseconds
// so they decode into time.Duration fields
func parseDurations(data map[string]any) error {
	for section, keys := range durationKeys {
		values, ok := data[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			s, ok := values[key].(string)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", section, key, err)
			}
			values[key] = d.Nanoseconds()
		}
	}
	return nil
}

// env returns the validated value of name, if set and non-empty
func (l *Loader) env(name string) (string, bool, error) {
	val, ok := l.lookupEnv(name)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(name, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+name)
	}
	return val, true, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	p := l.envPrefix + "_"

	strs := []struct {
		name   string
		target *string
	}{
		{LegacyAdDirEnv, &cfg.Source.AdDir},
		{p + "SOURCE_AD_DIR", &cfg.Source.AdDir},
		{p + "CACHE_PATH", &cfg.Cache.Path},
		{p + "PUBLISH_SUBJECT", &cfg.Publish.Subject},
		{p + "NATS_USERNAME", &cfg.NATS.Username},
		{p + "NATS_PASSWORD", &cfg.NATS.Password},
		{p + "NATS_TOKEN", &cfg.NATS.Token},
		{p + "NATS_JETSTREAM_STREAM", &cfg.NATS.JetStream.Stream},
		{p + "LOG_LEVEL", &cfg.Log.Level},
		{p + "LOG_FORMAT", &cfg.Log.Format},
		{p + "LOG_DIAGNOSTICS_FILE", &cfg.Log.DiagnosticsFile},
	}
	for _, s := range strs {
		val, ok, err := l.env(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.target = val
		}
	}

	if val, ok, err := l.env(p + "NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = splitList(val)
	}

	ints := []struct {
		name   string
		target *int
	}{
		{p + "PUBLISH_START", &cfg.Publish.Start},
		{p + "PUBLISH_END", &cfg.Publish.End},
		{p + "METRICS_PORT", &cfg.Metrics.Port},
	}
	for _, i := range ints {
		val, ok, err := l.env(i.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+i.name)
		}
		*i.target = n
	}

	if val, ok, err := l.env(p + "PUBLISH_RATE"); err != nil {
		return err
	} else if ok {
		r, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+p+"PUBLISH_RATE")
		}
		cfg.Publish.Rate = r
	}

	bools := []struct {
		name   string
		target *bool
	}{
		{p + "CACHE_ONLY", &cfg.Cache.Only},
		{p + "CACHE_FROM_CACHE", &cfg.Cache.FromCache},
		{p + "PUBLISH_DRY_RUN", &cfg.Publish.DryRun},
		{p + "NATS_JETSTREAM_ENABLED", &cfg.NATS.JetStream.Enabled},
		{p + "NATS_JETSTREAM_CREATE_STREAM", &cfg.NATS.JetStream.CreateStream},
	}
	for _, b := range bools {
		val, ok, err := l.env(b.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		v, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+b.name)
		}
		*b.target = v
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
