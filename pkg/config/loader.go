package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables read by Load. Underscores after
// the prefix separate sections: NODESHELL_ENGINE_INTERVAL sets
// engine.interval.
const EnvPrefix = "NODESHELL_"

// Defaults returns the lowest configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"host":            "127.0.0.1",
		"port":            8081,
		"verbose":         false,
		"log":             "",
		"shell.timeout":   time.Duration(0),
		"shell.attach":    "",
		"engine.interval": time.Second,
		"engine.storage":  filepath.Join(os.TempDir(), "nodeshell"),
		"engine.channel":  "127.0.0.1:8082",
	}
}

// Loader layers configuration sources. Later layers override earlier
// ones: defaults, YAML file, environment, overrides.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix replaces EnvPrefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile adds a YAML file layer.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// NewLoader ...
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: EnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds the configuration. overrides holds the explicitly set CLI
// flags, keyed like the file, e.g. "engine.interval".
func (l *Loader) Load(overrides map[string]any) (*Config, error) {
	if err := l.k.Load(mapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", l.filePath, err)
		}
	}

	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(mapProvider(overrides), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Get returns the merged value at key.
func (l *Loader) Get(key string) any {
	return l.k.Get(key)
}

var errReadBytes = errors.New("map provider does not support ReadBytes")

// mapProvider feeds a flat or nested map into koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytes
}

func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m, "."), nil
}
