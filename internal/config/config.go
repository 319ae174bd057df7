// Package config loads runtime configuration from defaults, an optional
// YAML or TOML file, and MULTIVERSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
	"github.com/GrigorianNick/multiverse-simulator/internal/store"
)

// EnvPrefix is the prefix of environment overrides. Nested keys use
// underscores: MULTIVERSE_STORE_BACKEND sets store.backend.
const EnvPrefix = "MULTIVERSE"

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// PhysicsConfig parameterizes the Newtonian stepper.
type PhysicsConfig struct {
	GravitationalConstant float64 `mapstructure:"gravitational_constant"`
	Timestep              float64 `mapstructure:"timestep"`
	Softening             float64 `mapstructure:"softening"`
}

// SeedConfig names the file holding the bodies of a new root.
type SeedConfig struct {
	File string `mapstructure:"file"`
}

// LimitsConfig bounds the work a single request may queue.
type LimitsConfig struct {
	// MaxDuration caps the ticks of one advance or branch. Zero disables
	// the cap.
	MaxDuration int `mapstructure:"max_duration"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	TraceExporter string `mapstructure:"trace_exporter"`
	ServiceName   string `mapstructure:"service_name"`
}

// Config holds all runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Physics   PhysicsConfig   `mapstructure:"physics"`
	Seed      SeedConfig      `mapstructure:"seed"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// Stepper builds the configured physics stepper.
func (p PhysicsConfig) Stepper() physics.Newtonian {
	return physics.Newtonian{
		G:         p.GravitationalConstant,
		Timestep:  p.Timestep,
		Softening: p.Softening,
	}
}

// StoreOptions converts the store section for store.Open.
func (c Config) StoreOptions(logger *slog.Logger) store.Config {
	return store.Config{
		Kind:   c.Store.Backend,
		Path:   c.Store.Path,
		Logger: logger,
	}
}

// Validate rejects values the rest of the program cannot act on.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case store.KindSQLite, store.KindBadger:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for backend %q", c.Store.Backend))
		}
	case store.KindMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: must be sqlite, badger or memory", c.Store.Backend))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: must be text or json", c.Log.Format))
	}
	if c.Physics.Timestep < 0 {
		errs = append(errs, fmt.Errorf("physics.timestep must be non-negative"))
	}
	if c.Physics.Softening < 0 {
		errs = append(errs, fmt.Errorf("physics.softening must be non-negative"))
	}
	if c.Limits.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("limits.max_duration must be non-negative"))
	}
	switch c.Telemetry.TraceExporter {
	case "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("telemetry.trace_exporter %q: must be none or stdout", c.Telemetry.TraceExporter))
	}
	return errors.Join(errs...)
}

// Loader owns a viper instance. Keep one per process so that live reload
// and the values returned by Config agree.
type Loader struct {
	v *viper.Viper
}

// NewLoader reads configuration. When path is empty, multiverse.yaml or
// multiverse.toml in the working directory is used if present.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("multiverse")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return &Loader{v: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("store.backend", store.KindSQLite)
	v.SetDefault("store.path", "multiverse.db")
	v.SetDefault("physics.gravitational_constant", physics.DefaultGravitationalConstant)
	v.SetDefault("physics.timestep", 1.0)
	v.SetDefault("physics.softening", 0.0)
	v.SetDefault("seed.file", "")
	v.SetDefault("limits.max_duration", multiverse.DefaultMaxDuration)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("telemetry.trace_exporter", "none")
	v.SetDefault("telemetry.service_name", "multiverse")
}

// Config decodes and validates the current values.
func (l *Loader) Config() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Set overrides a key, as a bound flag would.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// WatchLevel re-reads log.level whenever the config file changes and
// applies it to level. Other keys take effect on restart. It is a no-op
// when no file is in use.
func (l *Loader) WatchLevel(level *slog.LevelVar, logger *slog.Logger) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.applyLevel(e, level, logger)
	})
	l.v.WatchConfig()
}

func (l *Loader) applyLevel(e fsnotify.Event, level *slog.LevelVar, logger *slog.Logger) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	next, err := ParseLevel(l.v.GetString("log.level"))
	if err != nil {
		logger.Warn("ignoring config change", "file", e.Name, "error", err)
		return
	}
	if next == level.Level() {
		return
	}
	logger.Info("log level changed", "from", level.Level().String(), "to", next.String())
	level.Set(next)
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return lvl, nil
}

// NewLogger builds a text or JSON slog logger writing to w at level.
func NewLogger(cfg LogConfig, w io.Writer, level *slog.LevelVar) (*slog.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	level.Set(lvl)

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format %q: must be text or json", cfg.Format)
	}
}
