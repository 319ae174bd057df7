// Package seed loads the initial bodies of a new multiverse from YAML or
// TOML files.
package seed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported seed format")

// Body is one seeded body. An empty ID gets a fresh handle when the root
// is created.
type Body struct {
	ID       string       `yaml:"id" toml:"id"`
	Position physics.Vec3 `yaml:"position" toml:"position"`
	Velocity physics.Vec3 `yaml:"velocity" toml:"velocity"`
	Mass     float64      `yaml:"mass" toml:"mass"`
}

// Config is the contents of a seed file.
type Config struct {
	Bodies []Body `yaml:"bodies" toml:"bodies"`
}

// Load reads a seed file, choosing the decoder by extension.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading seed file: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("seed file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ids and values. Duplicate ids would collapse into one
// body on materialization.
func (c Config) Validate() error {
	seen := make(map[handle.Handle]bool, len(c.Bodies))
	for i, b := range c.Bodies {
		if b.ID != "" {
			h, err := handle.Parse(b.ID)
			if err != nil {
				return fmt.Errorf("body %d: %w", i, err)
			}
			if seen[h] {
				return fmt.Errorf("body %d: duplicate id %s", i, b.ID)
			}
			seen[h] = true
		}
		if _, err := b.patch(); err != nil {
			return fmt.Errorf("body %d: %w", i, err)
		}
	}
	return nil
}

// Patches converts the seed into the root's patch list. Each patch sets
// all three attributes of one body.
func (c Config) Patches() ([]multiverse.BranchParams, error) {
	out := make([]multiverse.BranchParams, 0, len(c.Bodies))
	for i, b := range c.Bodies {
		p, err := b.patch()
		if err != nil {
			return nil, fmt.Errorf("body %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (b Body) patch() (multiverse.BranchParams, error) {
	var target handle.Handle
	if b.ID != "" {
		h, err := handle.Parse(b.ID)
		if err != nil {
			return multiverse.BranchParams{}, err
		}
		target = h
	}
	p := multiverse.BranchParams{
		TargetBody: target,
		Position:   multiverse.Vec(b.Position.X, b.Position.Y, b.Position.Z),
		Velocity:   multiverse.Vec(b.Velocity.X, b.Velocity.Y, b.Velocity.Z),
		Mass:       multiverse.Float(b.Mass),
	}
	if err := p.Validate(); err != nil {
		return multiverse.BranchParams{}, err
	}
	return p, nil
}
