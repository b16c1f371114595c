package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/coral-inspector/internal/safe"
)

// Loader reads configuration files.
type Loader struct {
	lookup LookupFunc
}

// NewLoader creates a loader that reads overrides from the process
// environment.
func NewLoader() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// NewLoaderWithEnv creates a loader that reads overrides from lookup.
func NewLoaderWithEnv(lookup LookupFunc) *Loader {
	return &Loader{lookup: lookup}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file, or an empty path, yields the defaults.
func (l *Loader) Load(path string) (*InspectorConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := safe.ReadFile(path, &safe.ReadOptions{AllowSymlinks: true})
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := decode(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := ApplyEnvFrom(cfg, l.lookup); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write encodes cfg as YAML.
func Write(w io.Writer, cfg *InspectorConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func decode(data []byte, cfg *InspectorConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
