// Package storageconfig opens one or more object-store backends from
// configuration, giving runtime backend selection on top of storage/registry.
//
// Callers still need to link the desired backend packages via blank imports.
//
// WritePolicy values:
//   - "first" (default): write only to the first backend; reads fall back in order
//   - "all": write to every backend (see storage.ReplicatingStore)
//
// Example (YAML):
//
//	write_policy: all
//	backends:
//	  - name: localfs
//	    config: {localfs-dir: /var/lib/bindle}
//	  - name: gcs
//	    config: {gcs-bucket: my-bindles}
package storageconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nitishm/bindle/storage"
	"github.com/nitishm/bindle/storage/registry"
)

type Config struct {
	WritePolicy string          `yaml:"write_policy,omitempty" mapstructure:"write_policy"`
	Backends    []BackendConfig `yaml:"backends" mapstructure:"backends"`
}

type BackendConfig struct {
	// Name is the registry backend name to open (e.g. "localfs", "gcs").
	Name string `yaml:"name" mapstructure:"name"`
	// ID is an optional stable alias used in logs and errors. Defaults to Name.
	ID     string            `yaml:"id,omitempty" mapstructure:"id"`
	Config map[string]string `yaml:"config,omitempty" mapstructure:"config"`
}

// LoadFile reads a YAML (or JSON) storage config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("storageconfig: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("storageconfig: %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("storageconfig: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("storageconfig: backend name is required")
		}
		id := b.id()
		if _, ok := seen[id]; ok {
			return fmt.Errorf("storageconfig: duplicate backend id %q", id)
		}
		seen[id] = struct{}{}
	}
	switch c.WritePolicy {
	case "", "first", "all":
		return nil
	default:
		return fmt.Errorf("storageconfig: invalid write_policy %q", c.WritePolicy)
	}
}

func (b BackendConfig) id() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

// Open opens the configured stores and combines them per WritePolicy. The
// returned close function closes every backend in reverse order.
func (c Config) Open(usage registry.Usage) (storage.ObjectStore, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	named := make([]storage.NamedStore, 0, len(c.Backends))
	closers := make([]func() error, 0, len(c.Backends))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, b := range c.Backends {
		s, closeFn, err := registry.OpenWithConfig(b.Name, usage, b.Config)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("storageconfig: backend %q: %w", b.id(), err)
		}
		named = append(named, storage.NamedStore{Name: b.id(), Store: s})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].Store, closeAll, nil
	}

	switch c.WritePolicy {
	case "", "first":
		stores := make([]storage.ObjectStore, 0, len(named))
		for _, n := range named {
			stores = append(stores, n.Store)
		}
		return storage.MultiStore{Stores: stores}, closeAll, nil
	case "all":
		return storage.ReplicatingStore{Backends: named}, closeAll, nil
	default:
		_ = closeAll()
		return nil, nil, fmt.Errorf("storageconfig: invalid write_policy %q", c.WritePolicy)
	}
}
