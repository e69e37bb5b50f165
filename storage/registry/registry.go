// Package registry is the build-time plugin table of object-store backends.
//
// Backends register themselves in init():
//
//	registry.MustRegister(registry.Backend{ ... })
//
// A binary enables a backend by importing its package, usually as a blank
// import.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/pflag"

	"github.com/nitishm/bindle/storage"
)

// Usage restricts which programs should accept a given backend.
type Usage uint8

const (
	// UsageCLI marks backends available to client-side tools.
	UsageCLI Usage = 1 << iota
	// UsageServer marks backends available to the long-running server.
	UsageServer
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }

// Backend opens one storage.ObjectStore implementation.
type Backend struct {
	Name        string
	Description string
	Usage       Usage
	// ParcelsOnly marks backends that accept only digest-terminated keys, so
	// they cannot also hold invoice documents.
	ParcelsOnly bool

	// RegisterFlags adds backend-specific flags to fs. It must be safe to call
	// once per flag set.
	RegisterFlags func(fs *pflag.FlagSet)

	// Open constructs the store from values parsed into the flags added by
	// RegisterFlags. It returns an optional close function.
	Open func() (storage.ObjectStore, func() error, error)

	// OpenConfig constructs the store from a key/value config map. Keys mirror
	// the flag names.
	OpenConfig func(cfg map[string]string) (storage.ObjectStore, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("registry: backend name is required")
	}
	if b.RegisterFlags == nil {
		return fmt.Errorf("registry: backend %q missing RegisterFlags", b.Name)
	}
	if b.Open == nil {
		return fmt.Errorf("registry: backend %q missing Open", b.Name)
	}
	if b.OpenConfig == nil {
		return fmt.Errorf("registry: backend %q missing OpenConfig", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("registry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("registry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// RegisterFlags registers flags for all backends matching usage.
func RegisterFlags(fs *pflag.FlagSet, usage Usage) {
	for _, b := range List(usage) {
		b.RegisterFlags(fs)
	}
}

// Open opens the named backend from its flags.
func Open(name string, usage Usage) (storage.ObjectStore, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}
	return b.Open()
}

// OpenWithConfig opens the named backend from a config map.
func OpenWithConfig(name string, usage Usage, cfg map[string]string) (storage.ObjectStore, func() error, error) {
	b, err := lookup(name, usage)
	if err != nil {
		return nil, nil, err
	}
	return b.OpenConfig(cfg)
}

// ParcelsOnly reports whether the named backend is registered and accepts
// only parcel keys.
func ParcelsOnly(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return backends[name].ParcelsOnly
}

func lookup(name string, usage Usage) (Backend, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return Backend{}, fmt.Errorf("backend %q not supported in this binary", name)
	}
	return b, nil
}
