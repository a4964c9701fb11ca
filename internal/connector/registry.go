package connector

import (
	"fmt"
	"sort"
)

// Constructor builds a Poller from provider settings.
type Constructor func(cfg Config) (Poller, error)

var registry = map[string]Constructor{}

// Register adds a poller constructor under the given provider name.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Get returns the poller constructor for the given provider name.
func Get(name string) (Constructor, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown connector provider: %s", name)
	}
	return ctor, nil
}

// Providers returns the names of all registered providers, sorted.
func Providers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
