package sink

import (
	"fmt"
	"sort"
)

// Config selects and configures one sink. Only the fields relevant to Kind
// are read.
type Config struct {
	Kind    string            `yaml:"kind"`
	Path    string            `yaml:"path,omitempty"`
	Driver  string            `yaml:"driver,omitempty"`
	DSN     string            `yaml:"dsn,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Addr    string            `yaml:"addr,omitempty"`
	Key     string            `yaml:"key,omitempty"`
	Channel string            `yaml:"channel,omitempty"`
	Pretty  bool              `yaml:"pretty,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	// Async publishes through a background queue so a slow sink does not
	// hold up the cycle. DropOnFull discards work when the queue is full.
	Async      bool `yaml:"async,omitempty"`
	DropOnFull bool `yaml:"drop_on_full,omitempty"`
}

// Constructor builds a Sink from its configuration.
type Constructor func(cfg Config) (Sink, error)

var registry = map[string]Constructor{}

// Register adds a sink constructor under the given kind.
func Register(kind string, ctor Constructor) {
	registry[kind] = ctor
}

// Open builds the sink named by cfg.Kind.
func Open(cfg Config) (Sink, error) {
	ctor, ok := registry[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown sink kind: %q", cfg.Kind)
	}
	return ctor(cfg)
}

// Kinds returns the registered sink kinds, sorted.
func Kinds() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
