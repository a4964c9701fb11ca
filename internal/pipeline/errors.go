package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrNoSources       = errors.New("no enabled sources")
	ErrSinkUnreachable = errors.New("sink unreachable")
)

// ConfigError is a cycle-fatal condition. Per-source failures never produce one.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
