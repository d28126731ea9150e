package signin

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when a run is requested while another one holds the slot.
var ErrRunInProgress = errors.New("signin: run already in progress")

// ConfigError reports a sign-in setting that cannot be applied. No trigger is
// registered for a configuration that produced one.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("signin: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
