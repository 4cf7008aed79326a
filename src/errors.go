package probflow

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// =============================================================================
// PROBFLOW ERROR TYPES
// Construction-time failures carry the component and argument that was rejected
// =============================================================================

var (
	// ErrConfig matches every *ConfigError via errors.Is.
	ErrConfig = errors.New("probflow: invalid configuration")

	// ErrNotAttached is returned by a callback hook that was never attached to a Trainer.
	ErrNotAttached = errors.New("probflow: callback is not attached to a trainer")

	// ErrUnknownParameter is returned when a parameter filter names a parameter
	// the model does not have.
	ErrUnknownParameter = errors.New("probflow: unknown parameter")

	// ErrNoLabels is returned when a metric is requested on data without labels.
	ErrNoLabels = errors.New("probflow: data has no labels")
)

// ConfigError reports an argument rejected while constructing a component.
// A component whose constructor returned a ConfigError must not be used.
type ConfigError struct {
	Component string // "EarlyStopping", "LearningRateScheduler", ...
	Argument  string // "patience", "fn", ...
	Cause     string // human-readable cause
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "probflow: %s: invalid %s", e.Component, e.Argument)
	if e.Cause != "" {
		fmt.Fprintf(&b, ": %s", e.Cause)
	}
	return b.String()
}

// Is lets errors.Is(err, ErrConfig) match any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func configError(component, argument, format string, args ...interface{}) error {
	return &ConfigError{
		Component: component,
		Argument:  argument,
		Cause:     fmt.Sprintf(format, args...),
	}
}

// errorf creates a formatted error
func errorf(format string, args ...interface{}) error {
	return errors.Errorf("probflow: "+format, args...)
}
