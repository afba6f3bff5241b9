package trigger

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is the kind every construction failure wraps.
var ErrInvalidConfiguration = errors.New("invalid trigger configuration")

// ConfigError reports a bad trigger setting. Path names the offending field
// (e.g. "projects[0].triggers[1].time").
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrInvalidConfiguration) hold for every ConfigError.
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfiguration }

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(path string, err error, format string, args ...any) *ConfigError {
	return &ConfigError{Path: path, Reason: fmt.Sprintf(format, args...), Err: err}
}
