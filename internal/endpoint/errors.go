package endpoint

import (
	"errors"
	"fmt"
)

// ConfigError reports a URL that cannot be relayed. It is always detected
// before any socket is opened.
type ConfigError struct {
	URL    string
	Role   Role
	Reason string
	Err    error
}

// Error implements error
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("invalid %s url %q: %s", e.Role, e.URL, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying parse error, if any
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is or wraps a *ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func configError(raw string, role Role, reason string, err error) *ConfigError {
	return &ConfigError{URL: raw, Role: role, Reason: reason, Err: err}
}
