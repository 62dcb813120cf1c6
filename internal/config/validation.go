package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors. It returns ValidationErrors
// listing every problem, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Version < 1 || c.Version > Version {
		add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	if c.Transport.URL != "" {
		u, err := url.Parse(c.Transport.URL)
		switch {
		case err != nil:
			add("transport.url", "invalid URL: %v", err)
		case u.Scheme != "ws" && u.Scheme != "wss":
			add("transport.url", "scheme must be ws or wss, got %q", u.Scheme)
		}
	}
	if c.Transport.WriteTimeoutMs < 0 {
		add("transport.write_timeout_ms", "must not be negative")
	}
	if c.Transport.ReadLimit < 0 {
		add("transport.read_limit", "must not be negative")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		add("journal.path", "required when journal is enabled")
	}
	if c.Journal.KeepSessions < 0 {
		add("journal.keep_sessions", "must not be negative")
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format", "must be text or json, got %q", c.Logging.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
