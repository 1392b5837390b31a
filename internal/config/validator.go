package config

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

func ValidLoggingModes() []string {
	return []string{"development", "dev", "production", "prod"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateDebate()...)
	if c.Hub.OutboundBuffer < 1 {
		errors = append(errors, ValidationError{Field: "hub.outbound_buffer", Value: c.Hub.OutboundBuffer, Message: "must be at least 1"})
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errors = append(errors, ValidationError{Field: "tracing.sample_ratio", Value: c.Tracing.SampleRatio, Message: "must be between 0 and 1"})
	}
	if !slices.Contains(ValidLoggingModes(), strings.ToLower(c.Logging.Mode)) {
		errors = append(errors, ValidationError{
			Field:   "logging.mode",
			Value:   c.Logging.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLoggingModes(), ", ")),
		})
	}
	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errors = append(errors, ValidationError{Field: "server.addr", Value: c.Server.Addr, Message: "must be host:port"})
	}
	if c.Server.HTTPTimeout <= c.Debate.PollTimeout {
		errors = append(errors, ValidationError{
			Field:   "server.http_timeout",
			Value:   c.Server.HTTPTimeout,
			Message: fmt.Sprintf("must exceed debate.poll_timeout (%s)", c.Debate.PollTimeout),
		})
	}
	if c.Server.MaxBodySlack < 0 {
		errors = append(errors, ValidationError{Field: "server.max_body_slack", Value: c.Server.MaxBodySlack, Message: "must not be negative"})
	}
	if c.Server.RateLimitMax < 0 {
		errors = append(errors, ValidationError{Field: "server.rate_limit_max", Value: c.Server.RateLimitMax, Message: "must not be negative"})
	}
	if c.Server.RateLimitMax > 0 && c.Server.RateLimitWindow <= 0 {
		errors = append(errors, ValidationError{Field: "server.rate_limit_window", Value: c.Server.RateLimitWindow, Message: "must be positive when rate limiting is enabled"})
	}
	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError
	if strings.TrimSpace(c.Store.DSN) == "" {
		errors = append(errors, ValidationError{Field: "store.dsn", Value: c.Store.DSN, Message: "is required"})
	}
	if c.Store.BusyTimeout < 0 {
		errors = append(errors, ValidationError{Field: "store.busy_timeout", Value: c.Store.BusyTimeout, Message: "must not be negative"})
	}
	if c.Store.BusyMaxRetries < 0 {
		errors = append(errors, ValidationError{Field: "store.busy_max_retries", Value: c.Store.BusyMaxRetries, Message: "must not be negative"})
	}
	if c.Store.BusyBaseDelay <= 0 {
		errors = append(errors, ValidationError{Field: "store.busy_base_delay", Value: c.Store.BusyBaseDelay, Message: "must be positive"})
	}
	return errors
}

func (c *Config) validateDebate() []ValidationError {
	var errors []ValidationError
	if c.Debate.MaxContentLength < 1 {
		errors = append(errors, ValidationError{Field: "debate.max_content_length", Value: c.Debate.MaxContentLength, Message: "must be at least 1"})
	}
	if c.Debate.PollTimeout <= 0 {
		errors = append(errors, ValidationError{Field: "debate.poll_timeout", Value: c.Debate.PollTimeout, Message: "must be positive"})
	}
	return errors
}
