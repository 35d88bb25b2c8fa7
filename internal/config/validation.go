package config

import (
	"fmt"
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
	for i := range e {
		msgs = append(msgs, e[i].Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig checks every section and returns ValidationErrors or nil.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateTransliteration(&c.Transliteration)...)
	errs = append(errs, validateEditor(&c.Editor)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateTransliteration(t *TransliterationConfig) ValidationErrors {
	var errs ValidationErrors

	if !isValidURL(t.Endpoint) {
		errs = append(errs, ValidationError{Field: "transliteration.endpoint", Message: "must be an http(s) URL"})
	}
	if t.InputTool == "" {
		errs = append(errs, *RequiredFieldError("transliteration.input_tool"))
	}
	if t.NumSuggestions < 1 || t.NumSuggestions > 20 {
		errs = append(errs, *RangeError("transliteration.num_suggestions", 1, 20))
	}
	if t.TimeoutMs < 100 || t.TimeoutMs > 60000 {
		errs = append(errs, *RangeError("transliteration.timeout_ms", 100, 60000))
	}
	if t.BreakerMaxFailures < 1 {
		errs = append(errs, ValidationError{Field: "transliteration.breaker_max_failures", Message: "must be at least 1"})
	}
	if t.BreakerResetSec < 1 {
		errs = append(errs, ValidationError{Field: "transliteration.breaker_reset_sec", Message: "must be at least 1"})
	}
	return errs
}

func validateEditor(e *EditorConfig) ValidationErrors {
	var errs ValidationErrors

	if e.SaveDebounceMs < 50 || e.SaveDebounceMs > 60000 {
		errs = append(errs, *RangeError("editor.save_debounce_ms", 50, 60000))
	}
	switch e.SupersedePolicy {
	case "discard", "fallback":
	default:
		errs = append(errs, ValidationError{
			Field:   "editor.supersede_policy",
			Message: fmt.Sprintf("unknown policy %q (want discard or fallback)", e.SupersedePolicy),
		})
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{Field: "storage.busy_timeout_ms", Message: "must not be negative"})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", l.Level)})
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", l.Format)})
	}
	switch strings.ToLower(l.Output) {
	case "stdout", "stderr", "discard":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, *RequiredFieldError("logging.file_path"))
		}
	default:
		errs = append(errs, ValidationError{Field: "logging.output", Message: fmt.Sprintf("unknown output %q", l.Output)})
	}
	return errs
}

func isValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RequiredFieldError creates a validation error for a missing field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "required field is missing"}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max int) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %d and %d", min, max)}
}
