package ldap

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

type loggerKey struct{}

// WithLogger returns a context carrying the root logger for a run.
func WithLogger(ctx context.Context, logger hclog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or a null logger.
func LoggerFrom(ctx context.Context) hclog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(hclog.Logger); ok && logger != nil {
		return logger
	}
	return hclog.NewNullLogger()
}

// Subsystem returns a named sub-logger, e.g. "ldap" or "reconcile".
func Subsystem(ctx context.Context, name string) hclog.Logger {
	return LoggerFrom(ctx).Named(name)
}

// Fields flattens a field map into hclog key/value pairs in key order.
func Fields(fields map[string]any) []any {
	keys := slices.Sorted(maps.Keys(fields))
	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()
	logger := Subsystem(ctx, subsystem)

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	logger.Debug("Starting operation", Fields(fields)...)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		logger.Error("Operation failed", Fields(fields)...)
	} else {
		logger.Debug("Operation completed successfully", Fields(fields)...)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["error"] = err.Error()

	if ldapErr, ok := err.(*ldap.Error); ok {
		fields["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			fields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}

	Subsystem(ctx, subsystem).Error("LDAP operation failed", Fields(SanitizeFields(fields))...)
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":    true,
		"passwd":      true,
		"secret":      true,
		"token":       true,
		"key":         true,
		"private_key": true,
		"credential":  true,
		"credentials": true,
		"unicodepwd":  true,
	}

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

// containsSensitivePattern checks if a string contains patterns that might be sensitive.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"key=",
		"unicodepwd",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}
