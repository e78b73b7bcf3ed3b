package ldap

import (
	"context"
	"errors"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "ldap"

// Operations slower than these are logged above trace level.
const (
	slowOperation       = 5 * time.Second
	noticeableOperation = time.Second
)

type logFunc func(ctx context.Context, subsystem, msg string, additionalFields ...map[string]any)

// eventLevels lists session and Kerberos events logged above debug level.
var eventLevels = map[string]logFunc{
	"connection_established":  tflog.SubsystemInfo,
	"authentication_success":  tflog.SubsystemInfo,
	"credentials_loaded":      tflog.SubsystemInfo,
	"ticket_acquired":         tflog.SubsystemInfo,
	"connection_failed":       tflog.SubsystemError,
	"authentication_failed":   tflog.SubsystemError,
	"credentials_load_failed": tflog.SubsystemError,
}

// logEvent logs a session lifecycle or Kerberos event.
func logEvent(ctx context.Context, event string, fields map[string]any) {
	log, ok := eventLevels[event]
	if !ok {
		log = tflog.SubsystemDebug
	}
	log(ctx, Subsystem, "Directory session event", withField(fields, "event", event))
}

// timed runs fn and logs its outcome and duration under operation. A
// failing *LDAPError contributes its category, result code and diagnostics.
func timed(ctx context.Context, operation string, fields map[string]any, fn func() error) error {
	fields = withField(fields, "operation", operation)
	tflog.SubsystemDebug(ctx, Subsystem, "Directory operation started", fields)

	start := time.Now()
	err := fn()
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err == nil {
		tflog.SubsystemDebug(ctx, Subsystem, "Directory operation succeeded", fields)
		return nil
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		maps.Copy(fields, ldapErr.Fields())
	} else {
		fields["error"] = err.Error()
		fields["transient"] = IsTransient(err)
	}
	tflog.SubsystemError(ctx, Subsystem, "Directory operation failed", fields)

	return err
}

// logLatency records how long a single request took.
func logLatency(ctx context.Context, operation string, duration time.Duration, fields map[string]any) {
	fields = withField(fields, "operation", operation)
	fields["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > slowOperation:
		tflog.SubsystemWarn(ctx, Subsystem, "Slow directory operation", fields)
	case duration > noticeableOperation:
		tflog.SubsystemInfo(ctx, Subsystem, "Directory operation latency", fields)
	default:
		tflog.SubsystemTrace(ctx, Subsystem, "Directory operation latency", fields)
	}
}

// logRejection logs a refused add. Conflicts are routine when a file is
// imported twice and stay at warn level.
func logRejection(ctx context.Context, ldapErr *LDAPError) {
	fields := ldapErr.Fields()
	if ldapErr.Category == ErrorCategoryConflict {
		tflog.SubsystemWarn(ctx, Subsystem, "Entry already present", fields)
		return
	}
	tflog.SubsystemError(ctx, Subsystem, "Entry rejected", fields)
}

func withField(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	maps.Copy(out, fields)
	out[key] = value
	return out
}

// sensitiveKeyParts mark a field whose value must never be logged.
var sensitiveKeyParts = []string{"password", "passwd", "secret", "token", "credential", "private_key"}

// embeddedSecret matches a secret assigned inside a string value, such as
// an LDAP filter or a connection string.
var embeddedSecret = regexp.MustCompile(`(?i)\b(user)?(password|passwd|secret|token)\s*=`)

// SanitizeFields returns a copy of fields with secrets replaced by
// [REDACTED]. Keys are matched case-insensitively by name; string values
// are redacted only when they assign a secret.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	for k, v := range fields {
		if isSensitiveKey(k) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if s, ok := v.(string); ok && embeddedSecret.MatchString(s) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	if key == "key" {
		return true
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
