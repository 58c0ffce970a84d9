package core

import "strings"

const RedactedValue = "[REDACTED]"

// sensitiveKeyTokens mark log fields that may carry GNAP bearer material.
var sensitiveKeyTokens = []string{
	"token",
	"authorization",
	"secret",
	"interact_ref",
	"signature",
	"key_material",
}

// RedactSensitiveFields masks grant and continuation tokens before fields
// reach a logger. Correlation and resource identifiers stay readable.
func RedactSensitiveFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	return redactFields(fields)
}

func redactFields(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if isSensitiveField(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactValue(value)
	}
	return target
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactFields(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactValue(typed[i])
		}
		return out
	case Continuation:
		typed.AccessToken = RedactedValue
		return typed
	default:
		return value
	}
}

func isSensitiveField(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceField(key) {
		return false
	}
	for _, token := range sensitiveKeyTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isTraceField(key string) bool {
	switch key {
	case "correlation_key",
		"key_mode",
		"quote_id",
		"incoming_payment_id",
		"outgoing_payment_id",
		"idempotency_key",
		"request_id":
		return true
	default:
		return false
	}
}
