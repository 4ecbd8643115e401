package logging

import (
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in
// logs.
const RedactedValue = "[REDACTED]"

// Keys whose values must never reach a log sink. The fee-payer seed and
// bearer material are the ones that matter; the rest are generic secret
// spellings so a refactor cannot quietly start leaking.
var sensitiveKeys = map[string]struct{}{
	"seed":          {},
	"secret":        {},
	"private_key":   {},
	"privatekey":    {},
	"password":      {},
	"token":         {},
	"auth_token":    {},
	"authorization": {},
	"bearer":        {},
	"api_key":       {},
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}
