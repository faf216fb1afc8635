package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces values of keys that are not known to be safe.
const RedactedValue = "[REDACTED]"

// baseKeys are emitted by the logger itself or by request middleware.
var baseKeys = []string{"service", "env", "message", "severity", "timestamp", "error", "reason", "component"}

// eventKeys are the attributes of engine event records. Accounts and amounts
// are public ledger values.
var eventKeys = []string{
	"type", "account", "accounts", "runid", "source", "timestamp",
	"amount", "gross", "fee", "collateral", "debt", "price",
	"applied", "remaining", "requested", "received", "pending",
	"totalapplied", "pooledbalance",
}

var safeKeys = func() map[string]struct{} {
	keys := make(map[string]struct{}, len(baseKeys)+len(eventKeys))
	for _, group := range [][]string{baseKeys, eventKeys} {
		for _, key := range group {
			keys[key] = struct{}{}
		}
	}
	return keys
}()

// IsAllowlisted reports whether key may be logged verbatim. Matching ignores
// case and surrounding space.
func IsAllowlisted(key string) bool {
	_, ok := safeKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns key with its value, or with RedactedValue when key is not
// allowlisted. Blank values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskAttributes renders an attribute map as masked slog attrs in key order.
func MaskAttributes(attrs map[string]string) []any {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, key := range keys {
		out = append(out, MaskField(key, attrs[key]))
	}
	return out
}
