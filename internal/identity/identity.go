/**
 * @description
 * Helpers for classifying externally supplied identifiers. Partner systems and
 * the widget send identifiers that are not guaranteed to be internal UUIDs: a
 * WordPress-style numeric id, an email address, or an anonymous session marker.
 * Classification decides whether the API surface must resolve the value through
 * the external-identity mapping, look it up directly, or reject it.
 */

package identity

import (
	"strings"

	"github.com/google/uuid"
)

// AnonymousPrefix marks guest identifiers minted by the embedded widget for
// visitors without an account. Guests may claim through the public widget path
// but are never accepted on bearer-token-authenticated paths.
const AnonymousPrefix = "anon_"

// RefKind classifies an external reference string.
type RefKind int

const (
	// RefOpaque is any external reference that is neither an internal UUID
	// nor an email: partner user ids, anonymous markers, usernames.
	RefOpaque RefKind = iota
	// RefUUID is an internal user id supplied directly.
	RefUUID
	// RefEmail identifies a user by email address.
	RefEmail
)

// IsAnonymous reports whether ref carries the reserved guest marker prefix.
func IsAnonymous(ref string) bool {
	return strings.HasPrefix(ref, AnonymousPrefix)
}

// Classify decides how an external reference should be resolved. Anonymous
// markers classify as RefOpaque: the resolver maps them like any other
// external reference, and authenticated paths reject them separately.
func Classify(ref string) RefKind {
	if _, err := uuid.Parse(ref); err == nil && !strings.Contains(ref, "@") {
		return RefUUID
	}
	if strings.Contains(ref, "@") {
		return RefEmail
	}
	return RefOpaque
}

// Truncate shortens an external reference for log lines. Full external
// identifiers are never logged.
func Truncate(ref string) string {
	const max = 8
	if len(ref) <= max {
		return ref
	}
	return ref[:max] + "..."
}
