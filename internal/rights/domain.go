package rights

import (
	"regexp"
	"strings"
	"time"
)

// UserType scopes a role to one population of subjects.
type UserType string

const (
	UserTypeLearner     UserType = "learner"
	UserTypeStaff       UserType = "staff"
	UserTypeGlobalAdmin UserType = "global-admin"
)

// AccessRight is a canonical catalog entry. Catalog entries never contain
// wildcards; wildcards exist only inside a role's pattern list.
type AccessRight struct {
	Name        string
	Description string
}

// Domain returns the first segment of the right name.
func (a AccessRight) Domain() string {
	if i := strings.IndexByte(a.Name, ':'); i > 0 {
		return a.Name[:i]
	}
	return a.Name
}

// RoleDefinition is a named, reusable bundle of access-right patterns
// scoped to a user type.
type RoleDefinition struct {
	ID        int64
	Name      string
	UserType  UserType
	Patterns  []string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

var segmentRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ValidPattern reports whether p is a well-formed access-right pattern:
// three `domain:resource:action` segments, any of which may be `*`, or the
// two-segment `domain:*` / `system:*` form.
func ValidPattern(p string) bool {
	segments := strings.Split(p, ":")
	switch len(segments) {
	case 2:
		if segments[1] != "*" {
			return false
		}
		return segments[0] == "*" || segmentRe.MatchString(segments[0])
	case 3:
		for _, s := range segments {
			if s != "*" && !segmentRe.MatchString(s) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
