package authz

import (
	"context"
	"time"

	"github.com/atlas-lms/atlas-lms/internal/rights"
)

// Subject is the authenticated identity attached by the Authenticate gate.
// AllAccessRights never includes global-admin rights; those live only in the
// separate AdminContext while an escalation session is active.
type Subject struct {
	SubjectID              int64
	UserTypes              []rights.UserType
	AllAccessRights        []string
	CanEscalateToAdmin     bool
	DefaultDashboard       string
	LastSelectedDepartment *int64
}

// AdminContext is the elevated identity attached alongside (never merged
// into) the Subject when a valid admin token accompanies the request.
type AdminContext struct {
	SubjectID    int64
	Roles        []string
	AccessRights []string
	ExpiresAt    time.Time
}

// DepartmentContext is the department scope attached by
// RequireDepartmentMembership.
type DepartmentContext struct {
	DepartmentID int64
	Roles        []string
	AccessRights []string
}

type subjectContextKey struct{}
type adminContextKey struct{}
type departmentContextKey struct{}

// ContextWithSubject stores the authenticated subject in context.
func ContextWithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, s)
}

// SubjectFromContext extracts the authenticated subject from context.
func SubjectFromContext(ctx context.Context) *Subject {
	s, _ := ctx.Value(subjectContextKey{}).(*Subject)
	return s
}

// ContextWithAdmin stores the elevated admin context.
func ContextWithAdmin(ctx context.Context, a *AdminContext) context.Context {
	return context.WithValue(ctx, adminContextKey{}, a)
}

// AdminFromContext extracts the elevated admin context, nil when the
// request is not elevated.
func AdminFromContext(ctx context.Context) *AdminContext {
	a, _ := ctx.Value(adminContextKey{}).(*AdminContext)
	return a
}

// ContextWithDepartment stores the department scope.
func ContextWithDepartment(ctx context.Context, d *DepartmentContext) context.Context {
	return context.WithValue(ctx, departmentContextKey{}, d)
}

// DepartmentFromContext extracts the department scope, nil when no
// department gate has run.
func DepartmentFromContext(ctx context.Context) *DepartmentContext {
	d, _ := ctx.Value(departmentContextKey{}).(*DepartmentContext)
	return d
}

// DefaultDashboard picks the landing surface for a subject's user types.
func DefaultDashboard(userTypes []rights.UserType, canEscalate bool) string {
	for _, t := range userTypes {
		if t == rights.UserTypeStaff {
			return "staff"
		}
	}
	for _, t := range userTypes {
		if t == rights.UserTypeLearner {
			return "learner"
		}
	}
	if canEscalate {
		return "admin"
	}
	return "learner"
}
