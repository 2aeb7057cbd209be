package auth

import (
	"time"

	"github.com/atlas-lms/atlas-lms/internal/membership"
	"github.com/atlas-lms/atlas-lms/internal/rights"
	"github.com/atlas-lms/atlas-lms/internal/shared"
)

// Subject represents a login account. A subject may simultaneously hold
// staff and learner memberships; user types are derived, not stored here.
type Subject struct {
	ID                     int64
	Email                  string
	Name                   string
	PasswordHash           string
	IsActive               bool
	LastSelectedDepartment *int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// UserView is the public shape of a subject in API payloads.
type UserView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// LoginResult is the full authentication payload assembled at login.
// AllAccessRights never includes admin-only rights; those require an
// escalation session presented per request.
type LoginResult struct {
	User                   UserView                      `json:"user"`
	Session                shared.Tokens                 `json:"session"`
	UserTypes              []rights.UserType             `json:"userTypes"`
	DefaultDashboard       string                        `json:"defaultDashboard"`
	CanEscalateToAdmin     bool                          `json:"canEscalateToAdmin"`
	DepartmentMemberships  []membership.DepartmentBundle `json:"departmentMemberships"`
	AllAccessRights        []string                      `json:"allAccessRights"`
	LastSelectedDepartment *int64                        `json:"lastSelectedDepartment"`
}
