package membership

import (
	"time"

	"github.com/atlas-lms/atlas-lms/internal/rights"
)

// Membership is a subject's role assignment within one department node,
// scoped to a user type. Records are deactivated on offboarding, never
// hard-deleted.
type Membership struct {
	ID           int64
	SubjectID    int64
	UserType     rights.UserType
	DepartmentID int64
	Roles        []string
	IsPrimary    bool
	IsActive     bool
	JoinedAt     time.Time
}

// DepartmentBundle is one aggregated entry of a subject's rights bundle:
// an explicit membership with its resolved rights and the descendants its
// roles cascade to.
type DepartmentBundle struct {
	DepartmentID     int64     `json:"departmentId"`
	Roles            []string  `json:"roles"`
	AccessRights     []string  `json:"accessRights"`
	IsPrimary        bool      `json:"isPrimary"`
	IsActive         bool      `json:"isActive"`
	JoinedAt         time.Time `json:"joinedAt"`
	ChildDepartments []int64   `json:"childDepartments"`
}

// SwitchResult is the refreshed context returned by a department switch.
type SwitchResult struct {
	DepartmentID     int64    `json:"departmentId"`
	Roles            []string `json:"roles"`
	AccessRights     []string `json:"accessRights"`
	ChildDepartments []int64  `json:"childDepartments"`
}
