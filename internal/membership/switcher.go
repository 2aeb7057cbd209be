package membership

import (
	"context"
	"fmt"

	"github.com/atlas-lms/atlas-lms/internal/department"
	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
	"github.com/atlas-lms/atlas-lms/internal/rights"
)

// Switcher recomputes a subject's effective roles and rights when they
// change active department context. Switching mutates only the persisted
// last-selected department.
type Switcher struct {
	repo        Repository
	departments department.Repository
	resolver    *rights.Resolver
}

// NewSwitcher constructs a Switcher.
func NewSwitcher(repo Repository, departments department.Repository, resolver *rights.Resolver) *Switcher {
	return &Switcher{repo: repo, departments: departments, resolver: resolver}
}

// SwitchDepartment validates access to the target and returns the refreshed
// bundle. A missing or inactive department is NotFound; an existing one the
// subject cannot reach is Forbidden, so clients can tell "no access" from
// "doesn't exist".
func (s *Switcher) SwitchDepartment(ctx context.Context, subjectID, targetID int64) (*SwitchResult, error) {
	tree, err := s.departments.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	target, ok := tree.Get(targetID)
	if !ok || !target.IsActive {
		return nil, fmt.Errorf("%w: department %d", httpx.ErrNotFound, targetID)
	}

	memberships, err := s.repo.ListActiveForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	byDept := make(map[int64][]string)
	for _, m := range memberships {
		byDept[m.DepartmentID] = append(byDept[m.DepartmentID], m.Roles...)
	}
	grants := make([]department.Grant, 0, len(byDept))
	for id, roles := range byDept {
		grants = append(grants, department.Grant{DepartmentID: id, Roles: roles})
	}

	if !tree.HasAccess(grants, targetID) {
		return nil, fmt.Errorf("%w: no membership in department %d", httpx.ErrForbidden, targetID)
	}

	roles := tree.EffectiveRoles(grants, targetID)
	accessRights, err := s.resolver.AccessRightsForRoles(ctx, roles)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveLastSelected(ctx, subjectID, targetID); err != nil {
		return nil, err
	}

	return &SwitchResult{
		DepartmentID:     targetID,
		Roles:            roles,
		AccessRights:     accessRights,
		ChildDepartments: tree.CascadedChildren(targetID),
	}, nil
}
