package membership

import (
	"context"
	"sort"

	"github.com/atlas-lms/atlas-lms/internal/department"
	"github.com/atlas-lms/atlas-lms/internal/rights"
)

// Index aggregates a subject's memberships across the staff and learner
// sources into effective roles and rights. Global-admin grants are excluded
// here by construction; they only surface through an active escalation
// session.
type Index struct {
	repo        Repository
	departments department.Repository
	resolver    *rights.Resolver
}

// NewIndex constructs an Index.
func NewIndex(repo Repository, departments department.Repository, resolver *rights.Resolver) *Index {
	return &Index{repo: repo, departments: departments, resolver: resolver}
}

// AllRolesForSubject returns one bundle per explicit active membership,
// each with its resolved rights and the descendants its roles cascade to.
func (ix *Index) AllRolesForSubject(ctx context.Context, subjectID int64) ([]DepartmentBundle, error) {
	memberships, err := ix.repo.ListActiveForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	tree, err := ix.departments.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	bundles := make([]DepartmentBundle, 0, len(memberships))
	for _, m := range memberships {
		if _, ok := tree.Get(m.DepartmentID); !ok {
			continue
		}
		accessRights, err := ix.resolver.AccessRightsForRoles(ctx, m.Roles)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, DepartmentBundle{
			DepartmentID:     m.DepartmentID,
			Roles:            m.Roles,
			AccessRights:     accessRights,
			IsPrimary:        m.IsPrimary,
			IsActive:         m.IsActive,
			JoinedAt:         m.JoinedAt,
			ChildDepartments: tree.CascadedChildren(m.DepartmentID),
		})
	}
	return bundles, nil
}

// AllAccessRights unions resolved rights across every active membership.
func (ix *Index) AllAccessRights(ctx context.Context, subjectID int64) ([]string, error) {
	memberships, err := ix.repo.ListActiveForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	roleSet := make(map[string]struct{})
	for _, m := range memberships {
		for _, role := range m.Roles {
			roleSet[role] = struct{}{}
		}
	}
	roles := make([]string, 0, len(roleSet))
	for role := range roleSet {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return ix.resolver.AccessRightsForRoles(ctx, roles)
}

// PrimaryDepartment returns the single active primary membership for the
// user type, or nil.
func (ix *Index) PrimaryDepartment(ctx context.Context, subjectID int64, userType rights.UserType) (*Membership, error) {
	return ix.repo.PrimaryDepartment(ctx, subjectID, userType)
}

// UserTypes derives the subject's user types from its active memberships.
func (ix *Index) UserTypes(ctx context.Context, subjectID int64) ([]rights.UserType, error) {
	memberships, err := ix.repo.ListActiveForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	seen := make(map[rights.UserType]struct{})
	var types []rights.UserType
	for _, m := range memberships {
		if _, ok := seen[m.UserType]; ok {
			continue
		}
		seen[m.UserType] = struct{}{}
		types = append(types, m.UserType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types, nil
}

// VisibleDepartments runs the cascading walk over the subject's grants.
func (ix *Index) VisibleDepartments(ctx context.Context, subjectID int64) ([]department.VisibleDepartment, error) {
	grants, tree, err := ix.grants(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return tree.VisibleDepartments(grants), nil
}

// EffectiveRoles returns direct ∪ inherited roles at one department.
func (ix *Index) EffectiveRoles(ctx context.Context, subjectID, departmentID int64) ([]string, error) {
	grants, tree, err := ix.grants(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return tree.EffectiveRoles(grants, departmentID), nil
}

// HasRole reports whether the subject holds the role at the department,
// directly or by cascade.
func (ix *Index) HasRole(ctx context.Context, subjectID, departmentID int64, role string) (bool, error) {
	roles, err := ix.EffectiveRoles(ctx, subjectID, departmentID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

// HasDepartmentAccess reports direct-or-cascaded membership in the department.
func (ix *Index) HasDepartmentAccess(ctx context.Context, subjectID, departmentID int64) (bool, error) {
	grants, tree, err := ix.grants(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return tree.HasAccess(grants, departmentID), nil
}

func (ix *Index) grants(ctx context.Context, subjectID int64) ([]department.Grant, *department.Tree, error) {
	memberships, err := ix.repo.ListActiveForSubject(ctx, subjectID)
	if err != nil {
		return nil, nil, err
	}
	tree, err := ix.departments.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	byDept := make(map[int64][]string)
	var order []int64
	for _, m := range memberships {
		if _, ok := byDept[m.DepartmentID]; !ok {
			order = append(order, m.DepartmentID)
		}
		byDept[m.DepartmentID] = append(byDept[m.DepartmentID], m.Roles...)
	}
	grants := make([]department.Grant, 0, len(order))
	for _, id := range order {
		grants = append(grants, department.Grant{DepartmentID: id, Roles: byDept[id]})
	}
	return grants, tree, nil
}
