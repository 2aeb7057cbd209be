package membership

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-lms/atlas-lms/internal/department"
	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
	"github.com/atlas-lms/atlas-lms/internal/rights"
)

type mockMemberships struct {
	memberships  map[int64][]Membership
	lastSelected map[int64]int64
}

func newMockMemberships() *mockMemberships {
	return &mockMemberships{
		memberships:  map[int64][]Membership{},
		lastSelected: map[int64]int64{},
	}
}

func (m *mockMemberships) ListActiveForSubject(ctx context.Context, subjectID int64) ([]Membership, error) {
	var out []Membership
	for _, mm := range m.memberships[subjectID] {
		if mm.IsActive {
			out = append(out, mm)
		}
	}
	return out, nil
}

func (m *mockMemberships) PrimaryDepartment(ctx context.Context, subjectID int64, userType rights.UserType) (*Membership, error) {
	for _, mm := range m.memberships[subjectID] {
		if mm.IsActive && mm.IsPrimary && mm.UserType == userType {
			found := mm
			return &found, nil
		}
	}
	return nil, nil
}

func (m *mockMemberships) Deactivate(ctx context.Context, membershipID int64) error {
	for subjectID, list := range m.memberships {
		for i := range list {
			if list[i].ID == membershipID {
				list[i].IsActive = false
				m.memberships[subjectID] = list
			}
		}
	}
	return nil
}

func (m *mockMemberships) SaveLastSelected(ctx context.Context, subjectID, departmentID int64) error {
	m.lastSelected[subjectID] = departmentID
	return nil
}

type mockDepartments struct {
	tree *department.Tree
}

func (m *mockDepartments) Snapshot(ctx context.Context) (*department.Tree, error) {
	return m.tree, nil
}

func (m *mockDepartments) Get(ctx context.Context, id int64) (*department.Department, error) {
	d, ok := m.tree.Get(id)
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return &d, nil
}

func (m *mockDepartments) Reparent(ctx context.Context, id int64, parentID *int64) error {
	return m.tree.ValidateParent(id, parentID)
}

type staticCatalog struct {
	roles   map[string][]string
	catalog []string
}

func (c *staticCatalog) ListAccessRights(ctx context.Context, domain string) ([]rights.AccessRight, error) {
	out := make([]rights.AccessRight, 0, len(c.catalog))
	for _, name := range c.catalog {
		out = append(out, rights.AccessRight{Name: name})
	}
	return out, nil
}

func (c *staticCatalog) AllRightNames(ctx context.Context) ([]string, error) {
	return c.catalog, nil
}

func (c *staticCatalog) GetRoleByName(ctx context.Context, name string) (*rights.RoleDefinition, error) {
	patterns, ok := c.roles[name]
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return &rights.RoleDefinition{Name: name, Patterns: patterns, IsActive: true}, nil
}

func (c *staticCatalog) ListRoles(ctx context.Context, userType string) ([]rights.RoleDefinition, error) {
	return nil, nil
}

func (c *staticCatalog) UpdateRolePatterns(ctx context.Context, name string, patterns []string) (*rights.RoleDefinition, error) {
	c.roles[name] = patterns
	return &rights.RoleDefinition{Name: name, Patterns: patterns, IsActive: true}, nil
}

type passthroughCache struct{}

func (passthroughCache) Get(ctx context.Context, role string) ([]string, bool) { return nil, false }
func (passthroughCache) Put(ctx context.Context, role string, r []string, ttl time.Duration) {
}
func (passthroughCache) Invalidate(ctx context.Context, role string) {}

func ptr(id int64) *int64 { return &id }

func testResolver() *rights.Resolver {
	catalog := &staticCatalog{
		catalog: []string{
			"content:courses:read",
			"content:courses:write",
			"enrollments:students:read",
		},
		roles: map[string][]string{
			"dept-admin": {"content:*", "enrollments:students:read"},
			"lecturer":   {"content:courses:read"},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return rights.NewResolver(catalog, passthroughCache{}, time.Minute, logger)
}

// Tree: 1 ── 2 ── 3, with 4 inactive and 5 requiring explicit membership.
func testDepartments() *mockDepartments {
	return &mockDepartments{tree: department.NewTree([]department.Department{
		{ID: 1, Name: "School", IsActive: true},
		{ID: 2, Name: "Science", ParentID: ptr(1), IsActive: true},
		{ID: 3, Name: "Physics", ParentID: ptr(2), IsActive: true},
		{ID: 4, Name: "Closed", ParentID: ptr(1), IsActive: false},
		{ID: 5, Name: "Restricted", ParentID: ptr(1), IsActive: true, RequireExplicitMembership: true},
	})}
}

func TestSwitchDepartmentCascadedTarget(t *testing.T) {
	repo := newMockMemberships()
	repo.memberships[10] = []Membership{
		{ID: 1, SubjectID: 10, UserType: rights.UserTypeStaff, DepartmentID: 1, Roles: []string{"dept-admin"}, IsPrimary: true, IsActive: true, JoinedAt: time.Now()},
	}
	switcher := NewSwitcher(repo, testDepartments(), testResolver())

	result, err := switcher.SwitchDepartment(context.Background(), 10, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.DepartmentID)
	assert.Equal(t, []string{"dept-admin"}, result.Roles)
	assert.Equal(t, []string{
		"content:courses:read",
		"content:courses:write",
		"enrollments:students:read",
	}, result.AccessRights)
	assert.Empty(t, result.ChildDepartments)

	// The selection is persisted so the next login restores it.
	assert.Equal(t, int64(3), repo.lastSelected[10])
}

func TestSwitchDepartmentMissingIsNotFound(t *testing.T) {
	repo := newMockMemberships()
	switcher := NewSwitcher(repo, testDepartments(), testResolver())

	_, err := switcher.SwitchDepartment(context.Background(), 10, 99)
	assert.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = switcher.SwitchDepartment(context.Background(), 10, 4)
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestSwitchDepartmentNoAccessIsForbidden(t *testing.T) {
	repo := newMockMemberships()
	repo.memberships[10] = []Membership{
		{ID: 1, SubjectID: 10, UserType: rights.UserTypeStaff, DepartmentID: 2, Roles: []string{"lecturer"}, IsActive: true, JoinedAt: time.Now()},
	}
	switcher := NewSwitcher(repo, testDepartments(), testResolver())

	// 1 is the parent; grants never cascade upward.
	_, err := switcher.SwitchDepartment(context.Background(), 10, 1)
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	// 5 requires explicit membership; the root grant cannot reach it.
	repo.memberships[10] = []Membership{
		{ID: 2, SubjectID: 10, UserType: rights.UserTypeStaff, DepartmentID: 1, Roles: []string{"dept-admin"}, IsActive: true, JoinedAt: time.Now()},
	}
	_, err = switcher.SwitchDepartment(context.Background(), 10, 5)
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	// Nothing was persisted on the failed switches.
	_, ok := repo.lastSelected[10]
	assert.False(t, ok)
}

func TestIndexAllRolesForSubject(t *testing.T) {
	repo := newMockMemberships()
	joined := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	repo.memberships[10] = []Membership{
		{ID: 1, SubjectID: 10, UserType: rights.UserTypeStaff, DepartmentID: 1, Roles: []string{"dept-admin"}, IsPrimary: true, IsActive: true, JoinedAt: joined},
		{ID: 2, SubjectID: 10, UserType: rights.UserTypeLearner, DepartmentID: 5, Roles: []string{"lecturer"}, IsActive: true, JoinedAt: joined},
		{ID: 3, SubjectID: 10, UserType: rights.UserTypeStaff, DepartmentID: 2, Roles: []string{"lecturer"}, IsActive: false, JoinedAt: joined},
	}
	index := NewIndex(repo, testDepartments(), testResolver())
	ctx := context.Background()

	bundles, err := index.AllRolesForSubject(ctx, 10)
	require.NoError(t, err)
	require.Len(t, bundles, 2)

	assert.Equal(t, int64(1), bundles[0].DepartmentID)
	assert.True(t, bundles[0].IsPrimary)
	assert.Equal(t, []string{"dept-admin"}, bundles[0].Roles)
	// 4 is inactive, 5 requires explicit membership; only 2 and 3 cascade.
	assert.Equal(t, []int64{2, 3}, bundles[0].ChildDepartments)

	assert.Equal(t, int64(5), bundles[1].DepartmentID)
	assert.Equal(t, []string{"content:courses:read"}, bundles[1].AccessRights)

	types, err := index.UserTypes(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []rights.UserType{rights.UserTypeLearner, rights.UserTypeStaff}, types)

	all, err := index.AllAccessRights(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"content:courses:read",
		"content:courses:write",
		"enrollments:students:read",
	}, all)
}

func TestIndexEffectiveRolesAndAccess(t *testing.T) {
	repo := newMockMemberships()
	repo.memberships[10] = []Membership{
		{ID: 1, SubjectID: 10, UserType: rights.UserTypeStaff, DepartmentID: 1, Roles: []string{"dept-admin"}, IsActive: true, JoinedAt: time.Now()},
		{ID: 2, SubjectID: 10, UserType: rights.UserTypeStaff, DepartmentID: 3, Roles: []string{"lecturer"}, IsActive: true, JoinedAt: time.Now()},
	}
	index := NewIndex(repo, testDepartments(), testResolver())
	ctx := context.Background()

	roles, err := index.EffectiveRoles(ctx, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"dept-admin", "lecturer"}, roles)

	ok, err := index.HasRole(ctx, 10, 3, "lecturer")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = index.HasRole(ctx, 10, 1, "lecturer")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = index.HasDepartmentAccess(ctx, 10, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = index.HasDepartmentAccess(ctx, 10, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	visible, err := index.VisibleDepartments(ctx, 10)
	require.NoError(t, err)
	ids := make([]int64, 0, len(visible))
	for _, v := range visible {
		ids = append(ids, v.DepartmentID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}
