package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/atlas-lms/atlas-lms/internal/department"
	"github.com/atlas-lms/atlas-lms/internal/escalation"
	"github.com/atlas-lms/atlas-lms/internal/membership"
	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
	"github.com/atlas-lms/atlas-lms/internal/rights"
	"github.com/atlas-lms/atlas-lms/internal/shared"
)

type stubAuthRepo struct {
	subjects map[int64]*Subject
	byEmail  map[string]int64
	sessions map[string]int64
}

func newStubAuthRepo() *stubAuthRepo {
	return &stubAuthRepo{
		subjects: map[int64]*Subject{},
		byEmail:  map[string]int64{},
		sessions: map[string]int64{},
	}
}

func (r *stubAuthRepo) add(s *Subject) {
	r.subjects[s.ID] = s
	r.byEmail[s.Email] = s.ID
}

func (r *stubAuthRepo) FindByEmail(ctx context.Context, email string) (*Subject, error) {
	id, ok := r.byEmail[email]
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return r.subjects[id], nil
}

func (r *stubAuthRepo) FindByID(ctx context.Context, subjectID int64) (*Subject, error) {
	s, ok := r.subjects[subjectID]
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return s, nil
}

func (r *stubAuthRepo) UpdatePasswordHash(ctx context.Context, subjectID int64, hash string) error {
	s, ok := r.subjects[subjectID]
	if !ok {
		return httpx.ErrNotFound
	}
	s.PasswordHash = hash
	return nil
}

func (r *stubAuthRepo) CreateSessionRecord(ctx context.Context, id string, subjectID int64, expiresAt time.Time, ip, ua string) error {
	r.sessions[id] = subjectID
	return nil
}

func (r *stubAuthRepo) DeleteSessionRecord(ctx context.Context, id string) error {
	delete(r.sessions, id)
	return nil
}

func (r *stubAuthRepo) DeleteExpiredSessionRecords(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type stubMemberRepo struct {
	memberships map[int64][]membership.Membership
	selected    map[int64]int64
}

func (r *stubMemberRepo) ListActiveForSubject(ctx context.Context, subjectID int64) ([]membership.Membership, error) {
	return r.memberships[subjectID], nil
}

func (r *stubMemberRepo) PrimaryDepartment(ctx context.Context, subjectID int64, userType rights.UserType) (*membership.Membership, error) {
	for _, m := range r.memberships[subjectID] {
		if m.IsPrimary && m.UserType == userType {
			found := m
			return &found, nil
		}
	}
	return nil, nil
}

func (r *stubMemberRepo) Deactivate(ctx context.Context, membershipID int64) error { return nil }

func (r *stubMemberRepo) SaveLastSelected(ctx context.Context, subjectID, departmentID int64) error {
	r.selected[subjectID] = departmentID
	return nil
}

type stubDeptRepo struct {
	tree *department.Tree
}

func (r *stubDeptRepo) Snapshot(ctx context.Context) (*department.Tree, error) { return r.tree, nil }

func (r *stubDeptRepo) Get(ctx context.Context, id int64) (*department.Department, error) {
	d, ok := r.tree.Get(id)
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return &d, nil
}

func (r *stubDeptRepo) Reparent(ctx context.Context, id int64, parentID *int64) error { return nil }

type stubCatalog struct {
	roles   map[string][]string
	catalog []string
}

func (s *stubCatalog) ListAccessRights(ctx context.Context, domain string) ([]rights.AccessRight, error) {
	return nil, nil
}

func (s *stubCatalog) AllRightNames(ctx context.Context) ([]string, error) { return s.catalog, nil }

func (s *stubCatalog) GetRoleByName(ctx context.Context, name string) (*rights.RoleDefinition, error) {
	patterns, ok := s.roles[name]
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return &rights.RoleDefinition{Name: name, Patterns: patterns, IsActive: true}, nil
}

func (s *stubCatalog) ListRoles(ctx context.Context, userType string) ([]rights.RoleDefinition, error) {
	return nil, nil
}

func (s *stubCatalog) UpdateRolePatterns(ctx context.Context, name string, patterns []string) (*rights.RoleDefinition, error) {
	return nil, httpx.ErrNotFound
}

type noCache struct{}

func (noCache) Get(ctx context.Context, role string) ([]string, bool)                  { return nil, false }
func (noCache) Put(ctx context.Context, role string, rights []string, t time.Duration) {}
func (noCache) Invalidate(ctx context.Context, role string)                            {}

type stubAdmins struct {
	records map[int64]*escalation.GlobalAdminRecord
}

func (s *stubAdmins) Get(ctx context.Context, subjectID int64) (*escalation.GlobalAdminRecord, error) {
	rec, ok := s.records[subjectID]
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return rec, nil
}

type fixture struct {
	service     *Service
	repo        *stubAuthRepo
	members     *stubMemberRepo
	tokens      *shared.TokenStore
	escalations *escalation.Manager
}

func ptr(id int64) *int64 { return &id }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := newStubAuthRepo()
	repo.add(&Subject{ID: 7, Email: "staff@example.edu", Name: "Sam Staff", PasswordHash: mustHash(t, "login-pass"), IsActive: true})
	repo.add(&Subject{ID: 8, Email: "inactive@example.edu", Name: "Gone", PasswordHash: mustHash(t, "login-pass"), IsActive: false})

	catalog := &stubCatalog{
		catalog: []string{"content:courses:read", "content:courses:write", "system:roles:manage"},
		roles: map[string][]string{
			"dept-admin":   {"content:*"},
			"system-admin": {"system:*"},
		},
	}
	resolver := rights.NewResolver(catalog, noCache{}, time.Minute, logger)

	tree := department.NewTree([]department.Department{
		{ID: 1, Name: "School", IsActive: true},
		{ID: 2, Name: "Science", ParentID: ptr(1), IsActive: true},
	})
	members := &stubMemberRepo{
		memberships: map[int64][]membership.Membership{
			7: {{ID: 1, SubjectID: 7, UserType: rights.UserTypeStaff, DepartmentID: 1, Roles: []string{"dept-admin"}, IsPrimary: true, IsActive: true, JoinedAt: time.Now()}},
		},
		selected: map[int64]int64{},
	}
	depts := &stubDeptRepo{tree: tree}
	index := membership.NewIndex(members, depts, resolver)
	switcher := membership.NewSwitcher(members, depts, resolver)

	admins := &stubAdmins{records: map[int64]*escalation.GlobalAdminRecord{
		7: {SubjectID: 7, Roles: []string{"system-admin"}, EscalationPasswordHash: mustHash(t, "admin-pass"), IsActive: true},
	}}
	escalations := escalation.NewManager(admins, escalation.NewStore(client, logger), 15*time.Minute, logger)

	tokens := shared.NewTokenStore(client, time.Hour, 720*time.Hour, logger)
	service := NewService(repo, tokens, index, switcher, escalations, logger)

	return &fixture{service: service, repo: repo, members: members, tokens: tokens, escalations: escalations}
}

func TestLoginAssemblesFullBundle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Login(ctx, "staff@example.edu", "login-pass", "10.0.0.1", "go-test")
	require.NoError(t, err)

	assert.Equal(t, int64(7), result.User.ID)
	assert.Equal(t, "staff@example.edu", result.User.Email)
	assert.NotEmpty(t, result.Session.AccessToken)
	assert.Equal(t, "Bearer", result.Session.TokenType)
	assert.Equal(t, []rights.UserType{rights.UserTypeStaff}, result.UserTypes)
	assert.Equal(t, "staff", result.DefaultDashboard)
	assert.True(t, result.CanEscalateToAdmin)

	require.Len(t, result.DepartmentMemberships, 1)
	bundle := result.DepartmentMemberships[0]
	assert.Equal(t, int64(1), bundle.DepartmentID)
	assert.Equal(t, []string{"dept-admin"}, bundle.Roles)
	assert.Equal(t, []int64{2}, bundle.ChildDepartments)

	assert.Contains(t, result.AllAccessRights, "content:courses:read")
	// Admin rights require an escalation session; login never includes them.
	assert.NotContains(t, result.AllAccessRights, "system:roles:manage")

	// No stored selection: falls back to the staff primary department.
	require.NotNil(t, result.LastSelectedDepartment)
	assert.Equal(t, int64(1), *result.LastSelectedDepartment)

	// Session metadata recorded for auditing.
	assert.Equal(t, int64(7), f.repo.sessions[result.Session.AccessToken])

	// The issued token resolves back to the subject.
	data, err := f.tokens.Access(ctx, result.Session.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, int64(7), data.SubjectID)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, unknownUser := f.service.Login(ctx, "nobody@example.edu", "login-pass", "", "")
	_, wrongPassword := f.service.Login(ctx, "staff@example.edu", "wrong", "", "")
	_, inactiveUser := f.service.Login(ctx, "inactive@example.edu", "login-pass", "", "")

	require.Error(t, unknownUser)
	assert.ErrorIs(t, unknownUser, shared.ErrInvalidCredentials)
	assert.Equal(t, unknownUser.Error(), wrongPassword.Error())
	assert.Equal(t, unknownUser.Error(), inactiveUser.Error())
}

func TestLogoutRevokesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Login(ctx, "staff@example.edu", "login-pass", "", "")
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx, result.Session.AccessToken))
	data, err := f.tokens.Access(ctx, result.Session.AccessToken)
	require.NoError(t, err)
	assert.Nil(t, data)

	// Idempotent.
	require.NoError(t, f.service.Logout(ctx, result.Session.AccessToken))
}

func TestSwitchDepartmentPersistsSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	login, err := f.service.Login(ctx, "staff@example.edu", "login-pass", "", "")
	require.NoError(t, err)

	result, err := f.service.SwitchDepartment(ctx, 7, login.Session.AccessToken, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.DepartmentID)
	assert.Equal(t, []string{"dept-admin"}, result.Roles)
	assert.Equal(t, int64(2), f.members.selected[7])

	// The live session mirrors the new selection.
	data, err := f.tokens.Access(ctx, login.Session.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, data)
	require.NotNil(t, data.LastSelectedDepartment)
	assert.Equal(t, int64(2), *data.LastSelectedDepartment)
}

func TestChangePasswordRevokesEverySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	login, err := f.service.Login(ctx, "staff@example.edu", "login-pass", "", "")
	require.NoError(t, err)
	adminSess, err := f.escalations.Escalate(ctx, 7, "admin-pass")
	require.NoError(t, err)

	require.NoError(t, f.service.ChangePassword(ctx, 7, "login-pass", "brand-new-pass"))

	// Both session tiers are gone.
	data, err := f.tokens.Access(ctx, login.Session.AccessToken)
	require.NoError(t, err)
	assert.Nil(t, data)
	_, err = f.escalations.ValidateToken(ctx, adminSess.Token)
	assert.ErrorIs(t, err, httpx.ErrUnauthorized)

	// Old password is dead, the new one works.
	_, err = f.service.Login(ctx, "staff@example.edu", "login-pass", "", "")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = f.service.Login(ctx, "staff@example.edu", "brand-new-pass", "", "")
	assert.NoError(t, err)
}

func TestChangePasswordRejectsWrongCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.service.ChangePassword(ctx, 7, "wrong", "brand-new-pass")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	// Password unchanged.
	_, err = f.service.Login(ctx, "staff@example.edu", "login-pass", "", "")
	assert.NoError(t, err)
}
