package auth

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atlas-lms/atlas-lms/internal/authz"
	"github.com/atlas-lms/atlas-lms/internal/escalation"
	"github.com/atlas-lms/atlas-lms/internal/membership"
	"github.com/atlas-lms/atlas-lms/internal/rights"
	"github.com/atlas-lms/atlas-lms/internal/shared"
)

// Service assembles the full authentication payload: cascaded membership
// lookup, rights union, session issuance. It is the only place the pieces
// meet; each collaborator owns its own state.
type Service struct {
	repo        Repository
	tokens      *shared.TokenStore
	index       *membership.Index
	switcher    *membership.Switcher
	escalations *escalation.Manager
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, tokens *shared.TokenStore, index *membership.Index, switcher *membership.Switcher, escalations *escalation.Manager, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		tokens:      tokens,
		index:       index,
		switcher:    switcher,
		escalations: escalations,
		logger:      logger,
	}
}

// Login validates credentials and assembles the rights bundle. Admin-only
// rights are excluded until a valid escalation session exists.
func (s *Service) Login(ctx context.Context, email, password, ip, ua string) (*LoginResult, error) {
	subject, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !subject.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(subject.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}

	bundles, err := s.index.AllRolesForSubject(ctx, subject.ID)
	if err != nil {
		return nil, err
	}
	userTypes, err := s.index.UserTypes(ctx, subject.ID)
	if err != nil {
		return nil, err
	}
	allRights, err := s.index.AllAccessRights(ctx, subject.ID)
	if err != nil {
		return nil, err
	}
	canEscalate := s.escalations.CanEscalate(ctx, subject.ID)

	lastSelected := subject.LastSelectedDepartment
	if lastSelected == nil {
		lastSelected = s.fallbackDepartment(ctx, subject.ID, userTypes)
	}

	typeStrings := make([]string, len(userTypes))
	for i, t := range userTypes {
		typeStrings[i] = string(t)
	}
	tokens, err := s.tokens.Issue(ctx, shared.SessionData{
		SubjectID:              subject.ID,
		UserTypes:              typeStrings,
		LastSelectedDepartment: lastSelected,
	})
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.tokens.AccessTTL())
	if err := s.repo.CreateSessionRecord(ctx, tokens.AccessToken, subject.ID, expiresAt, ip, ua); err != nil {
		s.logger.Warn("record login session", slog.Any("error", err))
	}

	return &LoginResult{
		User:                   UserView{ID: subject.ID, Email: subject.Email, Name: subject.Name},
		Session:                *tokens,
		UserTypes:              userTypes,
		DefaultDashboard:       authz.DefaultDashboard(userTypes, canEscalate),
		CanEscalateToAdmin:     canEscalate,
		DepartmentMemberships:  bundles,
		AllAccessRights:        allRights,
		LastSelectedDepartment: lastSelected,
	}, nil
}

// Refresh rotates the token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*shared.Tokens, error) {
	return s.tokens.Refresh(ctx, refreshToken)
}

// Logout revokes the session. Idempotent.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	if err := s.repo.DeleteSessionRecord(ctx, accessToken); err != nil {
		s.logger.Warn("remove session record", slog.Any("error", err))
	}
	return s.tokens.Revoke(ctx, accessToken)
}

// SwitchDepartment changes the active department context and mirrors the
// new selection onto the live session.
func (s *Service) SwitchDepartment(ctx context.Context, subjectID int64, accessToken string, departmentID int64) (*membership.SwitchResult, error) {
	result, err := s.switcher.SwitchDepartment(ctx, subjectID, departmentID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.SetLastSelected(ctx, accessToken, departmentID); err != nil {
		s.logger.Warn("update session department", slog.Any("error", err))
	}
	return result, nil
}

// ChangePassword rotates the login password. Primary and escalation
// sessions are both revoked; a credential change invalidates every
// standing session.
func (s *Service) ChangePassword(ctx context.Context, subjectID int64, current, next string) error {
	subject, err := s.repo.FindByID(ctx, subjectID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(subject.PasswordHash), []byte(current)); err != nil {
		return shared.ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePasswordHash(ctx, subjectID, string(hash)); err != nil {
		return err
	}
	if err := s.escalations.RevokeForSubject(ctx, subjectID); err != nil {
		s.logger.Warn("revoke escalation sessions", slog.Any("error", err))
	}
	if err := s.tokens.RevokeForSubject(ctx, subjectID); err != nil {
		s.logger.Warn("revoke primary sessions", slog.Any("error", err))
	}
	return nil
}

func (s *Service) fallbackDepartment(ctx context.Context, subjectID int64, userTypes []rights.UserType) *int64 {
	for _, t := range []rights.UserType{rights.UserTypeStaff, rights.UserTypeLearner} {
		if !containsType(userTypes, t) {
			continue
		}
		primary, err := s.index.PrimaryDepartment(ctx, subjectID, t)
		if err != nil {
			s.logger.Warn("primary department lookup", slog.Any("error", err))
			continue
		}
		if primary != nil {
			id := primary.DepartmentID
			return &id
		}
	}
	return nil
}

func containsType(types []rights.UserType, t rights.UserType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
