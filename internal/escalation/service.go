package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
)

// DefaultTTL is the escalation session lifetime when none is configured.
const DefaultTTL = 900 * time.Second

// errEscalationDenied is returned for both a wrong password and a missing
// global-admin record, so probing cannot reveal which accounts hold admin
// capability.
var errEscalationDenied = fmt.Errorf("%w: escalation denied", httpx.ErrUnauthorized)

// Manager drives the escalation session lifecycle. Escalate opens a fixed
// window; Deescalate or TTL expiry closes it.
type Manager struct {
	admins AdminRepository
	store  *Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewManager constructs a Manager.
func NewManager(admins AdminRepository, store *Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{admins: admins, store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Escalate verifies the escalation password against the global-admin
// record's separate hash (never the login password) and issues a fresh
// token, overwriting any prior active session for the subject.
func (m *Manager) Escalate(ctx context.Context, subjectID int64, password string) (*Session, error) {
	rec, err := m.admins.Get(ctx, subjectID)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return nil, errEscalationDenied
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.EscalationPasswordHash), []byte(password)); err != nil {
		return nil, errEscalationDenied
	}

	now := m.now().UTC()
	sess := Session{
		Token:     uuid.NewString(),
		SubjectID: subjectID,
		Roles:     rec.Roles,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Put(ctx, sess, m.ttl); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Deescalate destroys the session for a token. Idempotent.
func (m *Manager) Deescalate(ctx context.Context, token string) error {
	return m.store.Delete(ctx, token)
}

// ValidateToken returns the session payload when the token is present and
// unexpired. Expiry is evaluated lazily against the stored expiresAt; no
// background sweep is required for correctness.
func (m *Manager) ValidateToken(ctx context.Context, token string) (*Session, error) {
	sess := m.store.Get(ctx, token)
	if sess == nil {
		return nil, fmt.Errorf("%w: admin session expired", httpx.ErrUnauthorized)
	}
	if !m.now().Before(sess.ExpiresAt) {
		if err := m.store.Delete(ctx, token); err != nil && m.logger != nil {
			m.logger.Warn("delete expired escalation session", slog.Any("error", err))
		}
		return nil, fmt.Errorf("%w: admin session expired", httpx.ErrUnauthorized)
	}
	return sess, nil
}

// IsActive reports whether the subject holds an unexpired session. The
// check never extends the TTL: escalation is a fixed window, forcing
// periodic re-auth for sensitive operations.
func (m *Manager) IsActive(ctx context.Context, subjectID int64) bool {
	token, ok := m.store.TokenForSubject(ctx, subjectID)
	if !ok {
		return false
	}
	sess := m.store.Get(ctx, token)
	return sess != nil && m.now().Before(sess.ExpiresAt)
}

// CanEscalate reports whether the subject holds an active global-admin
// record. Used to surface capability in the login payload; it grants
// nothing by itself.
func (m *Manager) CanEscalate(ctx context.Context, subjectID int64) bool {
	_, err := m.admins.Get(ctx, subjectID)
	return err == nil
}

// RevokeForSubject destroys the subject's session on account-level events.
func (m *Manager) RevokeForSubject(ctx context.Context, subjectID int64) error {
	return m.store.DeleteForSubject(ctx, subjectID)
}

// TTL exposes the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
