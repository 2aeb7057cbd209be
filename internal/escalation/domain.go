package escalation

import "time"

// GlobalAdminRecord holds a subject's elevated-role grants, scoped only to
// the root department (no cascade), together with the escalation credential.
// The escalation password hash is distinct from the login password hash.
type GlobalAdminRecord struct {
	SubjectID              int64
	Roles                  []string
	EscalationPasswordHash string
	IsActive               bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Session is an ephemeral admin escalation session. It is keyed by an
// opaque token, carries a snapshot of the admin roles at issuance, and
// lives independently of the primary login session.
type Session struct {
	Token     string    `json:"token"`
	SubjectID int64     `json:"subject_id"`
	Roles     []string  `json:"roles"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
