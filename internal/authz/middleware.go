package authz

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-lms/atlas-lms/internal/escalation"
	"github.com/atlas-lms/atlas-lms/internal/membership"
	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
	"github.com/atlas-lms/atlas-lms/internal/rights"
	"github.com/atlas-lms/atlas-lms/internal/shared"
)

// Mode selects how RequireAccessRight combines multiple rights.
type Mode string

const (
	// ModeAny passes when at least one required right is covered.
	ModeAny Mode = "any"
	// ModeAll passes only when every required right is covered.
	ModeAll Mode = "all"
)

// Gate wires the ordered, composable authorization checks. Each gate either
// attaches context or rejects; none has other side effects, so every gate is
// testable in isolation with a synthetic request context.
type Gate struct {
	Logger      *slog.Logger
	Sessions    *shared.TokenStore
	Memberships *membership.Index
	Resolver    *rights.Resolver
	Escalations *escalation.Manager
	Audit       *shared.AuditLogger
}

// Authenticate verifies the primary session and attaches the subject. A
// valid admin token additionally attaches a separate elevated context; an
// invalid or absent one simply leaves the request non-elevated.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := g.Sessions.Access(r.Context(), BearerToken(r))
		if err != nil || data == nil {
			httpx.RespondError(w, fmt.Errorf("%w: missing or invalid session", httpx.ErrUnauthenticated))
			return
		}

		allRights, err := g.Memberships.AllAccessRights(r.Context(), data.SubjectID)
		if err != nil {
			g.Logger.Error("resolve subject rights", slog.Int64("subject", data.SubjectID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}

		userTypes := make([]rights.UserType, 0, len(data.UserTypes))
		for _, t := range data.UserTypes {
			userTypes = append(userTypes, rights.UserType(t))
		}
		canEscalate := g.Escalations.CanEscalate(r.Context(), data.SubjectID)

		subject := &Subject{
			SubjectID:              data.SubjectID,
			UserTypes:              userTypes,
			AllAccessRights:        allRights,
			CanEscalateToAdmin:     canEscalate,
			DefaultDashboard:       DefaultDashboard(userTypes, canEscalate),
			LastSelectedDepartment: data.LastSelectedDepartment,
		}
		ctx := ContextWithSubject(r.Context(), subject)
		ctx = shared.ContextWithActorID(ctx, subject.SubjectID)

		if token := r.Header.Get(escalation.AdminTokenHeader); token != "" {
			if sess, err := g.Escalations.ValidateToken(ctx, token); err == nil && sess.SubjectID == subject.SubjectID {
				adminRights, err := g.Resolver.AccessRightsForRoles(ctx, sess.Roles)
				if err != nil {
					g.Logger.Error("resolve admin rights", slog.Int64("subject", subject.SubjectID), slog.Any("error", err))
					httpx.RespondError(w, err)
					return
				}
				ctx = ContextWithAdmin(ctx, &AdminContext{
					SubjectID:    sess.SubjectID,
					Roles:        sess.Roles,
					AccessRights: adminRights,
					ExpiresAt:    sess.ExpiresAt,
				})
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireDepartmentMembership resolves the department from the request URL
// and requires direct-or-cascaded membership, attaching the department
// scope on success.
func (g *Gate) RequireDepartmentMembership(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := SubjectFromContext(r.Context())
		if subject == nil {
			httpx.RespondError(w, httpx.ErrUnauthenticated)
			return
		}
		deptID, err := strconv.ParseInt(chi.URLParam(r, "departmentID"), 10, 64)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid department id", httpx.ErrValidation))
			return
		}

		ok, err := g.Memberships.HasDepartmentAccess(r.Context(), subject.SubjectID, deptID)
		if err != nil {
			g.Logger.Error("department access check", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if !ok {
			g.deny(r, subject.SubjectID, "department_membership", map[string]any{"department": deptID})
			httpx.RespondError(w, fmt.Errorf("%w: no membership in department %d", httpx.ErrForbidden, deptID))
			return
		}

		roles, err := g.Memberships.EffectiveRoles(r.Context(), subject.SubjectID, deptID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		deptRights, err := g.Resolver.AccessRightsForRoles(r.Context(), roles)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		ctx := ContextWithDepartment(r.Context(), &DepartmentContext{
			DepartmentID: deptID,
			Roles:        roles,
			AccessRights: deptRights,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireDepartmentRole requires intersection between the effective
// department roles and the allowed set.
func (g *Gate) RequireDepartmentRole(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dept := DepartmentFromContext(r.Context())
			if dept == nil || !intersects(dept.Roles, allowed) {
				g.denyFromRequest(r, "department_role", map[string]any{"allowed": allowed})
				httpx.RespondError(w, fmt.Errorf("%w: required role missing", httpx.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAccessRight runs a wildcard-aware check against the department
// scope when one is attached, otherwise against the subject's global
// rights. The policy is uniform: no cross-scope fallback.
func (g *Gate) RequireAccessRight(mode Mode, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var granted []string
			if dept := DepartmentFromContext(r.Context()); dept != nil {
				granted = dept.AccessRights
			} else if subject := SubjectFromContext(r.Context()); subject != nil {
				granted = subject.AllAccessRights
			} else {
				httpx.RespondError(w, httpx.ErrUnauthenticated)
				return
			}

			passed := false
			switch mode {
			case ModeAll:
				passed = rights.HasAllAccessRights(granted, required)
			default:
				passed = rights.HasAnyAccessRight(granted, required)
			}
			if !passed {
				g.denyFromRequest(r, "access_right", map[string]any{"required": required, "mode": string(mode)})
				httpx.RespondError(w, fmt.Errorf("%w: required access right missing", httpx.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireEscalation requires a valid unexpired admin session. The failure
// is 401, not 403: "not currently elevated" differs from "lacks the role".
func (g *Gate) RequireEscalation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AdminFromContext(r.Context()) == nil {
			g.denyFromRequest(r, "escalation", nil)
			httpx.RespondError(w, fmt.Errorf("%w: admin escalation required", httpx.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdminRole checks the escalated role snapshot. Runs after
// RequireEscalation.
func (g *Gate) RequireAdminRole(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admin := AdminFromContext(r.Context())
			if admin == nil {
				httpx.RespondError(w, fmt.Errorf("%w: admin escalation required", httpx.ErrUnauthorized))
				return
			}
			if !intersects(admin.Roles, allowed) {
				g.denyFromRequest(r, "admin_role", map[string]any{"allowed": allowed})
				httpx.RespondError(w, fmt.Errorf("%w: required admin role missing", httpx.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gate) denyFromRequest(r *http.Request, check string, meta map[string]any) {
	actorID := shared.ActorIDFromContext(r.Context())
	g.deny(r, actorID, check, meta)
}

// deny reports the denial to the audit sink without ever blocking or
// failing the response.
func (g *Gate) deny(r *http.Request, actorID int64, check string, meta map[string]any) {
	if g.Audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["check"] = check
	meta["method"] = r.Method
	g.Audit.RecordAsync(shared.AuditLog{
		ActorID:  actorID,
		Action:   "authz.denied",
		Entity:   "route",
		EntityID: r.URL.Path,
		Meta:     meta,
	})
}

// BearerToken extracts the opaque token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func intersects(have, allowed []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, a := range allowed {
		if _, ok := set[a]; ok {
			return true
		}
	}
	return false
}
