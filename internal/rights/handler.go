package rights

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
	"github.com/atlas-lms/atlas-lms/internal/shared"
)

// Handler exposes the role/access-right catalog over HTTP. Reads are
// side-effect free; the pattern update is privileged and mounted behind the
// escalation guards supplied by the caller.
type Handler struct {
	logger      *slog.Logger
	repo        CatalogRepository
	resolver    *Resolver
	audit       *shared.AuditLogger
	validate    *validator.Validate
	adminGuards []func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. adminGuards wrap the mutating routes;
// typically RequireEscalation followed by RequireAdminRole.
func NewHandler(logger *slog.Logger, repo CatalogRepository, resolver *Resolver, audit *shared.AuditLogger, adminGuards ...func(http.Handler) http.Handler) *Handler {
	return &Handler{
		logger:      logger,
		repo:        repo,
		resolver:    resolver,
		audit:       audit,
		validate:    validator.New(),
		adminGuards: adminGuards,
	}
}

// MountRoutes registers catalog routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Get("/roles/{name}/access-rights", h.roleAccessRights)
	r.Get("/access-rights", h.listAccessRights)
	r.Group(func(r chi.Router) {
		for _, guard := range h.adminGuards {
			r.Use(guard)
		}
		r.Put("/roles/{name}/access-rights", h.updateRoleAccessRights)
	})
}

type roleView struct {
	Name      string    `json:"name"`
	UserType  UserType  `json:"userType"`
	Patterns  []string  `json:"patterns"`
	IsActive  bool      `json:"isActive"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.repo.ListRoles(r.Context(), r.URL.Query().Get("userType"))
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, roleView{
			Name:      role.Name,
			UserType:  role.UserType,
			Patterns:  role.Patterns,
			IsActive:  role.IsActive,
			UpdatedAt: role.UpdatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": views})
}

func (h *Handler) roleAccessRights(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	role, err := h.repo.GetRoleByName(r.Context(), name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	expanded, err := h.resolver.AccessRightsForRole(r.Context(), role.Name)
	if err != nil {
		h.logger.Error("resolve role rights", slog.String("role", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"name":         role.Name,
		"userType":     role.UserType,
		"patterns":     role.Patterns,
		"accessRights": expanded,
	})
}

func (h *Handler) listAccessRights(w http.ResponseWriter, r *http.Request) {
	entries, err := h.repo.ListAccessRights(r.Context(), r.URL.Query().Get("domain"))
	if err != nil {
		h.logger.Error("list access rights", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	type rightView struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	views := make([]rightView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, rightView{Name: entry.Name, Description: entry.Description})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accessRights": views})
}

type updateRoleRightsRequest struct {
	AccessRights []string `json:"accessRights" validate:"required,min=1"`
}

func (h *Handler) updateRoleAccessRights(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req updateRoleRightsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", httpx.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: accessRights must contain at least one pattern", httpx.ErrValidation))
		return
	}
	for _, pattern := range req.AccessRights {
		if !ValidPattern(pattern) {
			httpx.RespondError(w, fmt.Errorf("%w: malformed access-right pattern %q", httpx.ErrValidation, pattern))
			return
		}
	}

	role, err := h.repo.UpdateRolePatterns(r.Context(), name, req.AccessRights)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	// Only the mutated role's cache entry is dropped.
	h.resolver.Invalidate(r.Context(), role.Name)

	if h.audit != nil {
		h.audit.RecordAsync(shared.AuditLog{
			ActorID:  shared.ActorIDFromContext(r.Context()),
			Action:   "role.patterns.update",
			Entity:   "role",
			EntityID: role.Name,
			Meta:     map[string]any{"patterns": req.AccessRights},
		})
	}

	expanded, err := h.resolver.AccessRightsForRole(r.Context(), role.Name)
	if err != nil {
		h.logger.Error("resolve after update", slog.String("role", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"name":         role.Name,
		"patterns":     role.Patterns,
		"accessRights": expanded,
	})
}
