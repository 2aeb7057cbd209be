package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-lms/atlas-lms/internal/authz"
	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
	"github.com/atlas-lms/atlas-lms/internal/shared"
)

// Handler exposes the authentication endpoints. Login and refresh are
// public; everything else runs behind the Authenticate gate supplied by
// the caller.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	validate     *validator.Validate
	authenticate func(http.Handler) http.Handler
}

// NewHandler constructs a Handler. authenticate wraps the session-bound
// routes.
func NewHandler(logger *slog.Logger, service *Service, authenticate func(http.Handler) http.Handler) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		validate:     validator.New(),
		authenticate: authenticate,
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/refresh", h.handleRefresh)
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/logout", h.handleLogout)
		r.Post("/switch-department", h.handleSwitchDepartment)
		r.Put("/password", h.handleChangePassword)
		r.Get("/me", h.handleMe)
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", httpx.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: email and password are required", httpx.ErrValidation))
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", httpx.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: refreshToken is required", httpx.ErrValidation))
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), authz.BearerToken(r)); err != nil {
		h.logger.Warn("logout", slog.Any("error", err))
	}
	// Idempotent: absent sessions log out successfully.
	httpx.JSON(w, http.StatusOK, map[string]any{"loggedOut": true})
}

type switchDepartmentRequest struct {
	DepartmentID int64 `json:"departmentId" validate:"required,gt=0"`
}

func (h *Handler) handleSwitchDepartment(w http.ResponseWriter, r *http.Request) {
	subject := authz.SubjectFromContext(r.Context())
	if subject == nil {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}

	var req switchDepartmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", httpx.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: departmentId is required", httpx.ErrValidation))
		return
	}

	result, err := h.service.SwitchDepartment(r.Context(), subject.SubjectID, authz.BearerToken(r), req.DepartmentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	subjectID := shared.ActorIDFromContext(r.Context())
	if subjectID == 0 {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}

	var req changePasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", httpx.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: newPassword must be at least 8 characters", httpx.ErrValidation))
		return
	}

	if err := h.service.ChangePassword(r.Context(), subjectID, req.CurrentPassword, req.NewPassword); err != nil {
		httpx.RespondError(w, err)
		return
	}
	// Every session is gone after the rotation; clients must log in again.
	httpx.JSON(w, http.StatusOK, map[string]any{"changed": true})
}

// handleMe returns the gate-attached view of the caller, including whether
// the current request is elevated.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	subject := authz.SubjectFromContext(r.Context())
	if subject == nil {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	resp := map[string]any{
		"subjectId":              subject.SubjectID,
		"userTypes":              subject.UserTypes,
		"allAccessRights":        subject.AllAccessRights,
		"canEscalateToAdmin":     subject.CanEscalateToAdmin,
		"defaultDashboard":       subject.DefaultDashboard,
		"lastSelectedDepartment": subject.LastSelectedDepartment,
		"escalated":              false,
	}
	if admin := authz.AdminFromContext(r.Context()); admin != nil {
		resp["escalated"] = true
		resp["adminRoles"] = admin.Roles
		resp["adminAccessRights"] = admin.AccessRights
		resp["escalationExpiresAt"] = admin.ExpiresAt
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
