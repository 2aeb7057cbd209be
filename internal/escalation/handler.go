package escalation

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

// AdminTokenHeader carries the escalation token on privileged requests.
const AdminTokenHeader = "X-Admin-Token"

// Handler wires the escalate/de-escalate endpoints. Both require an
// authenticated primary session; neither touches it.
type Handler struct {
	logger   *slog.Logger
	manager  *Manager
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, manager *Manager) *Handler {
	return &Handler{logger: logger, manager: manager, validate: validator.New()}
}

// MountRoutes registers escalation routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/escalate", h.handleEscalate)
	r.Post("/deescalate", h.handleDeescalate)
}

type escalateRequest struct {
	EscalationPassword string `json:"escalationPassword" validate:"required,min=8"`
}

type escalateResponse struct {
	AdminToken string    `json:"adminToken"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (h *Handler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	subjectID := shared.ActorIDFromContext(r.Context())
	if subjectID == 0 {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}

	var req escalateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid json body", httpx.ErrValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: escalationPassword must be at least 8 characters", httpx.ErrValidation))
		return
	}

	sess, err := h.manager.Escalate(r.Context(), subjectID, req.EscalationPassword)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, escalateResponse{AdminToken: sess.Token, ExpiresAt: sess.ExpiresAt})
}

func (h *Handler) handleDeescalate(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(AdminTokenHeader)
	if err := h.manager.Deescalate(r.Context(), token); err != nil {
		h.logger.Warn("deescalate", slog.Any("error", err))
	}
	// Idempotent: absent sessions de-escalate successfully.
	httpx.JSON(w, http.StatusOK, map[string]any{"deescalated": true})
}
