package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atlas-lms/atlas-lms/internal/auth"
	"github.com/atlas-lms/atlas-lms/internal/authz"
	"github.com/atlas-lms/atlas-lms/internal/escalation"
	"github.com/atlas-lms/atlas-lms/internal/membership"
	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
	"github.com/atlas-lms/atlas-lms/internal/rights"
	"github.com/atlas-lms/atlas-lms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Gate              *authz.Gate
	AuthHandler       *auth.Handler
	EscalationHandler *escalation.Handler
	RightsHandler     *rights.Handler
	Memberships       *membership.Index
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with Atlas defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(r chi.Router) {
		params.AuthHandler.MountRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(params.Gate.Authenticate)
			params.EscalationHandler.MountRoutes(r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(params.Gate.Authenticate)

		params.RightsHandler.MountRoutes(r)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}

		r.Get("/departments", func(w http.ResponseWriter, req *http.Request) {
			subject := authz.SubjectFromContext(req.Context())
			visible, err := params.Memberships.VisibleDepartments(req.Context(), subject.SubjectID)
			if err != nil {
				params.Logger.Error("visible departments", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			httpx.JSON(w, http.StatusOK, map[string]any{"departments": visible})
		})

		r.Group(func(r chi.Router) {
			r.Use(params.Gate.RequireDepartmentMembership)
			r.Get("/departments/{departmentID}/context", func(w http.ResponseWriter, req *http.Request) {
				dept := authz.DepartmentFromContext(req.Context())
				httpx.JSON(w, http.StatusOK, map[string]any{
					"departmentId": dept.DepartmentID,
					"roles":        dept.Roles,
					"accessRights": dept.AccessRights,
				})
			})
		})
	})

	return r
}
