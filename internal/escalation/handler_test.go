package escalation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-lms/atlas-lms/internal/shared"
)

func newTestRouter(t *testing.T) (chi.Router, *Manager) {
	t.Helper()
	mgr, _ := newTestManager(t)
	handler := NewHandler(testLogger(), mgr)
	r := chi.NewRouter()
	// Stand-in for the Authenticate gate: attach the actor id directly.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actor := req.Header.Get("X-Test-Actor"); actor == "42" {
				req = req.WithContext(shared.ContextWithActorID(req.Context(), 42))
			}
			next.ServeHTTP(w, req)
		})
	})
	handler.MountRoutes(r)
	return r, mgr
}

func TestHandleEscalate(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/escalate", strings.NewReader(`{"escalationPassword":"super-secret"}`))
	req.Header.Set("X-Test-Actor", "42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		AdminToken string `json:"adminToken"`
		ExpiresAt  string `json:"expiresAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AdminToken)
	assert.NotEmpty(t, resp.ExpiresAt)
}

func TestHandleEscalateWrongPassword(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/escalate", strings.NewReader(`{"escalationPassword":"not-the-password"}`))
	req.Header.Set("X-Test-Actor", "42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleEscalateRequiresActor(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/escalate", strings.NewReader(`{"escalationPassword":"super-secret"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleEscalateValidatesBody(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/escalate", strings.NewReader(`{"escalationPassword":"short"}`))
	req.Header.Set("X-Test-Actor", "42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/escalate", strings.NewReader(`{`))
	req.Header.Set("X-Test-Actor", "42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeescalateIsIdempotent(t *testing.T) {
	router, mgr := newTestRouter(t)
	sess, err := mgr.Escalate(context.Background(), 42, "super-secret")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/deescalate", nil)
		req.Header.Set("X-Test-Actor", "42")
		req.Header.Set(AdminTokenHeader, sess.Token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.False(t, mgr.IsActive(context.Background(), 42))
}
