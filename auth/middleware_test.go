package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProtectedRouter(m *JWTManager) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/pickers/{id}", func(r chi.Router) {
		r.Use(RequireSession(m, func(r *http.Request) string { return chi.URLParam(r, "id") }, nil))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(ClaimsFromContext(r.Context()).SessionID))
		})
	})
	return r
}

func TestRequireSession(t *testing.T) {
	m, clk := newTestManager(t)
	router := newProtectedRouter(m)

	token, err := m.Issue("s1")
	require.NoError(t, err)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
	}{
		{"own session", "/v1/pickers/s1", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "/v1/pickers/s1", "bearer " + token, http.StatusOK},
		{"other session", "/v1/pickers/s2", "Bearer " + token, http.StatusForbidden},
		{"missing header", "/v1/pickers/s1", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/pickers/s1", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "/v1/pickers/s1", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "s1", rec.Body.String())
			}
		})
	}

	t.Run("expired", func(t *testing.T) {
		clk.Increment(2 * time.Hour)

		req := httptest.NewRequest(http.MethodGet, "/v1/pickers/s1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "token expired")
	})
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := BearerToken(req)
	assert.ErrorIs(t, err, ErrNoToken)

	req.Header.Set("Authorization", "Bearer ")
	_, err = BearerToken(req)
	assert.ErrorIs(t, err, ErrInvalidToken)

	req.Header.Set("Authorization", "Bearer abc")
	got, err := BearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}
