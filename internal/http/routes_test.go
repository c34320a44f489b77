package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, token string) http.Handler {
	t.Helper()
	s := newTestServices(t)
	return NewRouter(RouterServices{
		Jobs:           s.jobs,
		Scans:          s.scans,
		Audits:         s.audits,
		Pages:          s.pages,
		Alerts:         s.alerts,
		CollectorToken: token,
	})
}

func TestRouter_Healthz(t *testing.T) {
	router := newTestRouter(t, "collector-token")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRouter_Readyz_NoChecks(t *testing.T) {
	router := newTestRouter(t, "collector-token")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CollectorRoutes_RequireToken(t *testing.T) {
	router := newTestRouter(t, "collector-token")

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/reserve?type=capture", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/jobs/reserve?type=capture", nil)
	req.Header.Set(CollectorTokenHeader, "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/jobs/reserve?type=capture", nil)
	req.Header.Set(CollectorTokenHeader, "collector-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, "valid token with empty queue reserves nothing")
}

func TestRouter_CollectorRoutes_DisabledWithoutToken(t *testing.T) {
	// An empty configured token shuts the collector surface.
	router := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/reserve?type=capture", nil)
	req.Header.Set(CollectorTokenHeader, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_OperatorRoutesReachable(t *testing.T) {
	router := newTestRouter(t, "collector-token")

	// Auth is not configured in this router, so the operator surface is open.
	req := httptest.NewRequest(http.MethodGet, "/api/scans", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"scans"`)
}

func TestRouter_UnknownRoute(t *testing.T) {
	router := newTestRouter(t, "collector-token")

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequireCollectorToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid token passes", func(t *testing.T) {
		handler := RequireCollectorToken("secret")(next)
		req := httptest.NewRequest(http.MethodPost, "/api/jobs/reserve", nil)
		req.Header.Set(CollectorTokenHeader, "secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token rejected", func(t *testing.T) {
		handler := RequireCollectorToken("secret")(next)
		req := httptest.NewRequest(http.MethodPost, "/api/jobs/reserve", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("empty configured token disables surface", func(t *testing.T) {
		handler := RequireCollectorToken("")(next)
		req := httptest.NewRequest(http.MethodPost, "/api/jobs/reserve", nil)
		req.Header.Set(CollectorTokenHeader, "")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
