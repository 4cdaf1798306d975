package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"your.org/whatsmeow-linker/internal/config"
	"your.org/whatsmeow-linker/internal/mirror"
	"your.org/whatsmeow-linker/internal/registry"
)

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	cfg := &config.Config{
		HTTPAddr:             ":0",
		SessionStore:         t.TempDir(),
		DefaultCountryPrefix: "+254",
		CodeExpiry:           10 * time.Minute,
		MaxSessions:          100,
		MaxQRAttempts:        5,
		RateLimitPerMin:      10,
	}
	reg := registry.New(cfg.CodeExpiry, cfg.MaxSessions)
	t.Cleanup(reg.Close)
	m := mirror.New(cfg.SessionStore, cfg.MaxQRAttempts, reg)
	return NewServer(cfg, reg, m), reg
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	out := map[string]any{}
	if rr.Body.Len() > 0 && strings.Contains(rr.Header().Get("Content-Type"), "json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestGenerateCode(t *testing.T) {
	t.Run("issues a code for a valid phone", func(t *testing.T) {
		s, reg := newTestServer(t)

		rr, body := doJSON(t, s, http.MethodPost, "/generate-code", `{"phoneNumber":"+254723278526"}`)
		require.Equal(t, http.StatusOK, rr.Code)

		assert.Equal(t, true, body["success"])
		assert.Equal(t, "+254723278526", body["phoneNumber"])
		assert.Equal(t, "pending", body["status"])
		assert.Regexp(t, `^[A-Z0-9]{4}-[A-Z0-9]{4}$`, body["displayCode"])

		rec, ok := reg.Lookup(body["code"].(string))
		require.True(t, ok)
		assert.Equal(t, "+254723278526", rec.PhoneNumber)
	})

	t.Run("api alias behaves identically", func(t *testing.T) {
		s, _ := newTestServer(t)
		rr, body := doJSON(t, s, http.MethodPost, "/api/generate-code", `{"phoneNumber":"0723278526"}`)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "+254723278526", body["phoneNumber"])
	})

	t.Run("phone is optional", func(t *testing.T) {
		s, _ := newTestServer(t)
		rr, body := doJSON(t, s, http.MethodPost, "/generate-code", `{}`)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, body["success"])
		_, has := body["phoneNumber"]
		assert.False(t, has)
	})

	t.Run("rejects an invalid phone with 400 and creates nothing", func(t *testing.T) {
		s, reg := newTestServer(t)

		rr, body := doJSON(t, s, http.MethodPost, "/generate-code", `{"phoneNumber":"abc"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, 0, reg.Size())
	})

	t.Run("rate limits by client ip", func(t *testing.T) {
		s, _ := newTestServer(t)
		s.cfg.RateLimitPerMin = 2

		for i := 0; i < 2; i++ {
			rr, _ := doJSON(t, s, http.MethodPost, "/generate-code", `{}`)
			require.Equal(t, http.StatusOK, rr.Code)
		}
		rr, body := doJSON(t, s, http.MethodPost, "/generate-code", `{}`)
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "60", rr.Header().Get("Retry-After"))
		assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	})
}

func TestVerifyCode(t *testing.T) {
	s, reg := newTestServer(t)
	rec, err := reg.Issue("+254723278526")
	require.NoError(t, err)

	t.Run("post body with display form", func(t *testing.T) {
		rr, body := doJSON(t, s, http.MethodPost, "/verify-code", `{"code":"`+rec.DisplayCode+`"}`)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, body["valid"])
		record := body["record"].(map[string]any)
		assert.Equal(t, rec.Code, record["code"])
	})

	t.Run("get path with raw form", func(t *testing.T) {
		rr, body := doJSON(t, s, http.MethodGet, "/api/verify-code/"+rec.Code, "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, body["valid"])
	})

	t.Run("unknown code is not an http error", func(t *testing.T) {
		rr, body := doJSON(t, s, http.MethodGet, "/api/verify-code/ZZZZ9999", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, false, body["valid"])
	})

	t.Run("missing code in body is a 400", func(t *testing.T) {
		rr, _ := doJSON(t, s, http.MethodPost, "/verify-code", `{}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetQR(t *testing.T) {
	s, _ := newTestServer(t)

	rr, body := doJSON(t, s, http.MethodPost, "/getqr", "")
	require.Equal(t, http.StatusOK, rr.Code, "missing QR is not an error")
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["message"])
}

func TestStatus(t *testing.T) {
	s, reg := newTestServer(t)
	_, err := reg.Issue("")
	require.NoError(t, err)

	for _, path := range []string{"/status", "/api/status"} {
		rr, body := doJSON(t, s, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rr.Code)

		conn := body["connection"].(map[string]any)
		assert.Equal(t, "disconnected", conn["state"])
		codes := body["codes"].(map[string]any)
		assert.Equal(t, float64(1), codes["generated"])
		assert.Contains(t, body, "uptimeSeconds")
	}
}

func TestAdminCodes(t *testing.T) {
	t.Run("disabled without a configured token", func(t *testing.T) {
		s, _ := newTestServer(t)
		rr, _ := doJSON(t, s, http.MethodGet, "/admin/codes", "")
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("rejects a wrong token", func(t *testing.T) {
		s, _ := newTestServer(t)
		s.cfg.AdminToken = "sekrit"

		req := httptest.NewRequest(http.MethodGet, "/admin/codes", nil)
		req.Header.Set("X-Admin-Token", "nope")
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("lists records with the right token", func(t *testing.T) {
		s, reg := newTestServer(t)
		s.cfg.AdminToken = "sekrit"
		_, err := reg.Issue("+254723278526")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/admin/codes", nil)
		req.Header.Set("X-Admin-Token", "sekrit")
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Len(t, body["codes"], 1)
	})
}

func TestProbes(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/health", "/ping", "/live"} {
		rr, _ := doJSON(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}

	t.Run("ready reflects startup", func(t *testing.T) {
		rr, _ := doJSON(t, s, http.MethodGet, "/ready", "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

		s.ready = true
		rr, _ = doJSON(t, s, http.MethodGet, "/ready", "")
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestIndexPage(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "disconnected")
	assert.Contains(t, rr.Body.String(), "generate-code")
}
