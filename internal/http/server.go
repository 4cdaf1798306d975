package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"your.org/whatsmeow-linker/internal/broker"
	"your.org/whatsmeow-linker/internal/config"
	ilog "your.org/whatsmeow-linker/internal/log"
	"your.org/whatsmeow-linker/internal/mirror"
	"your.org/whatsmeow-linker/internal/phone"
	"your.org/whatsmeow-linker/internal/registry"
)

// Server encapsulates the HTTP API surface exposed by the linker.  It
// holds references to the configuration, the pairing registry and the
// connection mirror.  When Start is called the server begins
// listening on cfg.HTTPAddr.  Shutdown gracefully stops the listener.
type Server struct {
	cfg       *config.Config
	registry  *registry.Registry
	mirror    *mirror.Mirror
	limiter   *RateLimiter
	httpSrv   *http.Server
	ready     bool
	startedAt time.Time
}

// NewServer constructs a new HTTP server.  It wires up all routes
// using Gorilla mux.  The server will report itself as ready once
// Start has been invoked.
func NewServer(cfg *config.Config, reg *registry.Registry, m *mirror.Mirror) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  reg,
		mirror:    m,
		limiter:   NewRateLimiter(),
		startedAt: time.Now(),
	}
	router := mux.NewRouter()
	// Landing page with current status and the code-request form.
	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)

	// Pairing code lifecycle
	router.HandleFunc("/generate-code", s.handleGenerateCode).Methods(http.MethodPost)
	router.HandleFunc("/api/generate-code", s.handleGenerateCode).Methods(http.MethodPost)
	router.HandleFunc("/verify-code", s.handleVerifyCode).Methods(http.MethodPost)
	router.HandleFunc("/api/verify-code/{code}", s.handleVerifyCodePath).Methods(http.MethodGet)

	// Connection state
	router.HandleFunc("/getqr", s.handleGetQR).Methods(http.MethodPost)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)

	// Diagnostics
	router.HandleFunc("/admin/codes", s.handleAdminCodes).Methods(http.MethodGet)

	// Health and readiness probes
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	router.HandleFunc("/live", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)

	s.httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	return s
}

// Start begins serving HTTP requests.  It sets the readiness flag
// which causes the ready endpoint to return HTTP 200.  If the
// underlying http.Server exits with an error other than
// http.ErrServerClosed it will be returned to the caller.
func (s *Server) Start() error {
	s.ready = true
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.  After shutdown the
// ready endpoint will return HTTP 503.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready = false
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

type generateRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type generateResponse struct {
	Success     bool      `json:"success"`
	Code        string    `json:"code,omitempty"`
	DisplayCode string    `json:"displayCode,omitempty"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Status      string    `json:"status,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitzero"`
	Message     string    `json:"message,omitempty"`
}

// handleGenerateCode issues a new pairing code, optionally bound to a
// phone number.  Invalid phones are a 400; exceeding the per-IP rate
// limit is a 429 with a Retry-After hint.
func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	allowed, remaining, resetAt := s.limiter.Check(clientIP(r), s.cfg.RateLimitPerMin)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.cfg.RateLimitPerMin))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))
	if !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, generateResponse{
			Success: false,
			Message: "too many requests, retry later",
		})
		return
	}

	var req generateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeJSON(w, http.StatusBadRequest, generateResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	var canonical string
	if req.PhoneNumber != "" {
		c, err := phone.Normalize(req.PhoneNumber, s.cfg.DefaultCountryPrefix)
		if err != nil {
			var ipe *phone.InvalidPhoneError
			msg := "invalid phone number"
			if errors.As(err, &ipe) {
				msg = ipe.Reason
			}
			writeJSON(w, http.StatusBadRequest, generateResponse{
				Success: false,
				Message: msg,
			})
			return
		}
		canonical = c.E164
	}

	rec, err := s.registry.Issue(canonical)
	if err != nil {
		ilog.Errorf("issue pairing code: %v", err)
		writeJSON(w, http.StatusInternalServerError, generateResponse{
			Success: false,
			Message: "could not generate a code",
		})
		return
	}

	if err := broker.Publish(broker.RouteCodeIssued, rec); err != nil {
		ilog.Errorf("publish code.issued: %v", err)
	}

	writeJSON(w, http.StatusOK, generateResponse{
		Success:     true,
		Code:        rec.Code,
		DisplayCode: rec.DisplayCode,
		PhoneNumber: rec.PhoneNumber,
		Status:      string(rec.Status),
		ExpiresAt:   rec.ExpiresAt,
	})
}

type verifyRequest struct {
	Code string `json:"code"`
}

type verifyResponse struct {
	Success bool             `json:"success"`
	Valid   bool             `json:"valid"`
	Record  *registry.Record `json:"record,omitempty"`
	Message string           `json:"message,omitempty"`
}

// handleVerifyCode checks a code submitted in the request body.
// Unknown or expired codes are a normal response with valid=false,
// not an HTTP error.
func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, verifyResponse{
			Success: false,
			Message: "missing code",
		})
		return
	}
	s.verifyCode(w, req.Code)
}

// handleVerifyCodePath is the GET variant with the code in the path.
func (s *Server) handleVerifyCodePath(w http.ResponseWriter, r *http.Request) {
	s.verifyCode(w, mux.Vars(r)["code"])
}

func (s *Server) verifyCode(w http.ResponseWriter, code string) {
	rec, ok := s.registry.Lookup(code)
	if !ok {
		writeJSON(w, http.StatusOK, verifyResponse{
			Success: true,
			Valid:   false,
			Message: "code not found or expired",
		})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Success: true, Valid: true, Record: &rec})
}

type qrResponse struct {
	Success bool   `json:"success"`
	QRImage string `json:"qrImage,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleGetQR returns the latest QR code as a base64 data URI.  When
// no QR is available the response is still a 200, with success=false,
// so the page can poll without treating the gap as an error.
func (s *Server) handleGetQR(w http.ResponseWriter, r *http.Request) {
	img, ok := s.mirror.QRImage()
	if !ok {
		snap := s.mirror.Snapshot()
		msg := "qr not ready"
		if snap.State == mirror.StateOnline {
			msg = "already connected"
		}
		writeJSON(w, http.StatusOK, qrResponse{Success: false, Message: msg})
		return
	}
	writeJSON(w, http.StatusOK, qrResponse{
		Success: true,
		QRImage: "data:image/png;base64," + img,
	})
}

type statusResponse struct {
	Connection    mirror.Snapshot `json:"connection"`
	Codes         registry.Stats  `json:"codes"`
	UptimeSeconds int64           `json:"uptimeSeconds"`
}

// handleStatus reports the mirrored connection snapshot, registry
// counters and process uptime.  Read-only.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Connection:    s.mirror.Snapshot(),
		Codes:         s.registry.Stats(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleAdminCodes lists every record in the registry.  The endpoint
// is only enabled when ADMIN_TOKEN is configured and the caller
// presents it in X-Admin-Token.
func (s *Server) handleAdminCodes(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminToken == "" {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"message": "admin listing disabled",
		})
		return
	}
	token := r.Header.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"message": "forbidden",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"codes":   s.registry.List(),
	})
}

// handleHealth always returns HTTP 200 OK.  It can be used by
// orchestrators to determine if the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"pong": time.Now().UTC().Format(time.RFC3339)})
}

// handleReady returns HTTP 200 once the server has started, 503
// otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
}

var errEmptyBody = errors.New("empty body")

// decodeJSON decodes a JSON payload from the request body into the
// provided target.  A missing body is reported as errEmptyBody so
// handlers with fully optional fields can accept it.
func decodeJSON(r *http.Request, target interface{}) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(target)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
