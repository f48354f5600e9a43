package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sendas-app/recorridos/internal/auth"
	"github.com/sendas-app/recorridos/internal/ctxutil"
	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/service/journey"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	journeys            *journey.Service
	jwtMgr              *auth.JWTManager
	store               Pinger
	storeName           string
	serviceKeyHash      string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Journeys            *journey.Service
	JWTMgr              *auth.JWTManager
	Store               Pinger
	StoreName           string
	ServiceKeyHash      string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		journeys:            d.Journeys,
		jwtMgr:              d.JWTMgr,
		store:               d.Store,
		storeName:           d.StoreName,
		serviceKeyHash:      d.ServiceKeyHash,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleAuthToken handles POST /auth/token. The Sendas backend authenticates
// with "Authorization: ServiceKey <key>" and receives a student token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.serviceKeyHash == "" {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "token exchange is disabled")
		return
	}

	scheme, key, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "ServiceKey") || key == "" {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing service key")
		return
	}
	valid, err := auth.VerifyServiceKey(key, h.serviceKeyHash)
	if err != nil {
		h.writeInternalError(w, r, "verify service key", err)
		return
	}
	if !valid {
		h.logger.Warn("auth: rejected service key", "remote_addr", r.RemoteAddr)
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid service key")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "user_id is required")
		return
	}
	if req.Level < 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "level must not be negative")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.UserID, req.Level)
	if err != nil {
		h.writeInternalError(w, r, "issue token", err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleHealth handles GET /health. It reports 503 when the store is down.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, dbStatus, code := "healthy", "connected", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health: store ping failed", "error", err)
		status, dbStatus, code = "unhealthy", "disconnected", http.StatusServiceUnavailable
	}

	writeJSON(w, r, code, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Store:    h.storeName,
		Database: dbStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPISpec handles GET /openapi.yaml.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "openapi spec not available")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(h.openapiSpec)
}

// writeInternalError logs err and writes a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"request_id", ctxutil.RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
}

// parseRunID reads the {run_id} path value.
func parseRunID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("run_id"))
	return id, err == nil
}

// requestContext builds the journey request context from the token claims.
func requestContext(r *http.Request) model.RequestContext {
	rc := model.RequestContext{UserID: ctxutil.UserIDFromContext(r.Context()), Values: model.Object{}}
	if claims := ctxutil.ClaimsFromContext(r.Context()); claims != nil && claims.Level > 0 {
		rc.Values["level"] = claims.Level
	}
	return rc
}
