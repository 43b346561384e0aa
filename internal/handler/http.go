package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/practice-ranking/internal/auth"
	"github.com/practice-ranking/internal/domain"
	"github.com/practice-ranking/internal/service"
	"github.com/practice-ranking/internal/websocket"
)

// Rankings serves the monthly ranking
type Rankings interface {
	CurrentPeriod() domain.Period
	SubmitRecord(ctx context.Context, rec domain.PracticeRecord) (bool, error)
	Top(ctx context.Context, period domain.Period, n int) ([]domain.RankingEntry, error)
	Entry(ctx context.Context, period domain.Period, userID string) (*domain.RankingEntry, error)
}

// Grants runs grant cycles on demand
type Grants interface {
	GrantPrevious(ctx context.Context) (*service.GrantResult, error)
	GrantFor(ctx context.Context, period domain.Period) (*service.GrantResult, error)
}

// Presence tracks online users
type Presence interface {
	Heartbeat(ctx context.Context, userID string) error
	Online(ctx context.Context) ([]string, error)
}

// Accounts manages profiles
type Accounts interface {
	Profile(ctx context.Context, userID string) (*domain.Profile, error)
	SaveProfile(ctx context.Context, userID, displayName string) error
	MarkProfileVerified(ctx context.Context, userID string) error
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// ReadyFunc reports whether a dependency is reachable
type ReadyFunc func(ctx context.Context) error

// Handler provides HTTP handlers for the ranking API
type Handler struct {
	rankings Rankings
	grants   Grants
	presence Presence
	accounts Accounts
	hub       *websocket.Hub
	ready     map[string]ReadyFunc
	jwtSecret string
	logger    *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	rankings Rankings,
	grants Grants,
	presence Presence,
	accounts Accounts,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		rankings: rankings,
		grants:   grants,
		presence: presence,
		accounts: accounts,
		hub:      hub,
		ready:    make(map[string]ReadyFunc),
		logger:   logger,
	}
}

// SetJWTSecret sets the key admin bearer tokens are verified with.
// Admin routes answer 401 while it is empty.
func (h *Handler) SetJWTSecret(secret string) {
	h.jwtSecret = secret
}

// AddReadyCheck registers a dependency probed by /ready
func (h *Handler) AddReadyCheck(name string, check ReadyFunc) {
	h.ready[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ProfileRequest is the body of a profile upsert
type ProfileRequest struct {
	DisplayName string `json:"display_name"`
}

// GrantRequest is the body of a manual grant trigger
type GrantRequest struct {
	Period string `json:"period,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/records", h.SubmitRecord)

		r.Route("/rankings", func(r chi.Router) {
			r.Get("/current", h.GetCurrentRanking)
			r.Get("/{period}", h.GetRanking)
			r.Get("/{period}/users/{userID}", h.GetUserEntry)
		})

		r.Route("/profiles/{userID}", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.Put("/", h.SaveProfile)
			r.Post("/verify", h.VerifyProfile)
		})

		r.Get("/presence", h.ListOnline)
		r.Post("/presence/{userID}", h.Heartbeat)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/grants", h.TriggerGrant)
		})

		if h.hub != nil {
			r.Get("/ws/stats", h.GetWebSocketStats)
		}
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type actorKey struct{}

// requireAdmin admits requests bearing a valid token whose subject holds
// the admin claim
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
			return
		}

		userID, err := auth.Subject(h.jwtSecret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			h.logger.Debug("rejected admin token", "error", err)
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
			return
		}

		admin, err := h.accounts.IsAdmin(r.Context(), userID)
		if err != nil {
			h.writeServiceError(w, "authorize admin", err)
			return
		}
		if !admin {
			h.logger.Warn("admin route refused", "user_id", userID, "path", r.URL.Path)
			h.writeError(w, http.StatusForbidden, domain.ErrForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, userID)))
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error onto a status code
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidRecord),
		errors.Is(err, domain.ErrInvalidPeriod):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error("request failed", "operation", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	period := h.rankings.CurrentPeriod().ID()
	h.writeSuccess(w, map[string]any{
		"total_connections":   h.hub.GetTotalConnections(),
		"current_period":      period,
		"current_subscribers": h.hub.GetSubscriberCount(period),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck probes every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range h.ready {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		h.logger.Warn("readiness check failed", "failed", failed)
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    failed,
			Error:   "not ready",
		})
		return
	}

	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// SubmitRecord handles practice record submission
func (h *Handler) SubmitRecord(w http.ResponseWriter, r *http.Request) {
	var rec domain.PracticeRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if err := rec.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	replaced, err := h.rankings.SubmitRecord(r.Context(), rec)
	if err != nil {
		h.writeServiceError(w, "submit record", err)
		return
	}

	h.writeSuccess(w, map[string]bool{
		"accepted": true,
		"replaced": replaced,
	})
}

// GetCurrentRanking returns the top of the open period
func (h *Handler) GetCurrentRanking(w http.ResponseWriter, r *http.Request) {
	h.writeRanking(w, r, h.rankings.CurrentPeriod())
}

// GetRanking returns the top of the requested period
func (h *Handler) GetRanking(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidPeriod)
		return
	}
	h.writeRanking(w, r, period)
}

func (h *Handler) writeRanking(w http.ResponseWriter, r *http.Request, period domain.Period) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.rankings.Top(r.Context(), period, limit)
	if err != nil {
		h.writeServiceError(w, "get ranking", err)
		return
	}

	h.writeSuccess(w, map[string]any{
		"period":  period.ID(),
		"entries": entries,
	})
}

// GetUserEntry returns one user's entry in a period
func (h *Handler) GetUserEntry(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidPeriod)
		return
	}
	userID := chi.URLParam(r, "userID")

	entry, err := h.rankings.Entry(r.Context(), period, userID)
	if err != nil {
		h.writeServiceError(w, "get entry", err)
		return
	}

	h.writeSuccess(w, entry)
}

// GetProfile returns a profile with its badges
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.accounts.Profile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, "get profile", err)
		return
	}

	h.writeSuccess(w, profile)
}

// SaveProfile creates or renames a profile
func (h *Handler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.accounts.SaveProfile(r.Context(), chi.URLParam(r, "userID"), req.DisplayName); err != nil {
		h.writeServiceError(w, "save profile", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "saved"})
}

// VerifyProfile sets the profile claim for a user who owns a profile
func (h *Handler) VerifyProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.MarkProfileVerified(r.Context(), chi.URLParam(r, "userID")); err != nil {
		h.writeServiceError(w, "verify profile", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "verified"})
}

// Heartbeat marks a user as online
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.presence.Heartbeat(r.Context(), chi.URLParam(r, "userID")); err != nil {
		h.writeServiceError(w, "heartbeat", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "online"})
}

// ListOnline returns the users currently online
func (h *Handler) ListOnline(w http.ResponseWriter, r *http.Request) {
	users, err := h.presence.Online(r.Context())
	if err != nil {
		h.writeServiceError(w, "list online", err)
		return
	}

	h.writeSuccess(w, map[string]any{
		"count": len(users),
		"users": users,
	})
}

// TriggerGrant runs a grant cycle for the previous or the given period
func (h *Handler) TriggerGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
	}

	var (
		result *service.GrantResult
		err    error
	)
	if req.Period == "" {
		result, err = h.grants.GrantPrevious(r.Context())
	} else {
		period, perr := domain.ParsePeriod(req.Period)
		if perr != nil {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidPeriod)
			return
		}
		result, err = h.grants.GrantFor(r.Context(), period)
	}
	if err != nil {
		h.writeServiceError(w, "grant", err)
		return
	}

	actor, _ := r.Context().Value(actorKey{}).(string)
	h.logger.Info("grant cycle triggered over http", "actor", actor, "period", result.Period, "skipped", result.Skipped)
	h.writeSuccess(w, result)
}
