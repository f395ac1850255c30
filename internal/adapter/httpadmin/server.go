// Package httpadmin is the administrative HTTP surface: health and
// metrics endpoints, scheduler status and manual triggers, notification
// rule management, and the failed-delivery operator view.
package httpadmin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/storm-watch/internal/domain"
	"github.com/couchcryptid/storm-watch/internal/scheduler"
	"github.com/couchcryptid/storm-watch/internal/store"
)

// ScheduleControl is the scheduler surface the API exposes.
type ScheduleControl interface {
	Snapshots() []domain.ScheduleSnapshot
	ForceTrigger(ctx context.Context, feed domain.Feed, date *time.Time) error
}

// AdminStore is the persistence surface for rule management and the
// operator views.
type AdminStore interface {
	ListRules(ctx context.Context) ([]domain.NotificationRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (domain.NotificationRule, error)
	CreateRule(ctx context.Context, r *domain.NotificationRule) error
	UpdateRule(ctx context.Context, r *domain.NotificationRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	FailedDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error)
	LinksForAlert(ctx context.Context, alertID uuid.UUID) ([]domain.VerificationLink, error)
}

// AlertCache serves the recent in-memory alert view.
type AlertCache interface {
	Recent() []domain.AlertRecord
}

// Server is the administrative HTTP server.
type Server struct {
	httpServer *http.Server
	schedule   ScheduleControl
	store      AdminStore
	cache      AlertCache
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewServer builds the server and its routes.
func NewServer(addr string, schedule ScheduleControl, adminStore AdminStore, cache AlertCache, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	s := &Server{
		schedule: schedule,
		store:    adminStore,
		cache:    cache,
		validate: validator.New(),
		logger:   logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get("/healthz", sharedobs.LivenessHandler())
	router.Get("/readyz", sharedobs.ReadinessHandler(ready))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/feeds/{feed}/trigger", s.handleTrigger)

		r.Get("/alerts/recent", s.handleRecentAlerts)
		r.Get("/alerts/{id}/links", s.handleAlertLinks)

		r.Get("/deliveries/failed", s.handleFailedDeliveries)

		r.Get("/rules", s.handleListRules)
		r.Post("/rules", s.handleCreateRule)
		r.Get("/rules/{id}", s.handleGetRule)
		r.Put("/rules/{id}", s.handleUpdateRule)
		r.Delete("/rules/{id}", s.handleDeleteRule)
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("admin server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"feeds": s.schedule.Snapshots()})
}

// handleTrigger fires one feed cycle out of band. An optional date query
// parameter (report feed only) selects the target day.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	feed := domain.Feed(chi.URLParam(r, "feed"))
	if feed != domain.FeedAlerts && feed != domain.FeedReports {
		writeError(w, http.StatusBadRequest, "unknown feed")
		return
	}

	var date *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = &parsed
	}

	err := s.schedule.ForceTrigger(r.Context(), feed, date)
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrFutureDate):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
	}
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": s.cache.Recent()})
}

func (s *Server) handleAlertLinks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	links, err := s.store.LinksForAlert(r.Context(), id)
	if err != nil {
		s.internalError(w, "list alert links", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (s *Server) handleFailedDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	deliveries, err := s.store.FailedDeliveries(r.Context(), limit)
	if err != nil {
		s.internalError(w, "list failed deliveries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

// rulePayload is the create/update request body. Magnitude thresholds
// must be positive when present; a missing active flag defaults to true.
type rulePayload struct {
	Name          string   `json:"name" validate:"required,max=128"`
	States        []string `json:"states"`
	Counties      []string `json:"counties"`
	AreaCodes     []string `json:"area_codes"`
	MinHailInches *float64 `json:"min_hail_inches" validate:"omitempty,gt=0"`
	MinWindMPH    *float64 `json:"min_wind_mph" validate:"omitempty,gt=0"`
	EventTypes    []string `json:"event_types"`
	Endpoint      string   `json:"endpoint" validate:"required,url"`
	Active        *bool    `json:"active"`
}

func (s *Server) decodeRule(w http.ResponseWriter, r *http.Request) (rulePayload, bool) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return rulePayload{}, false
	}
	if err := s.validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return rulePayload{}, false
	}
	return payload, true
}

func (payload rulePayload) toRule() domain.NotificationRule {
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	now := domain.Now()
	return domain.NotificationRule{
		Name:          payload.Name,
		States:        payload.States,
		Counties:      payload.Counties,
		AreaCodes:     payload.AreaCodes,
		MinHailInches: payload.MinHailInches,
		MinWindMPH:    payload.MinWindMPH,
		EventTypes:    payload.EventTypes,
		Endpoint:      payload.Endpoint,
		Active:        active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		s.internalError(w, "list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	rule := payload.toRule()
	if err := s.store.CreateRule(r.Context(), &rule); err != nil {
		s.internalError(w, "create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	rule, err := s.store.GetRule(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		s.internalError(w, "get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	payload, ok := s.decodeRule(w, r)
	if !ok {
		return
	}

	rule := payload.toRule()
	rule.ID = id
	rule.UpdatedAt = domain.Now()
	err = s.store.UpdateRule(r.Context(), &rule)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		s.internalError(w, "update rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	err = s.store.DeleteRule(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		s.internalError(w, "delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
