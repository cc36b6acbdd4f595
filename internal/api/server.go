package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"catalog-import-service/internal/config"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/ratelimit"
	"catalog-import-service/internal/store"
	"catalog-import-service/internal/telemetry"
)

// Catalog is the product storage behind the management endpoints.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (models.Product, error)
	ListProducts(ctx context.Context, q store.ProductQuery) (store.Page[models.Product], error)
	UpdateProduct(ctx context.Context, id int64, u store.ProductUpdate) (models.Product, models.Product, error)
	ToggleProduct(ctx context.Context, id int64) (models.Product, error)
	DeleteProduct(ctx context.Context, id int64) (models.Product, error)
	DeleteAllProducts(ctx context.Context) (int64, error)
}

// Registry is the webhook subscription storage.
type Registry interface {
	CreateWebhook(ctx context.Context, url, eventType string, enabled bool) (models.Webhook, error)
	GetWebhook(ctx context.Context, id int64) (models.Webhook, error)
	ListWebhooks(ctx context.Context, q store.WebhookQuery) (store.Page[models.Webhook], error)
	UpdateWebhook(ctx context.Context, id int64, u store.WebhookUpdate) (models.Webhook, error)
	ToggleWebhook(ctx context.Context, id int64) (models.Webhook, error)
	DeleteWebhook(ctx context.Context, id int64) error
}

// Jobs submits and reports on background jobs. It also publishes catalog
// events for asynchronous webhook delivery.
type Jobs interface {
	SubmitImport(ctx context.Context, path string) (models.Job, error)
	Status(ctx context.Context, id string) (models.JobStatus, error)
	Failed(ctx context.Context, count int64) ([]string, error)
	Publish(ctx context.Context, eventType string, payload map[string]any) error
}

// Uploads stores CSV files for the worker to read.
type Uploads interface {
	Save(ctx context.Context, name string, body io.Reader) (string, error)
}

// Tester sends a manual test delivery to one subscription.
type Tester interface {
	Test(ctx context.Context, id int64) (*models.Delivery, error)
}

// Limiter admits or rejects an upload.
type Limiter interface {
	Allow(ctx context.Context, clientKey string) (ratelimit.Decision, error)
}

// Pinger reports dependency health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the API server. Limiter and Health may be nil.
type Deps struct {
	Catalog  Catalog
	Registry Registry
	Jobs     Jobs
	Uploads  Uploads
	Tester   Tester
	Limiter  Limiter
	Health   Pinger
}

// Server wires HTTP handlers for the catalog API.
type Server struct {
	cfg  config.Config
	deps Deps
	log  *zap.Logger
}

// New constructs the API server.
func New(cfg config.Config, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, deps: deps, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/imports", s.handleImport)
	r.Get("/jobs/failed", s.handleFailedJobs)
	r.Get("/jobs/{id}", s.handleGetJob)

	r.Route("/products", func(r chi.Router) {
		r.Get("/", s.handleListProducts)
		r.Delete("/", s.handleDeleteAllProducts)
		r.Get("/{id}", s.handleGetProduct)
		r.Put("/{id}", s.handleUpdateProduct)
		r.Delete("/{id}", s.handleDeleteProduct)
		r.Post("/{id}/toggle", s.handleToggleProduct)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/", s.handleListWebhooks)
		r.Post("/", s.handleCreateWebhook)
		r.Get("/{id}", s.handleGetWebhook)
		r.Put("/{id}", s.handleUpdateWebhook)
		r.Delete("/{id}", s.handleDeleteWebhook)
		r.Post("/{id}/toggle", s.handleToggleWebhook)
		r.Post("/{id}/test", s.handleTestWebhook)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// publish hands an event to the job backend. Delivery is asynchronous, so a
// failure here is logged and never fails the request that caused the event.
func (s *Server) publish(ctx context.Context, eventType string, payload map[string]any) {
	if err := s.deps.Jobs.Publish(ctx, eventType, payload); err != nil {
		s.log.Error("publish event", zap.String("event", eventType), zap.Error(err))
	}
}

type errorResponse struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrInvalidQuery):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
