package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"siteledger/internal/domain"
	"siteledger/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
	// Registry receives the API metrics; a private one is created when nil.
	Registry *prometheus.Registry
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"project not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type projectList struct {
	Items []domain.Project `json:"items"`
}

type eventList struct {
	Items []domain.Event `json:"items"`
}

type handlers struct {
	repo    repo.Repo
	logger  *zap.Logger
	metrics *metrics
}

// New returns an HTTP handler exposing the siteledger API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger, m, basePath))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	hcfg := huma.DefaultConfig("siteledger API", "0.1.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{repo: cfg.Repo, logger: logger, metrics: m}
	registerHealth(group)
	h.registerProjects(group)
	h.registerEvents(group)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", "project not found", nil)
	case errors.Is(err, repo.ErrInvalid):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// decodeProject reads the raw request body. Projects are decoded by hand so
// drafts with missing or legacy fields are accepted as the dashboard sends
// them.
func decodeProject(raw []byte) (domain.Project, huma.StatusError) {
	var p domain.Project
	if len(strings.TrimSpace(string(raw))) == 0 {
		return p, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, newAPIError(http.StatusBadRequest, "bad_request", "invalid project body", map[string]any{"error": err.Error()})
	}
	return p, nil
}

func (h handlers) registerProjects(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body projectList `json:"body"`
	}, error) {
		items, err := h.repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body projectList `json:"body"`
		}{Body: projectList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusOK,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		principal, authErr := requireWriter(ctx)
		if authErr != nil {
			return nil, authErr
		}
		draft, decodeErr := decodeProject(input.RawBody)
		if decodeErr != nil {
			return nil, decodeErr
		}
		p, err := h.repo.InsertProject(ctx, draft, principal.ActorID)
		h.metrics.observeWrite("create", err)
		if err != nil {
			return nil, handleError(err)
		}
		h.logger.Info("project created", zap.Int64("project_id", p.ID), zap.String("actor", principal.ActorID))
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := h.repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}",
		Summary:     "Replace project",
		Description: "Stores the whole project. Progress, currentSpent and expenseCategories are recomputed from the submitted collections.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
		RawBody   []byte
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		principal, authErr := requireWriter(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, decodeErr := decodeProject(input.RawBody)
		if decodeErr != nil {
			return nil, decodeErr
		}
		if p.ID != 0 && p.ID != input.ProjectID {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body id does not match path", map[string]any{"path_id": input.ProjectID, "body_id": p.ID})
		}
		p.ID = input.ProjectID
		saved, err := h.repo.UpdateProject(ctx, p, principal.ActorID)
		h.metrics.observeWrite("update", err)
		if err != nil {
			return nil, handleError(err)
		}
		h.logger.Info("project updated",
			zap.Int64("project_id", saved.ID),
			zap.String("actor", principal.ActorID),
			zap.Float64("current_spent", saved.CurrentSpent))
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: saved}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		ProjectID int64  `path:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		items, err := h.repo.LatestEvents(ctx, input.Limit, input.ProjectID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: eventList{Items: items}}, nil
	})
}

// requestLogger logs API calls at info and everything else (metrics
// scrapes, docs) at debug.
func requestLogger(logger *zap.Logger, m *metrics, basePath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)
			m.observeRequest(r.Method, ww.Status(), elapsed)
			log := logger.Debug
			if strings.HasPrefix(r.URL.Path, basePath+"/") {
				log = logger.Info
			}
			log("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", elapsed))
		})
	}
}
