// Package server exposes a read and admin HTTP API over an Engine's result
// store. It never executes operations.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/idem/internal/descriptor"
	"github.com/roach88/idem/internal/engine"
	"github.com/roach88/idem/internal/key"
	"github.com/roach88/idem/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Logger   *slog.Logger
}

// apiError models the error envelope.
type apiError struct {
	status  int
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"record not found"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// New returns an HTTP handler exposing the idem API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	installErrorModel()

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))

	hcfg := huma.DefaultConfig("idem API", "1.0.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = ""
	// No $schema links in response bodies.
	hcfg.CreateHooks = nil
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRecords(group, cfg.Engine)
	registerKeys(group, cfg.Engine)
	registerAdmin(group, cfg.Engine)

	return router, nil
}

var errorModelOnce sync.Once

// installErrorModel points huma's package-level error constructors at the
// {code,message} envelope.
func installErrorModel() {
	errorModelOnce.Do(func() {
		huma.DefaultArrayNullable = false
		huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
			return newAPIError(status, "", withDetails(msg, errs))
		}
		huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
			if status == http.StatusUnprocessableEntity {
				status = http.StatusBadRequest
			}
			return newAPIError(status, "", withDetails(msg, errs))
		}
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
			)
		})
	}
}

func withDetails(msg string, errs []error) string {
	var parts []string
	for _, err := range errs {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	if len(parts) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(parts, "; ")
}

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Code: code, Message: message}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, key.ErrInvalidDescriptor):
		return newAPIError(http.StatusBadRequest, "invalid_descriptor", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "store_unavailable"
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
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerRecords(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/records",
		Summary:     "List live records",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []RecordResponse `json:"body"`
	}, error) {
		records, err := e.Store().List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]RecordResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, recordResponse(rec))
		}
		return &struct {
			Body []RecordResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{key}",
		Summary:     "Get record",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct {
		Body RecordResponse `json:"body"`
	}, error) {
		rec, found, err := e.Store().Get(ctx, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		if !found {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("record %s not found", input.Key))
		}
		return &struct {
			Body RecordResponse `json:"body"`
		}{Body: recordResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-record",
		Method:        http.MethodDelete,
		Path:          "/records/{key}",
		Summary:       "Forget record",
		Description:   "Removes the record so the next call for this key executes again.",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*struct{}, error) {
		if err := e.Forget(ctx, input.Key); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerKeys(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "derive-key",
		Method:      http.MethodPost,
		Path:        "/keys",
		Summary:     "Derive an idempotency key",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body KeyRequest
	}) (*struct {
		Body KeyResponse `json:"body"`
	}, error) {
		f := descriptor.File{
			Principal: input.Body.Principal,
			Resource:  input.Body.Resource,
			Action:    input.Body.Action,
			Payload:   input.Body.Payload,
			Window:    input.Body.Window,
		}
		d, err := f.Descriptor()
		if err != nil {
			return nil, handleError(err)
		}
		at := e.Clock().Now()
		if input.Body.At != nil {
			at = time.UnixMilli(*input.Body.At)
		}
		exp, err := e.Deriver().Explain(d, at)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KeyResponse `json:"body"`
		}{Body: KeyResponse{
			Key:       string(exp.Key),
			Canonical: exp.Canonical,
			Bucket:    exp.Bucket,
			Window:    exp.Window.String(),
		}}, nil
	})
}

func registerAdmin(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep",
		Method:      http.MethodPost,
		Path:        "/sweep",
		Summary:     "Delete expired records",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		n, err := e.Sweep(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Removed: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "metrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Summary:     "Engine counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: e.Metrics().Snapshot()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "inflight",
		Method:      http.MethodGet,
		Path:        "/inflight",
		Summary:     "Keys executing in this process",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body InFlightResponse `json:"body"`
	}, error) {
		return &struct {
			Body InFlightResponse `json:"body"`
		}{Body: InFlightResponse{Keys: e.InFlight()}}, nil
	})
}
