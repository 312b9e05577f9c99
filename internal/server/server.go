package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"slam/internal/audit"
	"slam/internal/engine"
	"slam/internal/engine/auth"
	"slam/internal/logger"
	"slam/internal/metrics"
)

// Version is reported in the OpenAPI document and on GET /exec.
const Version = "0.3.0"

// execPath is served outside the base path so existing clients keep working.
const execPath = "/exec"

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	BasePath    string
	Auth        AuthConfig
	Log         *logger.Logger
	Metrics     *metrics.Metrics
	MetricsPath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"Version conflict: SLA-000001 was modified by someone else"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"current\":3}"`
}

// apiError models the error envelope of the resource API.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handlers struct {
	engine   engine.Engine
	perms    auth.Service
	activity audit.Writer
	log      *logger.Logger
	basePath string
}

// New returns an HTTP handler exposing the action endpoint, the resource
// API and, when configured, Prometheus metrics.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.DB == nil {
		return nil, errors.New("server requires an engine with a database")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
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
	router.Use(newAccessMiddleware(log, cfg.Metrics))
	router.Use(newRecoverMiddleware(log))
	router.Use(newIdentityMiddleware(cfg.Auth, log))

	hcfg := huma.DefaultConfig("SLAM API", Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{
		engine:   cfg.Engine,
		perms:    auth.Service{Config: cfg.Engine.Config},
		activity: audit.Writer{DB: cfg.Engine.DB},
		log:      log,
		basePath: basePath,
	}

	registerDocs(router, basePath)
	registerHealth(group, h)
	registerExec(api, h)
	registerSLAs(group, h)
	registerRelationships(group, h)
	registerActivity(group, h)
	registerPermissions(group, h)
	registerOpenAPI(router, api, basePath)

	if cfg.Metrics != nil {
		metricsPath := cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.Handle(metricsPath, cfg.Metrics.Handler())
	}
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), details)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{
			"id":       ce.ID,
			"expected": ce.Expected,
			"current":  ce.Current,
		})
	}
	if errors.Is(err, engine.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

// newRecoverMiddleware turns a panic into a structured answer. The action
// endpoint always answers {success:false,error}.
func newRecoverMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("panic recovered", "method", r.Method, "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				if r.URL.Path == execPath {
					writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": fmt.Sprint(rec)})
					return
				}
				respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func newAccessMiddleware(log *logger.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			m.InflightInc()
			defer m.InflightDec()

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			dur := time.Since(start)
			m.ObserveAPI(r.Method, route, status, dur)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", status,
				"duration_ms", dur.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

// registerOpenAPI serves the generated document with the error envelope and
// security schemes patched in. The document is built on first request.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

// ensureDefaultErrorResponses documents the envelope on every resource
// operation. /exec never answers with it.
func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	errorResponse := &huma.Response{
		Description: "Error envelope",
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
		},
	}
	for route, item := range oas.Paths {
		if route == execPath {
			continue
		}
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = errorResponse
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
		Description:  "HS256 token whose sub claim is the actor id",
	}
	// The empty requirement lets anonymous callers through as the default actor.
	optionalBearer := []map[string][]string{{"bearerAuth": {}}, {}}
	oas.Security = optionalBearer
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if route == healthPath {
				op.Security = []map[string][]string{}
			} else {
				op.Security = optionalBearer
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>SLAM API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;; anonymous calls use the default actor.
    </p>
  </body>
</html>`, specURL)
}

type healthOutput struct {
	Body struct {
		Status  string `json:"status" example:"ok"`
		Version string `json:"version"`
		Dialect string `json:"dialect"`
	}
}

func registerHealth(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Pings the database.",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		if err := h.engine.DB.PingContext(ctx); err != nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "database unreachable", nil)
		}
		out := &healthOutput{}
		out.Body.Status = "ok"
		out.Body.Version = Version
		out.Body.Dialect = string(h.engine.DB.Dialect)
		return out, nil
	})
}
