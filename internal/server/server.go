package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"cohortdash/internal/app"
	"cohortdash/internal/assignments"
	"cohortdash/internal/cohort"
	"cohortdash/internal/domain"
	"cohortdash/internal/repo"
	"cohortdash/internal/sitemap"
)

// Config for the HTTP API handler.
type Config struct {
	Handler        *cohort.Handler
	Repo           repo.Repo
	Sitemap        sitemap.Source
	SitemapOptions sitemap.Options
	OverdueDays    int
	BasePath       string
	Auth           AuthConfig
	Logger         *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"no published assignments for cohort"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"cohort\":\"web-1\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// dashboard serves the cohort endpoints. Syncs run one at a time so a single
// writer publishes snapshots.
type dashboard struct {
	cfg    Config
	syncMu sync.Mutex
}

// New returns an HTTP handler exposing the dashboard API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Handler == nil {
		return nil, errors.New("cohort handler required")
	}
	if cfg.Repo.DB == nil {
		return nil, errors.New("repo required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
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
	router.Use(requestLogger(cfg.Logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Cohortdash API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	d := &dashboard{cfg: cfg}
	registerHealth(group)
	registerSync(group, d)
	registerSession(group, d)
	registerAssignments(group, d)
	registerUnsynced(group, d)
	registerEvents(group, d)
	registerSitemap(router, basePath, d)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
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
	if errors.Is(err, repo.ErrNotFound) {
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

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	var once sync.Once
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
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
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
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

func registerSync(api huma.API, d *dashboard) {
	huma.Register(api, huma.Operation{
		OperationID: "sync-cohort",
		Method:      http.MethodPost,
		Path:        "/cohorts/{slug}/sync",
		Summary:     "Fetch tasks, syllabus and role and publish a new board",
		Description: "Failures resolve into a redirect and/or notification in the response instead of an error status.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Slug string      `path:"slug"`
		Body *SyncRequest `required:"false"`
	}) (*struct {
		Body SyncResponse `json:"body"`
	}, error) {
		if err := requireCohort(ctx, input.Slug); err != nil {
			return nil, handleError(err)
		}
		d.syncMu.Lock()
		defer d.syncMu.Unlock()

		prev, err := app.LoadSession(ctx, d.cfg.Repo, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		route := cohort.Route{CohortSlug: input.Slug}
		if b := input.Body; b != nil {
			route.AssetSlug = b.AssetSlug
			route.AssetKind = domain.ContentKind(b.AssetKind)
			route.Path = b.Path
		}
		next, out := d.cfg.Handler.Sync(ctx, route, prev)
		if !out.Failed() && route.Path != "" {
			checked, err := d.cfg.Handler.UnsyncedTasks(ctx, next, route.Path)
			if err != nil {
				d.cfg.Logger.Warn("unsynced check failed", zap.String("cohort", input.Slug), zap.Error(err))
			} else {
				next = checked
			}
		}
		resp := SyncResponse{
			Session:      sessionResponse(next),
			Redirect:     out.Redirect,
			Notification: out.Notification,
			Unsynced:     nonNilTasks(next.UnsyncedTasks),
		}
		if out.Err != nil {
			resp.Error = out.Err.Error()
		}
		return &struct {
			Body SyncResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerSession(api huma.API, d *dashboard) {
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/cohorts/{slug}/session",
		Summary:     "Get the stored cohort session",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, err := d.load(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		if s.Cohort.Slug == "" {
			return nil, newAPIError(http.StatusNotFound, "not_found", "cohort was never synced", map[string]any{"cohort": input.Slug})
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})
}

func (d *dashboard) load(ctx context.Context, slug string) (cohort.Session, error) {
	if err := requireCohort(ctx, slug); err != nil {
		return cohort.Session{}, err
	}
	return app.LoadSession(ctx, d.cfg.Repo, slug)
}

// loadBoard returns the session of a cohort that has a published board.
func (d *dashboard) loadBoard(ctx context.Context, slug string) (cohort.Session, error) {
	s, err := d.load(ctx, slug)
	if err != nil {
		return cohort.Session{}, err
	}
	if !s.Board.Published() {
		return cohort.Session{}, newAPIError(http.StatusNotFound, "not_found", "no published assignments for cohort", map[string]any{"cohort": slug})
	}
	return s, nil
}

func registerAssignments(api huma.API, d *dashboard) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/cohorts/{slug}/assignments",
		Summary:     "List the published assignment records",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		Body RecordsResponse `json:"body"`
	}, error) {
		s, err := d.loadBoard(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordsResponse `json:"body"`
		}{Body: RecordsResponse{Items: s.Board.Records()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-daily-module",
		Method:      http.MethodGet,
		Path:        "/cohorts/{slug}/daily",
		Summary:     "Get the record of the cohort's current module",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		Body domain.AssignmentRecord `json:"body"`
	}, error) {
		s, err := d.loadBoard(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		rec, ok := s.DailyModule()
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no record for the current module", map[string]any{"cohort": input.Slug})
		}
		return &struct {
			Body domain.AssignmentRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-last-done-module",
		Method:      http.MethodGet,
		Path:        "/cohorts/{slug}/last-done",
		Summary:     "Get the last record in syllabus order with a done slot",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		Body domain.AssignmentRecord `json:"body"`
	}, error) {
		s, err := d.loadBoard(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		rec, ok := s.LastDoneModule()
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no module has a done task", map[string]any{"cohort": input.Slug})
		}
		return &struct {
			Body domain.AssignmentRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-mandatory-projects",
		Method:      http.MethodGet,
		Path:        "/cohorts/{slug}/mandatory-projects",
		Summary:     "List overdue mandatory projects",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Slug    string `path:"slug"`
		MinDays int    `query:"min_days" minimum:"0" doc:"Days a project may stay pending; 0 uses the configured default"`
	}) (*struct {
		Body SlotsResponse `json:"body"`
	}, error) {
		s, err := d.loadBoard(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		minDays := input.MinDays
		if minDays == 0 {
			minDays = d.cfg.OverdueDays
		}
		if minDays <= 0 {
			minDays = assignments.DefaultOverdueDays
		}
		return &struct {
			Body SlotsResponse `json:"body"`
		}{Body: SlotsResponse{MinDays: minDays, Items: s.MandatoryProjects(minDays)}}, nil
	})
}

func registerUnsynced(api huma.API, d *dashboard) {
	huma.Register(api, huma.Operation{
		OperationID: "list-unsynced-tasks",
		Method:      http.MethodGet,
		Path:        "/cohorts/{slug}/unsynced",
		Summary:     "List tasks done outside the cohort that belong to its board",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Slug string `path:"slug"`
	}) (*struct {
		Body TasksResponse `json:"body"`
	}, error) {
		s, err := d.load(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TasksResponse `json:"body"`
		}{Body: TasksResponse{Items: nonNilTasks(s.UnsyncedTasks)}}, nil
	})
}

func registerEvents(api huma.API, d *dashboard) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/cohorts/{slug}/events",
		Summary:     "List sync events of a cohort, oldest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Slug   string `path:"slug"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requireCohort(ctx, input.Slug); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var after int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			after = parsed
		}
		items, err := d.cfg.Repo.EventsAfter(ctx, input.Slug, after, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerSitemap(r chi.Router, basePath string, d *dashboard) {
	r.Get(path.Join(basePath, "sitemap.xml"), func(w http.ResponseWriter, req *http.Request) {
		if d.cfg.Sitemap == nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "sitemap not configured", nil))
			return
		}
		routes, err := sitemap.Routes(req.Context(), d.cfg.Sitemap, d.cfg.SitemapOptions)
		if err != nil {
			d.cfg.Logger.Error("sitemap build failed", zap.Error(err))
			respondStatusError(w, newAPIError(http.StatusBadGateway, "upstream_error", "sitemap listing failed", map[string]any{"error": err.Error()}))
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		if err := sitemap.Write(w, sitemap.Build(routes, d.cfg.SitemapOptions)); err != nil {
			d.cfg.Logger.Warn("sitemap write failed", zap.Error(err))
		}
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
