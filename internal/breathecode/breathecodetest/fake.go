// Package breathecodetest serves a canned upstream API for tests.
package breathecodetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"cohortdash/internal/domain"
)

// Fake is an in-memory upstream. Populate the fields, then call Start.
type Fake struct {
	Profile     domain.Profile
	CohortTasks map[string][]domain.Task
	LooseTasks  []domain.Task
	// Syllabi is keyed by "academy/slug/version" and holds raw documents.
	Syllabi       map[string]string
	Roles         map[string]domain.RoleCapabilities
	Assets        map[string]domain.Asset
	AssetLists    map[string][]domain.Asset
	PublicSyllabi []map[string]string
	// Fail makes any request whose path starts with the key answer that status.
	Fail map[string]int

	mu       sync.Mutex
	requests []string
}

// Start serves the fake until the returned server is closed.
func (f *Fake) Start() *httptest.Server {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.requests = append(f.requests, req.URL.RequestURI())
			fail := f.Fail
			f.mu.Unlock()
			for prefix, status := range fail {
				if strings.HasPrefix(req.URL.Path, prefix) {
					http.Error(w, `{"detail":"forced failure"}`, status)
					return
				}
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/v1/admissions/me", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, f.Profile)
	})
	r.Get("/v1/assignment/user/me/task", func(w http.ResponseWriter, req *http.Request) {
		cohort := req.URL.Query().Get("cohort")
		if cohort == "" || cohort == "null" {
			writeJSON(w, nonNil(f.LooseTasks))
			return
		}
		writeJSON(w, map[string]any{"results": nonNil(f.CohortTasks[cohort])})
	})
	r.Get("/v1/admissions/academy/{academy}/syllabus/{slug}/version/{version}", func(w http.ResponseWriter, req *http.Request) {
		key := fmt.Sprintf("%s/%s/%s", chi.URLParam(req, "academy"), chi.URLParam(req, "slug"), chi.URLParam(req, "version"))
		doc, ok := f.Syllabi[key]
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	})
	r.Get("/v1/auth/role/{role}", func(w http.ResponseWriter, req *http.Request) {
		role, ok := f.Roles[chi.URLParam(req, "role")]
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, role)
	})
	r.Get("/v1/registry/asset/{slug}", func(w http.ResponseWriter, req *http.Request) {
		asset, ok := f.Assets[chi.URLParam(req, "slug")]
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, asset)
	})
	r.Get("/v1/registry/asset", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, nonNil(f.AssetLists[req.URL.Query().Get("type")]))
	})
	r.Get("/v1/admissions/public/syllabus", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, nonNil(f.PublicSyllabi))
	})
	return httptest.NewServer(r)
}

// Requests returns the request URIs served so far.
func (f *Fake) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
