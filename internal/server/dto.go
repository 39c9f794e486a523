package server

import (
	"encoding/json"

	"cohortdash/internal/cohort"
	"cohortdash/internal/domain"
)

// Request payloads

type SyncRequest struct {
	AssetSlug string `json:"asset_slug,omitempty" doc:"Content slug of the route, used for public page redirects"`
	AssetKind string `json:"asset_kind,omitempty" enum:"read,practice,project,answer"`
	Path      string `json:"path,omitempty" doc:"Current dashboard path; unsynced tasks are checked on the program page"`
}

// Response payloads

type SessionResponse struct {
	CohortSlug          string   `json:"cohort_slug"`
	CohortID            int      `json:"cohort_id"`
	AcademyID           int      `json:"academy_id"`
	SyllabusSlug        string   `json:"syllabus_slug"`
	SyllabusVersion     int      `json:"syllabus_version"`
	CurrentModule       *int     `json:"current_module,omitempty"`
	SelectedProgramSlug string   `json:"selected_program_slug"`
	CohortRole          string   `json:"cohort_role"`
	EducationalStatus   string   `json:"educational_status,omitempty"`
	Capabilities        []string `json:"capabilities"`
	Published           bool     `json:"published"`
	Records             int      `json:"records"`
	Unsynced            int      `json:"unsynced"`
}

type SyncResponse struct {
	Session      SessionResponse      `json:"session"`
	Redirect     string               `json:"redirect,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
	Error        string               `json:"error,omitempty"`
	Unsynced     []domain.Task        `json:"unsynced"`
}

type RecordsResponse struct {
	Items []domain.AssignmentRecord `json:"items"`
}

type SlotsResponse struct {
	MinDays int           `json:"min_days"`
	Items   []domain.Slot `json:"items"`
}

type TasksResponse struct {
	Items []domain.Task `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	CohortSlug string         `json:"cohort_slug,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func sessionResponse(s cohort.Session) SessionResponse {
	caps := s.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return SessionResponse{
		CohortSlug:          s.Cohort.Slug,
		CohortID:            s.Cohort.ID,
		AcademyID:           s.Cohort.Academy.ID,
		SyllabusSlug:        s.Cohort.SyllabusVersion.Slug,
		SyllabusVersion:     s.Cohort.SyllabusVersion.Version,
		CurrentModule:       s.Cohort.CurrentModule,
		SelectedProgramSlug: s.Cohort.SelectedProgramSlug,
		CohortRole:          s.Cohort.CohortRole,
		EducationalStatus:   s.Cohort.CohortUser.EducationalStatus,
		Capabilities:        caps,
		Published:           s.Board.Published(),
		Records:             len(s.Board.Records()),
		Unsynced:            len(s.UnsyncedTasks),
	}
}

func eventResponse(e domain.SyncEvent) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CohortSlug: e.CohortSlug,
		RunID:      e.RunID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilTasks(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return []domain.Task{}
	}
	return tasks
}
