package cohortdashsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal cohortdash HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// SlotTask is the task attached to a slot (partial).
type SlotTask struct {
	ID        int    `json:"id"`
	Status    string `json:"task_status"`
	Mandatory bool   `json:"mandatory"`
	DaysDiff  int    `json:"daysDiff"`
}

// Slot is one piece of module content.
type Slot struct {
	Slug     string    `json:"slug"`
	Title    string    `json:"title"`
	ModuleID int       `json:"module_id"`
	Kind     string    `json:"kind"`
	TaskType string    `json:"task_type"`
	Task     *SlotTask `json:"task,omitempty"`
}

// Record is a normalized assignment record (partial).
type Record struct {
	ID                       int    `json:"id"`
	Label                    string `json:"label"`
	Description              string `json:"description"`
	Modules                  []Slot `json:"modules"`
	FilteredModules          []Slot `json:"filteredModules"`
	FilteredModulesByPending []Slot `json:"filteredModulesByPending"`
	DurationInDays           *int   `json:"duration_in_days"`
}

// Task is an upstream task (partial).
type Task struct {
	ID             int    `json:"id"`
	Title          string `json:"title"`
	AssociatedSlug string `json:"associated_slug"`
	Status         string `json:"task_status"`
	Type           string `json:"task_type"`
}

type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type Session struct {
	CohortSlug          string   `json:"cohort_slug"`
	CurrentModule       *int     `json:"current_module"`
	SelectedProgramSlug string   `json:"selected_program_slug"`
	CohortRole          string   `json:"cohort_role"`
	Capabilities        []string `json:"capabilities"`
	Published           bool     `json:"published"`
	Records             int      `json:"records"`
	Unsynced            int      `json:"unsynced"`
}

// SyncOptions describes the dashboard route a sync runs for.
type SyncOptions struct {
	AssetSlug string `json:"asset_slug,omitempty"`
	AssetKind string `json:"asset_kind,omitempty"`
	Path      string `json:"path,omitempty"`
}

// SyncResult reports how a sync ended. Failures come back as a redirect and
// notification, not as an APIError.
type SyncResult struct {
	Session      Session       `json:"session"`
	Redirect     string        `json:"redirect"`
	Notification *Notification `json:"notification"`
	Error        string        `json:"error"`
	Unsynced     []Task        `json:"unsynced"`
}

// Event represents a sync log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	CohortSlug string         `json:"cohort_slug"`
	RunID      string         `json:"run_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Sync refreshes the board of a cohort.
func (c *Client) Sync(ctx context.Context, cohortSlug string, opts SyncOptions) (SyncResult, error) {
	var resp SyncResult
	err := c.do(ctx, http.MethodPost, c.cohortPath(cohortSlug, "sync"), opts, &resp)
	return resp, err
}

// Session returns the stored session of a cohort.
func (c *Client) Session(ctx context.Context, cohortSlug string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, c.cohortPath(cohortSlug, "session"), nil, &resp)
	return resp, err
}

// Assignments returns the published records of a cohort.
func (c *Client) Assignments(ctx context.Context, cohortSlug string) ([]Record, error) {
	var resp struct {
		Items []Record `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.cohortPath(cohortSlug, "assignments"), nil, &resp)
	return resp.Items, err
}

// DailyModule returns the record of the cohort's current module.
func (c *Client) DailyModule(ctx context.Context, cohortSlug string) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodGet, c.cohortPath(cohortSlug, "daily"), nil, &resp)
	return resp, err
}

// LastDoneModule returns the last record in syllabus order with a done slot.
func (c *Client) LastDoneModule(ctx context.Context, cohortSlug string) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodGet, c.cohortPath(cohortSlug, "last-done"), nil, &resp)
	return resp, err
}

// MandatoryProjects returns overdue mandatory projects. minDays <= 0 uses the
// server default.
func (c *Client) MandatoryProjects(ctx context.Context, cohortSlug string, minDays int) ([]Slot, error) {
	endpoint := c.cohortPath(cohortSlug, "mandatory-projects")
	if minDays > 0 {
		endpoint = fmt.Sprintf("%s?min_days=%d", endpoint, minDays)
	}
	var resp struct {
		Items []Slot `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// UnsyncedTasks returns the last unsynced-task detection of a cohort.
func (c *Client) UnsyncedTasks(ctx context.Context, cohortSlug string) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.cohortPath(cohortSlug, "unsynced"), nil, &resp)
	return resp.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, cohortSlug string, limit int, cursor string) (PaginatedEvents, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	endpoint := c.cohortPath(cohortSlug, "events")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) cohortPath(cohortSlug, p string) string {
	return fmt.Sprintf("v0/cohorts/%s/%s", url.PathEscape(cohortSlug), strings.TrimLeft(p, "/"))
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
