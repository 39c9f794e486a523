// Package breathecode is a thin client for the upstream education API: student
// tasks, syllabus versions, roles, cohorts and registry assets.
package breathecode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cohortdash/internal/domain"
	"cohortdash/internal/syllabus"
)

// Client calls the upstream API on behalf of one student.
type Client struct {
	BaseURL    string
	Token      string
	Academy    int
	HTTPClient *http.Client
	Timeout    time.Duration
	Now        func() time.Time
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Timeout: 30 * time.Second,
		Now:     time.Now,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream %s: status=%d body=%s", e.Path, e.StatusCode, e.Body)
}

// TaskQuery scopes a task listing. A nil Cohort asks for tasks that are not
// attached to any cohort.
type TaskQuery struct {
	Cohort *int
	Limit  int
}

// TasksByStudent lists the authenticated student's tasks.
func (c *Client) TasksByStudent(ctx context.Context, q TaskQuery) ([]domain.Task, error) {
	params := url.Values{}
	if q.Cohort != nil {
		params.Set("cohort", strconv.Itoa(*q.Cohort))
	} else {
		params.Set("cohort", "null")
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "v1/assignment/user/me/task?"+params.Encode(), nil, &raw); err != nil {
		return nil, err
	}
	tasks, err := decodeList[domain.Task](raw)
	if err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	c.fillDaysDiff(tasks)
	return tasks, nil
}

// Syllabus fetches one syllabus version of an academy.
func (c *Client) Syllabus(ctx context.Context, academyID int, slug string, version int) (syllabus.Program, error) {
	endpoint := fmt.Sprintf("v1/admissions/academy/%d/syllabus/%s/version/%d", academyID, url.PathEscape(slug), version)
	var raw json.RawMessage
	if err := c.doAcademy(ctx, academyID, http.MethodGet, endpoint, nil, &raw); err != nil {
		return syllabus.Program{}, err
	}
	return syllabus.Decode(raw)
}

// Role fetches the capabilities granted by a role.
func (c *Client) Role(ctx context.Context, role string) (domain.RoleCapabilities, error) {
	var resp domain.RoleCapabilities
	err := c.do(ctx, http.MethodGet, "v1/auth/role/"+url.PathEscape(role), nil, &resp)
	return resp, err
}

// Me returns the authenticated user's profile with cohorts and academy roles.
func (c *Client) Me(ctx context.Context) (domain.Profile, error) {
	var resp domain.Profile
	err := c.do(ctx, http.MethodGet, "v1/admissions/me", nil, &resp)
	return resp, err
}

// Asset looks up a registry asset by slug.
func (c *Client) Asset(ctx context.Context, slug string) (domain.Asset, error) {
	var resp domain.Asset
	err := c.do(ctx, http.MethodGet, "v1/registry/asset/"+url.PathEscape(slug), nil, &resp)
	return resp, err
}

// Assets lists registry assets of one type.
func (c *Client) Assets(ctx context.Context, assetType string, big bool) ([]domain.Asset, error) {
	params := url.Values{}
	params.Set("type", assetType)
	if big {
		params.Set("big", "true")
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "v1/registry/asset?"+params.Encode(), nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Asset](raw)
}

// PublicSyllabus is an entry of the public syllabus listing.
type PublicSyllabus struct {
	Slug string `json:"slug"`
	Name string `json:"name,omitempty"`
}

// PublicSyllabi lists public syllabi, optionally filtered by slug.
func (c *Client) PublicSyllabi(ctx context.Context, slug string) ([]PublicSyllabus, error) {
	endpoint := "v1/admissions/public/syllabus"
	if slug != "" {
		endpoint += "?slug=" + url.QueryEscape(slug)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[PublicSyllabus](raw)
}

// fillDaysDiff derives the days a task has been open from created_at when the
// API leaves it out.
func (c *Client) fillDaysDiff(tasks []domain.Task) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	for i := range tasks {
		if tasks[i].DaysDiff != 0 || tasks[i].CreatedAt == "" {
			continue
		}
		created, err := time.Parse(time.RFC3339, tasks[i].CreatedAt)
		if err != nil {
			continue
		}
		if d := now().Sub(created); d > 0 {
			tasks[i].DaysDiff = int(d / (24 * time.Hour))
		}
	}
}

// decodeList accepts a bare JSON array or a paginated {"results": [...]} body.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	out := []T{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, nil
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, err
	}
	if page.Results != nil {
		out = page.Results
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	return c.doAcademy(ctx, c.Academy, method, endpoint, body, out)
}

func (c *Client) doAcademy(ctx context.Context, academyID int, method, endpoint string, body any, out any) error {
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Token "+c.Token)
	}
	if academyID > 0 {
		req.Header.Set("Academy", strconv.Itoa(academyID))
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Path: req.URL.Path, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// httpClient must not assign HTTPClient: one Client serves concurrent fetches.
func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
