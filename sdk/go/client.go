package annotracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Annotrack HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
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

// Task represents the API task model (partial).
type Task struct {
	ID              string `json:"id"`
	CategoryID      string `json:"category_id"`
	Name            string `json:"name"`
	TargetCoverage  int    `json:"target_coverage"`
	CurrentCoverage int    `json:"current_coverage"`
	IsActive        bool   `json:"is_active"`
	Priority        int    `json:"priority"`
	Checks          string `json:"checks"`
}

// Work represents one task assignment.
type Work struct {
	ID               string  `json:"id"`
	TaskID           string  `json:"task_id"`
	EmployeeID       string  `json:"employee_id"`
	Started          string  `json:"started"`
	IsFinal          bool    `json:"is_final"`
	Worktime         float64 `json:"worktime"`
	LastSubmissionID *string `json:"last_submission_id,omitempty"`
	Frozen           bool    `json:"frozen"`
}

// Submission represents one uploaded annotation archive.
type Submission struct {
	ID               string   `json:"id"`
	WorkID           string   `json:"work_id"`
	EmployeeID       string   `json:"employee_id"`
	Date             string   `json:"date"`
	IsFinal          bool     `json:"is_final"`
	OriginalFilename string   `json:"original_filename"`
	Worktime         *float64 `json:"worktime,omitempty"`
}

// SubmitResult is the outcome of a submission upload.
type SubmitResult struct {
	Submission Submission `json:"submission"`
	Work       Work       `json:"work"`
	Increment  *float64   `json:"worktime_increment,omitempty"`
}

// Employee represents the authenticated user.
type Employee struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	ProjectID *string `json:"project_id,omitempty"`
	IsAdmin   bool    `json:"is_admin"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Bucket is one month of aggregated worktime.
type Bucket struct {
	Hours      float64 `json:"hours"`
	Incomplete bool    `json:"incomplete"`
}

// WorktimeOverview is keyed year -> month, plus a per-task breakdown.
type WorktimeOverview struct {
	Totals  map[int]map[int]Bucket            `json:"totals"`
	PerTask map[int]map[int]map[string]Bucket `json:"per_task"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Me returns the authenticated employee.
func (c *Client) Me(ctx context.Context) (Employee, error) {
	var resp Employee
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// AvailableTasks returns tasks the employee can choose from.
func (c *Client) AvailableTasks(ctx context.Context, count int) ([]Task, error) {
	endpoint := "v0/me/tasks/available"
	if count > 0 {
		endpoint = fmt.Sprintf("%s?count=%d", endpoint, count)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ChooseTask starts a work on the given task.
func (c *Client) ChooseTask(ctx context.Context, taskID string) (Work, error) {
	var resp Work
	err := c.do(ctx, http.MethodPost, "v0/works/choose", map[string]any{"task_id": taskID}, &resp)
	return resp, err
}

// CancelTask cancels the work on the given task.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, "v0/works/cancel", map[string]any{"task_id": taskID}, nil)
}

// ActiveWork returns the current non-final work.
func (c *Client) ActiveWork(ctx context.Context) (Work, error) {
	var resp Work
	err := c.do(ctx, http.MethodGet, "v0/me/work/active", nil, &resp)
	return resp, err
}

// Submit uploads an annotation archive for the active work.
func (c *Client) Submit(ctx context.Context, filename string, archive []byte, comment string, isFinal bool) (SubmitResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("submit_file", filename)
	if err != nil {
		return SubmitResult{}, err
	}
	if _, err := fw.Write(archive); err != nil {
		return SubmitResult{}, err
	}
	if comment != "" {
		mw.WriteField("comment", comment)
	}
	if isFinal {
		mw.WriteField("is_final", "true")
	}
	if err := mw.Close(); err != nil {
		return SubmitResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/v0/submit", &body)
	if err != nil {
		return SubmitResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return SubmitResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return SubmitResult{}, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	var result SubmitResult
	err = json.NewDecoder(resp.Body).Decode(&result)
	return result, err
}

// TaskFile downloads the starting archive for a task.
func (c *Client) TaskFile(ctx context.Context, taskID string) ([]byte, error) {
	endpoint := fmt.Sprintf("v0/tasks/%s/file", url.PathEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/"+endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return io.ReadAll(resp.Body)
}

// Worktime returns the monthly worktime overview for the employee.
func (c *Client) Worktime(ctx context.Context) (WorktimeOverview, error) {
	var resp WorktimeOverview
	err := c.do(ctx, http.MethodGet, "v0/me/worktime", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
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
	c.authorize(req)
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

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
