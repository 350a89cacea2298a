package server

import (
	"encoding/json"

	"annotrack/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type CreateCategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type CreateEmployeeRequest struct {
	Username  string  `json:"username"`
	FirstName string  `json:"first_name,omitempty"`
	LastName  string  `json:"last_name,omitempty"`
	Email     string  `json:"email,omitempty"`
	ProjectID *string `json:"project_id,omitempty"`
	IsAdmin   bool    `json:"is_admin,omitempty"`
}

type AssignProjectRequest struct {
	EmployeeIDs []string `json:"employee_ids"`
	ProjectID   *string  `json:"project_id"`
}

type CreateTaskRequest struct {
	CategoryID     string  `json:"category_id"`
	Name           string  `json:"name"`
	TargetCoverage int     `json:"target_coverage"`
	Priority       int     `json:"priority,omitempty"`
	Checks         string  `json:"checks,omitempty"`
	FreezeDelay    float64 `json:"freeze_delay,omitempty"`
	Comment        string  `json:"comment,omitempty"`
	SeedX          *int    `json:"seed_x,omitempty"`
	SeedY          *int    `json:"seed_y,omitempty"`
	SeedZ          *int    `json:"seed_z,omitempty"`
}

type ChooseTaskRequest struct {
	TaskID string `json:"task_id"`
}

type CreateAPIKeyRequest struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name,omitempty"`
}

// Response payloads

type SubmitResponse struct {
	Submission domain.Submission `json:"submission"`
	Work       domain.Work       `json:"work"`
	// Increment is the worktime credited by this submission, absent when
	// worktime accounting did not run.
	Increment *float64 `json:"worktime_increment,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type CreateAPIKeyResponse struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name,omitempty"`
	// Key is returned exactly once at creation.
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type SweepResponse struct {
	Frozen []domain.Work `json:"frozen"`
}

// CurrentWorkResponse is one row of the admin overview: an employee and
// their open work, if any.
type CurrentWorkResponse struct {
	Employee domain.Employee `json:"employee"`
	Work     *domain.Work    `json:"work,omitempty"`
	TaskName string          `json:"task_name,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func eventResponses(events []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, evt := range events {
		out = append(out, eventResponse(evt))
	}
	return out
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		EmployeeID: k.EmployeeID,
		Name:       k.Name,
		CreatedAt:  k.CreatedAt,
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
