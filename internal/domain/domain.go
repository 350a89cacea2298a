package domain

// Project groups task categories and the employees annotating for them.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Comment     string `json:"comment,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// TaskCategory groups tasks within a project.
type TaskCategory struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Comment     string `json:"comment,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Employee wraps a user identity. ProjectID is nil while the employee is
// not assigned to any project.
type Employee struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	FirstName string  `json:"first_name,omitempty"`
	LastName  string  `json:"last_name,omitempty"`
	Email     string  `json:"email,omitempty"`
	ProjectID *string `json:"project_id,omitempty"`
	Comment   string  `json:"comment,omitempty"`
	IsAdmin   bool    `json:"is_admin"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Task is a unit of annotation work handed out until target coverage is
// reached. Checks is a space/comma separated list of check names run on
// every submission against this task.
type Task struct {
	ID              string  `json:"id"`
	CategoryID      string  `json:"category_id"`
	Name            string  `json:"name"`
	TargetCoverage  int     `json:"target_coverage"`
	CurrentCoverage int     `json:"current_coverage"`
	IsActive        bool    `json:"is_active"`
	Priority        int     `json:"priority"`
	Checks          string  `json:"checks,omitempty"`
	FreezeDelay     float64 `json:"freeze_delay"`
	Comment         string  `json:"comment,omitempty"`
	TaskFile        *string `json:"task_file,omitempty"`
	SeedX           *int    `json:"seed_x,omitempty"`
	SeedY           *int    `json:"seed_y,omitempty"`
	SeedZ           *int    `json:"seed_z,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

// Work is one (task, employee) assignment. At most one non-final Work
// exists per employee at any time.
//
// Frozen is the admin-settable lock request; FrozenLatched is set by the
// first write that observes Frozen and permanently forbids any further
// mutation of the Work or its Submissions. There is no unfreeze.
type Work struct {
	ID               string  `json:"id"`
	TaskID           string  `json:"task_id"`
	EmployeeID       string  `json:"employee_id"`
	Started          string  `json:"started" format:"date-time"`
	IsFinal          bool    `json:"is_final"`
	Worktime         float64 `json:"worktime"`
	LastSubmissionID *string `json:"last_submission_id,omitempty"`
	Frozen           bool    `json:"frozen"`
	FrozenLatched    bool    `json:"frozen_latched"`
	Comment          string  `json:"comment,omitempty"`
}

// Submission is one uploaded result attached to a Work. Worktime is nil
// when the time was not automatically measured; the aggregation marks
// such buckets incomplete.
type Submission struct {
	ID               string   `json:"id"`
	WorkID           string   `json:"work_id"`
	EmployeeID       string   `json:"employee_id"`
	Date             string   `json:"date" format:"date-time"`
	Comment          string   `json:"comment,omitempty"`
	IsFinal          bool     `json:"is_final"`
	OriginalFilename string   `json:"original_filename"`
	Worktime         *float64 `json:"worktime,omitempty"`
	Datafile         string   `json:"datafile,omitempty"`
}

// Event is one audit-log entry, appended in the same transaction as the
// change it records.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates a client of the HTTP API as an employee.
type APIKey struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Bucket is one (year, month) worktime cell. Incomplete is true when at
// least one submission in the bucket carried no automatically measured
// worktime, i.e. the sum undercounts manually tracked time.
type Bucket struct {
	Hours      float64 `json:"hours"`
	Incomplete bool    `json:"incomplete"`
}

// WorktimeOverview is the result of folding a submission history:
// Totals is keyed year -> month; PerTask additionally by task ID.
type WorktimeOverview struct {
	Totals  map[int]map[int]Bucket            `json:"totals"`
	PerTask map[int]map[int]map[string]Bucket `json:"per_task"`
}
