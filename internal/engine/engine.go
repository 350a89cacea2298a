package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"annotrack/internal/blob"
	"annotrack/internal/checks"
	"annotrack/internal/config"
	"annotrack/internal/domain"
	"annotrack/internal/events"
	"annotrack/internal/repo"
	"annotrack/internal/skeleton"
)

// MaxFilenameLength bounds the original filename stored with a
// submission.
const MaxFilenameLength = 200

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Blobs  blob.Store
	Checks *checks.Registry
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, blobs blob.Store) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Blobs:  blobs,
		Checks: checks.NewRegistry(),
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

// normalizeName rewrites dashes to underscores. Names feed blob
// filenames where dashes separate the fields, so they are normalized
// on every write.
func normalizeName(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

// guardWork rejects writes against frozen works. The latch is one-way:
// once a work froze there is no path back.
func guardWork(w domain.Work) error {
	if w.Frozen || w.FrozenLatched {
		return ErrFrozenWork
	}
	return nil
}

// InitProject creates a project with its default config.
func (e Engine) InitProject(ctx context.Context, name, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          newID(),
		Name:        normalizeName(name),
		Description: description,
		CreatedAt:   e.nowStr(),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "project.init", ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: actorID,
		Payload: events.Payload{"name": p.Name},
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.UpsertProjectConfig(ctx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	return p, nil
}

// CreateCategory adds a task category to a project.
func (e Engine) CreateCategory(ctx context.Context, projectID, name, description, actorID string) (domain.TaskCategory, error) {
	if name == "" {
		return domain.TaskCategory{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.TaskCategory{}, err
	}
	c := domain.TaskCategory{
		ID:          newID(),
		ProjectID:   projectID,
		Name:        normalizeName(name),
		Description: description,
		CreatedAt:   e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskCategory{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO task_categories(id,project_id,name,description,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Name, nullable(c.Description), c.CreatedAt); err != nil {
		return domain.TaskCategory{}, fmt.Errorf("insert category: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "category.create", ProjectID: projectID, EntityKind: "category", EntityID: c.ID, ActorID: actorID,
		Payload: events.Payload{"name": c.Name},
	}); err != nil {
		return domain.TaskCategory{}, err
	}
	return c, tx.Commit()
}

// EmployeeCreateOptions are parameters for registering an employee.
type EmployeeCreateOptions struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	ProjectID string
	IsAdmin   bool
	ActorID   string
}

func (e Engine) CreateEmployee(ctx context.Context, opts EmployeeCreateOptions) (domain.Employee, error) {
	if opts.Username == "" {
		return domain.Employee{}, errors.New("username is required")
	}
	emp := domain.Employee{
		ID:        newID(),
		Username:  normalizeName(opts.Username),
		FirstName: opts.FirstName,
		LastName:  opts.LastName,
		Email:     opts.Email,
		IsAdmin:   opts.IsAdmin,
		CreatedAt: e.nowStr(),
	}
	if opts.ProjectID != "" {
		if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
			return domain.Employee{}, err
		}
		emp.ProjectID = &opts.ProjectID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Employee{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO employees(id,username,first_name,last_name,email,project_id,is_admin,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		emp.ID, emp.Username, nullable(emp.FirstName), nullable(emp.LastName), nullable(emp.Email), nullableStringPtr(emp.ProjectID), emp.IsAdmin, emp.CreatedAt); err != nil {
		return domain.Employee{}, fmt.Errorf("insert employee: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "employee.create", ProjectID: opts.ProjectID, EntityKind: "employee", EntityID: emp.ID, ActorID: opts.ActorID,
		Payload: events.Payload{"username": emp.Username},
	}); err != nil {
		return domain.Employee{}, err
	}
	return emp, tx.Commit()
}

// AssignProject moves a batch of employees to a project, all or
// nothing. A nil projectID detaches them.
func (e Engine) AssignProject(ctx context.Context, employeeIDs []string, projectID *string, actorID string) error {
	if len(employeeIDs) == 0 {
		return errors.New("no employees given")
	}
	pid := ""
	if projectID != nil {
		p, err := e.Repo.GetProject(ctx, *projectID)
		if err != nil {
			return err
		}
		pid = p.ID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range employeeIDs {
		if err := e.Repo.UpdateEmployeeProjectTx(ctx, tx, id, projectID); err != nil {
			return fmt.Errorf("assign employee %s: %w", id, err)
		}
		if err := e.Events.Append(ctx, tx, events.Entry{
			Type: "employee.assign", ProjectID: pid, EntityKind: "employee", EntityID: id, ActorID: actorID,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	CategoryID     string
	Name           string
	TargetCoverage int
	Priority       int
	Checks         string
	FreezeDelay    float64
	Comment        string
	SeedX, SeedY   *int
	SeedZ          *int
	TaskFileData   []byte
	TaskFileName   string
	ActorID        string
}

// CreateTask registers a task. The checks list is validated against the
// registry here; a check dropped from the registry later surfaces as
// UnknownCheckError at submission time instead.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Name == "" {
		return domain.Task{}, errors.New("name is required")
	}
	if opts.TargetCoverage < 0 {
		return domain.Task{}, errors.New("target coverage must be >= 0")
	}
	if opts.FreezeDelay < 0 {
		return domain.Task{}, errors.New("freeze delay must be >= 0")
	}
	cat, err := e.Repo.GetCategory(ctx, opts.CategoryID)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Checks.ResolveList(opts.Checks); err != nil {
		return domain.Task{}, err
	}
	if opts.TaskFileData != nil {
		// Starting files must parse before anyone traces on top of them.
		if _, err := skeleton.ExtractAnnotation(opts.TaskFileData, opts.TaskFileName); err != nil {
			return domain.Task{}, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
	}

	t := domain.Task{
		ID:             newID(),
		CategoryID:     cat.ID,
		Name:           normalizeName(opts.Name),
		TargetCoverage: opts.TargetCoverage,
		IsActive:       opts.TargetCoverage > 0,
		Priority:       opts.Priority,
		Checks:         opts.Checks,
		FreezeDelay:    opts.FreezeDelay,
		Comment:        opts.Comment,
		SeedX:          opts.SeedX,
		SeedY:          opts.SeedY,
		SeedZ:          opts.SeedZ,
		CreatedAt:      e.nowStr(),
	}
	if opts.TaskFileData != nil {
		project, err := e.Repo.GetProject(ctx, cat.ProjectID)
		if err != nil {
			return domain.Task{}, err
		}
		name, err := e.Blobs.Save(blob.TaskFileName(project.Name, cat.Name, t.Name), opts.TaskFileData)
		if err != nil {
			return domain.Task{}, err
		}
		t.TaskFile = &name
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskTx(ctx, tx, t, cat.Name); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "task.create", ProjectID: cat.ProjectID, EntityKind: "task", EntityID: t.ID, ActorID: opts.ActorID,
		Payload: events.Payload{"name": t.Name, "category": cat.Name, "target_coverage": t.TargetCoverage},
	}); err != nil {
		return domain.Task{}, err
	}
	return t, tx.Commit()
}

// projectForTask resolves the project and category a task belongs to.
func (e Engine) projectForTask(ctx context.Context, t domain.Task) (domain.Project, domain.TaskCategory, error) {
	cat, err := e.Repo.GetCategory(ctx, t.CategoryID)
	if err != nil {
		return domain.Project{}, domain.TaskCategory{}, err
	}
	p, err := e.Repo.GetProject(ctx, cat.ProjectID)
	return p, cat, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
