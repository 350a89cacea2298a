package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"annotrack/internal/config"
	"annotrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectCols = `id,name,COALESCE(description,'') AS description,COALESCE(comment,'') AS comment,created_at`

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,name,description,comment,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), nullable(p.Comment), p.CreatedAt)
	return err
}

func scanProject(scan func(...any) error) (domain.Project, error) {
	var p domain.Project
	err := scan(&p.ID, &p.Name, &p.Description, &p.Comment, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id).Scan)
}

func (r Repo) GetProjectByName(ctx context.Context, name string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE name=?`, name).Scan)
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectCols+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

const categoryCols = `id,project_id,name,COALESCE(description,'') AS description,COALESCE(comment,'') AS comment,created_at`

func (r Repo) InsertCategory(ctx context.Context, c domain.TaskCategory) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_categories(id,project_id,name,description,comment,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Name, nullable(c.Description), nullable(c.Comment), c.CreatedAt)
	return err
}

func scanCategory(scan func(...any) error) (domain.TaskCategory, error) {
	var c domain.TaskCategory
	err := scan(&c.ID, &c.ProjectID, &c.Name, &c.Description, &c.Comment, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetCategory(ctx context.Context, id string) (domain.TaskCategory, error) {
	return scanCategory(r.DB.QueryRowContext(ctx, `SELECT `+categoryCols+` FROM task_categories WHERE id=?`, id).Scan)
}

func (r Repo) GetCategoryByName(ctx context.Context, projectID, name string) (domain.TaskCategory, error) {
	return scanCategory(r.DB.QueryRowContext(ctx, `SELECT `+categoryCols+` FROM task_categories WHERE project_id=? AND name=?`, projectID, name).Scan)
}

func (r Repo) ListCategories(ctx context.Context, projectID string) ([]domain.TaskCategory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+categoryCols+` FROM task_categories WHERE project_id=? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskCategory
	for rows.Next() {
		c, err := scanCategory(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

const employeeCols = `id,username,COALESCE(first_name,'') AS first_name,COALESCE(last_name,'') AS last_name,COALESCE(email,'') AS email,project_id,COALESCE(comment,'') AS comment,is_admin,created_at`

func (r Repo) InsertEmployee(ctx context.Context, e domain.Employee) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO employees(id,username,first_name,last_name,email,project_id,comment,is_admin,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Username, nullable(e.FirstName), nullable(e.LastName), nullable(e.Email), nullableStringPtr(e.ProjectID), nullable(e.Comment), e.IsAdmin, e.CreatedAt)
	return err
}

func scanEmployee(scan func(...any) error) (domain.Employee, error) {
	var e domain.Employee
	var projectID sql.NullString
	err := scan(&e.ID, &e.Username, &e.FirstName, &e.LastName, &e.Email, &projectID, &e.Comment, &e.IsAdmin, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if projectID.Valid {
		e.ProjectID = &projectID.String
	}
	return e, err
}

func (r Repo) GetEmployee(ctx context.Context, id string) (domain.Employee, error) {
	return scanEmployee(r.DB.QueryRowContext(ctx, `SELECT `+employeeCols+` FROM employees WHERE id=?`, id).Scan)
}

func (r Repo) GetEmployeeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Employee, error) {
	return scanEmployee(tx.QueryRowContext(ctx, `SELECT `+employeeCols+` FROM employees WHERE id=?`, id).Scan)
}

func (r Repo) GetEmployeeByUsername(ctx context.Context, username string) (domain.Employee, error) {
	return scanEmployee(r.DB.QueryRowContext(ctx, `SELECT `+employeeCols+` FROM employees WHERE username=?`, username).Scan)
}

type EmployeeFilters struct {
	ProjectID  string
	Unassigned bool
}

func (r Repo) ListEmployees(ctx context.Context, f EmployeeFilters) ([]domain.Employee, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Unassigned {
		clauses = append(clauses, "project_id IS NULL")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+employeeCols+` FROM employees `+where+` ORDER BY username`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Employee
	for rows.Next() {
		e, err := scanEmployee(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

func (r Repo) UpdateEmployeeProjectTx(ctx context.Context, tx *sql.Tx, employeeID string, projectID *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE employees SET project_id=? WHERE id=?`, nullableStringPtr(projectID), employeeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetEmployeeAdmin(ctx context.Context, employeeID string, isAdmin bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE employees SET is_admin=? WHERE id=?`, isAdmin, employeeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
