package repo

import (
	"context"
	"database/sql"
	"strings"

	"annotrack/internal/domain"
)

const taskCols = `id,category_id,name,target_coverage,current_coverage,is_active,priority,checks,freeze_delay,COALESCE(comment,'') AS comment,task_file,seed_x,seed_y,seed_z,created_at`

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task, categoryName string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,category_id,name,category_name,target_coverage,current_coverage,is_active,priority,checks,freeze_delay,comment,task_file,seed_x,seed_y,seed_z,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.CategoryID, t.Name, categoryName+"/"+t.Name, t.TargetCoverage, t.CurrentCoverage, t.IsActive, t.Priority,
		t.Checks, t.FreezeDelay, nullable(t.Comment), nullableStringPtr(t.TaskFile),
		nullableIntPtr(t.SeedX), nullableIntPtr(t.SeedY), nullableIntPtr(t.SeedZ), t.CreatedAt)
	return err
}

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var taskFile sql.NullString
	var seedX, seedY, seedZ sql.NullInt64
	err := scan(&t.ID, &t.CategoryID, &t.Name, &t.TargetCoverage, &t.CurrentCoverage, &t.IsActive, &t.Priority,
		&t.Checks, &t.FreezeDelay, &t.Comment, &taskFile, &seedX, &seedY, &seedZ, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if taskFile.Valid {
		t.TaskFile = &taskFile.String
	}
	if seedX.Valid {
		x := int(seedX.Int64)
		t.SeedX = &x
	}
	if seedY.Valid {
		y := int(seedY.Int64)
		t.SeedY = &y
	}
	if seedZ.Valid {
		z := int(seedZ.Int64)
		t.SeedZ = &z
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id).Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id).Scan)
}

func (r Repo) GetTaskByName(ctx context.Context, categoryID, name string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE category_id=? AND name=?`, categoryID, name).Scan)
}

type TaskFilters struct {
	ProjectID  string
	CategoryID string
	ActiveOnly bool
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "category_id IN (SELECT id FROM task_categories WHERE project_id=?)")
		args = append(args, f.ProjectID)
	}
	if f.CategoryID != "" {
		clauses = append(clauses, "category_id=?")
		args = append(args, f.CategoryID)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskCols + ` FROM tasks ` + where + ` ORDER BY priority DESC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// AvailableTasks returns the active tasks in the employee's project that
// the employee may pick next: positive-or-zero priority, not yet held by
// that employee, highest priority first.
func (r Repo) AvailableTasks(ctx context.Context, projectID, employeeID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks
WHERE category_id IN (SELECT id FROM task_categories WHERE project_id=?)
  AND is_active=1
  AND priority > -1
  AND id NOT IN (SELECT task_id FROM works WHERE employee_id=?)
ORDER BY priority DESC, created_at ASC, id ASC`, projectID, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// UpdateTaskCoverageTx writes back a recomputed coverage counter and the
// activity flag derived from it.
func (r Repo) UpdateTaskCoverageTx(ctx context.Context, tx *sql.Tx, taskID string, currentCoverage int, isActive bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET current_coverage=?, is_active=? WHERE id=?`, currentCoverage, isActive, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET target_coverage=?, priority=?, checks=?, freeze_delay=?, comment=?, task_file=?, seed_x=?, seed_y=?, seed_z=? WHERE id=?`,
		t.TargetCoverage, t.Priority, t.Checks, t.FreezeDelay, nullable(t.Comment), nullableStringPtr(t.TaskFile),
		nullableIntPtr(t.SeedX), nullableIntPtr(t.SeedY), nullableIntPtr(t.SeedZ), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetTaskFileTx(ctx context.Context, tx *sql.Tx, taskID, path string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET task_file=? WHERE id=?`, path, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
