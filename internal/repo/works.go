package repo

import (
	"context"
	"database/sql"
	"strings"

	"annotrack/internal/domain"
)

const workCols = `id,task_id,employee_id,started,is_final,worktime,last_submission_id,frozen,frozen_latched,COALESCE(comment,'') AS comment`

func (r Repo) InsertWorkTx(ctx context.Context, tx *sql.Tx, w domain.Work) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO works(id,task_id,employee_id,started,is_final,worktime,last_submission_id,frozen,frozen_latched,comment)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.TaskID, w.EmployeeID, w.Started, w.IsFinal, w.Worktime, nullableStringPtr(w.LastSubmissionID), w.Frozen, w.FrozenLatched, nullable(w.Comment))
	return err
}

func scanWork(scan func(...any) error) (domain.Work, error) {
	var w domain.Work
	var lastSubmission sql.NullString
	err := scan(&w.ID, &w.TaskID, &w.EmployeeID, &w.Started, &w.IsFinal, &w.Worktime, &lastSubmission, &w.Frozen, &w.FrozenLatched, &w.Comment)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if lastSubmission.Valid {
		w.LastSubmissionID = &lastSubmission.String
	}
	return w, err
}

func (r Repo) GetWork(ctx context.Context, id string) (domain.Work, error) {
	return scanWork(r.DB.QueryRowContext(ctx, `SELECT `+workCols+` FROM works WHERE id=?`, id).Scan)
}

func (r Repo) GetWorkTx(ctx context.Context, tx *sql.Tx, id string) (domain.Work, error) {
	return scanWork(tx.QueryRowContext(ctx, `SELECT `+workCols+` FROM works WHERE id=?`, id).Scan)
}

// ActiveWorkForEmployee returns the employee's single non-final work.
func (r Repo) ActiveWorkForEmployee(ctx context.Context, employeeID string) (domain.Work, error) {
	return scanWork(r.DB.QueryRowContext(ctx, `SELECT `+workCols+` FROM works WHERE employee_id=? AND is_final=0`, employeeID).Scan)
}

func (r Repo) ActiveWorkForEmployeeTx(ctx context.Context, tx *sql.Tx, employeeID string) (domain.Work, error) {
	return scanWork(tx.QueryRowContext(ctx, `SELECT `+workCols+` FROM works WHERE employee_id=? AND is_final=0`, employeeID).Scan)
}

// WorkForEmployeeTaskTx returns the employee's work on the given task.
func (r Repo) WorkForEmployeeTaskTx(ctx context.Context, tx *sql.Tx, employeeID, taskID string) (domain.Work, error) {
	return scanWork(tx.QueryRowContext(ctx, `SELECT `+workCols+` FROM works WHERE employee_id=? AND task_id=? ORDER BY started DESC LIMIT 1`, employeeID, taskID).Scan)
}

const qualifiedWorkCols = `w.id,w.task_id,w.employee_id,w.started,w.is_final,w.worktime,w.last_submission_id,w.frozen,w.frozen_latched,COALESCE(w.comment,'') AS comment`

// StaleWorks returns non-final works whose last activity, the later of
// the start date and the newest submission, lies before the cutoff. A
// non-empty categories list restricts the result by category name.
func (r Repo) StaleWorks(ctx context.Context, cutoff string, categories []string) ([]domain.Work, error) {
	query := `SELECT ` + qualifiedWorkCols + ` FROM works w
WHERE w.is_final=0
  AND w.started < ?
  AND COALESCE((SELECT MAX(s.date) FROM submissions s WHERE s.work_id=w.id), w.started) < ?`
	args := []any{cutoff, cutoff}
	if len(categories) > 0 {
		query += `
  AND w.task_id IN (SELECT t.id FROM tasks t JOIN task_categories c ON c.id=t.category_id
    WHERE c.name IN (?` + strings.Repeat(",?", len(categories)-1) + `))`
		for _, name := range categories {
			args = append(args, name)
		}
	}
	query += `
ORDER BY w.started ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Work
	for rows.Next() {
		w, err := scanWork(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, nil
}

type WorkFilters struct {
	TaskID     string
	EmployeeID string
	IsFinal    *bool
	FrozenOnly bool
	Limit      int
}

func (r Repo) ListWorks(ctx context.Context, f WorkFilters) ([]domain.Work, error) {
	var clauses []string
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.EmployeeID != "" {
		clauses = append(clauses, "employee_id=?")
		args = append(args, f.EmployeeID)
	}
	if f.IsFinal != nil {
		clauses = append(clauses, "is_final=?")
		args = append(args, *f.IsFinal)
	}
	if f.FrozenOnly {
		clauses = append(clauses, "frozen=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workCols + ` FROM works ` + where + ` ORDER BY started DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Work
	for rows.Next() {
		w, err := scanWork(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, nil
}

// CurrentWork pairs an employee with their open work, if any.
type CurrentWork struct {
	Employee domain.Employee
	Work     *domain.Work
	TaskName string
}

// EmployeesCurrentWork returns every employee together with their
// non-final work and the name of the task it belongs to. Employees
// without an open work appear with a nil work. An empty projectID
// covers all projects.
func (r Repo) EmployeesCurrentWork(ctx context.Context, projectID string) ([]CurrentWork, error) {
	query := `SELECT e.id,e.username,COALESCE(e.first_name,''),COALESCE(e.last_name,''),COALESCE(e.email,''),e.project_id,COALESCE(e.comment,''),e.is_admin,e.created_at,
w.id,w.task_id,w.started,w.is_final,w.worktime,w.last_submission_id,w.frozen,w.frozen_latched,COALESCE(w.comment,''),
t.name
FROM employees e
LEFT JOIN works w ON w.employee_id=e.id AND w.is_final=0
LEFT JOIN tasks t ON t.id=w.task_id`
	var args []any
	if projectID != "" {
		query += ` WHERE e.project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY e.username`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CurrentWork
	for rows.Next() {
		var cw CurrentWork
		var wid, wtask, wstarted, wlastSub, wcomment, taskName sql.NullString
		var wfinal, wfrozen, wlatched sql.NullBool
		var wtime sql.NullFloat64
		err := rows.Scan(&cw.Employee.ID, &cw.Employee.Username, &cw.Employee.FirstName, &cw.Employee.LastName,
			&cw.Employee.Email, &cw.Employee.ProjectID, &cw.Employee.Comment, &cw.Employee.IsAdmin, &cw.Employee.CreatedAt,
			&wid, &wtask, &wstarted, &wfinal, &wtime, &wlastSub, &wfrozen, &wlatched, &wcomment, &taskName)
		if err != nil {
			return nil, err
		}
		if wid.Valid {
			w := domain.Work{
				ID:            wid.String,
				TaskID:        wtask.String,
				EmployeeID:    cw.Employee.ID,
				Started:       wstarted.String,
				IsFinal:       wfinal.Bool,
				Worktime:      wtime.Float64,
				Frozen:        wfrozen.Bool,
				FrozenLatched: wlatched.Bool,
				Comment:       wcomment.String,
			}
			if wlastSub.Valid {
				w.LastSubmissionID = &wlastSub.String
			}
			cw.Work = &w
			cw.TaskName = taskName.String
		}
		res = append(res, cw)
	}
	return res, rows.Err()
}

func (r Repo) UpdateWorkTx(ctx context.Context, tx *sql.Tx, w domain.Work) error {
	res, err := tx.ExecContext(ctx, `UPDATE works SET is_final=?, worktime=?, last_submission_id=?, frozen=?, frozen_latched=?, comment=? WHERE id=?`,
		w.IsFinal, w.Worktime, nullableStringPtr(w.LastSubmissionID), w.Frozen, w.FrozenLatched, nullable(w.Comment), w.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteWorkTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM works WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountWorksForTaskTx counts every work row held against a task. The
// task's current coverage is recomputed from this count.
func (r Repo) CountWorksForTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM works WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}

// SweepCandidate is a finished, not yet frozen work together with the
// freeze delay of its task and the date of its latest submission.
type SweepCandidate struct {
	Work           domain.Work
	FreezeDelay    float64
	LastSubmission *string
}

// SweepCandidates returns the works the freeze sweeper must inspect:
// final works on tasks with a positive freeze delay that are not
// frozen yet.
func (r Repo) SweepCandidates(ctx context.Context) ([]SweepCandidate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT w.id,w.task_id,w.employee_id,w.started,w.is_final,w.worktime,w.last_submission_id,w.frozen,w.frozen_latched,COALESCE(w.comment,''),
t.freeze_delay,
(SELECT MAX(s.date) FROM submissions s WHERE s.work_id=w.id)
FROM works w JOIN tasks t ON t.id=w.task_id
WHERE w.is_final=1 AND w.frozen=0 AND t.freeze_delay > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SweepCandidate
	for rows.Next() {
		var c SweepCandidate
		var lastSubmissionID, lastDate sql.NullString
		if err := rows.Scan(&c.Work.ID, &c.Work.TaskID, &c.Work.EmployeeID, &c.Work.Started, &c.Work.IsFinal, &c.Work.Worktime,
			&lastSubmissionID, &c.Work.Frozen, &c.Work.FrozenLatched, &c.Work.Comment, &c.FreezeDelay, &lastDate); err != nil {
			return nil, err
		}
		if lastSubmissionID.Valid {
			c.Work.LastSubmissionID = &lastSubmissionID.String
		}
		if lastDate.Valid {
			c.LastSubmission = &lastDate.String
		}
		res = append(res, c)
	}
	return res, nil
}
