package repo

import (
	"context"
	"database/sql"
	"strings"

	"annotrack/internal/domain"
)

const submissionCols = `id,work_id,employee_id,date,COALESCE(comment,'') AS comment,is_final,original_filename,worktime,COALESCE(datafile,'') AS datafile`

func (r Repo) InsertSubmissionTx(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO submissions(id,work_id,employee_id,date,comment,is_final,original_filename,worktime,datafile)
VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.WorkID, s.EmployeeID, s.Date, nullable(s.Comment), s.IsFinal, s.OriginalFilename, nullableFloatPtr(s.Worktime), nullable(s.Datafile))
	return err
}

func scanSubmission(scan func(...any) error) (domain.Submission, error) {
	var s domain.Submission
	var worktime sql.NullFloat64
	err := scan(&s.ID, &s.WorkID, &s.EmployeeID, &s.Date, &s.Comment, &s.IsFinal, &s.OriginalFilename, &worktime, &s.Datafile)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if worktime.Valid {
		s.Worktime = &worktime.Float64
	}
	return s, err
}

func (r Repo) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	return scanSubmission(r.DB.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id=?`, id).Scan)
}

func (r Repo) GetSubmissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Submission, error) {
	return scanSubmission(tx.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id=?`, id).Scan)
}

type SubmissionFilters struct {
	WorkID     string
	EmployeeID string
	Since      string
	Until      string
	Limit      int
}

func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilters) ([]domain.Submission, error) {
	var clauses []string
	var args []any
	if f.WorkID != "" {
		clauses = append(clauses, "work_id=?")
		args = append(args, f.WorkID)
	}
	if f.EmployeeID != "" {
		clauses = append(clauses, "employee_id=?")
		args = append(args, f.EmployeeID)
	}
	if f.Since != "" {
		clauses = append(clauses, "date >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "date < ?")
		args = append(args, f.Until)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + submissionCols + ` FROM submissions ` + where + ` ORDER BY date DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

// LatestSubmissionForWorkTx returns the newest remaining submission of a
// work, used to rewind the work after a submission is deleted.
func (r Repo) LatestSubmissionForWorkTx(ctx context.Context, tx *sql.Tx, workID string) (domain.Submission, error) {
	return scanSubmission(tx.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE work_id=? ORDER BY date DESC, id DESC LIMIT 1`, workID).Scan)
}

func (r Repo) CountSubmissionsForWorkTx(ctx context.Context, tx *sql.Tx, workID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE work_id=?`, workID).Scan(&n)
	return n, err
}

func (r Repo) DeleteSubmissionsForWorkTx(ctx context.Context, tx *sql.Tx, workID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE work_id=?`, workID)
	return err
}

func (r Repo) DeleteSubmissionTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// WorktimeRow is one submission flattened for the monthly aggregation:
// when it happened, the hours credited (nil when not measured) and the
// task it counted toward.
type WorktimeRow struct {
	Date     string
	Worktime *float64
	TaskID   string
}

// WorktimeRows returns every submission of an employee joined with its
// task, oldest first.
func (r Repo) WorktimeRows(ctx context.Context, employeeID string) ([]WorktimeRow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT s.date, s.worktime, w.task_id
FROM submissions s JOIN works w ON w.id=s.work_id
WHERE s.employee_id=?
ORDER BY s.date ASC, s.id ASC`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []WorktimeRow
	for rows.Next() {
		var row WorktimeRow
		var worktime sql.NullFloat64
		if err := rows.Scan(&row.Date, &worktime, &row.TaskID); err != nil {
			return nil, err
		}
		if worktime.Valid {
			row.Worktime = &worktime.Float64
		}
		res = append(res, row)
	}
	return res, nil
}
