package engine

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"annotrack/internal/domain"
	"annotrack/internal/events"
	"annotrack/internal/repo"
)

// recomputeCoverageTx refreshes a task's coverage counter from the
// works that reference it and derives the activity flag.
func (e Engine) recomputeCoverageTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.Task, error) {
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	n, err := e.Repo.CountWorksForTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	t.CurrentCoverage = n
	t.IsActive = t.TargetCoverage > 0 && n < t.TargetCoverage
	return t, e.Repo.UpdateTaskCoverageTx(ctx, tx, taskID, t.CurrentCoverage, t.IsActive)
}

// ChooseTask assigns a task to an employee. The coverage compare and
// the work insert happen in one transaction so two employees cannot
// both take the last slot; the loser gets ErrTaskRaceLost.
func (e Engine) ChooseTask(ctx context.Context, employeeID, taskID, actorID string) (domain.Work, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Work{}, err
	}
	defer tx.Rollback()

	emp, err := e.Repo.GetEmployeeTx(ctx, tx, employeeID)
	if err != nil {
		return domain.Work{}, err
	}
	_, err = e.Repo.ActiveWorkForEmployeeTx(ctx, tx, emp.ID)
	if err == nil {
		return domain.Work{}, ErrTooManyActiveTasks
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Work{}, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Work{}, err
	}
	if !t.IsActive || t.CurrentCoverage >= t.TargetCoverage {
		return domain.Work{}, ErrTaskRaceLost
	}

	w := domain.Work{
		ID:         newID(),
		TaskID:     t.ID,
		EmployeeID: emp.ID,
		Started:    e.nowStr(),
	}
	if err := e.Repo.InsertWorkTx(ctx, tx, w); err != nil {
		return domain.Work{}, err
	}
	if _, err := e.recomputeCoverageTx(ctx, tx, t.ID); err != nil {
		return domain.Work{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "work.choose", EntityKind: "work", EntityID: w.ID, ActorID: actorID,
		Payload: events.Payload{"task_id": t.ID, "employee_id": emp.ID},
	}); err != nil {
		return domain.Work{}, err
	}
	return w, tx.Commit()
}

// CancelTask drops an employee's work on a task. Only works with zero
// submissions may be cancelled; the coverage slot opens up again.
func (e Engine) CancelTask(ctx context.Context, employeeID, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	w, err := e.Repo.WorkForEmployeeTaskTx(ctx, tx, employeeID, taskID)
	if err != nil {
		return err
	}
	if err := guardWork(w); err != nil {
		return err
	}
	n, err := e.Repo.CountSubmissionsForWorkTx(ctx, tx, w.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrNonEmptyWork
	}
	if err := e.Repo.DeleteWorkTx(ctx, tx, w.ID); err != nil {
		return err
	}
	if _, err := e.recomputeCoverageTx(ctx, tx, w.TaskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "work.cancel", EntityKind: "work", EntityID: w.ID, ActorID: actorID,
		Payload: events.Payload{"task_id": w.TaskID, "employee_id": employeeID},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetTask wipes all submissions of an employee's work on a task and
// rewinds the work to its just-started state. The work itself and its
// coverage slot survive.
func (e Engine) ResetTask(ctx context.Context, employeeID, taskID, actorID string) (domain.Work, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Work{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.WorkForEmployeeTaskTx(ctx, tx, employeeID, taskID)
	if err != nil {
		return domain.Work{}, err
	}
	if err := guardWork(w); err != nil {
		return domain.Work{}, err
	}
	if err := e.Repo.DeleteSubmissionsForWorkTx(ctx, tx, w.ID); err != nil {
		return domain.Work{}, err
	}
	w.Worktime = 0
	w.IsFinal = false
	w.LastSubmissionID = nil
	if err := e.Repo.UpdateWorkTx(ctx, tx, w); err != nil {
		return domain.Work{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "work.reset", EntityKind: "work", EntityID: w.ID, ActorID: actorID,
		Payload: events.Payload{"task_id": w.TaskID, "employee_id": employeeID},
	}); err != nil {
		return domain.Work{}, err
	}
	return w, tx.Commit()
}

// UnfinalizeWork reopens a completed work for further submission.
func (e Engine) UnfinalizeWork(ctx context.Context, workID, actorID string) (domain.Work, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Work{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkTx(ctx, tx, workID)
	if err != nil {
		return domain.Work{}, err
	}
	if err := guardWork(w); err != nil {
		return domain.Work{}, err
	}
	w.IsFinal = false
	if err := e.Repo.UpdateWorkTx(ctx, tx, w); err != nil {
		return domain.Work{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "work.unfinalize", EntityKind: "work", EntityID: w.ID, ActorID: actorID,
	}); err != nil {
		return domain.Work{}, err
	}
	return w, tx.Commit()
}

// FreezeWork locks a work permanently. Both flags are set in the same
// write, so the very next mutation attempt already fails; nothing ever
// clears them.
func (e Engine) FreezeWork(ctx context.Context, workID, actorID string) (domain.Work, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Work{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkTx(ctx, tx, workID)
	if err != nil {
		return domain.Work{}, err
	}
	if w.FrozenLatched {
		return domain.Work{}, ErrFrozenWork
	}
	w.Frozen = true
	w.FrozenLatched = true
	if err := e.Repo.UpdateWorkTx(ctx, tx, w); err != nil {
		return domain.Work{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "work.freeze", EntityKind: "work", EntityID: w.ID, ActorID: actorID,
	}); err != nil {
		return domain.Work{}, err
	}
	return w, tx.Commit()
}

// DeleteSubmission removes a submission and rewinds its work: the
// newest remaining submission becomes the last one, the deleted
// submission's measured hours are taken back off the total.
func (e Engine) DeleteSubmission(ctx context.Context, submissionID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSubmissionTx(ctx, tx, submissionID)
	if err != nil {
		return err
	}
	w, err := e.Repo.GetWorkTx(ctx, tx, s.WorkID)
	if err != nil {
		return err
	}
	if err := guardWork(w); err != nil {
		return err
	}
	if err := e.Repo.DeleteSubmissionTx(ctx, tx, s.ID); err != nil {
		return err
	}
	if s.Worktime != nil {
		w.Worktime = math.Max(0, w.Worktime-*s.Worktime)
	}
	latest, err := e.Repo.LatestSubmissionForWorkTx(ctx, tx, w.ID)
	switch {
	case err == nil:
		w.LastSubmissionID = &latest.ID
		w.IsFinal = latest.IsFinal
	case errors.Is(err, repo.ErrNotFound):
		w.LastSubmissionID = nil
		w.IsFinal = false
	default:
		return err
	}
	if err := e.Repo.UpdateWorkTx(ctx, tx, w); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "submission.delete", EntityKind: "submission", EntityID: s.ID, ActorID: actorID,
		Payload: events.Payload{"work_id": w.ID},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if s.Datafile != "" {
		// Blob removal is best effort once the row is gone.
		_ = e.Blobs.Remove(s.Datafile)
	}
	return nil
}

// GetActiveWork returns the employee's single unfinished work.
func (e Engine) GetActiveWork(ctx context.Context, employeeID string) (domain.Work, error) {
	return e.Repo.ActiveWorkForEmployee(ctx, employeeID)
}

// GetCompletedWork returns the employee's finished works, newest first.
func (e Engine) GetCompletedWork(ctx context.Context, employeeID string) ([]domain.Work, error) {
	final := true
	return e.Repo.ListWorks(ctx, repo.WorkFilters{EmployeeID: employeeID, IsFinal: &final})
}

// GetAvailableTasks returns up to count eligible tasks per category for
// the employee, highest priority first. Employees without a project see
// nothing.
func (e Engine) GetAvailableTasks(ctx context.Context, employeeID string, count int) ([]domain.Task, error) {
	emp, err := e.Repo.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp.ProjectID == nil {
		return nil, nil
	}
	tasks, err := e.Repo.AvailableTasks(ctx, *emp.ProjectID, emp.ID)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return tasks, nil
	}
	perCategory := map[string]int{}
	var out []domain.Task
	for _, t := range tasks {
		if perCategory[t.CategoryID] >= count {
			continue
		}
		perCategory[t.CategoryID]++
		out = append(out, t)
	}
	return out, nil
}
