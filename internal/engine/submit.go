package engine

import (
	"context"
	"fmt"
	"time"

	"annotrack/internal/blob"
	"annotrack/internal/checks"
	"annotrack/internal/domain"
	"annotrack/internal/events"
	"annotrack/internal/repo"
	"annotrack/internal/skeleton"
)

// SubmitOptions are parameters for handing in an annotation archive.
type SubmitOptions struct {
	EmployeeID string
	// WorkID is optional; the employee's active work is used when empty.
	WorkID     string
	Filename   string
	Archive    []byte
	Comment    string
	IsFinal    bool
	SkipChecks bool
	ActorID    string
}

// SubmitResult reports the stored submission and the worktime credited
// by it. Increment is nil when time was not automatically measured.
type SubmitResult struct {
	Submission domain.Submission
	Work       domain.Work
	Increment  *float64
}

// Submit validates an upload, a zip archive or a bare annotation
// document, against the task's checks and records the submission.
// Everything commits together or not at all: a failing check leaves no
// trace in the database.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (SubmitResult, error) {
	if len(opts.Filename) > MaxFilenameLength {
		return SubmitResult{}, ErrFilenameTooLong
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SubmitResult{}, err
	}
	defer tx.Rollback()

	var w domain.Work
	if opts.WorkID != "" {
		w, err = e.Repo.GetWorkTx(ctx, tx, opts.WorkID)
	} else {
		w, err = e.Repo.ActiveWorkForEmployeeTx(ctx, tx, opts.EmployeeID)
	}
	if err != nil {
		return SubmitResult{}, err
	}
	if opts.EmployeeID != "" && w.EmployeeID != opts.EmployeeID {
		return SubmitResult{}, repo.ErrNotFound
	}
	if err := guardWork(w); err != nil {
		return SubmitResult{}, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, w.TaskID)
	if err != nil {
		return SubmitResult{}, err
	}
	emp, err := e.Repo.GetEmployeeTx(ctx, tx, w.EmployeeID)
	if err != nil {
		return SubmitResult{}, err
	}

	var increment *float64
	checkNames := checks.ParseList(t.Checks)
	if len(checkNames) > 0 && !opts.SkipChecks {
		annotation, err := skeleton.ExtractAnnotation(opts.Archive, opts.Filename)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		sk, err := skeleton.Parse(annotation)
		if err != nil {
			return SubmitResult{}, ParseError{Err: err}
		}
		if !sk.HasSavedVersion() || sk.SavedIn.Compare(skeleton.MinSavedVersion) < 0 {
			return SubmitResult{}, InvalidSubmissionError{Reason: fmt.Sprintf(
				"This tracing was saved in a version of Knossos that is too old. Please upgrade to version %s or newer, save the file again, and resubmit.",
				skeleton.MinSavedVersion)}
		}

		fns := make(map[string]checks.Func, len(checkNames))
		for _, name := range checkNames {
			fn, err := e.Checks.Resolve(name)
			if err != nil {
				return SubmitResult{}, err
			}
			fns[checks.NormalizeName(name)] = fn
		}
		cctx := checks.Context{
			Skeleton: sk,
			Task:     t,
			Work:     w,
			Employee: emp,
			Comment:  opts.Comment,
			IsFinal:  opts.IsFinal,
			Raw:      annotation,
		}
		// The worktime check runs first; its credit is only applied when
		// every other check passes as well.
		if fn, ok := fns[checks.WorktimeCheck]; ok {
			res := fn(cctx)
			if res.Failure != "" {
				return SubmitResult{}, InvalidSubmissionError{Reason: res.Failure}
			}
			increment = res.Worktime
			delete(fns, checks.WorktimeCheck)
		}
		for _, name := range checkNames {
			fn, ok := fns[checks.NormalizeName(name)]
			if !ok {
				continue
			}
			if res := fn(cctx); res.Failure != "" {
				return SubmitResult{}, InvalidSubmissionError{Reason: res.Failure}
			}
		}
	}

	project, cat, err := e.projectForTask(ctx, t)
	if err != nil {
		return SubmitResult{}, err
	}
	now := e.now()
	datafile, err := e.Blobs.Save(blob.SubmissionFileName(project.Name, cat.Name, t.Name, emp.Username, now, opts.IsFinal), opts.Archive)
	if err != nil {
		return SubmitResult{}, err
	}

	s := domain.Submission{
		ID:               newID(),
		WorkID:           w.ID,
		EmployeeID:       w.EmployeeID,
		Date:             now.UTC().Format(time.RFC3339),
		Comment:          opts.Comment,
		IsFinal:          opts.IsFinal,
		OriginalFilename: opts.Filename,
		Worktime:         increment,
		Datafile:         datafile,
	}
	if err := e.Repo.InsertSubmissionTx(ctx, tx, s); err != nil {
		return SubmitResult{}, err
	}
	if increment != nil {
		w.Worktime += *increment
	}
	w.IsFinal = opts.IsFinal
	w.LastSubmissionID = &s.ID
	if err := e.Repo.UpdateWorkTx(ctx, tx, w); err != nil {
		return SubmitResult{}, err
	}
	payload := events.Payload{"task_id": t.ID, "is_final": opts.IsFinal}
	if increment != nil {
		payload["worktime_increment"] = *increment
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "work.submit", ProjectID: project.ID, EntityKind: "submission", EntityID: s.ID, ActorID: opts.ActorID,
		Payload: payload,
	}); err != nil {
		return SubmitResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Submission: s, Work: w, Increment: increment}, nil
}
