package engine_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"annotrack/internal/blob"
	"annotrack/internal/checks"
	"annotrack/internal/config"
	"annotrack/internal/db"
	"annotrack/internal/domain"
	"annotrack/internal/engine"
	"annotrack/internal/migrate"
	"annotrack/internal/repo"
)

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Project  domain.Project
	Category domain.TaskCategory
	Employee domain.Employee
	now      *time.Time
}

func (env *testEnv) SetNow(ts time.Time) {
	*env.now = ts
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	eng := engine.New(conn, nil, blob.New(filepath.Join(dir, "files")))
	eng.Now = func() time.Time { return now }
	ctx := context.Background()

	project, err := eng.InitProject(ctx, "cortex", "test project", "tester")
	if err != nil {
		t.Fatalf("init project: %v", err)
	}
	eng.Config = config.Default(project.ID)
	cat, err := eng.CreateCategory(ctx, project.ID, "dense-tracing", "", "tester")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	emp, err := eng.CreateEmployee(ctx, engine.EmployeeCreateOptions{
		Username: "alice", ProjectID: project.ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	return &testEnv{Engine: eng, Ctx: ctx, Project: project, Category: cat, Employee: emp, now: &now}
}

func (env *testEnv) createTask(t *testing.T, name string, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	opts.CategoryID = env.Category.ID
	opts.Name = name
	if opts.TargetCoverage == 0 {
		opts.TargetCoverage = 1
	}
	opts.ActorID = "tester"
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task %s: %v", name, err)
	}
	return task
}

func nmlDocument(t *testing.T, version string, timeMS, idleMS int64) []byte {
	t.Helper()
	saved := ""
	if version != "" {
		saved = fmt.Sprintf(`<lastsavedin version="%s"/>`, version)
	}
	return []byte(fmt.Sprintf(`<?xml version="1.0"?>
<things>
  <parameters>
    %s
    <time ms="%d"/>
    <idleTime ms="%d"/>
  </parameters>
  <thing id="1">
    <nodes>
      <node id="1" x="10" y="20" z="30"/>
      <node id="2" x="11" y="20" z="30"/>
    </nodes>
    <edges>
      <edge source="1" target="2"/>
    </edges>
  </thing>
</things>`, saved, timeMS, idleMS))
}

func nmlArchive(t *testing.T, version string, timeMS, idleMS int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("annotation.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := f.Write(nmlDocument(t, version, timeMS, idleMS)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestChooseTaskCoverageAndRace(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{TargetCoverage: 1})

	work, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice")
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentCoverage != 1 || got.IsActive {
		t.Fatalf("coverage=%d active=%v, want 1/false", got.CurrentCoverage, got.IsActive)
	}

	bob, err := env.Engine.CreateEmployee(env.Ctx, engine.EmployeeCreateOptions{
		Username: "bob", ProjectID: env.Project.ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ChooseTask(env.Ctx, bob.ID, task.ID, "bob"); !errors.Is(err, engine.ErrTaskRaceLost) {
		t.Fatalf("err = %v, want ErrTaskRaceLost", err)
	}
	// losing the race never creates a second work
	works, err := env.Engine.Repo.ListWorks(env.Ctx, repo.WorkFilters{TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(works) != 1 || works[0].ID != work.ID {
		t.Fatalf("got %d works", len(works))
	}

	other := env.createTask(t, "t2", engine.TaskCreateOptions{TargetCoverage: 1})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, other.ID, "alice"); !errors.Is(err, engine.ErrTooManyActiveTasks) {
		t.Fatalf("err = %v, want ErrTooManyActiveTasks", err)
	}
}

func TestCancelTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{TargetCoverage: 2})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.CancelTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if got.CurrentCoverage != 0 || !got.IsActive {
		t.Fatalf("coverage=%d active=%v after cancel", got.CurrentCoverage, got.IsActive)
	}
}

func TestCancelTaskWithSubmissions(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "t1.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), ActorID: "alice",
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.Engine.CancelTask(env.Ctx, env.Employee.ID, task.ID, "alice"); !errors.Is(err, engine.ErrNonEmptyWork) {
		t.Fatalf("err = %v, want ErrNonEmptyWork", err)
	}
}

func TestSubmitWorktimeIncrements(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime check_simple"})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "t1.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if res.Increment == nil || math.Abs(*res.Increment-1.0) > 1e-9 {
		t.Fatalf("increment = %v, want 1.0", res.Increment)
	}

	env.SetNow(env.now.Add(time.Hour))
	res, err = env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "t1.k.zip",
		Archive: nmlArchive(t, "4.1.2", 12600000, 0), IsFinal: true, ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if res.Increment == nil || math.Abs(*res.Increment-2.5) > 1e-9 {
		t.Fatalf("increment = %v, want 2.5", res.Increment)
	}
	if math.Abs(res.Work.Worktime-3.5) > 1e-9 {
		t.Fatalf("work worktime = %v, want 3.5", res.Work.Worktime)
	}
	if !res.Work.IsFinal {
		t.Fatal("work should be final after final submission")
	}
	if res.Work.LastSubmissionID == nil || *res.Work.LastSubmissionID != res.Submission.ID {
		t.Fatal("last submission not updated")
	}
}

func TestSubmitWorktimeRegressionRejected(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "a.k.zip",
		Archive: nmlArchive(t, "4.1.2", 7200000, 0), ActorID: "alice",
	}); err != nil {
		t.Fatal(err)
	}
	env.SetNow(env.now.Add(time.Hour))
	_, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "a.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), ActorID: "alice",
	})
	var invalid engine.InvalidSubmissionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidSubmissionError", err)
	}
}

func TestSubmitVersionGate(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	_, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "old.k.zip",
		Archive: nmlArchive(t, "4.1.1", 3600000, 0), ActorID: "alice",
	})
	var invalid engine.InvalidSubmissionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidSubmissionError for version 4.1.1", err)
	}
	if !strings.Contains(invalid.Reason, "4.1.2") {
		t.Fatalf("reason %q should cite the minimum version", invalid.Reason)
	}

	if _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "ok.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), ActorID: "alice",
	}); err != nil {
		t.Fatalf("version 4.1.2 should pass: %v", err)
	}
}

func TestSubmitFilenameTooLong(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID,
		Filename:   strings.Repeat("x", 201),
		Archive:    []byte("never opened"),
		ActorID:    "alice",
	})
	if !errors.Is(err, engine.ErrFilenameTooLong) {
		t.Fatalf("err = %v, want ErrFilenameTooLong", err)
	}
	subs, _ := env.Engine.Repo.ListSubmissions(env.Ctx, repo.SubmissionFilters{EmployeeID: env.Employee.ID})
	if len(subs) != 0 {
		t.Fatalf("%d submissions created on rejected upload", len(subs))
	}
}

func TestSubmitCorruptArchive(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "bad.k.zip",
		Archive: []byte("not a zip"), ActorID: "alice",
	})
	if !errors.Is(err, engine.ErrCorruptArchive) {
		t.Fatalf("err = %v, want ErrCorruptArchive", err)
	}
}

func TestSubmitRawAnnotation(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	// a bare .nml document goes through the checks like the zipped form
	res, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "tracing.nml",
		Archive: nmlDocument(t, "4.1.2", 7200000, 1800000), ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("raw submit: %v", err)
	}
	if res.Increment == nil || math.Abs(*res.Increment-1.5) > 1e-9 {
		t.Fatalf("increment = %v, want 1.5", res.Increment)
	}

	seeded, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CategoryID: env.Category.ID, Name: "seeded", TargetCoverage: 1,
		TaskFileData: nmlDocument(t, "4.1.2", 0, 0), TaskFileName: "seed.nml",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create task with raw starting file: %v", err)
	}
	if seeded.TaskFile == nil {
		t.Fatal("starting file not stored")
	}
}

func TestNamesNormalizedOnWrite(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.InitProject(env.Ctx, "demo-stack", "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "demo_stack" {
		t.Fatalf("project name = %q", p.Name)
	}
	cat, err := env.Engine.CreateCategory(env.Ctx, env.Project.ID, "sparse-seeding", "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if cat.Name != "sparse_seeding" {
		t.Fatalf("category name = %q", cat.Name)
	}
	emp, err := env.Engine.CreateEmployee(env.Ctx, engine.EmployeeCreateOptions{
		Username: "jo-ann", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if emp.Username != "jo_ann" {
		t.Fatalf("username = %q", emp.Username)
	}
	task := env.createTask(t, "seed-task-7", engine.TaskCreateOptions{})
	if task.Name != "seed_task_7" {
		t.Fatalf("task name = %q", task.Name)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "seed_task_7" {
		t.Fatalf("stored task name = %q", got.Name)
	}
}

func TestSubmitUnknownCheck(t *testing.T) {
	env := newTestEnv(t)
	// Validated at creation time.
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		CategoryID: env.Category.ID, Name: "t1", TargetCoverage: 1,
		Checks: "automatic_worktime check_bogus", ActorID: "tester",
	})
	var unknown checks.UnknownCheckError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownCheckError", err)
	}
}

func TestFrozenWorkRejectsWrites(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	work, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.FreezeWork(env.Ctx, work.ID, "admin"); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	_, err = env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "a.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), ActorID: "alice",
	})
	if !errors.Is(err, engine.ErrFrozenWork) {
		t.Fatalf("submit err = %v, want ErrFrozenWork", err)
	}
	subs, _ := env.Engine.Repo.ListSubmissions(env.Ctx, repo.SubmissionFilters{WorkID: work.ID})
	if len(subs) != 0 {
		t.Fatal("submission row created against frozen work")
	}

	if _, err := env.Engine.UnfinalizeWork(env.Ctx, work.ID, "admin"); !errors.Is(err, engine.ErrFrozenWork) {
		t.Fatalf("unfinalize err = %v, want ErrFrozenWork", err)
	}
	if _, err := env.Engine.ResetTask(env.Ctx, env.Employee.ID, task.ID, "admin"); !errors.Is(err, engine.ErrFrozenWork) {
		t.Fatalf("reset err = %v, want ErrFrozenWork", err)
	}
	// there is no unfreeze
	if _, err := env.Engine.FreezeWork(env.Ctx, work.ID, "admin"); !errors.Is(err, engine.ErrFrozenWork) {
		t.Fatalf("second freeze err = %v, want ErrFrozenWork", err)
	}
}

func TestResetTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "a.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), IsFinal: true, ActorID: "alice",
	}); err != nil {
		t.Fatal(err)
	}
	w, err := env.Engine.ResetTask(env.Ctx, env.Employee.ID, task.ID, "admin")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if w.Worktime != 0 || w.IsFinal || w.LastSubmissionID != nil {
		t.Fatalf("work not rewound: %+v", w)
	}
	subs, _ := env.Engine.Repo.ListSubmissions(env.Ctx, repo.SubmissionFilters{WorkID: w.ID})
	if len(subs) != 0 {
		t.Fatalf("%d submissions survive reset", len(subs))
	}
	// coverage slot is kept
	got, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if got.CurrentCoverage != 1 {
		t.Fatalf("coverage = %d after reset", got.CurrentCoverage)
	}
}

func TestDeleteSubmissionRewindsWork(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "a.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.SetNow(env.now.Add(time.Hour))
	second, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "b.k.zip",
		Archive: nmlArchive(t, "4.1.2", 10800000, 0), IsFinal: true, ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteSubmission(env.Ctx, second.Submission.ID, "admin"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	w, err := env.Engine.Repo.GetWork(env.Ctx, first.Work.ID)
	if err != nil {
		t.Fatal(err)
	}
	if w.LastSubmissionID == nil || *w.LastSubmissionID != first.Submission.ID {
		t.Fatal("work not rewound to first submission")
	}
	if w.IsFinal {
		t.Fatal("work still final after deleting the final submission")
	}
	if math.Abs(w.Worktime-1.0) > 1e-9 {
		t.Fatalf("worktime = %v, want 1.0", w.Worktime)
	}
}

func TestUnfinalizeWork(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "a.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), IsFinal: true, ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	w, err := env.Engine.UnfinalizeWork(env.Ctx, res.Work.ID, "admin")
	if err != nil {
		t.Fatalf("unfinalize: %v", err)
	}
	if w.IsFinal {
		t.Fatal("work still final")
	}
	// employee can pick up where they left off
	if _, err := env.Engine.GetActiveWork(env.Ctx, env.Employee.ID); err != nil {
		t.Fatalf("active work: %v", err)
	}
}

func TestGetAvailableTasks(t *testing.T) {
	env := newTestEnv(t)
	low := env.createTask(t, "low", engine.TaskCreateOptions{Priority: 1})
	high := env.createTask(t, "high", engine.TaskCreateOptions{Priority: 5})
	env.createTask(t, "hidden", engine.TaskCreateOptions{Priority: -5})
	held := env.createTask(t, "held", engine.TaskCreateOptions{Priority: 9})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, held.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	tasks, err := env.Engine.GetAvailableTasks(env.Ctx, env.Employee.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID != high.ID || tasks[1].ID != low.ID {
		t.Fatal("tasks not sorted by priority desc")
	}

	tasks, err = env.Engine.GetAvailableTasks(env.Ctx, env.Employee.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].ID != high.ID {
		t.Fatal("per-category limit not applied")
	}
}

func TestMonthlyWorktime(t *testing.T) {
	env := newTestEnv(t)
	t1 := env.createTask(t, "jan", engine.TaskCreateOptions{Checks: "automatic_worktime"})
	t2 := env.createTask(t, "feb", engine.TaskCreateOptions{Checks: "automatic_worktime"})

	env.SetNow(time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC))
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, t1.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "a.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), IsFinal: true, ActorID: "alice",
	}); err != nil {
		t.Fatal(err)
	}

	env.SetNow(time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC))
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, t2.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "b.k.zip",
		Archive: nmlArchive(t, "4.1.2", 9000000, 1800000), ActorID: "alice",
	}); err != nil {
		t.Fatal(err)
	}
	// unmeasured submission in the same month marks the bucket incomplete
	env.SetNow(time.Date(2025, 2, 4, 9, 0, 0, 0, time.UTC))
	if _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "c.k.zip",
		Archive: nmlArchive(t, "4.1.2", 9000000, 1800000), SkipChecks: true, ActorID: "alice",
	}); err != nil {
		t.Fatal(err)
	}

	overview, err := env.Engine.MonthlyWorktime(env.Ctx, env.Employee.ID)
	if err != nil {
		t.Fatal(err)
	}
	jan := overview.Totals[2025][1]
	if math.Abs(jan.Hours-1.0) > 1e-9 || jan.Incomplete {
		t.Fatalf("jan = %+v", jan)
	}
	feb := overview.Totals[2025][2]
	if math.Abs(feb.Hours-2.0) > 1e-9 || !feb.Incomplete {
		t.Fatalf("feb = %+v", feb)
	}

	// per-task buckets sum to the grand total for each month
	for year, months := range overview.Totals {
		for month, total := range months {
			var sum float64
			for _, b := range overview.PerTask[year][month] {
				sum += b.Hours
			}
			if math.Abs(sum-total.Hours) > 1e-9 {
				t.Fatalf("%d-%02d: per-task sum %v != total %v", year, month, sum, total.Hours)
			}
		}
	}
}

func TestSweepFreezes(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "quick", engine.TaskCreateOptions{
		TargetCoverage: 2, FreezeDelay: 1, Checks: "automatic_worktime",
	})
	bob, err := env.Engine.CreateEmployee(env.Ctx, engine.EmployeeCreateOptions{
		Username: "bob", ProjectID: env.Project.ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}

	// alice wraps her work up, bob leaves his open with one
	// intermediate submission
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: env.Employee.ID, Filename: "a.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), IsFinal: true, ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ChooseTask(env.Ctx, bob.ID, task.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		EmployeeID: bob.ID, Filename: "b.k.zip",
		Archive: nmlArchive(t, "4.1.2", 3600000, 0), ActorID: "bob",
	}); err != nil {
		t.Fatal(err)
	}

	env.SetNow(env.now.Add(10 * 24 * time.Hour))
	frozen, err := env.Engine.SweepFreezes(env.Ctx, "sweeper")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(frozen) != 1 || frozen[0].ID != done.Work.ID {
		t.Fatalf("froze %d works, want only the finished one", len(frozen))
	}
	if !frozen[0].Frozen || !frozen[0].FrozenLatched {
		t.Fatal("work not latched frozen")
	}
	bobsWork, err := env.Engine.GetActiveWork(env.Ctx, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bobsWork.Frozen {
		t.Fatal("open work frozen by the sweep")
	}

	// second sweep has nothing left to do
	frozen, err = env.Engine.SweepFreezes(env.Ctx, "sweeper")
	if err != nil {
		t.Fatal(err)
	}
	if len(frozen) != 0 {
		t.Fatalf("second sweep froze %d works", len(frozen))
	}

	// a work with no submission at all never freezes, however old
	idle := env.createTask(t, "idle", engine.TaskCreateOptions{FreezeDelay: 1})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, idle.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	env.SetNow(env.now.Add(10 * 24 * time.Hour))
	frozen, err = env.Engine.SweepFreezes(env.Ctx, "sweeper")
	if err != nil {
		t.Fatal(err)
	}
	if len(frozen) != 0 {
		t.Fatalf("sweep froze %d works without submissions", len(frozen))
	}
}

func TestIsCompleteFrozenTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{TargetCoverage: 1})
	work, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.IsCompleteFrozenTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("task complete before works are frozen")
	}
	if _, err := env.Engine.FreezeWork(env.Ctx, work.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	done, err = env.Engine.IsCompleteFrozenTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("task should be complete and frozen")
	}
}

func TestStaleWork(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "t1", engine.TaskCreateOptions{TargetCoverage: 1})
	if _, err := env.Engine.ChooseTask(env.Ctx, env.Employee.ID, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	env.SetNow(env.now.Add(10 * 24 * time.Hour))
	stale, err := env.Engine.StaleWork(env.Ctx, 7, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 {
		t.Fatalf("got %d stale works, want 1", len(stale))
	}
	stale, err = env.Engine.StaleWork(env.Ctx, 30, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("got %d stale works, want 0", len(stale))
	}

	// category filter
	stale, err = env.Engine.StaleWork(env.Ctx, 7, []string{env.Category.Name})
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 {
		t.Fatalf("got %d stale works in %s, want 1", len(stale), env.Category.Name)
	}
	stale, err = env.Engine.StaleWork(env.Ctx, 7, []string{"no_such_category"})
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("got %d stale works in bogus category, want 0", len(stale))
	}
}

func TestAssignProjectBatch(t *testing.T) {
	env := newTestEnv(t)
	bob, err := env.Engine.CreateEmployee(env.Ctx, engine.EmployeeCreateOptions{Username: "bob", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	// one bogus id fails the whole batch
	err = env.Engine.AssignProject(env.Ctx, []string{bob.ID, "no-such-employee"}, &env.Project.ID, "admin")
	if err == nil {
		t.Fatal("expected batch failure")
	}
	got, _ := env.Engine.Repo.GetEmployee(env.Ctx, bob.ID)
	if got.ProjectID != nil {
		t.Fatal("partial batch applied")
	}

	if err := env.Engine.AssignProject(env.Ctx, []string{bob.ID}, &env.Project.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.Repo.GetEmployee(env.Ctx, bob.ID)
	if got.ProjectID == nil || *got.ProjectID != env.Project.ID {
		t.Fatal("assignment not applied")
	}
}
