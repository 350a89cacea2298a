// Package checks holds the submission check registry. A task's checks
// column names the checks to run on each submission as a space or comma
// separated list. Checks inspect the parsed annotation and either pass,
// report a failure message for the annotator, or (for the worktime
// check) yield the tracing hours credited by the submission.
package checks

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"annotrack/internal/domain"
	"annotrack/internal/skeleton"
)

// Context carries everything a check may inspect.
type Context struct {
	Skeleton *skeleton.Skeleton
	Task     domain.Task
	Work     domain.Work
	Employee domain.Employee
	Comment  string
	IsFinal  bool
	Raw      []byte
}

// Result is the outcome of one check. A non-empty Failure rejects the
// submission with that message. Worktime is set only by the worktime
// check and holds the incremental hours to credit.
type Result struct {
	Failure  string
	Worktime *float64
}

func pass() Result { return Result{} }

func fail(msg string) Result { return Result{Failure: msg} }

func credit(hours float64) Result { return Result{Worktime: &hours} }

// Func runs one check against a submission.
type Func func(Context) Result

// UnknownCheckError reports a check name with no registered
// implementation.
type UnknownCheckError struct {
	Name string
}

func (e UnknownCheckError) Error() string {
	return fmt.Sprintf("unknown check %q", e.Name)
}

// WorktimeCheck is the registry name of the check that measures tracing
// time. The engine treats it specially: it runs first and its credit is
// added to the work.
const WorktimeCheck = "automatic_worktime"

var splitPattern = regexp.MustCompile(`\W+`)

// ParseList splits a checks column value into check names. Any
// non-word characters separate names, so both "a b" and "a,b" work.
func ParseList(s string) []string {
	var out []string
	for _, name := range splitPattern.Split(s, -1) {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// NormalizeName maps dashes to underscores so "check-simple" resolves
// the same check as "check_simple".
func NormalizeName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

type Registry struct {
	fns map[string]Func
}

// NewRegistry returns a registry with the built-in checks.
func NewRegistry() *Registry {
	return &Registry{fns: map[string]Func{
		WorktimeCheck:               automaticWorktime,
		"check_simple":              checkSimple,
		"check_seed_contained":      checkSeedContained,
		"check_connected_component": checkConnectedComponent,
	}}
}

// Register adds or replaces a named check.
func (r *Registry) Register(name string, fn Func) {
	r.fns[NormalizeName(name)] = fn
}

// Resolve returns the check registered under name.
func (r *Registry) Resolve(name string) (Func, error) {
	fn, ok := r.fns[NormalizeName(name)]
	if !ok {
		return nil, UnknownCheckError{Name: name}
	}
	return fn, nil
}

// ResolveList validates that every name in a checks column value is
// registered and returns the parsed names.
func (r *Registry) ResolveList(s string) ([]string, error) {
	names := ParseList(s)
	for _, name := range names {
		if _, err := r.Resolve(name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// Names returns the registered check names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.fns))
	for name := range r.fns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// automaticWorktime credits the tracing hours recorded in the
// annotation. The annotation carries the cumulative time for the whole
// work, so the credit is the difference to the work's current total. A
// submission whose recorded time is below an earlier submission is
// rejected.
func automaticWorktime(ctx Context) Result {
	hours := ctx.Skeleton.TracedHours()
	if ctx.Work.Worktime > hours {
		return fail("The work time for this submission is lower than a previous submission.")
	}
	return credit(hours - ctx.Work.Worktime)
}

// checkSimple requires the annotation to contain exactly one non-empty
// tree.
func checkSimple(ctx Context) Result {
	if _, err := ctx.Skeleton.TheNonEmptyTree(); err != nil {
		return fail("This annotation contains more than one tree, or none at all. Please correct the problem and resubmit.")
	}
	return pass()
}

// checkSeedContained requires a node at the task's seed position. Tasks
// distributed as a starting file carry their seed inside that file, so
// the check is skipped for them.
func checkSeedContained(ctx Context) Result {
	if ctx.Task.TaskFile != nil {
		return pass()
	}
	if ctx.Task.SeedX == nil || ctx.Task.SeedY == nil || ctx.Task.SeedZ == nil {
		return pass()
	}
	x, y, z := *ctx.Task.SeedX, *ctx.Task.SeedY, *ctx.Task.SeedZ
	if !ctx.Skeleton.HasNodeAt(x, y, z) {
		return fail(fmt.Sprintf(
			"This annotation does not contain a node at the position of the seed point (%d, %d, %d). Please correct the problem and resubmit.",
			x, y, z))
	}
	return pass()
}

// checkConnectedComponent requires the single non-empty tree to have no
// unconnected parts.
func checkConnectedComponent(ctx Context) Result {
	tree, err := ctx.Skeleton.TheNonEmptyTree()
	if err != nil {
		return fail("This annotation contains more than one non-empty tree. Please correct the problem and resubmit.")
	}
	if !skeleton.IsSinglyConnected(tree) {
		return fail("This annotation contains a tree with unconnected parts. Please make sure there are no gaps in the tree and resubmit.")
	}
	return pass()
}
