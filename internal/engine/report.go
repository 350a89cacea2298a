package engine

import (
	"context"
	"fmt"
	"time"

	"annotrack/internal/domain"
)

// MonthlyWorktime folds an employee's submission history into per-month
// buckets, overall and per task. The fold is a pure sum, so the order
// submissions arrive in never changes the result. Buckets containing a
// submission without measured time are flagged incomplete rather than
// silently undercounted.
func (e Engine) MonthlyWorktime(ctx context.Context, employeeID string) (domain.WorktimeOverview, error) {
	rows, err := e.Repo.WorktimeRows(ctx, employeeID)
	if err != nil {
		return domain.WorktimeOverview{}, err
	}
	overview := domain.WorktimeOverview{
		Totals:  map[int]map[int]domain.Bucket{},
		PerTask: map[int]map[int]map[string]domain.Bucket{},
	}
	for _, row := range rows {
		ts, err := time.Parse(time.RFC3339, row.Date)
		if err != nil {
			return domain.WorktimeOverview{}, fmt.Errorf("submission date %q: %w", row.Date, err)
		}
		year, month := ts.UTC().Year(), int(ts.UTC().Month())

		if overview.Totals[year] == nil {
			overview.Totals[year] = map[int]domain.Bucket{}
		}
		total := overview.Totals[year][month]
		if overview.PerTask[year] == nil {
			overview.PerTask[year] = map[int]map[string]domain.Bucket{}
		}
		if overview.PerTask[year][month] == nil {
			overview.PerTask[year][month] = map[string]domain.Bucket{}
		}
		perTask := overview.PerTask[year][month][row.TaskID]

		if row.Worktime == nil {
			total.Incomplete = true
			perTask.Incomplete = true
		} else {
			total.Hours += *row.Worktime
			perTask.Hours += *row.Worktime
		}
		overview.Totals[year][month] = total
		overview.PerTask[year][month][row.TaskID] = perTask
	}
	return overview, nil
}
