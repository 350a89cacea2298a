package engine

import (
	"context"
	"fmt"
	"time"

	"annotrack/internal/domain"
	"annotrack/internal/repo"
)

// FreezeDelayReached reports whether a finished work's grace window
// ran out. The delay counts in days from the newest submission; a work
// only freezes once it is final, and a delay of zero means never
// freeze automatically.
func FreezeDelayReached(now time.Time, w domain.Work, lastSubmission *string, delayDays float64) (bool, error) {
	if lastSubmission == nil || !w.IsFinal || delayDays <= 0 {
		return false, nil
	}
	latest, err := time.Parse(time.RFC3339, *lastSubmission)
	if err != nil {
		return false, fmt.Errorf("submission date %q: %w", *lastSubmission, err)
	}
	delay := time.Duration(delayDays * 24 * float64(time.Hour))
	return now.Sub(latest) > delay, nil
}

// SweepFreezes freezes every finished work whose freeze delay ran out
// and returns the works it froze. Open works are left alone: the grace
// window only starts with the final submission.
func (e Engine) SweepFreezes(ctx context.Context, actorID string) ([]domain.Work, error) {
	candidates, err := e.Repo.SweepCandidates(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var frozen []domain.Work
	for _, c := range candidates {
		reached, err := FreezeDelayReached(now, c.Work, c.LastSubmission, c.FreezeDelay)
		if err != nil {
			return frozen, err
		}
		if !reached {
			continue
		}
		w, err := e.FreezeWork(ctx, c.Work.ID, actorID)
		if err != nil {
			return frozen, err
		}
		frozen = append(frozen, w)
	}
	return frozen, nil
}

// StaleWork lists non-final works without activity for the given number
// of days, for admins to chase up. A non-empty categories list
// restricts the result to works on tasks in those categories.
func (e Engine) StaleWork(ctx context.Context, days float64, categories []string) ([]domain.Work, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be > 0")
	}
	cutoff := e.now().UTC().Add(-time.Duration(days * 24 * float64(time.Hour))).Format(time.RFC3339)
	return e.Repo.StaleWorks(ctx, cutoff, categories)
}

// IsCompleteFrozenTask reports whether a task is fully wrapped up:
// inactive with every work on it frozen.
func (e Engine) IsCompleteFrozenTask(ctx context.Context, taskID string) (bool, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if t.IsActive {
		return false, nil
	}
	works, err := e.Repo.ListWorks(ctx, repo.WorkFilters{TaskID: taskID})
	if err != nil {
		return false, err
	}
	for _, w := range works {
		if !w.Frozen {
			return false, nil
		}
	}
	return true, nil
}
