package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"annotrack/internal/config"
	"annotrack/internal/domain"
	"annotrack/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a
// project + config exist in the DB, seeding defaults if missing. The
// override may be a project ID or name; with no override the single
// project in the workspace is used. An unknown override is created on
// the fly.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	projectID := ""
	if projectOverride == "" {
		p, err := r.SingleProject(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
		projectID = p.ID
	} else {
		p, err := r.GetProject(ctx, projectOverride)
		if errors.Is(err, repo.ErrNotFound) {
			p, err = r.GetProjectByName(ctx, projectOverride)
		}
		switch {
		case err == nil:
			projectID = p.ID
		case errors.Is(err, repo.ErrNotFound):
			created, cerr := createProject(ctx, r, projectOverride)
			if cerr != nil {
				return "", nil, cerr
			}
			projectID = created.ID
		default:
			return "", nil, err
		}
	}

	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(projectID)
		if err := r.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
	}
	cfg.Project.ID = projectID

	// A workspace annotrack.yml supplies deployment-local settings the
	// DB copy does not carry, notably webhooks.
	if fileCfg, err := config.LoadOptional(workspace); err != nil {
		return "", nil, err
	} else if fileCfg != nil && len(fileCfg.Webhooks) > 0 {
		cfg.Webhooks = fileCfg.Webhooks
	}
	return projectID, cfg, nil
}

func createProject(ctx context.Context, r repo.Repo, name string) (domain.Project, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:        name,
		Name:      name,
		CreatedAt: now,
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,created_at) VALUES (?,?,?)`,
		p.ID, p.Name, p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	if err := r.UpsertProjectConfig(ctx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	return p, nil
}
