package engine

import (
	"context"
	"fmt"

	"annotrack/internal/blob"
	"annotrack/internal/domain"
	"annotrack/internal/events"
	"annotrack/internal/skeleton"
)

// AttachTaskFile stores a starting annotation for a task. The upload
// may be a zip archive or a bare annotation document; the filename
// decides.
func (e Engine) AttachTaskFile(ctx context.Context, taskID string, data []byte, filename, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := skeleton.ExtractAnnotation(data, filename); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	project, cat, err := e.projectForTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	name, err := e.Blobs.Save(blob.TaskFileName(project.Name, cat.Name, t.Name), data)
	if err != nil {
		return domain.Task{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetTaskFileTx(ctx, tx, t.ID, name); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: "task.file", ProjectID: project.ID, EntityKind: "task", EntityID: t.ID, ActorID: actorID,
		Payload: events.Payload{"file": name},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.TaskFile = &name
	return t, nil
}
