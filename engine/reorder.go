package engine

import (
	"context"
	"time"

	"boardsync/domain"
	"boardsync/store"
)

// Reorder moves a task to an exact position inside the destination lane.
// Every other task in that lane at or past the position shifts up by one,
// and the whole write set commits as a single atomic batch, so a partial
// shift is never observable.
func (c *Controller) Reorder(ctx context.Context, taskID string, source, destination domain.Status, newOrder int) error {
	if err := c.requireOwner(); err != nil {
		return err
	}
	if !source.Valid() {
		return &domain.ValidationError{Field: "sourceStatus", Reason: "unknown value " + string(source)}
	}
	if !destination.Valid() {
		return &domain.ValidationError{Field: "destinationStatus", Reason: "unknown value " + string(destination)}
	}
	task, err := c.requireTask(taskID)
	if err != nil {
		return err
	}

	batch := c.store.Batch(c.owner.ID)
	buildReorder(batch, task, c.Tasks(), source, destination, newOrder, c.now())
	if err := batch.Commit(ctx); err != nil {
		return &domain.SyncError{Op: "reorder", Err: err}
	}
	return nil
}

// buildReorder accumulates the moved task's write and the shift set. The
// shift set is recomputed from scratch against the current snapshot on
// every call, which heals a transiently duplicated order index the next
// time its lane is reordered.
func buildReorder(batch store.Batch, task domain.Task, tasks []domain.Task, source, destination domain.Status, newOrder int, now time.Time) {
	patch := store.Patch{Order: &newOrder}
	if source != destination {
		status := string(destination)
		patch.Status = &status
		// A cross-lane drop is audited; a pure reorder is not.
		entry := domain.NewHistoryEntry(now, domain.ActionMoved, "from "+string(source)+" to "+string(destination))
		patch.History = store.EncodeHistory(domain.AppendHistory(task.History, entry))
	}
	batch.Update(task.ID, patch)

	for _, other := range tasks {
		if other.ID == task.ID || other.Status != destination || other.Order < newOrder {
			continue
		}
		shifted := other.Order + 1
		batch.Update(other.ID, store.Patch{Order: &shifted})
	}
}
