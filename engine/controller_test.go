package engine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/store"
)

func testLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestController(t *testing.T) (*Controller, *store.MemoryStore) {
	t.Helper()
	m := store.NewMemoryStore()
	c := NewController(m, testLogger(), domain.User{ID: "owner-1", DisplayName: "Owner One"})
	t.Cleanup(c.Close)
	return c, m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func waitTasks(t *testing.T, c *Controller, n int) []domain.Task {
	t.Helper()
	waitFor(t, func() bool { return !c.Loading() && len(c.Tasks()) == n })
	return c.Tasks()
}

func draft(title string, lane domain.Status) domain.Draft {
	return domain.Draft{
		Title:    title,
		Category: domain.CategoryWork,
		Priority: domain.PriorityMedium,
		Status:   lane,
	}
}

func strPtr(s string) *string                   { return &s }
func priPtr(p domain.Priority) *domain.Priority { return &p }

func TestCreateAssignsLaneEndOrder(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	// The order index comes from the controller's view of the lane, so
	// each create waits for its snapshot before the next one runs.
	for i, title := range []string{"First", "Second", "Third"} {
		if err := c.Create(ctx, draft(title, domain.StatusTodo)); err != nil {
			t.Fatalf("create: %v", err)
		}
		waitTasks(t, c, i+1)
	}
	if err := c.Create(ctx, draft("Elsewhere", domain.StatusInProgress)); err != nil {
		t.Fatalf("create: %v", err)
	}

	tasks := waitTasks(t, c, 4)
	todo := domain.ByStatus(domain.StatusTodo, tasks)
	if len(todo) != 3 {
		t.Fatalf("unexpected lane size: %d", len(todo))
	}
	for i, task := range todo {
		if task.Order != i {
			t.Fatalf("task %q order = %d, want %d", task.Title, task.Order, i)
		}
	}
	// A fresh lane starts at zero regardless of other lanes.
	inProgress := domain.ByStatus(domain.StatusInProgress, tasks)
	if len(inProgress) != 1 || inProgress[0].Order != 0 {
		t.Fatalf("unexpected in-progress lane: %#v", inProgress)
	}
}

func TestCreateWritesInitialHistory(t *testing.T) {
	c, _ := newTestController(t)
	if err := c.Create(context.Background(), draft("First", domain.StatusTodo)); err != nil {
		t.Fatalf("create: %v", err)
	}
	tasks := waitTasks(t, c, 1)
	if len(tasks[0].History) != 1 || tasks[0].History[0].Action != domain.ActionCreated {
		t.Fatalf("unexpected history: %#v", tasks[0].History)
	}
}

func TestCreateRejectsInvalidDraft(t *testing.T) {
	c, _ := newTestController(t)
	err := c.Create(context.Background(), draft("", domain.StatusTodo))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "title" {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waitTasks(t, c, 0)) != 0 {
		t.Fatal("rejected draft reached the store")
	}
}

func TestUpdateAppendsChangedFieldsHistory(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	if err := c.Create(ctx, draft("First", domain.StatusTodo)); err != nil {
		t.Fatalf("create: %v", err)
	}
	tasks := waitTasks(t, c, 1)

	upd := domain.Update{Title: strPtr("Renamed"), Priority: priPtr(domain.PriorityHigh)}
	if err := c.Update(ctx, tasks[0].ID, upd); err != nil {
		t.Fatalf("update: %v", err)
	}

	waitFor(t, func() bool { return len(c.Tasks()) == 1 && c.Tasks()[0].Title == "Renamed" })
	got := c.Tasks()[0]
	if got.Priority != domain.PriorityHigh {
		t.Fatalf("priority not applied: %s", got.Priority)
	}
	last := got.History[len(got.History)-1]
	if last.Action != domain.ActionUpdated || last.Details != "title, priority" {
		t.Fatalf("unexpected history entry: %#v", last)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatalf("updatedAt not advanced: %v %v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestUpdateEmpty(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	if err := c.Create(ctx, draft("First", domain.StatusTodo)); err != nil {
		t.Fatalf("create: %v", err)
	}
	tasks := waitTasks(t, c, 1)

	err := c.Update(ctx, tasks[0].ID, domain.Update{})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateUnknownTask(t *testing.T) {
	c, _ := newTestController(t)
	waitTasks(t, c, 0)
	err := c.Update(context.Background(), "missing", domain.Update{Title: strPtr("x")})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCompleteKeepsOrder(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	if err := c.Create(ctx, draft("First", domain.StatusTodo)); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitTasks(t, c, 1)
	if err := c.Create(ctx, draft("Second", domain.StatusTodo)); err != nil {
		t.Fatalf("create: %v", err)
	}
	tasks := waitTasks(t, c, 2)
	second := tasks[1]
	if second.Order != 1 {
		t.Fatalf("setup: unexpected order %d", second.Order)
	}

	if err := c.Complete(ctx, second.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	waitFor(t, func() bool {
		return len(domain.ByStatus(domain.StatusCompleted, c.Tasks())) == 1
	})
	done := domain.ByStatus(domain.StatusCompleted, c.Tasks())[0]
	if done.Order != 1 {
		t.Fatalf("complete changed the order index: %d", done.Order)
	}
	last := done.History[len(done.History)-1]
	if last.Action != domain.ActionCompleted {
		t.Fatalf("unexpected history entry: %#v", last)
	}
}

func TestMoveAppendsToDestinationLane(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	if err := c.Create(ctx, draft("Moving", domain.StatusTodo)); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitTasks(t, c, 1)
	if err := c.Create(ctx, draft("Settled", domain.StatusInProgress)); err != nil {
		t.Fatalf("create: %v", err)
	}
	tasks := waitTasks(t, c, 2)
	moving := domain.ByStatus(domain.StatusTodo, tasks)[0]

	if err := c.Move(ctx, moving.ID, domain.StatusInProgress); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitFor(t, func() bool {
		return len(domain.ByStatus(domain.StatusInProgress, c.Tasks())) == 2
	})
	lane := domain.ByStatus(domain.StatusInProgress, c.Tasks())
	if lane[1].ID != moving.ID || lane[1].Order != 1 {
		t.Fatalf("moved task not at lane end: %#v", lane)
	}
	last := lane[1].History[len(lane[1].History)-1]
	if last.Action != domain.ActionMoved || last.Details != "from todo to in-progress" {
		t.Fatalf("unexpected history entry: %#v", last)
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	if err := c.Create(ctx, draft("Doomed", domain.StatusTodo)); err != nil {
		t.Fatalf("create: %v", err)
	}
	tasks := waitTasks(t, c, 1)

	if err := c.Delete(ctx, tasks[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitTasks(t, c, 0)

	if err := c.Delete(ctx, tasks[0].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteBatch(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	for _, title := range []string{"A", "B", "C"} {
		if err := c.Create(ctx, draft(title, domain.StatusTodo)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	tasks := waitTasks(t, c, 3)

	if err := c.DeleteBatch(ctx, []string{tasks[0].ID, tasks[2].ID}); err != nil {
		t.Fatalf("delete batch: %v", err)
	}
	remaining := waitTasks(t, c, 1)
	if remaining[0].ID != tasks[1].ID {
		t.Fatalf("wrong survivor: %s", remaining[0].ID)
	}

	// One unknown id fails the whole batch before any write.
	if err := c.DeleteBatch(ctx, []string{remaining[0].ID, "missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Tasks()) != 1 {
		t.Fatal("failed batch removed a task")
	}
}

func TestReorderShiftsDestinationLane(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	for _, title := range []string{"A", "B", "C"} {
		if err := c.Create(ctx, draft(title, domain.StatusTodo)); err != nil {
			t.Fatalf("create: %v", err)
		}
		waitFor(t, func() bool {
			for _, task := range c.Tasks() {
				if task.Title == title {
					return true
				}
			}
			return false
		})
	}
	tasks := waitTasks(t, c, 3)
	last := tasks[2]

	if err := c.Reorder(ctx, last.ID, domain.StatusTodo, domain.StatusTodo, 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	waitFor(t, func() bool { return c.Tasks()[0].ID == last.ID })
	got := c.Tasks()
	for i, want := range []string{"C", "A", "B"} {
		if got[i].Title != want || got[i].Order != i {
			t.Fatalf("position %d = %s (order %d), want %s", i, got[i].Title, got[i].Order, want)
		}
	}
	// A pure reorder inside one lane leaves history alone.
	if len(got[0].History) != 1 {
		t.Fatalf("same-lane reorder wrote history: %#v", got[0].History)
	}
}

func TestReorderAcrossLanes(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	if err := c.Create(ctx, draft("Mover", domain.StatusTodo)); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitTasks(t, c, 1)
	if err := c.Create(ctx, draft("Occupant", domain.StatusInProgress)); err != nil {
		t.Fatalf("create: %v", err)
	}
	tasks := waitTasks(t, c, 2)
	mover := domain.ByStatus(domain.StatusTodo, tasks)[0]

	if err := c.Reorder(ctx, mover.ID, domain.StatusTodo, domain.StatusInProgress, 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	waitFor(t, func() bool {
		return len(domain.ByStatus(domain.StatusInProgress, c.Tasks())) == 2
	})
	lane := domain.ByStatus(domain.StatusInProgress, c.Tasks())
	if lane[0].ID != mover.ID || lane[0].Order != 0 {
		t.Fatalf("mover not at requested position: %#v", lane)
	}
	if lane[1].Title != "Occupant" || lane[1].Order != 1 {
		t.Fatalf("occupant not shifted: %#v", lane[1])
	}
	last := lane[0].History[len(lane[0].History)-1]
	if last.Action != domain.ActionMoved || last.Details != "from todo to in-progress" {
		t.Fatalf("unexpected history entry: %#v", last)
	}
}

func TestFailedWriteLeavesCollectionUntouched(t *testing.T) {
	c, m := newTestController(t)
	ctx := context.Background()
	if err := c.Create(ctx, draft("Stable", domain.StatusTodo)); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := waitTasks(t, c, 1)

	boom := errors.New("backend unavailable")
	m.FailNextWrite(boom)
	err := c.Create(ctx, draft("Doomed", domain.StatusTodo))
	var serr *domain.SyncError
	if !errors.As(err, &serr) || serr.Op != "create" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause not preserved: %v", err)
	}

	after := c.Tasks()
	if len(after) != 1 || after[0].ID != before[0].ID {
		t.Fatalf("failed write changed the collection: %#v", after)
	}

	m.FailNextWrite(boom)
	err = c.Update(ctx, before[0].ID, domain.Update{Title: strPtr("x")})
	if !errors.As(err, &serr) || serr.Op != "update" {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Tasks()[0].Title != "Stable" {
		t.Fatal("failed update changed the collection")
	}
}

func TestUnauthenticated(t *testing.T) {
	m := store.NewMemoryStore()
	c := NewController(m, testLogger(), domain.User{})
	t.Cleanup(c.Close)
	ctx := context.Background()

	if err := c.Create(ctx, draft("x", domain.StatusTodo)); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("create: %v", err)
	}
	if err := c.Update(ctx, "id", domain.Update{Title: strPtr("x")}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("update: %v", err)
	}
	if err := c.Delete(ctx, "id"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("delete: %v", err)
	}
	if err := c.Reorder(ctx, "id", domain.StatusTodo, domain.StatusTodo, 0); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("reorder: %v", err)
	}
}

func TestSubscribeDeliversSortedCollections(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	waitTasks(t, c, 0)

	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()
	<-ch // current collection arrives immediately once loaded

	if err := c.Create(ctx, draft("First", domain.StatusTodo)); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case tasks := <-ch:
		if len(tasks) != 1 || tasks[0].Title != "First" {
			t.Fatalf("unexpected delivery: %#v", tasks)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after create")
	}
}

func TestTagsAndLanes(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	d := draft("Tagged", domain.StatusTodo)
	d.Tags = []domain.Tag{{ID: "t1", Name: "focus", Color: "#00f"}}
	if err := c.Create(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitTasks(t, c, 1)

	tags := c.Tags()
	if len(tags) != 1 || tags[0].Name != "focus" {
		t.Fatalf("unexpected tags: %#v", tags)
	}
	if len(c.TasksByStatus(domain.StatusTodo)) != 1 || len(c.TasksByStatus(domain.StatusCompleted)) != 0 {
		t.Fatal("unexpected lane contents")
	}
}

// streamStore hands the test direct control over the snapshot stream.
type streamStore struct {
	*store.MemoryStore
	snaps chan []store.Document
	errs  chan error
}

func newStreamStore() *streamStore {
	return &streamStore{
		MemoryStore: store.NewMemoryStore(),
		snaps:       make(chan []store.Document, 1),
		errs:        make(chan error, 1),
	}
}

func (s *streamStore) Subscribe(ctx context.Context, ownerID string) (*store.Subscription, error) {
	return &store.Subscription{C: s.snaps, Err: s.errs}, nil
}

func TestDegradedStreamKeepsLastData(t *testing.T) {
	s := newStreamStore()
	c := NewController(s, testLogger(), domain.User{ID: "owner-1"})
	t.Cleanup(c.Close)

	s.snaps <- []store.Document{{ID: "a", OwnerID: "owner-1", Title: "Keep me", Category: "work", Priority: "low", Status: "todo"}}
	waitFor(t, func() bool { return len(c.Tasks()) == 1 })

	s.errs <- errors.New("stream torn down")
	waitFor(t, func() bool { return c.Err() != nil })
	if len(c.Tasks()) != 1 || c.Tasks()[0].Title != "Keep me" {
		t.Fatalf("degraded controller dropped data: %#v", c.Tasks())
	}

	// A later good snapshot clears the degraded state.
	s.snaps <- []store.Document{
		{ID: "a", OwnerID: "owner-1", Title: "Keep me", Category: "work", Priority: "low", Status: "todo"},
		{ID: "b", OwnerID: "owner-1", Title: "New", Category: "work", Priority: "low", Status: "todo", Order: 1},
	}
	waitFor(t, func() bool { return c.Err() == nil && len(c.Tasks()) == 2 })
}

func TestUndecodableDocumentsAreDropped(t *testing.T) {
	s := newStreamStore()
	c := NewController(s, testLogger(), domain.User{ID: "owner-1"})
	t.Cleanup(c.Close)

	s.snaps <- []store.Document{
		{ID: "good", OwnerID: "owner-1", Title: "Fine", Category: "work", Priority: "low", Status: "todo"},
		{ID: "bad", OwnerID: "owner-1", Title: "Broken", Category: "work", Priority: "low", Status: "archived"},
	}
	waitFor(t, func() bool { return !c.Loading() })
	tasks := c.Tasks()
	if len(tasks) != 1 || tasks[0].ID != "good" {
		t.Fatalf("unexpected collection: %#v", tasks)
	}
}

func TestManagerReusesAndReleases(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), testLogger())
	t.Cleanup(m.Shutdown)

	owner := domain.User{ID: "owner-1"}
	first := m.Controller(owner)
	if second := m.Controller(owner); second != first {
		t.Fatal("manager built a second controller for the same owner")
	}

	m.Release(owner.ID)
	if again := m.Controller(owner); again == first {
		t.Fatal("released controller handed out again")
	}
}
