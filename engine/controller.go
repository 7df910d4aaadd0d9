package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/store"
)

// Controller owns the authoritative task collection for one owner. The
// collection only ever changes when the store delivers a fresh snapshot;
// mutations never touch it directly, so there is nothing to roll back when
// a write fails.
type Controller struct {
	store  store.Store
	logger *log.Logger
	owner  domain.User
	cancel context.CancelFunc
	now    func() time.Time

	mu      sync.Mutex
	tasks   []domain.Task
	byID    map[string]domain.Task
	loading bool
	err     error
	subs    map[chan []domain.Task]struct{}
	closed  bool
}

// NewController starts a controller subscribed to the owner's collection.
func NewController(st store.Store, logger *log.Logger, owner domain.User) *Controller {
	c := &Controller{
		store:   st,
		logger:  logger,
		owner:   owner,
		now:     time.Now,
		byID:    map[string]domain.Task{},
		loading: true,
		subs:    map[chan []domain.Task]struct{}{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
	return c
}

func (c *Controller) run(ctx context.Context) {
	sub, err := c.store.Subscribe(ctx, c.owner.ID)
	if err != nil {
		c.degrade(err)
		return
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case docs, ok := <-sub.C:
			if !ok {
				return
			}
			c.applySnapshot(docs)
		case err, ok := <-sub.Err:
			if ok && err != nil {
				c.degrade(err)
			}
		}
	}
}

// applySnapshot replaces the whole collection with the delivered result
// set, decoded and sorted ascending by order index.
func (c *Controller) applySnapshot(docs []store.Document) {
	tasks := make([]domain.Task, 0, len(docs))
	for _, doc := range docs {
		task, err := store.DecodeTask(doc)
		if err != nil {
			c.logger.WithFields(log.Fields{"owner": c.owner.ID, "doc": doc.ID}).Errorf("drop undecodable document: %v", err)
			continue
		}
		tasks = append(tasks, task)
	}
	domain.SortByOrder(tasks)

	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.tasks = tasks
	c.byID = byID
	c.loading = false
	c.err = nil
	c.fanoutLocked(tasks)
	c.mu.Unlock()
}

// degrade records a stream failure but keeps the last known-good
// collection. Stale data beats no data.
func (c *Controller) degrade(err error) {
	c.logger.WithField("owner", c.owner.ID).Errorf("snapshot stream failed: %v", err)
	c.mu.Lock()
	c.err = err
	c.loading = false
	c.mu.Unlock()
}

func (c *Controller) fanoutLocked(tasks []domain.Task) {
	for ch := range c.subs {
		select {
		case ch <- tasks:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- tasks:
			default:
			}
		}
	}
}

// Close tears down the subscription and clears the collection. Used on
// owner sign-out.
func (c *Controller) Close() {
	c.cancel()
	c.mu.Lock()
	c.closed = true
	c.tasks = nil
	c.byID = map[string]domain.Task{}
	c.loading = false
	for ch := range c.subs {
		close(ch)
	}
	c.subs = map[chan []domain.Task]struct{}{}
	c.mu.Unlock()
}

// Subscribe returns a channel carrying the complete sorted collection on
// every authoritative change, never deltas. Consumers treat the delivered
// slice as read-only. The returned func unsubscribes.
func (c *Controller) Subscribe() (<-chan []domain.Task, func()) {
	ch := make(chan []domain.Task, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if !c.loading {
		ch <- c.tasks
	}
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		c.mu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			once.Do(func() { close(ch) })
		}
		c.mu.Unlock()
	}
}

// Tasks returns the current collection, sorted ascending by order index.
func (c *Controller) Tasks() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasks
}

// TasksByStatus returns one lane, sorted ascending by order index.
func (c *Controller) TasksByStatus(lane domain.Status) []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ByStatus(lane, c.tasks)
}

// Tags returns the distinct tags across the collection.
func (c *Controller) Tags() []domain.Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.DistinctTags(c.tasks)
}

// Loading reports whether the first snapshot is still outstanding.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the stream error when the controller is degraded.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Owner returns the identity this controller is scoped to.
func (c *Controller) Owner() domain.User { return c.owner }

func (c *Controller) requireOwner() error {
	if c.owner.ID == "" {
		return domain.ErrUnauthenticated
	}
	return nil
}

func (c *Controller) requireTask(id string) (domain.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.byID[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return task, nil
}

// Create validates the draft, assigns the next order index in the target
// lane and writes the record with its initial history entry. The visible
// update arrives through the subscription, not through this call.
func (c *Controller) Create(ctx context.Context, draft domain.Draft) error {
	if err := c.requireOwner(); err != nil {
		return err
	}
	if err := draft.Validate(); err != nil {
		return err
	}
	order := domain.NextOrder(draft.Status, c.Tasks())
	entry := domain.NewHistoryEntry(c.now(), domain.ActionCreated, "")
	doc := store.Document{
		OwnerID:     c.owner.ID,
		Title:       draft.Title,
		Description: draft.Description,
		Category:    string(draft.Category),
		Priority:    string(draft.Priority),
		Status:      string(draft.Status),
		DueDate:     store.EncodeDueDate(draft.DueDate),
		Tags:        store.EncodeTags(draft.Tags),
		History:     store.EncodeHistory([]domain.HistoryEntry{entry}),
		Attachments: store.EncodeAttachments(draft.Attachments),
		Order:       order,
	}
	if _, err := c.store.Insert(ctx, doc); err != nil {
		return &domain.SyncError{Op: "create", Err: err}
	}
	c.logger.WithFields(log.Fields{"owner": c.owner.ID, "lane": draft.Status, "order": order}).Debug("task created")
	return nil
}

// Update merges the given fields into the task and appends an "updated"
// history entry naming the changed fields.
func (c *Controller) Update(ctx context.Context, id string, upd domain.Update) error {
	if err := c.requireOwner(); err != nil {
		return err
	}
	if err := upd.Validate(); err != nil {
		return err
	}
	if upd.Empty() {
		return &domain.ValidationError{Field: "update", Reason: "no fields changed"}
	}
	task, err := c.requireTask(id)
	if err != nil {
		return err
	}
	entry := domain.NewHistoryEntry(c.now(), domain.ActionUpdated, strings.Join(upd.ChangedFields(), ", "))
	patch := encodeUpdate(upd)
	patch.History = store.EncodeHistory(domain.AppendHistory(task.History, entry))
	if err := c.store.Update(ctx, c.owner.ID, id, patch); err != nil {
		return &domain.SyncError{Op: "update", Err: err}
	}
	return nil
}

// Complete moves the task to the completed lane. The order index stays
// whatever the task last carried; reordering the completed lane later
// heals any resulting collision.
func (c *Controller) Complete(ctx context.Context, id string) error {
	if err := c.requireOwner(); err != nil {
		return err
	}
	task, err := c.requireTask(id)
	if err != nil {
		return err
	}
	entry := domain.NewHistoryEntry(c.now(), domain.ActionCompleted, "")
	status := string(domain.StatusCompleted)
	patch := store.Patch{
		Status:  &status,
		History: store.EncodeHistory(domain.AppendHistory(task.History, entry)),
	}
	if err := c.store.Update(ctx, c.owner.ID, id, patch); err != nil {
		return &domain.SyncError{Op: "complete", Err: err}
	}
	return nil
}

// Delete removes the record outright. Its history dies with it.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if err := c.requireOwner(); err != nil {
		return err
	}
	if _, err := c.requireTask(id); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, c.owner.ID, id); err != nil {
		return &domain.SyncError{Op: "delete", Err: err}
	}
	return nil
}

// DeleteBatch removes several records in one atomic write.
func (c *Controller) DeleteBatch(ctx context.Context, ids []string) error {
	if err := c.requireOwner(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := c.requireTask(id); err != nil {
			return err
		}
	}
	batch := c.store.Batch(c.owner.ID)
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := batch.Commit(ctx); err != nil {
		return &domain.SyncError{Op: "delete", Err: err}
	}
	c.logger.WithFields(log.Fields{"owner": c.owner.ID, "count": len(ids)}).Debug("batch delete committed")
	return nil
}

// Move appends the task to the end of the destination lane.
func (c *Controller) Move(ctx context.Context, id string, newStatus domain.Status) error {
	if err := c.requireOwner(); err != nil {
		return err
	}
	if !newStatus.Valid() {
		return &domain.ValidationError{Field: "status", Reason: "unknown value " + string(newStatus)}
	}
	task, err := c.requireTask(id)
	if err != nil {
		return err
	}
	order := domain.NextOrder(newStatus, c.Tasks())
	entry := domain.NewHistoryEntry(c.now(), domain.ActionMoved, "from "+string(task.Status)+" to "+string(newStatus))
	status := string(newStatus)
	patch := store.Patch{
		Status:  &status,
		Order:   &order,
		History: store.EncodeHistory(domain.AppendHistory(task.History, entry)),
	}
	if err := c.store.Update(ctx, c.owner.ID, id, patch); err != nil {
		return &domain.SyncError{Op: "move", Err: err}
	}
	return nil
}

func encodeUpdate(upd domain.Update) store.Patch {
	patch := store.Patch{
		Title:       upd.Title,
		Description: upd.Description,
		DueDate:     store.EncodeDueDate(upd.DueDate),
		Order:       upd.Order,
	}
	if upd.Category != nil {
		s := string(*upd.Category)
		patch.Category = &s
	}
	if upd.Priority != nil {
		s := string(*upd.Priority)
		patch.Priority = &s
	}
	if upd.Status != nil {
		s := string(*upd.Status)
		patch.Status = &s
	}
	if upd.Tags != nil {
		patch.Tags = store.EncodeTags(upd.Tags)
	}
	if upd.Attachments != nil {
		patch.Attachments = store.EncodeAttachments(upd.Attachments)
	}
	return patch
}
