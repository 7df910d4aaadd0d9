package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a process-local document store with the same contract as
// the remote backends. It backs tests and the dev profile.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]map[string]Document // ownerID -> id -> document
	subs    map[string]map[*memorySub]struct{}
	failErr error
}

type memorySub struct {
	ch   chan []Document
	errs chan error
	once sync.Once
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: map[string]map[string]Document{},
		subs: map[string]map[*memorySub]struct{}{},
	}
}

// FailNextWrite makes the next write operation fail with err without
// touching any state. Used to exercise partial-failure handling.
func (m *MemoryStore) FailNextWrite(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

func (m *MemoryStore) takeFailure() error {
	err := m.failErr
	m.failErr = nil
	return err
}

func (m *MemoryStore) Query(ctx context.Context, ownerID string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(ownerID), nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, ownerID string) (*Subscription, error) {
	sub := &memorySub{
		ch:   make(chan []Document, 1),
		errs: make(chan error, 1),
	}

	m.mu.Lock()
	if m.subs[ownerID] == nil {
		m.subs[ownerID] = map[*memorySub]struct{}{}
	}
	m.subs[ownerID][sub] = struct{}{}
	sub.ch <- m.snapshotLocked(ownerID)
	m.mu.Unlock()

	s := &Subscription{C: sub.ch, Err: sub.errs}
	s.close = func() {
		m.mu.Lock()
		delete(m.subs[ownerID], sub)
		m.mu.Unlock()
		sub.once.Do(func() {
			close(sub.ch)
			close(sub.errs)
		})
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s, nil
}

func (m *MemoryStore) Insert(ctx context.Context, doc Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return "", err
	}

	doc.ID = uuid.NewString()
	stamp := nextStamp()
	doc.CreatedAt = stamp
	doc.UpdatedAt = stamp
	if m.docs[doc.OwnerID] == nil {
		m.docs[doc.OwnerID] = map[string]Document{}
	}
	m.docs[doc.OwnerID][doc.ID] = copyDocument(doc)
	m.notifyLocked(doc.OwnerID)
	return doc.ID, nil
}

func (m *MemoryStore) Update(ctx context.Context, ownerID, id string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if err := m.applyPatchLocked(ownerID, id, patch); err != nil {
		return err
	}
	m.notifyLocked(ownerID)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, ok := m.docs[ownerID][id]; !ok {
		return ErrNoSuchDocument
	}
	delete(m.docs[ownerID], id)
	m.notifyLocked(ownerID)
	return nil
}

type memoryOp struct {
	delete bool
	id     string
	patch  Patch
}

type memoryBatch struct {
	store   *MemoryStore
	ownerID string
	ops     []memoryOp
}

func (m *MemoryStore) Batch(ownerID string) Batch {
	return &memoryBatch{store: m, ownerID: ownerID}
}

func (b *memoryBatch) Update(id string, patch Patch) {
	b.ops = append(b.ops, memoryOp{id: id, patch: patch})
}

func (b *memoryBatch) Delete(id string) {
	b.ops = append(b.ops, memoryOp{delete: true, id: id})
}

// Commit applies every accumulated write under one lock hold. Validation
// runs first so a failing op can never leave the batch half applied.
func (b *memoryBatch) Commit(ctx context.Context) error {
	m := b.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	for _, op := range b.ops {
		if _, ok := m.docs[b.ownerID][op.id]; !ok {
			return ErrNoSuchDocument
		}
	}
	for _, op := range b.ops {
		if op.delete {
			delete(m.docs[b.ownerID], op.id)
			continue
		}
		if err := m.applyPatchLocked(b.ownerID, op.id, op.patch); err != nil {
			return err
		}
	}
	m.notifyLocked(b.ownerID)
	return nil
}

func (m *MemoryStore) applyPatchLocked(ownerID, id string, patch Patch) error {
	doc, ok := m.docs[ownerID][id]
	if !ok {
		return ErrNoSuchDocument
	}
	if patch.Title != nil {
		doc.Title = *patch.Title
	}
	if patch.Description != nil {
		doc.Description = *patch.Description
	}
	if patch.Category != nil {
		doc.Category = *patch.Category
	}
	if patch.Priority != nil {
		doc.Priority = *patch.Priority
	}
	if patch.Status != nil {
		doc.Status = *patch.Status
	}
	if patch.DueDate != nil {
		due := *patch.DueDate
		doc.DueDate = &due
	}
	if patch.Order != nil {
		doc.Order = *patch.Order
	}
	if patch.Tags != nil {
		doc.Tags = append([]TagRecord(nil), patch.Tags...)
	}
	if patch.Attachments != nil {
		doc.Attachments = append([]AttachmentRecord(nil), patch.Attachments...)
	}
	if patch.History != nil {
		doc.History = append([]HistoryRecord(nil), patch.History...)
	}
	doc.UpdatedAt = nextStamp()
	m.docs[ownerID][id] = doc
	return nil
}

func (m *MemoryStore) snapshotLocked(ownerID string) []Document {
	snap := make([]Document, 0, len(m.docs[ownerID]))
	for _, doc := range m.docs[ownerID] {
		snap = append(snap, copyDocument(doc))
	}
	return snap
}

// notifyLocked fans the fresh result set out to every subscriber of the
// owner. Sends coalesce: a slow consumer only ever sees the latest set.
func (m *MemoryStore) notifyLocked(ownerID string) {
	if len(m.subs[ownerID]) == 0 {
		return
	}
	snap := m.snapshotLocked(ownerID)
	for sub := range m.subs[ownerID] {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

func copyDocument(doc Document) Document {
	out := doc
	if doc.DueDate != nil {
		due := *doc.DueDate
		out.DueDate = &due
	}
	out.Tags = append([]TagRecord(nil), doc.Tags...)
	out.History = append([]HistoryRecord(nil), doc.History...)
	out.Attachments = append([]AttachmentRecord(nil), doc.Attachments...)
	return out
}
