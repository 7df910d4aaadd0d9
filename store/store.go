package store

import (
	"context"
	"errors"
)

// ErrNoSuchDocument is returned when a write references a document that is
// not in the store.
var ErrNoSuchDocument = errors.New("no such document")

// TagRecord is the wire shape of a task tag.
type TagRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// HistoryRecord is the wire shape of one history entry. Timestamps are unix
// milliseconds.
type HistoryRecord struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Action    string `json:"action"`
	Details   string `json:"details,omitempty"`
}

// AttachmentRecord is the wire shape of attachment metadata.
type AttachmentRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	Type       string `json:"type"`
	UploadedAt int64  `json:"uploadedAt"`
}

// Document is the raw task record as the store holds it. Timestamp fields
// are unix milliseconds; zero means the server has not assigned them yet.
type Document struct {
	ID          string             `json:"id"`
	OwnerID     string             `json:"ownerId"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Category    string             `json:"category"`
	Priority    string             `json:"priority"`
	Status      string             `json:"status"`
	DueDate     *int64             `json:"dueDate,omitempty"`
	CreatedAt   int64              `json:"createdAt,omitempty"`
	UpdatedAt   int64              `json:"updatedAt,omitempty"`
	Tags        []TagRecord        `json:"tags,omitempty"`
	History     []HistoryRecord    `json:"history,omitempty"`
	Attachments []AttachmentRecord `json:"attachments,omitempty"`
	Order       int                `json:"order"`
}

// Patch carries a partial document merge. Nil fields stay untouched; the
// server reassigns updatedAt on every applied patch. History, when set,
// replaces the whole sequence with the caller's appended copy.
type Patch struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	Category    *string            `json:"category,omitempty"`
	Priority    *string            `json:"priority,omitempty"`
	Status      *string            `json:"status,omitempty"`
	DueDate     *int64             `json:"dueDate,omitempty"`
	Order       *int               `json:"order,omitempty"`
	Tags        []TagRecord        `json:"tags,omitempty"`
	Attachments []AttachmentRecord `json:"attachments,omitempty"`
	History     []HistoryRecord    `json:"history,omitempty"`
}

// Subscription delivers full owner-scoped result sets on every committed
// change. C never carries deltas. Err surfaces stream failures; the stream
// keeps running afterwards when it can.
type Subscription struct {
	C   <-chan []Document
	Err <-chan error

	close func()
}

// Close tears the subscription down and releases its channels.
func (s *Subscription) Close() {
	if s.close != nil {
		s.close()
	}
}

// Batch accumulates writes that commit as one atomic unit.
type Batch interface {
	Update(id string, patch Patch)
	Delete(id string)
	// Commit applies every accumulated write or none of them.
	Commit(ctx context.Context) error
}

// Store is the remote document store capability the engine consumes.
// Every call is scoped to a single owner.
type Store interface {
	Query(ctx context.Context, ownerID string) ([]Document, error)
	Subscribe(ctx context.Context, ownerID string) (*Subscription, error)
	// Insert assigns the document id and the createdAt/updatedAt stamps.
	Insert(ctx context.Context, doc Document) (string, error)
	Update(ctx context.Context, ownerID, id string, patch Patch) error
	Delete(ctx context.Context, ownerID, id string) error
	Batch(ownerID string) Batch
}
