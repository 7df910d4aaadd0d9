package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	edmInt64 = "Edm.Int64"
)

// TableStore persists task documents in an Azure table, one partition per
// owner. Keeping each owner inside a single partition is what makes the
// batch contract transaction-legal. Committed changes are announced on a
// redis channel so subscriptions can re-read the owner's result set.
type TableStore struct {
	table   *aztables.Client
	redis   *redis.Client
	channel string
	logger  *log.Logger
}

// NewTableStore builds a TableStore from the given connection string.
func NewTableStore(connStr, table string, rc *redis.Client, channel string, logger *log.Logger) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableStore{table: svc.NewClient(table), redis: rc, channel: channel, logger: logger}, nil
}

type taskEntity struct {
	aztables.Entity
	Title          string `json:"Title"`
	Description    string `json:"Description,omitempty"`
	Category       string `json:"Category"`
	Priority       string `json:"Priority"`
	Status         string `json:"Status"`
	DueDate        *int64 `json:"DueDate,omitempty,string"`
	DueDateType    string `json:"DueDate@odata.type,omitempty"`
	CreatedAt      int64  `json:"CreatedAt,string"`
	CreatedAtType  string `json:"CreatedAt@odata.type"`
	UpdatedAt      int64  `json:"UpdatedAt,string"`
	UpdatedAtType  string `json:"UpdatedAt@odata.type"`
	Order          int    `json:"Order"`
	TasksTags      string `json:"Tags,omitempty"`
	TaskHistory    string `json:"History,omitempty"`
	TaskAttachment string `json:"Attachments,omitempty"`
}

type taskEntityUpdate struct {
	aztables.Entity
	Title          *string `json:"Title,omitempty"`
	Description    *string `json:"Description,omitempty"`
	Category       *string `json:"Category,omitempty"`
	Priority       *string `json:"Priority,omitempty"`
	Status         *string `json:"Status,omitempty"`
	DueDate        *int64  `json:"DueDate,omitempty,string"`
	DueDateType    *string `json:"DueDate@odata.type,omitempty"`
	UpdatedAt      *int64  `json:"UpdatedAt,omitempty,string"`
	UpdatedAtType  *string `json:"UpdatedAt@odata.type,omitempty"`
	Order          *int    `json:"Order,omitempty"`
	TasksTags      *string `json:"Tags,omitempty"`
	TaskHistory    *string `json:"History,omitempty"`
	TaskAttachment *string `json:"Attachments,omitempty"`
}

type changeEvent struct {
	OwnerID string `json:"ownerId"`
}

func (t *TableStore) Query(ctx context.Context, ownerID string) ([]Document, error) {
	filter := "PartitionKey eq '" + ownerID + "'"
	pager := t.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	docs := []Document{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			doc, err := entityToDocument(ent)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (t *TableStore) Subscribe(ctx context.Context, ownerID string) (*Subscription, error) {
	initial, err := t.Query(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	ch := make(chan []Document, 1)
	errs := make(chan error, 1)
	ch <- initial

	subCtx, cancel := context.WithCancel(ctx)
	go t.watch(subCtx, ownerID, ch, errs)

	s := &Subscription{C: ch, Err: errs}
	s.close = cancel
	return s, nil
}

// watch re-reads the owner's result set on every announced change. The
// pubsub connection is re-established after failures like the stream
// service does.
func (t *TableStore) watch(ctx context.Context, ownerID string, ch chan []Document, errs chan error) {
	for {
		sub := t.redis.Subscribe(ctx, t.channel)
		msgs := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-msgs:
				if !ok {
					break recv
				}
				var ev changeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					t.logger.Errorf("unable to parse change event: %v", err)
					continue
				}
				if ev.OwnerID != ownerID {
					continue
				}
				docs, err := t.Query(ctx, ownerID)
				if err != nil {
					t.logger.Errorf("re-read after change: %v", err)
					select {
					case errs <- err:
					default:
					}
					continue
				}
				select {
				case ch <- docs:
				default:
					select {
					case <-ch:
					default:
					}
					select {
					case ch <- docs:
					default:
					}
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		t.logger.Error("change feed closed, reconnecting")
		time.Sleep(time.Second)
	}
}

func (t *TableStore) Insert(ctx context.Context, doc Document) (string, error) {
	doc.ID = uuid.NewString()
	stamp := nextStamp()
	doc.CreatedAt = stamp
	doc.UpdatedAt = stamp
	ent, err := documentToEntity(doc)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return "", err
	}
	if _, err := t.table.AddEntity(ctx, payload, nil); err != nil {
		return "", err
	}
	t.announce(ctx, doc.OwnerID)
	return doc.ID, nil
}

func (t *TableStore) Update(ctx context.Context, ownerID, id string, patch Patch) error {
	payload, err := patchPayload(ownerID, id, patch)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = t.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		return mapTableError(err)
	}
	t.announce(ctx, ownerID)
	return nil
}

func (t *TableStore) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := t.table.DeleteEntity(ctx, ownerID, id, nil); err != nil {
		return mapTableError(err)
	}
	t.announce(ctx, ownerID)
	return nil
}

type tableBatch struct {
	store   *TableStore
	ownerID string
	actions []aztables.TransactionAction
	err     error
}

func (t *TableStore) Batch(ownerID string) Batch {
	return &tableBatch{store: t, ownerID: ownerID}
}

func (b *tableBatch) Update(id string, patch Patch) {
	payload, err := patchPayload(b.ownerID, id, patch)
	if err != nil {
		b.err = err
		return
	}
	b.actions = append(b.actions, aztables.TransactionAction{
		ActionType: aztables.TransactionTypeUpdateMerge,
		Entity:     payload,
	})
}

func (b *tableBatch) Delete(id string) {
	payload, err := json.Marshal(aztables.Entity{PartitionKey: b.ownerID, RowKey: id})
	if err != nil {
		b.err = err
		return
	}
	b.actions = append(b.actions, aztables.TransactionAction{
		ActionType: aztables.TransactionTypeDelete,
		Entity:     payload,
	})
}

// Commit submits all accumulated actions as one table transaction. They
// share the owner's partition, so the service applies all or none.
func (b *tableBatch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.actions) == 0 {
		return nil
	}
	if _, err := b.store.table.SubmitTransaction(ctx, b.actions, nil); err != nil {
		return mapTableError(err)
	}
	b.store.announce(ctx, b.ownerID)
	return nil
}

func (t *TableStore) announce(ctx context.Context, ownerID string) {
	if t.redis == nil {
		return
	}
	payload, err := json.Marshal(changeEvent{OwnerID: ownerID})
	if err != nil {
		return
	}
	if err := t.redis.Publish(ctx, t.channel, payload).Err(); err != nil {
		t.logger.Errorf("announce change: %v", err)
	}
}

func mapTableError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return ErrNoSuchDocument
	}
	return err
}

func documentToEntity(doc Document) (taskEntity, error) {
	ent := taskEntity{
		Entity:        aztables.Entity{PartitionKey: doc.OwnerID, RowKey: doc.ID},
		Title:         doc.Title,
		Description:   doc.Description,
		Category:      doc.Category,
		Priority:      doc.Priority,
		Status:        doc.Status,
		CreatedAt:     doc.CreatedAt,
		CreatedAtType: edmInt64,
		UpdatedAt:     doc.UpdatedAt,
		UpdatedAtType: edmInt64,
		Order:         doc.Order,
	}
	if doc.DueDate != nil {
		due := *doc.DueDate
		ent.DueDate = &due
		ent.DueDateType = edmInt64
	}
	var err error
	if ent.TasksTags, err = marshalOrEmpty(doc.Tags, len(doc.Tags) == 0); err != nil {
		return taskEntity{}, err
	}
	if ent.TaskHistory, err = marshalOrEmpty(doc.History, len(doc.History) == 0); err != nil {
		return taskEntity{}, err
	}
	if ent.TaskAttachment, err = marshalOrEmpty(doc.Attachments, len(doc.Attachments) == 0); err != nil {
		return taskEntity{}, err
	}
	return ent, nil
}

func marshalOrEmpty(v any, empty bool) (string, error) {
	if empty {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func entityToDocument(ent taskEntity) (Document, error) {
	doc := Document{
		ID:          ent.RowKey,
		OwnerID:     ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Category:    ent.Category,
		Priority:    ent.Priority,
		Status:      ent.Status,
		CreatedAt:   ent.CreatedAt,
		UpdatedAt:   ent.UpdatedAt,
		Order:       ent.Order,
	}
	if ent.DueDate != nil {
		due := *ent.DueDate
		doc.DueDate = &due
	}
	if ent.TasksTags != "" {
		if err := json.Unmarshal([]byte(ent.TasksTags), &doc.Tags); err != nil {
			return Document{}, err
		}
	}
	if ent.TaskHistory != "" {
		if err := json.Unmarshal([]byte(ent.TaskHistory), &doc.History); err != nil {
			return Document{}, err
		}
	}
	if ent.TaskAttachment != "" {
		if err := json.Unmarshal([]byte(ent.TaskAttachment), &doc.Attachments); err != nil {
			return Document{}, err
		}
	}
	return doc, nil
}

func patchPayload(ownerID, id string, patch Patch) ([]byte, error) {
	upd := taskEntityUpdate{
		Entity:      aztables.Entity{PartitionKey: ownerID, RowKey: id},
		Title:       patch.Title,
		Description: patch.Description,
		Category:    patch.Category,
		Priority:    patch.Priority,
		Status:      patch.Status,
		Order:       patch.Order,
	}
	if patch.DueDate != nil {
		due := *patch.DueDate
		typ := edmInt64
		upd.DueDate = &due
		upd.DueDateType = &typ
	}
	stamp := nextStamp()
	typ := edmInt64
	upd.UpdatedAt = &stamp
	upd.UpdatedAtType = &typ
	if patch.Tags != nil {
		data, err := json.Marshal(patch.Tags)
		if err != nil {
			return nil, err
		}
		s := string(data)
		upd.TasksTags = &s
	}
	if patch.Attachments != nil {
		data, err := json.Marshal(patch.Attachments)
		if err != nil {
			return nil, err
		}
		s := string(data)
		upd.TaskAttachment = &s
	}
	if patch.History != nil {
		data, err := json.Marshal(patch.History)
		if err != nil {
			return nil, err
		}
		s := string(data)
		upd.TaskHistory = &s
	}
	return json.Marshal(upd)
}
