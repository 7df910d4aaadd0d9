package store

import (
	"fmt"
	"time"

	"boardsync/domain"
)

// DecodeTask converts a raw document into a fully typed task. Absent server
// timestamps fall back to the decode instant, so the ambiguity never leaks
// past the store boundary. Enum values are checked here because snapshot
// payloads are a trust boundary too.
func DecodeTask(doc Document) (domain.Task, error) {
	category := domain.Category(doc.Category)
	if !category.Valid() {
		return domain.Task{}, fmt.Errorf("document %s: bad category %q", doc.ID, doc.Category)
	}
	priority := domain.Priority(doc.Priority)
	if !priority.Valid() {
		return domain.Task{}, fmt.Errorf("document %s: bad priority %q", doc.ID, doc.Priority)
	}
	status := domain.Status(doc.Status)
	if !status.Valid() {
		return domain.Task{}, fmt.Errorf("document %s: bad status %q", doc.ID, doc.Status)
	}

	now := time.Now()
	task := domain.Task{
		ID:          doc.ID,
		OwnerID:     doc.OwnerID,
		Title:       doc.Title,
		Description: doc.Description,
		Category:    category,
		Priority:    priority,
		Status:      status,
		CreatedAt:   stampOr(doc.CreatedAt, now),
		UpdatedAt:   stampOr(doc.UpdatedAt, now),
		Tags:        decodeTags(doc.Tags),
		History:     decodeHistory(doc.History, now),
		Attachments: decodeAttachments(doc.Attachments, now),
		Order:       doc.Order,
	}
	if doc.DueDate != nil {
		due := time.UnixMilli(*doc.DueDate)
		task.DueDate = &due
	}
	return task, nil
}

func stampOr(millis int64, fallback time.Time) time.Time {
	if millis == 0 {
		return fallback
	}
	return time.UnixMilli(millis)
}

func decodeTags(recs []TagRecord) []domain.Tag {
	tags := make([]domain.Tag, 0, len(recs))
	for _, r := range recs {
		tags = append(tags, domain.Tag{ID: r.ID, Name: r.Name, Color: r.Color})
	}
	return tags
}

func decodeHistory(recs []HistoryRecord, fallback time.Time) []domain.HistoryEntry {
	history := make([]domain.HistoryEntry, 0, len(recs))
	for _, r := range recs {
		history = append(history, domain.HistoryEntry{
			ID:        r.ID,
			Timestamp: stampOr(r.Timestamp, fallback),
			Action:    domain.HistoryAction(r.Action),
			Details:   r.Details,
		})
	}
	return history
}

func decodeAttachments(recs []AttachmentRecord, fallback time.Time) []domain.Attachment {
	attachments := make([]domain.Attachment, 0, len(recs))
	for _, r := range recs {
		attachments = append(attachments, domain.Attachment{
			ID:         r.ID,
			Name:       r.Name,
			URL:        r.URL,
			Type:       r.Type,
			UploadedAt: stampOr(r.UploadedAt, fallback),
		})
	}
	return attachments
}

// EncodeTags converts domain tags to their wire shape.
func EncodeTags(tags []domain.Tag) []TagRecord {
	recs := make([]TagRecord, 0, len(tags))
	for _, t := range tags {
		recs = append(recs, TagRecord{ID: t.ID, Name: t.Name, Color: t.Color})
	}
	return recs
}

// EncodeHistory converts domain history entries to their wire shape.
func EncodeHistory(history []domain.HistoryEntry) []HistoryRecord {
	recs := make([]HistoryRecord, 0, len(history))
	for _, h := range history {
		recs = append(recs, HistoryRecord{
			ID:        h.ID,
			Timestamp: h.Timestamp.UnixMilli(),
			Action:    string(h.Action),
			Details:   h.Details,
		})
	}
	return recs
}

// EncodeAttachments converts domain attachments to their wire shape.
func EncodeAttachments(attachments []domain.Attachment) []AttachmentRecord {
	recs := make([]AttachmentRecord, 0, len(attachments))
	for _, a := range attachments {
		recs = append(recs, AttachmentRecord{
			ID:         a.ID,
			Name:       a.Name,
			URL:        a.URL,
			Type:       a.Type,
			UploadedAt: a.UploadedAt.UnixMilli(),
		})
	}
	return recs
}

// EncodeDueDate converts an optional due date to unix milliseconds.
func EncodeDueDate(due *time.Time) *int64 {
	if due == nil {
		return nil
	}
	millis := due.UnixMilli()
	return &millis
}
