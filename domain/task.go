package domain

import "time"

// Category classifies a task into a fixed set of areas.
type Category string

const (
	CategoryWork      Category = "work"
	CategoryPersonal  Category = "personal"
	CategoryEducation Category = "education"
	CategoryHealth    Category = "health"
	CategoryFinance   Category = "finance"
	CategoryOther     Category = "other"
)

// Priority expresses how urgent a task is.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Status is the lane a task renders in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryWork, CategoryPersonal, CategoryEducation, CategoryHealth, CategoryFinance, CategoryOther:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Tag labels a task. Tags are unique by ID within a task.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Attachment is file metadata attached to a task. Content lives elsewhere.
type Attachment struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Type       string    `json:"type"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Task is a single board item owned by one user.
type Task struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"ownerId"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Category    Category       `json:"category"`
	Priority    Priority       `json:"priority"`
	Status      Status         `json:"status"`
	DueDate     *time.Time     `json:"dueDate,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Tags        []Tag          `json:"tags"`
	History     []HistoryEntry `json:"history"`
	Attachments []Attachment   `json:"attachments"`
	Order       int            `json:"order"`
}

// Draft carries the caller-supplied fields for a new task.
type Draft struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Category    Category     `json:"category"`
	Priority    Priority     `json:"priority"`
	Status      Status       `json:"status"`
	DueDate     *time.Time   `json:"dueDate,omitempty"`
	Tags        []Tag        `json:"tags,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Validate rejects drafts that must never reach the store.
func (d Draft) Validate() error {
	if d.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !d.Category.Valid() {
		return &ValidationError{Field: "category", Reason: "unknown value " + string(d.Category)}
	}
	if !d.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown value " + string(d.Priority)}
	}
	if !d.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown value " + string(d.Status)}
	}
	if d.DueDate != nil && d.DueDate.IsZero() {
		return &ValidationError{Field: "dueDate", Reason: "must be a valid instant"}
	}
	return nil
}

// Update carries a partial task mutation. Nil fields stay untouched.
type Update struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Category    *Category    `json:"category,omitempty"`
	Priority    *Priority    `json:"priority,omitempty"`
	Status      *Status      `json:"status,omitempty"`
	DueDate     *time.Time   `json:"dueDate,omitempty"`
	Tags        []Tag        `json:"tags,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Order       *int         `json:"order,omitempty"`
}

// Validate rejects partial updates carrying invalid values.
func (u Update) Validate() error {
	if u.Title != nil && *u.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if u.Category != nil && !u.Category.Valid() {
		return &ValidationError{Field: "category", Reason: "unknown value " + string(*u.Category)}
	}
	if u.Priority != nil && !u.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown value " + string(*u.Priority)}
	}
	if u.Status != nil && !u.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown value " + string(*u.Status)}
	}
	if u.DueDate != nil && u.DueDate.IsZero() {
		return &ValidationError{Field: "dueDate", Reason: "must be a valid instant"}
	}
	return nil
}

// ChangedFields lists the fields an update touches, in declaration order.
// The names feed the "updated" history entry details.
func (u Update) ChangedFields() []string {
	fields := []string{}
	if u.Title != nil {
		fields = append(fields, "title")
	}
	if u.Description != nil {
		fields = append(fields, "description")
	}
	if u.Category != nil {
		fields = append(fields, "category")
	}
	if u.Priority != nil {
		fields = append(fields, "priority")
	}
	if u.Status != nil {
		fields = append(fields, "status")
	}
	if u.DueDate != nil {
		fields = append(fields, "dueDate")
	}
	if u.Tags != nil {
		fields = append(fields, "tags")
	}
	if u.Attachments != nil {
		fields = append(fields, "attachments")
	}
	if u.Order != nil {
		fields = append(fields, "order")
	}
	return fields
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return len(u.ChangedFields()) == 0
}

// User is the opaque identity supplied by the auth collaborator.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}
