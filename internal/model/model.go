package model

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string `json:"-"`
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public returns the redacted view handed to clients.
func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:       a.ID,
		Username: a.Username,
		Email:    a.Email,
		Role:     a.Role,
	}
}

// Ref returns the reference embedded in task views.
func (a Account) Ref() *AccountRef {
	return &AccountRef{ID: a.ID, Username: a.Username, Email: a.Email}
}

type PublicAccount struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

type AccountRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Account and task views also carry their id as "_id" for clients written
// against the document-store response shape.

func (a PublicAccount) MarshalJSON() ([]byte, error) {
	type plain PublicAccount
	return json.Marshal(struct {
		plain
		LegacyID string `json:"_id"`
	}{plain(a), a.ID})
}

func (r AccountRef) MarshalJSON() ([]byte, error) {
	type plain AccountRef
	return json.Marshal(struct {
		plain
		LegacyID string `json:"_id"`
	}{plain(r), r.ID})
}

// Identity is what a verified session token asserts. Role is the snapshot
// taken at issuance.
type Identity struct {
	AccountID string
	Role      Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type Task struct {
	ID          string
	Title       string
	Description string
	DueDate     time.Time
	Priority    Priority
	Status      Status
	AssignedTo  string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskPatch carries the fields of an update; nil means unchanged. CreatedBy
// is immutable and has no patch field.
type TaskPatch struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	Priority    *Priority
	Status      *Status
	AssignedTo  *string
}

func (p TaskPatch) Apply(task *Task) {
	if p.Title != nil {
		task.Title = *p.Title
	}
	if p.Description != nil {
		task.Description = *p.Description
	}
	if p.DueDate != nil {
		task.DueDate = *p.DueDate
	}
	if p.Priority != nil {
		task.Priority = *p.Priority
	}
	if p.Status != nil {
		task.Status = *p.Status
	}
	if p.AssignedTo != nil {
		task.AssignedTo = *p.AssignedTo
	}
}

type TaskView struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	DueDate     time.Time   `json:"dueDate"`
	Priority    Priority    `json:"priority"`
	Status      Status      `json:"status"`
	AssignedTo  *AccountRef `json:"assignedTo"`
	CreatedBy   *AccountRef `json:"createdBy"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (v TaskView) MarshalJSON() ([]byte, error) {
	type plain TaskView
	return json.Marshal(struct {
		plain
		LegacyID string `json:"_id"`
	}{plain(v), v.ID})
}

type TaskPage struct {
	Tasks       []TaskView `json:"tasks"`
	CurrentPage int        `json:"currentPage"`
	TotalPages  int        `json:"totalPages"`
	Total       int64      `json:"total"`
}
