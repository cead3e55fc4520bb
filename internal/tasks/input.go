package tasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"taskhub/internal/apperr"
	"taskhub/internal/model"
)

const dateOnly = "2006-01-02"

// RefID is an account reference sent by the client. It decodes a bare id
// string or an object carrying "_id" or "id", as the browser client echoes
// populated references back on edit.
type RefID string

func (r *RefID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = RefID(strings.TrimSpace(id))
		return nil
	}

	var ref struct {
		MongoID string `json:"_id"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return errors.New("account reference must be an id or an object with an id")
	}
	id := ref.MongoID
	if id == "" {
		id = ref.ID
	}
	*r = RefID(strings.TrimSpace(id))
	return nil
}

// Input is the client payload for create and update. Nil fields were not
// sent. CreatedBy is accepted so clients can echo a task back, and is
// always ignored.
type Input struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"dueDate"`
	Priority    *string `json:"priority"`
	Status      *string `json:"status"`
	AssignedTo  *RefID  `json:"assignedTo"`
	CreatedBy   *RefID  `json:"createdBy"`
}

func (in Input) assignee() string {
	if in.AssignedTo == nil {
		return ""
	}
	return string(*in.AssignedTo)
}

// provided reports whether an optional enum field carries a value. Blank
// means "not sent" on both create and update.
func provided(value *string) bool {
	return value != nil && strings.TrimSpace(*value) != ""
}

func parseDueDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperr.Validation("dueDate", "missing_due_date", "due date is required")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(dateOnly, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, apperr.Validation("dueDate", "invalid_due_date", "due date must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
}

func parsePriority(value string) (model.Priority, error) {
	priority := model.Priority(strings.ToLower(strings.TrimSpace(value)))
	if !priority.Valid() {
		return "", apperr.Validation("priority", "invalid_priority", "priority must be one of low, medium, high")
	}
	return priority, nil
}

func parseStatus(value string) (model.Status, error) {
	status := model.Status(strings.ToLower(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", apperr.Validation("status", "invalid_status", "status must be one of pending, in-progress, completed")
	}
	return status, nil
}

// toTask validates a create payload. Missing optional fields get their
// defaults; the assignee falls back to requester.
func (in Input) toTask(requester string) (model.Task, error) {
	task := model.Task{
		Priority:   model.PriorityMedium,
		Status:     model.StatusPending,
		AssignedTo: requester,
	}

	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return model.Task{}, apperr.Validation("title", "missing_title", "title is required")
	}
	task.Title = strings.TrimSpace(*in.Title)

	if in.Description != nil {
		task.Description = strings.TrimSpace(*in.Description)
	}

	if in.DueDate == nil {
		return model.Task{}, apperr.Validation("dueDate", "missing_due_date", "due date is required")
	}
	dueDate, err := parseDueDate(*in.DueDate)
	if err != nil {
		return model.Task{}, err
	}
	task.DueDate = dueDate

	if provided(in.Priority) {
		if task.Priority, err = parsePriority(*in.Priority); err != nil {
			return model.Task{}, err
		}
	}
	if provided(in.Status) {
		if task.Status, err = parseStatus(*in.Status); err != nil {
			return model.Task{}, err
		}
	}
	if assignee := in.assignee(); assignee != "" {
		task.AssignedTo = assignee
	}
	return task, nil
}

// toPatch validates the fields present in an update payload.
func (in Input) toPatch() (model.TaskPatch, error) {
	var patch model.TaskPatch

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return model.TaskPatch{}, apperr.Validation("title", "missing_title", "title cannot be empty")
		}
		patch.Title = &title
	}
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		patch.Description = &description
	}
	if in.DueDate != nil {
		dueDate, err := parseDueDate(*in.DueDate)
		if err != nil {
			return model.TaskPatch{}, err
		}
		patch.DueDate = &dueDate
	}
	if provided(in.Priority) {
		priority, err := parsePriority(*in.Priority)
		if err != nil {
			return model.TaskPatch{}, err
		}
		patch.Priority = &priority
	}
	if provided(in.Status) {
		status, err := parseStatus(*in.Status)
		if err != nil {
			return model.TaskPatch{}, err
		}
		patch.Status = &status
	}
	if assignee := in.assignee(); assignee != "" {
		patch.AssignedTo = &assignee
	}
	return patch, nil
}
