// Package repository declares the persistence boundary used by the credential
// service and the task gate. Implementations live in subpackages.
package repository

import (
	"context"
	"errors"
	"fmt"

	"taskhub/internal/model"
)

var ErrNotFound = errors.New("not found")

// DuplicateError reports a uniqueness violation detected by the store itself.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s", e.Field)
}

const (
	FieldEmail    = "email"
	FieldUsername = "username"
)

type AccountStore interface {
	// FindAccountByEmailOrUsername returns an account whose email or username
	// matches. An email match is preferred when both exist.
	FindAccountByEmailOrUsername(ctx context.Context, email, username string) (model.Account, error)
	GetAccountByID(ctx context.Context, id string) (model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (model.Account, error)
	// CreateAccount assigns the id and returns *DuplicateError when the email
	// or username is already taken.
	CreateAccount(ctx context.Context, account model.Account) (model.Account, error)
}

type TaskStore interface {
	GetTaskByID(ctx context.Context, id string) (model.Task, error)
	// ListTasksForAccount returns tasks created by or assigned to accountID,
	// newest first. page is 1-based.
	ListTasksForAccount(ctx context.Context, accountID string, page, limit int) ([]model.Task, int64, error)
	InsertTask(ctx context.Context, task model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

type Store interface {
	AccountStore
	TaskStore
	Ping(ctx context.Context) error
	Close() error
}

// Offset converts a 1-based page into a row offset.
func Offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}
