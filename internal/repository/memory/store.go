// Package memory is a process-local store used by tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskhub/internal/model"
	"taskhub/internal/repository"
)

type Store struct {
	mu       sync.RWMutex
	accounts map[string]model.Account
	tasks    map[string]model.Task
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[string]model.Account),
		tasks:    make(map[string]model.Task),
		now:      time.Now,
	}
}

func (s *Store) FindAccountByEmailOrUsername(_ context.Context, email, username string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var byUsername *model.Account
	for _, account := range s.accounts {
		if strings.EqualFold(account.Email, email) {
			return account, nil
		}
		if byUsername == nil && account.Username == username {
			match := account
			byUsername = &match
		}
	}
	if byUsername != nil {
		return *byUsername, nil
	}
	return model.Account{}, repository.ErrNotFound
}

func (s *Store) GetAccountByID(_ context.Context, id string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return model.Account{}, repository.ErrNotFound
	}
	return account, nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if strings.EqualFold(account.Email, email) {
			return account, nil
		}
	}
	return model.Account{}, repository.ErrNotFound
}

func (s *Store) CreateAccount(_ context.Context, account model.Account) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Email, account.Email) {
			return model.Account{}, &repository.DuplicateError{Field: repository.FieldEmail}
		}
		if existing.Username == account.Username {
			return model.Account{}, &repository.DuplicateError{Field: repository.FieldUsername}
		}
	}

	now := s.now().UTC()
	account.ID = uuid.NewString()
	account.CreatedAt = now
	account.UpdatedAt = now
	s.accounts[account.ID] = account
	return account, nil
}

// DeleteAccount exists for tests that exercise stale tokens; the API has no
// delete path.
func (s *Store) DeleteAccount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
}

func (s *Store) GetTaskByID(_ context.Context, id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return model.Task{}, repository.ErrNotFound
	}
	return task, nil
}

func (s *Store) ListTasksForAccount(_ context.Context, accountID string, page, limit int) ([]model.Task, int64, error) {
	s.mu.RLock()
	visible := make([]model.Task, 0)
	for _, task := range s.tasks {
		if task.AssignedTo == accountID || task.CreatedBy == accountID {
			visible = append(visible, task)
		}
	}
	s.mu.RUnlock()

	sort.Slice(visible, func(i, j int) bool {
		if visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].ID > visible[j].ID
		}
		return visible[i].CreatedAt.After(visible[j].CreatedAt)
	})

	total := int64(len(visible))
	offset := repository.Offset(page, limit)
	if offset >= len(visible) {
		return []model.Task{}, total, nil
	}
	end := offset + limit
	if end > len(visible) {
		end = len(visible)
	}
	return visible[offset:end], total, nil
}

func (s *Store) InsertTask(_ context.Context, task model.Task) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	task.ID = uuid.NewString()
	task.CreatedAt = now
	task.UpdatedAt = now
	s.tasks[task.ID] = task
	return task, nil
}

func (s *Store) UpdateTask(_ context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return model.Task{}, repository.ErrNotFound
	}
	patch.Apply(&task)
	task.UpdatedAt = s.now().UTC()
	s.tasks[id] = task
	return task, nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
