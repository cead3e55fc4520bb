// Package redisstore keeps accounts and tasks as JSON values in Redis.
//
// Layout, all under the configured prefix:
//
//	account:<id>            account JSON
//	account:email:<email>   account id
//	account:username:<name> account id
//	task:<id>               task JSON
//	visible:<accountID>     zset of task ids the account created or is assigned, scored by creation time
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"taskhub/internal/model"
	"taskhub/internal/repository"
)

const DefaultPrefix = "taskhub:"

type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

const maxTxRetries = 3

func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

func (s *Store) accountKey(id string) string        { return s.prefix + "account:" + id }
func (s *Store) emailKey(email string) string       { return s.prefix + "account:email:" + email }
func (s *Store) usernameKey(username string) string { return s.prefix + "account:username:" + username }
func (s *Store) taskKey(id string) string           { return s.prefix + "task:" + id }
func (s *Store) visibleKey(accountID string) string { return s.prefix + "visible:" + accountID }

func (s *Store) getJSON(ctx context.Context, key string, out interface{}) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) accountByIndex(ctx context.Context, indexKey string) (model.Account, error) {
	id, err := s.client.Get(ctx, indexKey).Result()
	if err == redis.Nil {
		return model.Account{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Account{}, err
	}
	return s.GetAccountByID(ctx, id)
}

func (s *Store) FindAccountByEmailOrUsername(ctx context.Context, email, username string) (model.Account, error) {
	account, err := s.accountByIndex(ctx, s.emailKey(email))
	if !errors.Is(err, repository.ErrNotFound) {
		return account, err
	}
	return s.accountByIndex(ctx, s.usernameKey(username))
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (model.Account, error) {
	if id == "" {
		return model.Account{}, repository.ErrNotFound
	}
	var record accountRecord
	if err := s.getJSON(ctx, s.accountKey(id), &record); err != nil {
		return model.Account{}, err
	}
	return record.toModel(), nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	return s.accountByIndex(ctx, s.emailKey(email))
}

// CreateAccount claims the email and username index keys with SETNX before
// writing the record, releasing the email claim if the username is taken.
func (s *Store) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	now := s.now().UTC()
	account.ID = uuid.NewString()
	account.CreatedAt = now
	account.UpdatedAt = now

	claimed, err := s.client.SetNX(ctx, s.emailKey(account.Email), account.ID, 0).Result()
	if err != nil {
		return model.Account{}, fmt.Errorf("claim email: %w", err)
	}
	if !claimed {
		return model.Account{}, &repository.DuplicateError{Field: repository.FieldEmail}
	}

	claimed, err = s.client.SetNX(ctx, s.usernameKey(account.Username), account.ID, 0).Result()
	if err != nil || !claimed {
		s.client.Del(ctx, s.emailKey(account.Email))
		if err != nil {
			return model.Account{}, fmt.Errorf("claim username: %w", err)
		}
		return model.Account{}, &repository.DuplicateError{Field: repository.FieldUsername}
	}

	data, err := json.Marshal(newAccountRecord(account))
	if err != nil {
		return model.Account{}, err
	}
	if err := s.client.Set(ctx, s.accountKey(account.ID), data, 0).Err(); err != nil {
		s.client.Del(ctx, s.emailKey(account.Email), s.usernameKey(account.Username))
		return model.Account{}, fmt.Errorf("write account: %w", err)
	}
	return account, nil
}

func (s *Store) GetTaskByID(ctx context.Context, id string) (model.Task, error) {
	if id == "" {
		return model.Task{}, repository.ErrNotFound
	}
	var record taskRecord
	if err := s.getJSON(ctx, s.taskKey(id), &record); err != nil {
		return model.Task{}, err
	}
	return record.toModel(), nil
}

func (s *Store) ListTasksForAccount(ctx context.Context, accountID string, page, limit int) ([]model.Task, int64, error) {
	key := s.visibleKey(accountID)
	total, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	offset := int64(repository.Offset(page, limit))
	if offset >= total {
		return []model.Task{}, total, nil
	}
	ids, err := s.client.ZRevRange(ctx, key, offset, offset+int64(limit)-1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("range tasks: %w", err)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load tasks: %w", err)
	}

	tasks := make([]model.Task, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var record taskRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, record.toModel())
	}
	return tasks, total, nil
}

func (s *Store) InsertTask(ctx context.Context, task model.Task) (model.Task, error) {
	now := s.now().UTC()
	task.ID = uuid.NewString()
	task.CreatedAt = now
	task.UpdatedAt = now

	data, err := json.Marshal(newTaskRecord(task))
	if err != nil {
		return model.Task{}, err
	}

	member := redis.Z{Score: float64(now.UnixMicro()), Member: task.ID}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.taskKey(task.ID), data, 0)
		pipe.ZAdd(ctx, s.visibleKey(task.CreatedBy), member)
		pipe.ZAdd(ctx, s.visibleKey(task.AssignedTo), member)
		return nil
	})
	if err != nil {
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// UpdateTask rewrites the task under WATCH so a concurrent update or delete
// aborts instead of resurrecting the record. Reassignment moves the task
// between visibility sets; the creator always keeps it.
func (s *Store) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	if id == "" {
		return model.Task{}, repository.ErrNotFound
	}
	key := s.taskKey(id)
	var updated model.Task

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		var record taskRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}

		task := record.toModel()
		previousAssignee := task.AssignedTo
		patch.Apply(&task)
		task.UpdatedAt = s.now().UTC()

		data, err := json.Marshal(newTaskRecord(task))
		if err != nil {
			return err
		}
		member := redis.Z{Score: float64(task.CreatedAt.UnixMicro()), Member: task.ID}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if task.AssignedTo != previousAssignee {
				if previousAssignee != task.CreatedBy {
					pipe.ZRem(ctx, s.visibleKey(previousAssignee), task.ID)
				}
				pipe.ZAdd(ctx, s.visibleKey(task.AssignedTo), member)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = task
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Task{}, err
		}
		return model.Task{}, fmt.Errorf("update task: %w", err)
	}
	return updated, nil
}

// DeleteTask removes the record and its visibility entries under WATCH, so a
// reassignment landing between the read and the delete restarts the attempt.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if id == "" {
		return repository.ErrNotFound
	}
	key := s.taskKey(id)

	remove := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		var record taskRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		task := record.toModel()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.visibleKey(task.CreatedBy), id)
			pipe.ZRem(ctx, s.visibleKey(task.AssignedTo), id)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.client.Watch(ctx, remove, key)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

type accountRecord struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newAccountRecord(a model.Account) accountRecord {
	return accountRecord{
		ID:           a.ID,
		Username:     a.Username,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		Role:         string(a.Role),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func (r accountRecord) toModel() model.Account {
	return model.Account{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         model.Role(r.Role),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type taskRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"dueDate"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	AssignedTo  string    `json:"assignedTo"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newTaskRecord(t model.Task) taskRecord {
	return taskRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		Priority:    string(t.Priority),
		Status:      string(t.Status),
		AssignedTo:  t.AssignedTo,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (r taskRecord) toModel() model.Task {
	return model.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		DueDate:     r.DueDate.UTC(),
		Priority:    model.Priority(r.Priority),
		Status:      model.Status(r.Status),
		AssignedTo:  r.AssignedTo,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}
