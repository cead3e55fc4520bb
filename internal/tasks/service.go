// Package tasks enforces who may read and change tasks.
package tasks

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"taskhub/internal/apperr"
	"taskhub/internal/metrics"
	"taskhub/internal/model"
	"taskhub/internal/repository"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

var (
	ErrTaskNotFound = apperr.NotFound("task_not_found", "task not found")
	ErrForbidden    = apperr.Forbidden("forbidden", "only the task creator or an admin can change this task")
)

// Store is the subset of repository.Store the gate needs.
type Store interface {
	repository.TaskStore
	GetAccountByID(ctx context.Context, id string) (model.Account, error)
}

type Service struct {
	store Store
	log   *logrus.Entry
}

func NewService(store Store, log *logrus.Entry) *Service {
	return &Service{store: store, log: log.WithField("component", "tasks")}
}

// CanMutate reports whether identity may update or delete task: its creator
// or any admin.
func CanMutate(identity model.Identity, task model.Task) bool {
	return identity.AccountID == task.CreatedBy || identity.IsAdmin()
}

func (s *Service) Create(ctx context.Context, identity model.Identity, in Input) (model.TaskView, error) {
	view, err := s.create(ctx, identity, in)
	metrics.TaskMutations.WithLabelValues("create", metrics.Outcome(err)).Inc()
	return view, err
}

func (s *Service) create(ctx context.Context, identity model.Identity, in Input) (model.TaskView, error) {
	task, err := in.toTask(identity.AccountID)
	if err != nil {
		return model.TaskView{}, err
	}
	if err := s.checkAssignee(ctx, task.AssignedTo); err != nil {
		return model.TaskView{}, err
	}
	task.CreatedBy = identity.AccountID

	created, err := s.store.InsertTask(ctx, task)
	if err != nil {
		s.log.WithError(err).Error("task insert failed")
		return model.TaskView{}, apperr.Internal("could not create task", err)
	}
	s.log.WithFields(logrus.Fields{"task_id": created.ID, "account_id": identity.AccountID}).Info("task created")
	return s.view(ctx, created, nil)
}

// Get returns any task by id to any authenticated caller.
func (s *Service) Get(ctx context.Context, _ model.Identity, id string) (model.TaskView, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return model.TaskView{}, err
	}
	return s.view(ctx, task, nil)
}

// List pages through the tasks the caller created or is assigned to. Admins
// see only their own set here.
func (s *Service) List(ctx context.Context, identity model.Identity, page, limit int) (model.TaskPage, error) {
	page, limit = normalizePaging(page, limit)

	tasks, total, err := s.store.ListTasksForAccount(ctx, identity.AccountID, page, limit)
	if err != nil {
		s.log.WithError(err).Error("task list failed")
		return model.TaskPage{}, apperr.Internal("could not list tasks", err)
	}

	accounts := make(map[string]*model.AccountRef)
	views := make([]model.TaskView, 0, len(tasks))
	for _, task := range tasks {
		view, err := s.view(ctx, task, accounts)
		if err != nil {
			return model.TaskPage{}, err
		}
		views = append(views, view)
	}

	return model.TaskPage{
		Tasks:       views,
		CurrentPage: page,
		TotalPages:  totalPages(total, limit),
		Total:       total,
	}, nil
}

func (s *Service) Update(ctx context.Context, identity model.Identity, id string, in Input) (model.TaskView, error) {
	view, err := s.update(ctx, identity, id, in)
	metrics.TaskMutations.WithLabelValues("update", metrics.Outcome(err)).Inc()
	return view, err
}

func (s *Service) update(ctx context.Context, identity model.Identity, id string, in Input) (model.TaskView, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return model.TaskView{}, err
	}
	if !CanMutate(identity, task) {
		s.log.WithFields(logrus.Fields{"task_id": id, "account_id": identity.AccountID}).Info("task update forbidden")
		return model.TaskView{}, ErrForbidden
	}

	patch, err := in.toPatch()
	if err != nil {
		return model.TaskView{}, err
	}
	if patch.AssignedTo != nil {
		if err := s.checkAssignee(ctx, *patch.AssignedTo); err != nil {
			return model.TaskView{}, err
		}
	}

	updated, err := s.store.UpdateTask(ctx, id, patch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.TaskView{}, ErrTaskNotFound
		}
		s.log.WithError(err).Error("task update failed")
		return model.TaskView{}, apperr.Internal("could not update task", err)
	}
	return s.view(ctx, updated, nil)
}

func (s *Service) Delete(ctx context.Context, identity model.Identity, id string) error {
	err := s.delete(ctx, identity, id)
	metrics.TaskMutations.WithLabelValues("delete", metrics.Outcome(err)).Inc()
	return err
}

func (s *Service) delete(ctx context.Context, identity model.Identity, id string) error {
	task, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !CanMutate(identity, task) {
		s.log.WithFields(logrus.Fields{"task_id": id, "account_id": identity.AccountID}).Info("task delete forbidden")
		return ErrForbidden
	}

	if err := s.store.DeleteTask(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTaskNotFound
		}
		s.log.WithError(err).Error("task delete failed")
		return apperr.Internal("could not delete task", err)
	}
	s.log.WithFields(logrus.Fields{"task_id": id, "account_id": identity.AccountID}).Info("task deleted")
	return nil
}

func (s *Service) load(ctx context.Context, id string) (model.Task, error) {
	task, err := s.store.GetTaskByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Task{}, ErrTaskNotFound
		}
		return model.Task{}, apperr.Internal("could not load task", err)
	}
	return task, nil
}

func (s *Service) checkAssignee(ctx context.Context, accountID string) error {
	_, err := s.store.GetAccountByID(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Validation("assignedTo", "unknown_assignee", "assigned account does not exist")
	}
	if err != nil {
		return apperr.Internal("could not load assignee", err)
	}
	return nil
}

// view populates the account references of task. cache may be nil.
func (s *Service) view(ctx context.Context, task model.Task, cache map[string]*model.AccountRef) (model.TaskView, error) {
	assignedTo, err := s.ref(ctx, task.AssignedTo, cache)
	if err != nil {
		return model.TaskView{}, err
	}
	createdBy, err := s.ref(ctx, task.CreatedBy, cache)
	if err != nil {
		return model.TaskView{}, err
	}
	return model.TaskView{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		DueDate:     task.DueDate,
		Priority:    task.Priority,
		Status:      task.Status,
		AssignedTo:  assignedTo,
		CreatedBy:   createdBy,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}, nil
}

func (s *Service) ref(ctx context.Context, accountID string, cache map[string]*model.AccountRef) (*model.AccountRef, error) {
	if ref, ok := cache[accountID]; ok {
		return ref, nil
	}
	var ref *model.AccountRef
	account, err := s.store.GetAccountByID(ctx, accountID)
	switch {
	case err == nil:
		ref = account.Ref()
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Internal("could not load account", err)
	}
	if cache != nil {
		cache[accountID] = ref
	}
	return ref, nil
}

func normalizePaging(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

func totalPages(total int64, limit int) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
