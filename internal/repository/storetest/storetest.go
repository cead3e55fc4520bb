// Package storetest is the behavioural contract every repository.Store
// implementation runs in its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"taskhub/internal/model"
	"taskhub/internal/repository"
)

// Factory returns an empty store. Cleanup is the caller's job via t.Cleanup.
type Factory func(t *testing.T) repository.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("AccountUniqueness", func(t *testing.T) { testAccountUniqueness(t, newStore(t)) })
	t.Run("AccountLookup", func(t *testing.T) { testAccountLookup(t, newStore(t)) })
	t.Run("TaskLifecycle", func(t *testing.T) { testTaskLifecycle(t, newStore(t)) })
	t.Run("TaskVisibilityAndPaging", func(t *testing.T) { testTaskVisibility(t, newStore(t)) })
	t.Run("UnknownIDs", func(t *testing.T) { testUnknownIDs(t, newStore(t)) })
}

func mustAccount(t *testing.T, store repository.Store, username, email string) model.Account {
	t.Helper()
	account, err := store.CreateAccount(context.Background(), model.Account{
		Username:     username,
		Email:        email,
		PasswordHash: "hash-" + username,
		Role:         model.RoleUser,
	})
	if err != nil {
		t.Fatalf("create account %s: %v", username, err)
	}
	return account
}

func mustTask(t *testing.T, store repository.Store, title, createdBy, assignedTo string) model.Task {
	t.Helper()
	task, err := store.InsertTask(context.Background(), model.Task{
		Title:       title,
		Description: "about " + title,
		DueDate:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Priority:    model.PriorityMedium,
		Status:      model.StatusPending,
		AssignedTo:  assignedTo,
		CreatedBy:   createdBy,
	})
	if err != nil {
		t.Fatalf("insert task %s: %v", title, err)
	}
	// keep creation times strictly ordered for stores with millisecond precision
	time.Sleep(3 * time.Millisecond)
	return task
}

func testAccountUniqueness(t *testing.T, store repository.Store) {
	ctx := context.Background()
	alice := mustAccount(t, store, "alice", "alice@x.com")
	if alice.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if alice.PasswordHash != "hash-alice" || alice.Role != model.RoleUser {
		t.Fatalf("unexpected account %+v", alice)
	}

	_, err := store.CreateAccount(ctx, model.Account{Username: "alice2", Email: "alice@x.com", PasswordHash: "h", Role: model.RoleUser})
	var dup *repository.DuplicateError
	if !errors.As(err, &dup) || dup.Field != repository.FieldEmail {
		t.Fatalf("expected duplicate email, got %v", err)
	}

	_, err = store.CreateAccount(ctx, model.Account{Username: "alice", Email: "other@x.com", PasswordHash: "h", Role: model.RoleUser})
	if !errors.As(err, &dup) || dup.Field != repository.FieldUsername {
		t.Fatalf("expected duplicate username, got %v", err)
	}
}

func testAccountLookup(t *testing.T, store repository.Store) {
	ctx := context.Background()
	alice := mustAccount(t, store, "alice", "alice@x.com")
	bob := mustAccount(t, store, "bob", "bob@x.com")

	got, err := store.GetAccountByID(ctx, alice.ID)
	if err != nil || got.Email != "alice@x.com" || got.PasswordHash != "hash-alice" {
		t.Fatalf("get by id: %+v %v", got, err)
	}
	got, err = store.GetAccountByEmail(ctx, "bob@x.com")
	if err != nil || got.ID != bob.ID {
		t.Fatalf("get by email: %+v %v", got, err)
	}
	if _, err := store.GetAccountByEmail(ctx, "nobody@x.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// email of alice, username of bob: the email match wins
	got, err = store.FindAccountByEmailOrUsername(ctx, "alice@x.com", "bob")
	if err != nil || got.ID != alice.ID {
		t.Fatalf("expected email match to win, got %+v %v", got, err)
	}
	got, err = store.FindAccountByEmailOrUsername(ctx, "new@x.com", "bob")
	if err != nil || got.ID != bob.ID {
		t.Fatalf("expected username match, got %+v %v", got, err)
	}
	if _, err := store.FindAccountByEmailOrUsername(ctx, "new@x.com", "carol"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testTaskLifecycle(t *testing.T, store repository.Store) {
	ctx := context.Background()
	alice := mustAccount(t, store, "alice", "alice@x.com")
	bob := mustAccount(t, store, "bob", "bob@x.com")

	task := mustTask(t, store, "T1", alice.ID, alice.ID)
	if task.ID == "" || task.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps, got %+v", task)
	}

	got, err := store.GetTaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Title != "T1" || got.CreatedBy != alice.ID || got.AssignedTo != alice.ID {
		t.Fatalf("unexpected task %+v", got)
	}
	if !got.DueDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected due date %s", got.DueDate)
	}

	title := "T1 renamed"
	status := model.StatusInProgress
	updated, err := store.UpdateTask(ctx, task.ID, model.TaskPatch{Title: &title, Status: &status, AssignedTo: &bob.ID})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if updated.Title != title || updated.Status != status || updated.AssignedTo != bob.ID {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.Description != "about T1" || updated.Priority != model.PriorityMedium {
		t.Fatalf("untouched fields changed: %+v", updated)
	}
	if updated.CreatedBy != alice.ID {
		t.Fatalf("createdBy must not change, got %s", updated.CreatedBy)
	}

	if err := store.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, err := store.GetTaskByID(ctx, task.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.DeleteTask(ctx, task.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := store.UpdateTask(ctx, task.ID, model.TaskPatch{Title: &title}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found on update of deleted task, got %v", err)
	}
}

func testTaskVisibility(t *testing.T, store repository.Store) {
	ctx := context.Background()
	alice := mustAccount(t, store, "alice", "alice@x.com")
	bob := mustAccount(t, store, "bob", "bob@x.com")
	carol := mustAccount(t, store, "carol", "carol@x.com")

	for i := 1; i <= 3; i++ {
		mustTask(t, store, fmt.Sprintf("alice-own-%d", i), alice.ID, alice.ID)
	}
	mustTask(t, store, "bob-for-alice", bob.ID, alice.ID)
	mustTask(t, store, "alice-for-bob", alice.ID, bob.ID)
	moved := mustTask(t, store, "carol-for-bob", carol.ID, bob.ID)
	mustTask(t, store, "carol-own", carol.ID, carol.ID)

	tasks, total, err := store.ListTasksForAccount(ctx, alice.ID, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(tasks) != 5 {
		t.Fatalf("expected 5 visible tasks for alice, got total=%d len=%d", total, len(tasks))
	}
	if tasks[0].Title != "alice-for-bob" || tasks[4].Title != "alice-own-1" {
		t.Fatalf("expected newest first, got %s ... %s", tasks[0].Title, tasks[4].Title)
	}

	page2, total, err := store.ListTasksForAccount(ctx, alice.ID, 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if total != 5 || len(page2) != 2 || page2[0].Title != "alice-own-3" {
		t.Fatalf("unexpected page 2: total=%d %+v", total, page2)
	}
	page3, _, err := store.ListTasksForAccount(ctx, alice.ID, 3, 2)
	if err != nil || len(page3) != 1 {
		t.Fatalf("expected single task on page 3, got %d %v", len(page3), err)
	}
	beyond, total, err := store.ListTasksForAccount(ctx, alice.ID, 9, 2)
	if err != nil || len(beyond) != 0 || total != 5 {
		t.Fatalf("expected empty page past the end, got %d total=%d %v", len(beyond), total, err)
	}

	// reassigning moves visibility with the task
	if _, err := store.UpdateTask(ctx, moved.ID, model.TaskPatch{AssignedTo: &alice.ID}); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	_, total, _ = store.ListTasksForAccount(ctx, alice.ID, 1, 10)
	if total != 6 {
		t.Fatalf("expected reassigned task visible to alice, total=%d", total)
	}
	_, total, _ = store.ListTasksForAccount(ctx, bob.ID, 1, 10)
	if total != 2 {
		t.Fatalf("expected bob to keep created and assigned tasks only, total=%d", total)
	}
	_, total, _ = store.ListTasksForAccount(ctx, carol.ID, 1, 10)
	if total != 2 {
		t.Fatalf("expected carol to still see the task she created, total=%d", total)
	}
}

func testUnknownIDs(t *testing.T, store repository.Store) {
	ctx := context.Background()
	for _, id := range []string{"", "does-not-exist", "00000000-0000-0000-0000-000000000000", "65f000000000000000000000"} {
		if _, err := store.GetTaskByID(ctx, id); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("task %q: expected not found, got %v", id, err)
		}
		if _, err := store.GetAccountByID(ctx, id); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("account %q: expected not found, got %v", id, err)
		}
		if err := store.DeleteTask(ctx, id); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("delete %q: expected not found, got %v", id, err)
		}
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
