package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"taskhub/internal/apperr"
	"taskhub/internal/logging"
	"taskhub/internal/model"
	"taskhub/internal/repository/memory"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	alice model.Identity
	bob   model.Identity
	admin model.Identity
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	identity := func(username string, role model.Role) model.Identity {
		account, err := store.CreateAccount(context.Background(), model.Account{
			Username:     username,
			Email:        username + "@x.com",
			PasswordHash: "hash",
			Role:         role,
		})
		if err != nil {
			t.Fatalf("create %s: %v", username, err)
		}
		return model.Identity{AccountID: account.ID, Role: role}
	}
	return fixture{
		svc:   NewService(store, logging.Discard()),
		store: store,
		alice: identity("alice", model.RoleUser),
		bob:   identity("bob", model.RoleUser),
		admin: identity("root", model.RoleAdmin),
	}
}

func strPtr(s string) *string { return &s }

func refPtr(id string) *RefID {
	ref := RefID(id)
	return &ref
}

func validInput(title string) Input {
	return Input{Title: strPtr(title), DueDate: strPtr("2026-03-01")}
}

func TestCanMutate(t *testing.T) {
	task := model.Task{CreatedBy: "alice"}
	cases := []struct {
		identity model.Identity
		want     bool
	}{
		{model.Identity{AccountID: "alice", Role: model.RoleUser}, true},
		{model.Identity{AccountID: "bob", Role: model.RoleUser}, false},
		{model.Identity{AccountID: "root", Role: model.RoleAdmin}, true},
		{model.Identity{AccountID: "", Role: model.RoleUser}, false},
	}
	for _, tc := range cases {
		if got := CanMutate(tc.identity, task); got != tc.want {
			t.Fatalf("CanMutate(%+v) = %v, want %v", tc.identity, got, tc.want)
		}
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.Create(context.Background(), f.alice, validInput("T1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.Priority != model.PriorityMedium || view.Status != model.StatusPending {
		t.Fatalf("unexpected defaults %s/%s", view.Priority, view.Status)
	}
	if view.AssignedTo == nil || view.AssignedTo.ID != f.alice.AccountID {
		t.Fatalf("expected self assignment, got %+v", view.AssignedTo)
	}
	if view.CreatedBy == nil || view.CreatedBy.Username != "alice" || view.CreatedBy.Email != "alice@x.com" {
		t.Fatalf("expected populated creator, got %+v", view.CreatedBy)
	}
	if !view.DueDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected due date %s", view.DueDate)
	}
}

func TestCreateOverwritesCreatedBy(t *testing.T) {
	f := newFixture(t)
	for _, claimed := range []string{f.bob.AccountID, f.admin.AccountID, "someone-else", ""} {
		in := validInput("T")
		in.CreatedBy = refPtr(claimed)
		view, err := f.svc.Create(context.Background(), f.alice, in)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if view.CreatedBy == nil || view.CreatedBy.ID != f.alice.AccountID {
			t.Fatalf("createdBy %q was not overwritten: %+v", claimed, view.CreatedBy)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name  string
		input Input
		field string
	}{
		{"missing title", Input{DueDate: strPtr("2026-03-01")}, "title"},
		{"blank title", Input{Title: strPtr("  "), DueDate: strPtr("2026-03-01")}, "title"},
		{"missing due date", Input{Title: strPtr("T")}, "dueDate"},
		{"bad due date", Input{Title: strPtr("T"), DueDate: strPtr("next week")}, "dueDate"},
		{"bad priority", Input{Title: strPtr("T"), DueDate: strPtr("2026-03-01"), Priority: strPtr("urgent")}, "priority"},
		{"bad status", Input{Title: strPtr("T"), DueDate: strPtr("2026-03-01"), Status: strPtr("done")}, "status"},
		{"unknown assignee", Input{Title: strPtr("T"), DueDate: strPtr("2026-03-01"), AssignedTo: refPtr("ghost")}, "assignedTo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), f.alice, tc.input)
			appErr := apperr.As(err)
			if appErr.Kind != apperr.KindValidation || appErr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %+v", tc.field, appErr)
			}
		})
	}
}

func TestAssigneeReferenceForms(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		fmt.Sprintf(`{"title":"T","dueDate":"2026-03-01T10:00:00Z","assignedTo":%q}`, f.bob.AccountID),
		fmt.Sprintf(`{"title":"T","dueDate":"2026-03-01","assignedTo":{"_id":%q,"username":"bob"}}`, f.bob.AccountID),
		fmt.Sprintf(`{"title":"T","dueDate":"2026-03-01","assignedTo":{"id":%q}}`, f.bob.AccountID),
	} {
		var in Input
		if err := json.Unmarshal([]byte(body), &in); err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
		view, err := f.svc.Create(context.Background(), f.alice, in)
		if err != nil {
			t.Fatalf("create %s: %v", body, err)
		}
		if view.AssignedTo == nil || view.AssignedTo.ID != f.bob.AccountID {
			t.Fatalf("expected bob assigned for %s, got %+v", body, view.AssignedTo)
		}
	}

	var in Input
	if err := json.Unmarshal([]byte(`{"assignedTo":42}`), &in); err == nil {
		t.Fatalf("expected numeric assignee to be rejected")
	}
}

func TestUpdateAndDeleteRequireCreatorOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput("T1")
	in.AssignedTo = refPtr(f.bob.AccountID)
	task, err := f.svc.Create(ctx, f.alice, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// the assignee is not the creator
	_, err = f.svc.Update(ctx, f.bob, task.ID, Input{Status: strPtr("completed")})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden update for assignee, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.bob, task.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden delete for assignee, got %v", err)
	}

	updated, err := f.svc.Update(ctx, f.admin, task.ID, Input{Status: strPtr("in-progress"), CreatedBy: refPtr(f.admin.AccountID)})
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if updated.Status != model.StatusInProgress || updated.CreatedBy.ID != f.alice.AccountID {
		t.Fatalf("unexpected update result %+v", updated)
	}

	updated, err = f.svc.Update(ctx, f.alice, task.ID, Input{Title: strPtr("T1 v2"), Priority: strPtr("high")})
	if err != nil {
		t.Fatalf("creator update: %v", err)
	}
	if updated.Title != "T1 v2" || updated.Priority != model.PriorityHigh || updated.Status != model.StatusInProgress {
		t.Fatalf("unexpected update result %+v", updated)
	}

	if err := f.svc.Delete(ctx, f.admin, task.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.alice, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestUpdateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.alice, validInput("T1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for name, in := range map[string]Input{
		"empty title": {Title: strPtr("")},
		"bad status":  {Status: strPtr("archived")},
		"bad date":    {DueDate: strPtr("31/12/2026")},
		"ghost":       {AssignedTo: refPtr("ghost")},
	} {
		if _, err := f.svc.Update(ctx, f.alice, task.ID, in); apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	got, _ := f.svc.Get(ctx, f.alice, task.ID)
	if got.Title != "T1" || got.Status != model.StatusPending {
		t.Fatalf("rejected updates must not change the task: %+v", got)
	}
}

func TestBlankEnumsOnUpdateKeepValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validInput("T1")
	in.Priority = strPtr("high")
	in.Status = strPtr("in-progress")
	task, err := f.svc.Create(ctx, f.alice, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := f.svc.Update(ctx, f.alice, task.ID, Input{Title: strPtr("T1 renamed"), Priority: strPtr(""), Status: strPtr("  ")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "T1 renamed" || updated.Priority != model.PriorityHigh || updated.Status != model.StatusInProgress {
		t.Fatalf("blank priority and status must leave values unchanged: %+v", updated)
	}
}

func TestMissingTaskIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"missing", ""} {
		if _, err := f.svc.Get(ctx, f.alice, id); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("get %q: %v", id, err)
		}
		if _, err := f.svc.Update(ctx, f.admin, id, Input{Title: strPtr("x")}); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("update %q: %v", id, err)
		}
		if err := f.svc.Delete(ctx, f.admin, id); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("delete %q: %v", id, err)
		}
	}
}

func TestGetHasNoOwnershipFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.alice, validInput("private"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := f.svc.Get(ctx, f.bob, task.ID)
	if err != nil || got.ID != task.ID {
		t.Fatalf("any authenticated account can read a task by id: %+v %v", got, err)
	}

	page, err := f.svc.List(ctx, f.bob, 1, 10)
	if err != nil || page.Total != 0 {
		t.Fatalf("task must not show up in bob's list: %+v %v", page, err)
	}
}

func TestListVisibilityAndPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if _, err := f.svc.Create(ctx, f.alice, validInput(fmt.Sprintf("alice-%02d", i))); err != nil {
			t.Fatalf("create: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	forAlice := validInput("from-bob")
	forAlice.AssignedTo = refPtr(f.alice.AccountID)
	if _, err := f.svc.Create(ctx, f.bob, forAlice); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Create(ctx, f.bob, validInput("bob-only")); err != nil {
		t.Fatalf("create: %v", err)
	}

	page, err := f.svc.List(ctx, f.alice, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.CurrentPage != 1 || len(page.Tasks) != 10 || page.Total != 13 || page.TotalPages != 2 {
		t.Fatalf("unexpected first page: page=%d len=%d total=%d pages=%d", page.CurrentPage, len(page.Tasks), page.Total, page.TotalPages)
	}
	if page.Tasks[0].Title != "from-bob" {
		t.Fatalf("expected newest first, got %s", page.Tasks[0].Title)
	}

	page, err = f.svc.List(ctx, f.alice, 2, 10)
	if err != nil || len(page.Tasks) != 3 || page.Tasks[2].Title != "alice-00" {
		t.Fatalf("unexpected second page: %+v %v", page, err)
	}

	page, _ = f.svc.List(ctx, f.alice, 1, 1000)
	if len(page.Tasks) != 13 || page.TotalPages != 1 {
		t.Fatalf("limit should be capped, not rejected: len=%d pages=%d", len(page.Tasks), page.TotalPages)
	}

	// admins get no blanket read through the list
	page, _ = f.svc.List(ctx, f.admin, 1, 10)
	if page.Total != 0 || page.TotalPages != 0 || len(page.Tasks) != 0 {
		t.Fatalf("expected empty list for admin, got %+v", page)
	}
}

func TestTotalPages(t *testing.T) {
	cases := []struct {
		total int64
		limit int
		want  int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 5, 5},
	}
	for _, tc := range cases {
		if got := totalPages(tc.total, tc.limit); got != tc.want {
			t.Fatalf("totalPages(%d, %d) = %d, want %d", tc.total, tc.limit, got, tc.want)
		}
	}
}
