package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskhub/internal/model"
	"taskhub/internal/repository"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const accountColumns = `id::text, username, email, password_hash, role, created_at, updated_at`

func scanAccount(row pgx.Row) (model.Account, error) {
	var account model.Account
	var role string
	err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&role,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, repository.ErrNotFound
		}
		return model.Account{}, err
	}
	account.Role = model.Role(role)
	return account, nil
}

func (s *Store) FindAccountByEmailOrUsername(ctx context.Context, email, username string) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `
    SELECT `+accountColumns+`
    FROM accounts
    WHERE email = $1 OR username = $2
    ORDER BY (email = $1) DESC
    LIMIT 1
  `, email, username)
	return scanAccount(row)
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (model.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Account{}, repository.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

func (s *Store) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	now := s.now().UTC()
	account.ID = uuid.NewString()
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
    INSERT INTO accounts (id, username, email, password_hash, role, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
  `, account.ID, account.Username, account.Email, account.PasswordHash, string(account.Role), account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if dup := duplicateFromPg(err); dup != nil {
			return model.Account{}, dup
		}
		return model.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

const taskColumns = `id::text, title, description, due_date, priority, status, assigned_to::text, created_by::text, created_at, updated_at`

func scanTask(row pgx.Row) (model.Task, error) {
	var task model.Task
	var priority, status string
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.DueDate,
		&priority,
		&status,
		&task.AssignedTo,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, repository.ErrNotFound
		}
		return model.Task{}, err
	}
	task.Priority = model.Priority(priority)
	task.Status = model.Status(status)
	task.DueDate = task.DueDate.UTC()
	return task, nil
}

func (s *Store) GetTaskByID(ctx context.Context, id string) (model.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Task{}, repository.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (s *Store) ListTasksForAccount(ctx context.Context, accountID string, page, limit int) ([]model.Task, int64, error) {
	if _, err := uuid.Parse(accountID); err != nil {
		return []model.Task{}, 0, nil
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `
    SELECT COUNT(*) FROM tasks WHERE assigned_to = $1 OR created_by = $1
  `, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
    SELECT `+taskColumns+`
    FROM tasks
    WHERE assigned_to = $1 OR created_by = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2 OFFSET $3
  `, accountID, limit, repository.Offset(page, limit))
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]model.Task, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (s *Store) InsertTask(ctx context.Context, task model.Task) (model.Task, error) {
	now := s.now().UTC()
	task.ID = uuid.NewString()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
    INSERT INTO tasks (id, title, description, due_date, priority, status, assigned_to, created_by, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
  `, task.ID, task.Title, task.Description, task.DueDate, string(task.Priority), string(task.Status),
		task.AssignedTo, task.CreatedBy, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Task{}, repository.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `
    UPDATE tasks SET
      title       = COALESCE($2, title),
      description = COALESCE($3, description),
      due_date    = COALESCE($4, due_date),
      priority    = COALESCE($5, priority),
      status      = COALESCE($6, status),
      assigned_to = COALESCE($7::uuid, assigned_to),
      updated_at  = $8
    WHERE id = $1
    RETURNING `+taskColumns,
		id, patch.Title, patch.Description, patch.DueDate,
		textPtr(patch.Priority), textPtr(patch.Status), patch.AssignedTo, s.now().UTC())
	return scanTask(row)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return repository.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func duplicateFromPg(err error) *repository.DuplicateError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	if strings.Contains(pgErr.ConstraintName, "email") {
		return &repository.DuplicateError{Field: repository.FieldEmail}
	}
	return &repository.DuplicateError{Field: repository.FieldUsername}
}

func textPtr[T ~string](value *T) *string {
	if value == nil {
		return nil
	}
	text := string(*value)
	return &text
}
