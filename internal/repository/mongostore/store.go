// Package mongostore keeps accounts and tasks in two MongoDB collections.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"taskhub/internal/model"
	"taskhub/internal/repository"
)

const (
	accountsCollection = "accounts"
	tasksCollection    = "tasks"

	emailIndex    = "accounts_email_unique"
	usernameIndex = "accounts_username_unique"
)

type accountDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Username     string             `bson:"username"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"password"`
	Role         string             `bson:"role"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

type taskDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	DueDate     time.Time          `bson:"dueDate"`
	Priority    string             `bson:"priority"`
	Status      string             `bson:"status"`
	AssignedTo  primitive.ObjectID `bson:"assignedTo"`
	CreatedBy   primitive.ObjectID `bson:"createdBy"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

type Store struct {
	client   *mongo.Client
	accounts *mongo.Collection
	tasks    *mongo.Collection
	timeout  time.Duration
	now      func() time.Time
}

// Connect dials uri, pings the server and makes sure the unique indexes exist.
func Connect(ctx context.Context, uri, database string, timeout time.Duration) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	store := NewStore(client, database, timeout)
	if err := store.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func NewStore(client *mongo.Client, database string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	db := client.Database(database)
	return &Store{
		client:   client,
		accounts: db.Collection(accountsCollection),
		tasks:    db.Collection(tasksCollection),
		timeout:  timeout,
		now:      time.Now,
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName(emailIndex).SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetName(usernameIndex).SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("account indexes: %w", err)
	}
	_, err = s.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "assignedTo", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdBy", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("task indexes: %w", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) findAccount(ctx context.Context, filter bson.M) (model.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc accountDoc
	if err := s.accounts.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Account{}, repository.ErrNotFound
		}
		return model.Account{}, err
	}
	return doc.toModel(), nil
}

func (s *Store) FindAccountByEmailOrUsername(ctx context.Context, email, username string) (model.Account, error) {
	account, err := s.findAccount(ctx, bson.M{"email": email})
	if !errors.Is(err, repository.ErrNotFound) {
		return account, err
	}
	return s.findAccount(ctx, bson.M{"username": username})
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (model.Account, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return model.Account{}, repository.ErrNotFound
	}
	return s.findAccount(ctx, bson.M{"_id": oid})
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	return s.findAccount(ctx, bson.M{"email": email})
}

func (s *Store) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now().UTC()
	doc := accountDoc{
		ID:           primitive.NewObjectID(),
		Username:     account.Username,
		Email:        account.Email,
		PasswordHash: account.PasswordHash,
		Role:         string(account.Role),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.accounts.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), usernameIndex) {
				return model.Account{}, &repository.DuplicateError{Field: repository.FieldUsername}
			}
			return model.Account{}, &repository.DuplicateError{Field: repository.FieldEmail}
		}
		return model.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return doc.toModel(), nil
}

func (s *Store) GetTaskByID(ctx context.Context, id string) (model.Task, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return model.Task{}, repository.ErrNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc taskDoc
	if err := s.tasks.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Task{}, repository.ErrNotFound
		}
		return model.Task{}, err
	}
	return doc.toModel(), nil
}

func (s *Store) ListTasksForAccount(ctx context.Context, accountID string, page, limit int) ([]model.Task, int64, error) {
	oid, err := primitive.ObjectIDFromHex(accountID)
	if err != nil {
		return []model.Task{}, 0, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"$or": bson.A{
		bson.M{"assignedTo": oid},
		bson.M{"createdBy": oid},
	}}

	total, err := s.tasks.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(repository.Offset(page, limit))).
		SetLimit(int64(limit))
	cursor, err := s.tasks.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []taskDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode tasks: %w", err)
	}
	tasks := make([]model.Task, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, doc.toModel())
	}
	return tasks, total, nil
}

func (s *Store) InsertTask(ctx context.Context, task model.Task) (model.Task, error) {
	assignedTo, err := primitive.ObjectIDFromHex(task.AssignedTo)
	if err != nil {
		return model.Task{}, fmt.Errorf("assignedTo %q: %w", task.AssignedTo, err)
	}
	createdBy, err := primitive.ObjectIDFromHex(task.CreatedBy)
	if err != nil {
		return model.Task{}, fmt.Errorf("createdBy %q: %w", task.CreatedBy, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now().UTC()
	doc := taskDoc{
		ID:          primitive.NewObjectID(),
		Title:       task.Title,
		Description: task.Description,
		DueDate:     task.DueDate.UTC(),
		Priority:    string(task.Priority),
		Status:      string(task.Status),
		AssignedTo:  assignedTo,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.tasks.InsertOne(ctx, doc); err != nil {
		return model.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return doc.toModel(), nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return model.Task{}, repository.ErrNotFound
	}

	set := bson.M{"updatedAt": s.now().UTC()}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.DueDate != nil {
		set["dueDate"] = patch.DueDate.UTC()
	}
	if patch.Priority != nil {
		set["priority"] = string(*patch.Priority)
	}
	if patch.Status != nil {
		set["status"] = string(*patch.Status)
	}
	if patch.AssignedTo != nil {
		assignedTo, err := primitive.ObjectIDFromHex(*patch.AssignedTo)
		if err != nil {
			return model.Task{}, fmt.Errorf("assignedTo %q: %w", *patch.AssignedTo, err)
		}
		set["assignedTo"] = assignedTo
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc taskDoc
	err = s.tasks.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Task{}, repository.ErrNotFound
		}
		return model.Task{}, fmt.Errorf("update task: %w", err)
	}
	return doc.toModel(), nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return repository.ErrNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.tasks.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (d accountDoc) toModel() model.Account {
	return model.Account{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         model.Role(d.Role),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (d taskDoc) toModel() model.Task {
	return model.Task{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		DueDate:     d.DueDate.UTC(),
		Priority:    model.Priority(d.Priority),
		Status:      model.Status(d.Status),
		AssignedTo:  d.AssignedTo.Hex(),
		CreatedBy:   d.CreatedBy.Hex(),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}
