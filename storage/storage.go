package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"verdantdo/domain"
)

const (
	collectionTasks      = "tasks"
	collectionCategories = "categories"

	edmInt64    = "Edm.Int64"
	edmBoolean  = "Edm.Boolean"
	edmDateTime = "Edm.DateTime"
)

// Config names the Azure resources backing the store.
type Config struct {
	ConnectionString string
	TasksTable       string
	CategoriesTable  string
	// EventsQueue is optional; when set every successful write is published
	// to it as an Event.
	EventsQueue string
	CacheTTL    time.Duration
}

// Storage is the realtime document store: Azure tables hold the documents,
// Redis pub/sub carries change notifications and caches snapshots.
type Storage struct {
	tasks      *aztables.Client
	categories *aztables.Client
	events     eventQueue
	redis      *redis.Client
	cache      *Cache
	logger     *log.Logger
}

// New creates a Storage instance from the given configuration.
func New(cfg Config, rc *redis.Client, logger *log.Logger) (*Storage, error) {
	if rc == nil {
		return nil, errors.New("storage: redis client is required for change notifications")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		tasks:      svc.NewClient(cfg.TasksTable),
		categories: svc.NewClient(cfg.CategoriesTable),
		redis:      rc,
		cache:      NewCache(rc, cfg.CacheTTL),
		logger:     logger,
	}
	if cfg.EventsQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    3,
					RetryDelay:    time.Second,
					MaxRetryDelay: 15 * time.Second,
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.EventsQueue, &queueClientOptions)
		if err != nil {
			return nil, err
		}
		s.events = q
	}
	return s, nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entityKeys
	Title         string    `json:"Title"`
	Description   string    `json:"Description"`
	Completed     bool      `json:"Completed"`
	DueDate       time.Time `json:"DueDate"`
	DueDateType   string    `json:"DueDate@odata.type,omitempty"`
	CreatedAt     int64     `json:"CreatedAt,string"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
	CategoryID    string    `json:"CategoryId"`
}

type taskCompletionUpdate struct {
	entityKeys
	Completed     bool   `json:"Completed"`
	CompletedType string `json:"Completed@odata.type"`
}

type categoryEntity struct {
	entityKeys
	Name string `json:"Name"`
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Completed:   e.Completed,
		DueDate:     e.DueDate.UTC(),
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
		CategoryID:  e.CategoryID,
		UserID:      e.PartitionKey,
	}
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.toDomain(), nil
}

func decodeCategoryEntity(data []byte) (domain.Category, error) {
	var ent categoryEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Category{}, err
	}
	return domain.Category{ID: ent.RowKey, Name: ent.Name, UserID: ent.PartitionKey}, nil
}

// partitionFilter builds an OData equality filter on the partition key.
func partitionFilter(userID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
}

// sortTasks orders tasks by creation time, newest first. Ties keep a stable
// order by identifier.
func sortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func (s *Storage) fetchTasks(ctx context.Context, userID string, fresh bool) ([]domain.Task, error) {
	if !fresh {
		if tasks, ok := loadSnapshot[domain.Task](ctx, s.cache, collectionTasks, userID); ok {
			return tasks, nil
		}
	}
	filter := partitionFilter(userID)
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sortTasks(tasks)
	s.cache.store(ctx, collectionTasks, userID, tasks)
	return tasks, nil
}

func (s *Storage) fetchCategories(ctx context.Context, userID string, fresh bool) ([]domain.Category, error) {
	if !fresh {
		if cats, ok := loadSnapshot[domain.Category](ctx, s.cache, collectionCategories, userID); ok {
			return cats, nil
		}
	}
	filter := partitionFilter(userID)
	pager := s.categories.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	cats := []domain.Category{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, e := range resp.Entities {
			c, err := decodeCategoryEntity(e)
			if err != nil {
				return nil, err
			}
			cats = append(cats, c)
		}
	}
	s.cache.store(ctx, collectionCategories, userID, cats)
	return cats, nil
}

// WatchTasks pushes a full task snapshot now and after every change.
func (s *Storage) WatchTasks(userID string, onSnapshot func([]domain.Task), onError func(error)) func() {
	return s.watch(collectionTasks, userID, func(ctx context.Context, fresh bool) (func(), error) {
		tasks, err := s.fetchTasks(ctx, userID, fresh)
		if err != nil {
			return nil, err
		}
		return func() { onSnapshot(tasks) }, nil
	}, onError)
}

// WatchCategories pushes a full category snapshot now and after every change.
func (s *Storage) WatchCategories(userID string, onSnapshot func([]domain.Category), onError func(error)) func() {
	return s.watch(collectionCategories, userID, func(ctx context.Context, fresh bool) (func(), error) {
		cats, err := s.fetchCategories(ctx, userID, fresh)
		if err != nil {
			return nil, err
		}
		return func() { onSnapshot(cats) }, nil
	}, onError)
}

// InsertTask stores a new task on behalf of principal.
func (s *Storage) InsertTask(ctx context.Context, principal string, t domain.NewTask) (domain.Task, error) {
	if t.UserID != principal {
		return domain.Task{}, fmt.Errorf("%w: task owner %q differs from caller", ErrPermissionDenied, t.UserID)
	}
	ent := taskEntity{
		entityKeys:    entityKeys{PartitionKey: principal, RowKey: uuid.NewString()},
		Title:         t.Title,
		Description:   t.Description,
		Completed:     false,
		DueDate:       t.DueDate.UTC(),
		DueDateType:   edmDateTime,
		CreatedAt:     nextTimestamp(),
		CreatedAtType: edmInt64,
		CategoryID:    t.CategoryID,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.tasks.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, classify(err)
	}
	s.changed(ctx, collectionTasks, principal, ent.RowKey, TaskCreated)
	return ent.toDomain(), nil
}

// InsertCategory stores a new category on behalf of principal. Names are not
// deduplicated.
func (s *Storage) InsertCategory(ctx context.Context, principal string, c domain.NewCategory) (domain.Category, error) {
	if c.UserID != principal {
		return domain.Category{}, fmt.Errorf("%w: category owner %q differs from caller", ErrPermissionDenied, c.UserID)
	}
	ent := categoryEntity{
		entityKeys: entityKeys{PartitionKey: principal, RowKey: uuid.NewString()},
		Name:       c.Name,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Category{}, err
	}
	if _, err := s.categories.AddEntity(ctx, payload, nil); err != nil {
		return domain.Category{}, classify(err)
	}
	s.changed(ctx, collectionCategories, principal, ent.RowKey, CategoryCreated)
	return domain.Category{ID: ent.RowKey, Name: ent.Name, UserID: principal}, nil
}

// SetTaskCompleted merges the completed flag into an existing task. Tasks
// are partitioned by owner, so a foreign task id resolves to ErrNotFound.
func (s *Storage) SetTaskCompleted(ctx context.Context, principal, taskID string, completed bool) error {
	upd := taskCompletionUpdate{
		entityKeys:    entityKeys{PartitionKey: principal, RowKey: taskID},
		Completed:     completed,
		CompletedType: edmBoolean,
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	if _, err := s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return classify(err)
	}
	evType := TaskCompleted
	if !completed {
		evType = TaskReopened
	}
	s.changed(ctx, collectionTasks, principal, taskID, evType)
	return nil
}

// DeleteTask removes a task. Deleting a missing task succeeds.
func (s *Storage) DeleteTask(ctx context.Context, principal, taskID string) error {
	et := azcore.ETagAny
	if _, err := s.tasks.DeleteEntity(ctx, principal, taskID, &aztables.DeleteEntityOptions{IfMatch: &et}); err != nil {
		if cerr := classify(err); !errors.Is(cerr, ErrNotFound) {
			return cerr
		}
		return nil
	}
	s.changed(ctx, collectionTasks, principal, taskID, TaskDeleted)
	return nil
}

// changed runs after a successful write: the cached snapshot is dropped,
// watchers are notified and the event feed receives the mutation. The write
// is already committed, so caller cancellation does not stop this work.
func (s *Storage) changed(ctx context.Context, collection, userID, entityID, eventType string) {
	ctx = context.WithoutCancel(ctx)
	s.cache.Evict(ctx, collection, userID)
	if err := s.redis.Publish(ctx, changeChannel(collection, userID), eventType).Err(); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"collection": collection, "user": userID}).Error("unable to publish change notification")
	}
	s.publishEvent(ctx, newEvent(collection, userID, entityID, eventType))
}
