package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/internal/repository"
	"github.com/capitalize-ai/bill-assistant/internal/storage"
	"github.com/capitalize-ai/bill-assistant/internal/worker"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &logger.Logger{Logger: zap.New(core)}, logs
}

// fakeBlobStore is an in-memory storage.Store with injectable failures.
type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	puts      int
	deletes   []string
	putErr    error
	deleteErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (s *fakeBlobStore) Put(ctx context.Context, data []byte, name, mimeType string) (*storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return nil, s.putErr
	}
	key := storage.NewKey(testNow, name)
	s.objects[key] = data
	return &storage.Object{Key: key, URL: storage.PublicURL("https://cdn.example.com", key), Size: int64(len(data))}, nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, key)
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.objects[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *fakeBlobStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// fakeFileStore keeps records in memory and can fail inserts.
type fakeFileStore struct {
	mu        sync.Mutex
	records   map[int64]*model.UploadedFile
	nextID    int64
	insertErr error
	lastKey   string
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{records: map[int64]*model.UploadedFile{}}
}

func (s *fakeFileStore) Insert(ctx context.Context, f *model.UploadedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastKey = f.StorageKey
	if s.insertErr != nil {
		return s.insertErr
	}
	s.nextID++
	f.ID = s.nextID
	cp := *f
	s.records[f.ID] = &cp
	return nil
}

func (s *fakeFileStore) GetByID(ctx context.Context, id int64) (*model.UploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, e *model.Event) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *e)
	return uint64(len(p.events)), nil
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.EventType
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// recordingSubmitter queues tasks without running them.
type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []worker.Task
}

func (s *recordingSubmitter) Submit(t worker.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	return true
}

func (s *recordingSubmitter) submitted() []worker.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]worker.Task(nil), s.tasks...)
}

var errInjected = errors.New("injected failure")

// newCategoryFixture opens an in-memory database with the system categories.
func newCategoryFixture(t *testing.T) (*repository.DB, *repository.CategoryRepository) {
	t.Helper()
	ctx := context.Background()

	db, err := repository.Open(ctx, repository.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	categories := repository.NewCategoryRepository(db, logger.NewNop())
	_, err = repository.SeedSystemCategories(ctx, db, categories)
	require.NoError(t, err)
	return db, categories
}
