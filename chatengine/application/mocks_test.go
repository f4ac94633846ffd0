package application

import (
	"context"
	"sync"
	"time"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/AzielCF/az-medchat/pkg/persistworker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStore tracks durable store calls
type MockStore struct {
	mock.Mock
}

func (m *MockStore) LoadConversation(ctx context.Context, id uuid.UUID) (*domain.ConversationRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*domain.ConversationRecord)
	return rec, args.Error(1)
}

func (m *MockStore) AppendMessage(ctx context.Context, id uuid.UUID, msg domain.ChatMessage) error {
	args := m.Called(ctx, id, msg)
	return args.Error(0)
}

func (m *MockStore) CreateConversation(ctx context.Context, meta domain.ConversationMeta) (uuid.UUID, error) {
	args := m.Called(ctx, meta)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockStore) ListConversations(ctx context.Context, ownerID string) ([]domain.ConversationMeta, error) {
	args := m.Called(ctx, ownerID)
	metas, _ := args.Get(0).([]domain.ConversationMeta)
	return metas, args.Error(1)
}

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Search(ctx context.Context, query string) ([]string, error) {
	args := m.Called(ctx, query)
	snippets, _ := args.Get(0).([]string)
	return snippets, args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Complete(ctx context.Context, messages []domain.ChatMessage) (domain.Completion, error) {
	args := m.Called(ctx, messages)
	return args.Get(0).(domain.Completion), args.Error(1)
}

// inlineDispatcher runs jobs synchronously so tests can assert on the store
// right after AddMessageToContext returns.
type inlineDispatcher struct {
	reject bool
	mu     sync.Mutex
	jobs   int
}

func (d *inlineDispatcher) TryDispatch(job persistworker.Job) bool {
	if d.reject {
		return false
	}
	d.mu.Lock()
	d.jobs++
	d.mu.Unlock()
	_ = job.Handler(context.Background())
	return true
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
