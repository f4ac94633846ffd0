package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/AzielCF/az-medchat/chatengine/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type managerFixture struct {
	manager    *ContextManager
	cache      *repository.ConversationCache
	store      *MockStore
	retriever  *MockRetriever
	dispatcher *inlineDispatcher
	clock      *testClock
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var wg conc.WaitGroup
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	f := &managerFixture{
		store:      &MockStore{},
		retriever:  &MockRetriever{},
		dispatcher: &inlineDispatcher{},
		clock:      newTestClock(),
	}
	f.cache = repository.NewConversationCache(100, 30*time.Minute, repository.WithClock(f.clock.Now))
	f.manager = NewContextManager(ctx, &wg, f.cache, ManagerDeps{
		Store:     f.store,
		Retriever: f.retriever,
		Persister: f.dispatcher,
		Logger:    quietLogger(),
		// los tests llaman SweepOnce directamente
		SweepInterval: time.Hour,
	})
	return f
}

func TestContextManager_LoadsFromStoreOnMiss(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()

	history := make([]domain.ChatMessage, 0, 70)
	for i := 0; i < 70; i++ {
		history = append(history, domain.UserMessage(fmt.Sprintf("turn %d", i)))
	}
	f.store.On("LoadConversation", mock.Anything, id).Return(&domain.ConversationRecord{
		Meta:     domain.ConversationMeta{ID: id, Specialty: domain.SpecialtyCardiology, OwnerID: "user-1"},
		Messages: history,
	}, nil).Once()

	conv := f.manager.GetConversationContext(context.Background(), id, "user-1", domain.SpecialtyGeneral)

	assert.Equal(t, domain.SpecialtyCardiology, conv.Specialty)
	assert.Equal(t, domain.MaxContextMessages, conv.MessageCount())
	assert.Equal(t, "turn 20", conv.Messages()[0].Content)
	assert.True(t, f.cache.Contains(id))

	// second call is a cache hit
	again := f.manager.GetConversationContext(context.Background(), id, "user-1", domain.SpecialtyGeneral)
	assert.Same(t, conv, again)
	f.store.AssertNumberOfCalls(t, "LoadConversation", 1)
}

func TestContextManager_StoreFailureFallsBackToEmpty(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()
	f.store.On("LoadConversation", mock.Anything, id).Return(nil, errors.New("connection refused"))

	conv := f.manager.GetConversationContext(context.Background(), id, "user-1", domain.SpecialtyNeurology)

	require.NotNil(t, conv)
	assert.Equal(t, 0, conv.MessageCount())
	assert.Equal(t, domain.SpecialtyNeurology, conv.Specialty)
	assert.Equal(t, "user-1", conv.OwnerID)
	assert.True(t, f.cache.Contains(id))
}

func TestContextManager_NotFoundStartsEmpty(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()
	f.store.On("LoadConversation", mock.Anything, id).Return(nil, domain.ErrConversationNotFound)

	conv := f.manager.GetConversationContext(context.Background(), id, "user-1", domain.SpecialtyGeneral)
	assert.Equal(t, 0, conv.MessageCount())
}

func TestContextManager_AddMessagePersistsAndCaches(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()
	msg := domain.UserMessage("I have chest pain")
	f.store.On("AppendMessage", mock.Anything, id, msg).Return(nil).Once()

	conv := f.manager.AddMessageToContext(context.Background(), id, msg, "user-1")

	assert.Equal(t, 1, conv.MessageCount())
	assert.Equal(t, domain.SpecialtyGeneral, conv.Specialty)
	assert.True(t, f.cache.Contains(id))
	f.store.AssertExpectations(t)
}

func TestContextManager_RejectedPersistenceKeepsCache(t *testing.T) {
	f := newManagerFixture(t)
	f.dispatcher.reject = true
	id := uuid.New()

	conv := f.manager.AddMessageToContext(context.Background(), id, domain.UserMessage("hola"), "user-1")

	assert.Equal(t, 1, conv.MessageCount())
	f.store.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestContextManager_PersistFailureDoesNotSurface(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()
	f.store.On("AppendMessage", mock.Anything, id, mock.Anything).Return(errors.New("disk full"))

	conv := f.manager.AddMessageToContext(context.Background(), id, domain.UserMessage("hola"), "user-1")
	assert.Equal(t, 1, conv.MessageCount())
}

func TestContextManager_ConcurrentAddsSameConversation(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()
	f.store.On("AppendMessage", mock.Anything, id, mock.Anything).Return(nil)

	const writers = 40
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			f.manager.AddMessageToContext(context.Background(), id, domain.UserMessage(fmt.Sprintf("message %02d", n)), "user-1")
		}(i)
	}
	wg.Wait()

	conv, ok := f.cache.Get(id)
	require.True(t, ok)
	assert.Equal(t, writers, conv.MessageCount())
	assert.Equal(t, domain.EstimateMessagesTokens(conv.Messages()), conv.TokenCount())
	f.store.AssertNumberOfCalls(t, "AppendMessage", writers)
}

func TestContextManager_DifferentConversationsDoNotBlock(t *testing.T) {
	f := newManagerFixture(t)
	busy, free := uuid.New(), uuid.New()
	f.store.On("AppendMessage", mock.Anything, free, mock.Anything).Return(nil)

	lock := f.manager.acquire(busy)
	defer f.manager.release(busy, lock)

	done := make(chan struct{})
	go func() {
		f.manager.AddMessageToContext(context.Background(), free, domain.UserMessage("hola"), "user-1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("append on an unrelated conversation waited on a held lock")
	}
}

func TestContextManager_GetContextForAIUnknownConversation(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()

	msgs := f.manager.GetContextForAI(context.Background(), id, false, "")

	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, domain.BuildSystemPrompt(domain.SpecialtyGeneral), msgs[0].Content)
	assert.False(t, f.cache.Contains(id))
}

func TestContextManager_GetContextForAIAppendsSnippets(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()
	f.store.On("AppendMessage", mock.Anything, id, mock.Anything).Return(nil)
	f.retriever.On("Search", mock.Anything, "similar cases").
		Return([]string{"Report A: mild cardiomegaly...", "Report B: clear lungs..."}, nil)

	f.manager.AddMessageToContext(context.Background(), id, domain.UserMessage("similar cases"), "user-1")
	msgs := f.manager.GetContextForAI(context.Background(), id, true, "similar cases")

	require.Len(t, msgs, 2)
	assert.True(t, strings.HasSuffix(msgs[0].Content,
		"\n\nRELEVANT CONTEXT:\n- Report A: mild cardiomegaly...\n- Report B: clear lungs..."))

	// la conversación cacheada no debe cambiar
	conv, _ := f.cache.Get(id)
	stored := conv.ContextMessages()
	assert.NotContains(t, stored[0].Content, "RELEVANT CONTEXT")
	assert.Equal(t, 1, conv.MessageCount())
}

func TestContextManager_RetrievalFailureIsIgnored(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()
	f.retriever.On("Search", mock.Anything, "historial").Return(nil, errors.New("embedding endpoint down"))

	msgs := f.manager.GetContextForAI(context.Background(), id, true, "historial")

	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].Content, "RELEVANT CONTEXT")
}

func TestContextManager_RAGDisabledSkipsRetriever(t *testing.T) {
	f := newManagerFixture(t)

	f.manager.GetContextForAI(context.Background(), uuid.New(), false, "similar cases")
	f.retriever.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestContextManager_RetrievalQueryPassedAsIs(t *testing.T) {
	f := newManagerFixture(t)
	f.retriever.On("Search", mock.Anything, "   ").Return(nil, nil).Once()

	msgs := f.manager.GetContextForAI(context.Background(), uuid.New(), true, "   ")
	require.Len(t, msgs, 1)
	f.retriever.AssertCalled(t, "Search", mock.Anything, "   ")

	f.manager.GetContextForAI(context.Background(), uuid.New(), true, "")
	f.retriever.AssertNumberOfCalls(t, "Search", 1)
}

func TestContextManager_UserActiveSessionsSortedByActivity(t *testing.T) {
	f := newManagerFixture(t)
	older, newer, foreign := uuid.New(), uuid.New(), uuid.New()
	f.store.On("AppendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f.manager.AddMessageToContext(context.Background(), older, domain.UserMessage("first"), "user-1")
	f.manager.AddMessageToContext(context.Background(), newer, domain.UserMessage("second"), "user-1")
	f.manager.AddMessageToContext(context.Background(), foreign, domain.UserMessage("other"), "user-2")

	c, _ := f.cache.Get(older)
	c.SetLastActivity(time.Now().Add(-10 * time.Minute))

	sessions := f.manager.GetUserActiveSessions("user-1")
	require.Len(t, sessions, 2)
	assert.Equal(t, newer, sessions[0].ConversationID)
	assert.Equal(t, older, sessions[1].ConversationID)
	assert.Empty(t, f.manager.GetUserActiveSessions("nobody"))
}

func TestContextManager_SweepReclaimsOrphanLocks(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()
	f.store.On("AppendMessage", mock.Anything, id, mock.Anything).Return(nil)

	f.manager.AddMessageToContext(context.Background(), id, domain.UserMessage("hola"), "user-1")
	assert.Equal(t, 1, f.manager.Stats().Locks)

	// still resident: nothing to reclaim
	expired, reclaimed := f.manager.SweepOnce()
	assert.Zero(t, expired)
	assert.Zero(t, reclaimed)

	f.clock.Advance(31 * time.Minute)
	expired, reclaimed = f.manager.SweepOnce()
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, reclaimed)

	stats := f.manager.Stats()
	assert.Zero(t, stats.Locks)
	assert.Zero(t, stats.Cache.Resident)
}

func TestContextManager_SweepKeepsHeldLocks(t *testing.T) {
	f := newManagerFixture(t)
	id := uuid.New()

	lock := f.manager.acquire(id)
	_, reclaimed := f.manager.SweepOnce()
	assert.Zero(t, reclaimed)
	f.manager.release(id, lock)

	_, reclaimed = f.manager.SweepOnce()
	assert.Equal(t, 1, reclaimed)
}

func TestContextManager_SweepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg conc.WaitGroup
	NewContextManager(ctx, &wg, nil, ManagerDeps{Logger: quietLogger(), SweepInterval: 10 * time.Millisecond})

	time.Sleep(30 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop after cancel")
	}
}
