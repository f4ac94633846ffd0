package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/AzielCF/az-medchat/chatengine/repository"
	"github.com/AzielCF/az-medchat/pkg/persistworker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSweepInterval  = 5 * time.Minute
	DefaultPersistTimeout = 10 * time.Second

	// anonymousOwner owns transient contexts built for unknown conversations.
	anonymousOwner = "anonymous"
	ragHeader      = "\n\nRELEVANT CONTEXT:\n"
)

// Scheduler runs a long-lived task. *conc.WaitGroup satisfies it, which lets
// the composition root wait for the sweep on shutdown.
type Scheduler interface {
	Go(func())
}

// PersistDispatcher accepts fire-and-forget persistence jobs.
// *persistworker.Pool satisfies it.
type PersistDispatcher interface {
	TryDispatch(job persistworker.Job) bool
}

// ManagerDeps agrupa los colaboradores del ContextManager
type ManagerDeps struct {
	Store          domain.ConversationStore
	Retriever      domain.Retriever
	Persister      PersistDispatcher
	Logger         logrus.FieldLogger
	SweepInterval  time.Duration
	PersistTimeout time.Duration
}

// ManagerStats is a snapshot for diagnostics.
type ManagerStats struct {
	Cache repository.CacheStats `json:"cache"`
	Locks int                   `json:"locks"`
}

// conversationLock serializes mutations of one conversation. refs counts
// callers holding or waiting on mu; the sweep only reclaims idle locks.
type conversationLock struct {
	mu   sync.Mutex
	refs int
}

// ContextManager coordinates cache lookups, durable loads, ordered appends and
// prompt assembly for every active conversation.
//
// Per-conversation locks are created lazily and reclaimed only by the
// background sweep, once their conversation has left the cache and nobody
// holds them. The sweep is therefore required for bounded memory.
type ContextManager struct {
	cache          *repository.ConversationCache
	store          domain.ConversationStore
	retriever      domain.Retriever
	persister      PersistDispatcher
	log            logrus.FieldLogger
	sweepInterval  time.Duration
	persistTimeout time.Duration

	locksMu sync.Mutex
	locks   map[uuid.UUID]*conversationLock
}

type goScheduler struct{}

func (goScheduler) Go(f func()) { go f() }

// NewContextManager builds the manager and starts its sweep on sched. The
// sweep stops when ctx is cancelled. A nil sched runs the sweep on a plain
// goroutine.
func NewContextManager(ctx context.Context, sched Scheduler, cache *repository.ConversationCache, deps ManagerDeps) *ContextManager {
	if cache == nil {
		cache = repository.NewConversationCache(0, 0)
	}
	if deps.Retriever == nil {
		deps.Retriever = domain.NoopRetriever{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.SweepInterval <= 0 {
		deps.SweepInterval = DefaultSweepInterval
	}
	if deps.PersistTimeout <= 0 {
		deps.PersistTimeout = DefaultPersistTimeout
	}
	if sched == nil {
		sched = goScheduler{}
	}

	m := &ContextManager{
		cache:          cache,
		store:          deps.Store,
		retriever:      deps.Retriever,
		persister:      deps.Persister,
		log:            deps.Logger,
		sweepInterval:  deps.SweepInterval,
		persistTimeout: deps.PersistTimeout,
		locks:          make(map[uuid.UUID]*conversationLock),
	}

	sched.Go(func() {
		m.sweepLoop(ctx)
	})
	return m
}

// GetConversationContext returns the resident context or loads it from the
// durable store. Store failures degrade to a fresh empty context.
func (m *ContextManager) GetConversationContext(ctx context.Context, id uuid.UUID, ownerID string, specialty domain.Specialty) *domain.ConversationContext {
	if conv, ok := m.cache.Get(id); ok {
		return conv
	}

	lock := m.acquire(id)
	defer m.release(id, lock)

	// another caller may have loaded it while we waited
	if conv, ok := m.cache.Get(id); ok {
		return conv
	}

	conv := m.loadFromStore(ctx, id, ownerID, specialty)
	m.cache.Put(conv)
	return conv
}

func (m *ContextManager) loadFromStore(ctx context.Context, id uuid.UUID, ownerID string, specialty domain.Specialty) *domain.ConversationContext {
	conv := domain.NewConversationContext(id, ownerID, specialty)
	if m.store == nil {
		return conv
	}

	record, err := m.store.LoadConversation(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			m.log.WithField("conversation_id", id).Debug("[CONTEXT_MANAGER] No durable record, starting empty context")
		} else {
			m.log.WithError(err).WithField("conversation_id", id).Warn("[CONTEXT_MANAGER] Failed to load conversation, starting empty context")
		}
		return conv
	}

	if record.Meta.Specialty != "" {
		conv.Specialty = record.Meta.Specialty
	}
	conv.RestoreMessages(record.Messages)

	m.log.WithFields(logrus.Fields{
		"conversation_id": id,
		"messages":        conv.MessageCount(),
		"tokens":          conv.TokenCount(),
	}).Debug("[CONTEXT_MANAGER] Conversation loaded from store")
	return conv
}

// AddMessageToContext appends msg under the conversation's lock and then hands
// persistence to the background dispatcher. Concurrent appends to the same id
// are applied one at a time; different ids never wait on each other.
func (m *ContextManager) AddMessageToContext(ctx context.Context, id uuid.UUID, msg domain.ChatMessage, ownerID string) *domain.ConversationContext {
	lock := m.acquire(id)

	conv, ok := m.cache.Get(id)
	if !ok {
		conv = domain.NewConversationContext(id, ownerID, domain.SpecialtyGeneral)
	}
	conv.AddMessage(msg)
	if !m.cache.Update(id, conv) {
		m.cache.Put(conv)
	}

	m.release(id, lock)

	m.persist(id, msg)
	return conv
}

func (m *ContextManager) persist(id uuid.UUID, msg domain.ChatMessage) {
	if m.store == nil {
		return
	}

	job := persistworker.Job{
		Key: id.String(),
		Handler: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, m.persistTimeout)
			defer cancel()
			if err := m.store.AppendMessage(ctx, id, msg); err != nil {
				return fmt.Errorf("persist message for %s: %w", id, err)
			}
			return nil
		},
	}

	if m.persister == nil {
		go func() {
			if err := job.Handler(context.Background()); err != nil {
				m.log.WithError(err).Error("[CONTEXT_MANAGER] Failed to persist message")
			}
		}()
		return
	}
	if !m.persister.TryDispatch(job) {
		m.log.WithField("conversation_id", id).Warn("[CONTEXT_MANAGER] Persistence queue rejected message, durable copy skipped")
	}
}

// GetContextForAI assembles the prompt for the generation endpoint. Unknown
// conversations get a transient, uncached context. Retrieved snippets are
// appended to the leading system message of the returned copy.
func (m *ContextManager) GetContextForAI(ctx context.Context, id uuid.UUID, includeRAG bool, ragQuery string) []domain.ChatMessage {
	conv, ok := m.cache.Get(id)
	if !ok {
		m.log.WithField("conversation_id", id).Warn("[CONTEXT_MANAGER] No cached context, using basic context")
		conv = domain.NewConversationContext(id, anonymousOwner, domain.SpecialtyGeneral)
	}

	messages := conv.ContextMessages()

	if includeRAG && ragQuery != "" {
		snippets, err := m.retriever.Search(ctx, ragQuery)
		if err != nil {
			m.log.WithError(err).WithField("conversation_id", id).Warn("[RAG] Retrieval failed, continuing without it")
		} else if len(snippets) > 0 {
			messages[0].Content += formatSnippets(snippets)
		}
	}

	m.log.WithFields(logrus.Fields{
		"conversation_id": id,
		"messages":        len(messages),
	}).Debug("[CONTEXT_MANAGER] Context prepared")
	return messages
}

func formatSnippets(snippets []string) string {
	var b strings.Builder
	b.WriteString(ragHeader)
	for i, s := range snippets {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(s)
	}
	return b.String()
}

// GetUserActiveSessions summarizes the owner's resident conversations, most
// recent first.
func (m *ContextManager) GetUserActiveSessions(ownerID string) []domain.SessionSummary {
	convs := m.cache.UserConversations(ownerID)
	sessions := make([]domain.SessionSummary, 0, len(convs))
	for _, c := range convs {
		sessions = append(sessions, c.Summary())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions
}

func (m *ContextManager) Stats() ManagerStats {
	m.locksMu.Lock()
	locks := len(m.locks)
	m.locksMu.Unlock()
	return ManagerStats{
		Cache: m.cache.Stats(),
		Locks: locks,
	}
}

// acquire returns the id's lock, locked. Map access is guarded so two callers
// never create two locks for the same id.
func (m *ContextManager) acquire(id uuid.UUID) *conversationLock {
	m.locksMu.Lock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &conversationLock{}
		m.locks[id] = lock
	}
	lock.refs++
	m.locksMu.Unlock()

	lock.mu.Lock()
	return lock
}

func (m *ContextManager) release(id uuid.UUID, lock *conversationLock) {
	lock.mu.Unlock()
	m.locksMu.Lock()
	lock.refs--
	m.locksMu.Unlock()
}

func (m *ContextManager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	m.log.Infof("[CONTEXT_MANAGER] Sweep started, interval %s", m.sweepInterval)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("[CONTEXT_MANAGER] Sweep stopped")
			return
		case <-ticker.C:
			m.SweepOnce()
		}
	}
}

// SweepOnce drops expired conversations, then every idle lock whose
// conversation is no longer resident. A panic inside the tick is logged and
// swallowed so the loop keeps running.
func (m *ContextManager) SweepOnce() (expired, reclaimed int) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("[CONTEXT_MANAGER] Sweep panic: %v", r)
		}
	}()

	expired = m.cache.CleanupExpired()
	resident := m.cache.IDs()

	m.locksMu.Lock()
	for id, lock := range m.locks {
		if _, ok := resident[id]; ok || lock.refs > 0 {
			continue
		}
		delete(m.locks, id)
		reclaimed++
	}
	m.locksMu.Unlock()

	if expired > 0 || reclaimed > 0 {
		m.log.WithFields(logrus.Fields{
			"expired":   expired,
			"reclaimed": reclaimed,
		}).Info("[CONTEXT_MANAGER] Sweep completed")
	}
	return expired, reclaimed
}
