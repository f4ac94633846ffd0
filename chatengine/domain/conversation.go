package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxContextMessages is the capacity of the in-memory history buffer.
	MaxContextMessages = 50
	// DefaultMaxTokens is the model capacity assumed for a conversation.
	DefaultMaxTokens = 4096
	// DefaultContextWindow is the token budget kept for history; the rest of
	// DefaultMaxTokens is left for the model reply.
	DefaultContextWindow = 3000
	// minRetainedMessages is the floor trimming never goes below.
	minRetainedMessages = 2
)

// ConversationContext holds one conversation's bounded, token-budgeted history.
//
// Identity and configuration fields are set at construction and not changed
// afterwards. The history, token count and activity timestamp are guarded by an
// internal lock; callers that need a read-modify-write sequence across several
// calls (ContextManager) serialize on their own per-conversation lock.
type ConversationContext struct {
	ConversationID uuid.UUID
	OwnerID        string
	Specialty      Specialty
	Metadata       map[string]any
	MaxTokens      int
	ContextWindow  int

	mu           sync.RWMutex
	messages     []ChatMessage
	tokenCount   int
	lastActivity time.Time
}

// NewConversationContext crea un contexto vacío con los límites por defecto
func NewConversationContext(id uuid.UUID, ownerID string, specialty Specialty) *ConversationContext {
	return &ConversationContext{
		ConversationID: id,
		OwnerID:        ownerID,
		Specialty:      specialty,
		Metadata:       make(map[string]any),
		MaxTokens:      DefaultMaxTokens,
		ContextWindow:  DefaultContextWindow,
		messages:       make([]ChatMessage, 0, MaxContextMessages),
		lastActivity:   time.Now(),
	}
}

// AddMessage appends msg, refreshes the activity timestamp and trims the oldest
// turns while the history exceeds the context window.
func (c *ConversationContext) AddMessage(msg ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.appendLocked(msg)
	c.lastActivity = time.Now()
	c.trimLocked()
}

// RestoreMessages loads persisted history into an empty context.
// Only the newest MaxContextMessages survive and the window is enforced as if
// every message had been added one by one.
func (c *ConversationContext) RestoreMessages(msgs []ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range msgs {
		c.appendLocked(m)
		c.trimLocked()
	}
	c.lastActivity = time.Now()
}

func (c *ConversationContext) appendLocked(msg ChatMessage) {
	if len(c.messages) >= MaxContextMessages {
		dropped := c.messages[0]
		copy(c.messages, c.messages[1:])
		c.messages = c.messages[:len(c.messages)-1]
		c.tokenCount -= EstimateTokens(dropped.Content)
	}
	c.messages = append(c.messages, msg)
	c.tokenCount += EstimateTokens(msg.Content)
}

func (c *ConversationContext) trimLocked() {
	removed := 0
	for c.tokenCount > c.ContextWindow && len(c.messages)-removed > minRetainedMessages {
		c.tokenCount -= EstimateTokens(c.messages[removed].Content)
		removed++
	}
	if removed > 0 {
		n := copy(c.messages, c.messages[removed:])
		clear(c.messages[n:])
		c.messages = c.messages[:n]
	}
}

// ContextMessages returns the model-ready history. The first element is always a
// system turn: when the buffer is empty or not headed by one, the specialty
// prompt is prepended to the returned copy (never stored).
func (c *ConversationContext) ContextMessages() []ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.messages) > 0 && c.messages[0].Role == RoleSystem {
		out := make([]ChatMessage, len(c.messages))
		copy(out, c.messages)
		return out
	}

	out := make([]ChatMessage, 0, len(c.messages)+1)
	out = append(out, c.SystemPrompt())
	out = append(out, c.messages...)
	return out
}

// SystemPrompt synthesizes the system turn for this conversation's specialty.
func (c *ConversationContext) SystemPrompt() ChatMessage {
	return SystemMessage(BuildSystemPrompt(c.Specialty))
}

// Messages returns a copy of the buffered history.
func (c *ConversationContext) Messages() []ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *ConversationContext) MessageCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// TokenCount is the running estimate for the buffered history, excluding any
// synthesized system prompt.
func (c *ConversationContext) TokenCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenCount
}

func (c *ConversationContext) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// SetLastActivity overrides the activity timestamp.
func (c *ConversationContext) SetLastActivity(t time.Time) {
	c.mu.Lock()
	c.lastActivity = t
	c.mu.Unlock()
}

// Summary projects the context into a SessionSummary.
func (c *ConversationContext) Summary() SessionSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SessionSummary{
		ConversationID: c.ConversationID,
		OwnerID:        c.OwnerID,
		Specialty:      c.Specialty,
		LastActivity:   c.lastActivity,
		MessageCount:   len(c.messages),
		TokenCount:     c.tokenCount,
	}
}
