package domain

import (
	"context"
	"time"

	pkgError "github.com/AzielCF/az-medchat/pkg/error"
	"github.com/google/uuid"
)

// ErrConversationNotFound is returned by ConversationStore.LoadConversation when
// the id has no durable record.
var ErrConversationNotFound = pkgError.NotFoundError("conversation not found")

// ConversationMeta describes a durable conversation record.
type ConversationMeta struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Specialty Specialty `json:"specialty"`
	OwnerID   string    `json:"owner_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationRecord is a conversation's metadata plus its ordered history.
type ConversationRecord struct {
	Meta     ConversationMeta
	Messages []ChatMessage
}

// ConversationStore is the durable store collaborator.
// Implementations: GORM (SQLite/Postgres) and Valkey.
type ConversationStore interface {
	// LoadConversation returns metadata and history ordered oldest first.
	// Returns ErrConversationNotFound if the conversation does not exist.
	LoadConversation(ctx context.Context, id uuid.UUID) (*ConversationRecord, error)

	// AppendMessage persists a single message at the end of the conversation.
	AppendMessage(ctx context.Context, id uuid.UUID, msg ChatMessage) error

	// CreateConversation stores new metadata and returns the assigned id.
	// A zero meta.ID lets the store generate one.
	CreateConversation(ctx context.Context, meta ConversationMeta) (uuid.UUID, error)

	// ListConversations returns the owner's conversations, newest first.
	ListConversations(ctx context.Context, ownerID string) ([]ConversationMeta, error)
}
