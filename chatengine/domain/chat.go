package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatRequest is one user turn. A nil ConversationID starts a new conversation.
type ChatRequest struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	Message        string    `json:"message"`
	Specialty      Specialty `json:"specialty"`
	IncludeRAG     bool      `json:"include_rag"`
}

type ChatResponse struct {
	Reply          string        `json:"reply"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	Elapsed        time.Duration `json:"elapsed"`
	Model          string        `json:"model"`
}
