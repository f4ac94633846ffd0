package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifica al autor de un turno de conversación
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ChatMessage is a single role-tagged turn.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// Specialty selects the system prompt template of a conversation.
type Specialty string

const (
	SpecialtyGeneral     Specialty = "general"
	SpecialtyRadiology   Specialty = "radiology"
	SpecialtyCardiology  Specialty = "cardiology"
	SpecialtyNeurology   Specialty = "neurology"
	SpecialtyDermatology Specialty = "dermatology"
	SpecialtyGynecology  Specialty = "gynecology"
)

// Specialties lists every known specialty in display order.
var Specialties = []Specialty{
	SpecialtyGeneral,
	SpecialtyRadiology,
	SpecialtyCardiology,
	SpecialtyNeurology,
	SpecialtyDermatology,
	SpecialtyGynecology,
}

// Legacy labels stored by the previous backend (Spanish, accented).
var specialtyAliases = map[string]Specialty{
	"general":      SpecialtyGeneral,
	"radiologia":   SpecialtyRadiology,
	"radiología":   SpecialtyRadiology,
	"cardiologia":  SpecialtyCardiology,
	"cardiología":  SpecialtyCardiology,
	"neurologia":   SpecialtyNeurology,
	"neurología":   SpecialtyNeurology,
	"dermatologia": SpecialtyDermatology,
	"dermatología": SpecialtyDermatology,
	"ginecologia":  SpecialtyGynecology,
	"ginecología":  SpecialtyGynecology,
}

// Valid reports whether s is one of the known specialties.
func (s Specialty) Valid() bool {
	for _, known := range Specialties {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSpecialty normaliza una etiqueta de especialidad.
// Valores desconocidos devuelven (SpecialtyGeneral, false).
func ParseSpecialty(raw string) (Specialty, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if s := Specialty(v); s.Valid() {
		return s, true
	}
	if s, ok := specialtyAliases[v]; ok {
		return s, true
	}
	return SpecialtyGeneral, false
}

// SessionSummary is the read-only projection of a resident conversation.
type SessionSummary struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	Specialty      Specialty `json:"specialty"`
	LastActivity   time.Time `json:"last_activity"`
	MessageCount   int       `json:"message_count"`
	TokenCount     int       `json:"token_count"`
}
