package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/AzielCF/az-medchat/pkg/turnmonitor"
	"github.com/AzielCF/az-medchat/validations"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultRequestTimeout = 120 * time.Second

// ragKeywords activan la búsqueda de casos aunque el request no la pida
var ragKeywords = []string{
	"similar",
	"case",
	"history",
	"background",
	"caso",
	"antecedente",
	"historial",
}

var errEmptyCompletion = errors.New("endpoint returned an empty reply")

type ChatServiceDeps struct {
	Manager        *ContextManager
	Store          domain.ConversationStore
	Generator      domain.Generator
	Logger         logrus.FieldLogger
	RequestTimeout time.Duration
	// Model is reported when the endpoint does not name one.
	Model string
	// Monitor es opcional
	Monitor *turnmonitor.Monitor
}

// ChatService runs one consultation turn: record the user message, build the
// prompt, ask the generator and record the reply.
type ChatService struct {
	manager   *ContextManager
	store     domain.ConversationStore
	generator domain.Generator
	log       logrus.FieldLogger
	timeout   time.Duration
	model     string
	monitor   *turnmonitor.Monitor
}

func NewChatService(deps ChatServiceDeps) *ChatService {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = DefaultRequestTimeout
	}
	return &ChatService{
		manager:   deps.Manager,
		store:     deps.Store,
		generator: deps.Generator,
		log:       deps.Logger,
		timeout:   deps.RequestTimeout,
		model:     deps.Model,
		monitor:   deps.Monitor,
	}
}

// ProcessMessage handles a user turn. A generation failure returns a
// *domain.GenerationError and leaves no assistant message in the context; the
// user message stays recorded.
func (s *ChatService) ProcessMessage(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	start := time.Now()

	if err := validations.ValidateChatRequest(ctx, req); err != nil {
		return domain.ChatResponse{}, err
	}
	specialty := req.Specialty
	if specialty == "" {
		specialty = domain.SpecialtyGeneral
	}

	id := req.ConversationID
	if id == uuid.Nil {
		created, err := s.createConversation(ctx, req.OwnerID, specialty)
		if err != nil {
			return domain.ChatResponse{}, err
		}
		id = created
	}

	log := s.log.WithFields(logrus.Fields{
		"conversation_id": id,
		"owner_id":        req.OwnerID,
		"specialty":       specialty,
	})

	s.manager.GetConversationContext(ctx, id, req.OwnerID, specialty)
	s.manager.AddMessageToContext(ctx, id, domain.UserMessage(req.Message), req.OwnerID)

	useRAG := req.IncludeRAG || mentionsCaseHistory(req.Message)
	turn := turnmonitor.Event{ConversationID: id.String(), OwnerID: req.OwnerID, Model: s.model, RAG: useRAG}
	s.record(turn, turnmonitor.StageInbound, turnmonitor.StatusOK, nil, 0)
	messages := s.manager.GetContextForAI(ctx, id, useRAG, req.Message)
	log.WithField("rag", useRAG).Debugf("[CHAT] Prompt ready with %d messages", len(messages))

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	genStart := time.Now()
	completion, err := s.generator.Complete(genCtx, messages)
	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = errEmptyCompletion
	}
	if err != nil {
		elapsed := time.Since(start)
		s.record(turn, turnmonitor.StageGeneration, turnmonitor.StatusError, err, time.Since(genStart))
		log.WithError(err).WithField("elapsed", elapsed).Error("[CHAT] Generation failed")
		return domain.ChatResponse{}, &domain.GenerationError{
			ConversationID: id.String(),
			Elapsed:        elapsed,
			Err:            err,
		}
	}

	s.record(turn, turnmonitor.StageGeneration, turnmonitor.StatusOK, nil, time.Since(genStart))
	s.manager.AddMessageToContext(ctx, id, domain.AssistantMessage(completion.Text), req.OwnerID)

	model := completion.Model
	if model == "" {
		model = s.model
	}
	elapsed := time.Since(start)
	turn.Model = model
	s.record(turn, turnmonitor.StageReply, turnmonitor.StatusOK, nil, elapsed)
	log.WithFields(logrus.Fields{
		"elapsed":       elapsed,
		"model":         model,
		"input_tokens":  completion.InputTokens,
		"output_tokens": completion.OutputTokens,
	}).Info("[CHAT] Reply generated")

	return domain.ChatResponse{
		Reply:          completion.Text,
		ConversationID: id,
		Elapsed:        elapsed,
		Model:          model,
	}, nil
}

func (s *ChatService) createConversation(ctx context.Context, ownerID string, specialty domain.Specialty) (uuid.UUID, error) {
	if s.store == nil {
		return uuid.New(), nil
	}
	id, err := s.store.CreateConversation(ctx, domain.ConversationMeta{
		Title:     "Consultation " + string(specialty),
		Specialty: specialty,
		OwnerID:   ownerID,
		Active:    true,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.log.WithFields(logrus.Fields{"conversation_id": id, "owner_id": ownerID}).Info("[CHAT] Conversation created")
	return id, nil
}

// History lists the owner's stored conversations, newest first.
func (s *ChatService) History(ctx context.Context, ownerID string) ([]domain.ConversationMeta, error) {
	if s.store == nil {
		return nil, nil
	}
	metas, err := s.store.ListConversations(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return metas, nil
}

func (s *ChatService) record(e turnmonitor.Event, stage, status string, err error, d time.Duration) {
	if s.monitor == nil {
		return
	}
	e.Stage = stage
	e.Status = status
	e.DurationMs = d.Milliseconds()
	if err != nil {
		e.Error = err.Error()
	}
	s.monitor.Record(e)
}

func mentionsCaseHistory(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range ragKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
