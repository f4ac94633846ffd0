package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	pkgError "github.com/AzielCF/az-medchat/pkg/error"
	"github.com/AzielCF/az-medchat/pkg/turnmonitor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newChatFixture(t *testing.T) (*ChatService, *managerFixture, *MockGenerator) {
	t.Helper()
	f := newManagerFixture(t)
	gen := &MockGenerator{}
	svc := NewChatService(ChatServiceDeps{
		Manager:        f.manager,
		Store:          f.store,
		Generator:      gen,
		Logger:         quietLogger(),
		RequestTimeout: time.Second,
		Model:          "tgi",
	})
	return svc, f, gen
}

func TestChatService_NewConversationTurn(t *testing.T) {
	svc, f, gen := newChatFixture(t)
	id := uuid.New()

	f.store.On("CreateConversation", mock.Anything, mock.MatchedBy(func(meta domain.ConversationMeta) bool {
		return meta.Title == "Consultation cardiology" && meta.OwnerID == "user-1" && meta.Active
	})).Return(id, nil).Once()
	f.store.On("LoadConversation", mock.Anything, id).Return(nil, domain.ErrConversationNotFound).Once()
	f.store.On("AppendMessage", mock.Anything, id, mock.Anything).Return(nil)
	gen.On("Complete", mock.Anything, mock.MatchedBy(func(msgs []domain.ChatMessage) bool {
		return len(msgs) == 2 &&
			msgs[0].Role == domain.RoleSystem &&
			msgs[1].Content == "My heart races at night"
	})).Return(domain.Completion{Text: "Palpitations can have many causes.", Model: ""}, nil).Once()

	resp, err := svc.ProcessMessage(context.Background(), domain.ChatRequest{
		OwnerID:   "user-1",
		Message:   "My heart races at night",
		Specialty: domain.SpecialtyCardiology,
	})
	require.NoError(t, err)

	assert.Equal(t, id, resp.ConversationID)
	assert.Equal(t, "Palpitations can have many causes.", resp.Reply)
	assert.Equal(t, "tgi", resp.Model)
	assert.Greater(t, resp.Elapsed, time.Duration(0))

	conv, ok := f.cache.Get(id)
	require.True(t, ok)
	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, domain.SpecialtyCardiology, conv.Specialty)
	f.store.AssertNumberOfCalls(t, "AppendMessage", 2)
	gen.AssertExpectations(t)
}

func TestChatService_GenerationFailureLeavesNoAssistantMessage(t *testing.T) {
	svc, f, gen := newChatFixture(t)
	id := uuid.New()

	f.store.On("LoadConversation", mock.Anything, id).Return(nil, domain.ErrConversationNotFound)
	f.store.On("AppendMessage", mock.Anything, id, mock.Anything).Return(nil)
	gen.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{}, context.DeadlineExceeded)

	_, err := svc.ProcessMessage(context.Background(), domain.ChatRequest{
		ConversationID: id,
		OwnerID:        "user-1",
		Message:        "hola",
	})

	var genErr *domain.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, id.String(), genErr.ConversationID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "GENERATION_ERROR", genErr.ErrCode())

	conv, ok := f.cache.Get(id)
	require.True(t, ok)
	require.Equal(t, 1, conv.MessageCount())
	assert.Equal(t, domain.RoleUser, conv.Messages()[0].Role)
}

func TestChatService_EmptyCompletionIsAFailure(t *testing.T) {
	svc, f, gen := newChatFixture(t)
	id := uuid.New()

	f.store.On("LoadConversation", mock.Anything, id).Return(nil, domain.ErrConversationNotFound)
	f.store.On("AppendMessage", mock.Anything, id, mock.Anything).Return(nil)
	gen.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{Text: "  "}, nil)

	_, err := svc.ProcessMessage(context.Background(), domain.ChatRequest{ConversationID: id, OwnerID: "user-1", Message: "hola"})

	assert.ErrorIs(t, err, errEmptyCompletion)
}

func TestChatService_RecordsTurnEvents(t *testing.T) {
	svc, f, gen := newChatFixture(t)
	svc.monitor = turnmonitor.New(10, 0)
	id := uuid.New()

	f.store.On("LoadConversation", mock.Anything, id).Return(nil, domain.ErrConversationNotFound)
	f.store.On("AppendMessage", mock.Anything, id, mock.Anything).Return(nil)
	gen.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{Text: "ok", Model: "tgi-local"}, nil).Once()
	gen.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{}, errors.New("503")).Once()

	req := domain.ChatRequest{ConversationID: id, OwnerID: "user-1", Message: "hola"}
	_, err := svc.ProcessMessage(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.ProcessMessage(context.Background(), req)
	require.Error(t, err)

	stats := svc.monitor.Stats()
	assert.Equal(t, int64(2), stats.TotalInbound)
	assert.Equal(t, int64(2), stats.TotalGenerations)
	assert.Equal(t, int64(1), stats.TotalReplies)
	assert.Equal(t, int64(1), stats.TotalErrors)
	require.Len(t, stats.RecentEvents, 5)
	assert.Equal(t, "tgi-local", stats.RecentEvents[2].Model)
	assert.Equal(t, "503", stats.RecentEvents[4].Error)
}

func TestChatService_KeywordTriggersRetrieval(t *testing.T) {
	svc, f, gen := newChatFixture(t)
	id := uuid.New()
	question := "¿Hay algún caso similar en el historial?"

	f.store.On("LoadConversation", mock.Anything, id).Return(nil, domain.ErrConversationNotFound)
	f.store.On("AppendMessage", mock.Anything, id, mock.Anything).Return(nil)
	f.retriever.On("Search", mock.Anything, question).Return([]string{"Prior MRI: small lesion..."}, nil).Once()
	gen.On("Complete", mock.Anything, mock.MatchedBy(func(msgs []domain.ChatMessage) bool {
		return msgs[0].Role == domain.RoleSystem &&
			strings.Contains(msgs[0].Content, "RELEVANT CONTEXT:\n- Prior MRI: small lesion...")
	})).Return(domain.Completion{Text: "Sí, existe un caso parecido.", Model: "tgi"}, nil)

	_, err := svc.ProcessMessage(context.Background(), domain.ChatRequest{ConversationID: id, OwnerID: "user-1", Message: question})
	require.NoError(t, err)
	f.retriever.AssertExpectations(t)
}

func TestChatService_PlainQuestionSkipsRetrieval(t *testing.T) {
	svc, f, gen := newChatFixture(t)
	id := uuid.New()

	f.store.On("LoadConversation", mock.Anything, id).Return(nil, domain.ErrConversationNotFound)
	f.store.On("AppendMessage", mock.Anything, id, mock.Anything).Return(nil)
	gen.On("Complete", mock.Anything, mock.Anything).Return(domain.Completion{Text: "Drink water.", Model: "tgi"}, nil)

	_, err := svc.ProcessMessage(context.Background(), domain.ChatRequest{ConversationID: id, OwnerID: "user-1", Message: "I feel dizzy"})
	require.NoError(t, err)
	f.retriever.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestChatService_InvalidRequest(t *testing.T) {
	svc, f, gen := newChatFixture(t)

	_, err := svc.ProcessMessage(context.Background(), domain.ChatRequest{OwnerID: "user-1", Message: ""})

	var vErr pkgError.ValidationError
	assert.ErrorAs(t, err, &vErr)
	f.store.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything)
	gen.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestChatService_CreateConversationFailure(t *testing.T) {
	svc, f, _ := newChatFixture(t)
	f.store.On("CreateConversation", mock.Anything, mock.Anything).Return(uuid.Nil, errors.New("db locked"))

	_, err := svc.ProcessMessage(context.Background(), domain.ChatRequest{OwnerID: "user-1", Message: "hola"})

	assert.ErrorContains(t, err, "failed to create conversation")
}

func TestMentionsCaseHistory(t *testing.T) {
	assert.True(t, mentionsCaseHistory("Any SIMILAR reports?"))
	assert.True(t, mentionsCaseHistory("revisa los antecedentes"))
	assert.False(t, mentionsCaseHistory("me duele la cabeza"))
}
