package repository

import (
	"context"
	"path/filepath"
	"testing"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	pkgError "github.com/AzielCF/az-medchat/pkg/error"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB abre una base SQLite temporal aislada por test.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_chat.db")
	db, err := gorm.Open(sqlite.Open("file:"+dbPath+"?_journal_mode=WAL&_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

func newTestConversationRepo(t *testing.T) *ConversationGormRepository {
	t.Helper()
	repo := NewConversationGormRepository(newTestDB(t))
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestConversationGormRepository_CreateAndLoad(t *testing.T) {
	repo := newTestConversationRepo(t)
	ctx := context.Background()

	id, err := repo.CreateConversation(ctx, domain.ConversationMeta{
		Title:     "Consultation radiology",
		Specialty: domain.SpecialtyRadiology,
		OwnerID:   "dr-house",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	require.NoError(t, repo.AppendMessage(ctx, id, domain.UserMessage("first")))
	require.NoError(t, repo.AppendMessage(ctx, id, domain.AssistantMessage("second")))
	require.NoError(t, repo.AppendMessage(ctx, id, domain.UserMessage("third")))

	record, err := repo.LoadConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, record.Meta.ID)
	assert.Equal(t, domain.SpecialtyRadiology, record.Meta.Specialty)
	assert.Equal(t, "dr-house", record.Meta.OwnerID)
	assert.True(t, record.Meta.Active)
	assert.Equal(t, []domain.ChatMessage{
		domain.UserMessage("first"),
		domain.AssistantMessage("second"),
		domain.UserMessage("third"),
	}, record.Messages)
}

func TestConversationGormRepository_LoadNotFound(t *testing.T) {
	repo := newTestConversationRepo(t)

	record, err := repo.LoadConversation(context.Background(), uuid.New())
	assert.Nil(t, record)
	require.ErrorIs(t, err, domain.ErrConversationNotFound)

	var nf pkgError.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestConversationGormRepository_LoadOrphanMessages(t *testing.T) {
	repo := newTestConversationRepo(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, repo.AppendMessage(ctx, id, domain.UserMessage("no metadata yet")))

	record, err := repo.LoadConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, record.Meta.ID)
	assert.Empty(t, record.Meta.Specialty)
	require.Len(t, record.Messages, 1)
}

func TestConversationGormRepository_RejectsUnknownRole(t *testing.T) {
	repo := newTestConversationRepo(t)
	ctx := context.Background()
	id := uuid.New()

	err := repo.AppendMessage(ctx, id, domain.ChatMessage{Role: "tool", Content: "{}"})
	var verr pkgError.ValidationError
	require.ErrorAs(t, err, &verr)

	// filas escritas por fuera del repositorio con un rol desconocido se ignoran al cargar
	require.NoError(t, repo.AppendMessage(ctx, id, domain.UserMessage("dolor torácico")))
	require.NoError(t, repo.db.Create(&messageModel{ConversationID: id.String(), Role: "tool", Content: "{}"}).Error)
	require.NoError(t, repo.AppendMessage(ctx, id, domain.AssistantMessage("¿Desde cuándo?")))

	record, err := repo.LoadConversation(ctx, id)
	require.NoError(t, err)
	require.Len(t, record.Messages, 2)
	assert.Equal(t, domain.RoleUser, record.Messages[0].Role)
	assert.Equal(t, domain.RoleAssistant, record.Messages[1].Role)
}

func TestConversationGormRepository_ListConversations(t *testing.T) {
	repo := newTestConversationRepo(t)
	ctx := context.Background()

	first, err := repo.CreateConversation(ctx, domain.ConversationMeta{Title: "a", OwnerID: "owner"})
	require.NoError(t, err)
	_, err = repo.CreateConversation(ctx, domain.ConversationMeta{Title: "b", OwnerID: "other"})
	require.NoError(t, err)
	second, err := repo.CreateConversation(ctx, domain.ConversationMeta{Title: "c", OwnerID: "owner", Specialty: domain.SpecialtyNeurology})
	require.NoError(t, err)

	list, err := repo.ListConversations(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, list, 2)

	ids := []uuid.UUID{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{first, second}, ids)
	for _, m := range list {
		if m.ID == first {
			assert.Equal(t, domain.SpecialtyGeneral, m.Specialty)
		}
	}
}
