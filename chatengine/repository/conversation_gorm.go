package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	pkgError "github.com/AzielCF/az-medchat/pkg/error"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// conversationModel es el modelo de persistencia para GORM.
// El dominio no lleva tags de GORM.
type conversationModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Title     string    `gorm:"size:200"`
	Specialty string    `gorm:"size:32;not null;default:general"`
	OwnerID   string    `gorm:"column:owner_id;size:100;index"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (conversationModel) TableName() string {
	return "chat_conversations"
}

type messageModel struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ConversationID string    `gorm:"column:conversation_id;size:36;index;not null"`
	Role           string    `gorm:"size:16;not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (messageModel) TableName() string {
	return "chat_messages"
}

// ConversationGormRepository implements domain.ConversationStore using GORM.
type ConversationGormRepository struct {
	db *gorm.DB
}

func NewConversationGormRepository(db *gorm.DB) *ConversationGormRepository {
	return &ConversationGormRepository{db: db}
}

// Init crea las tablas con AutoMigrate.
func (r *ConversationGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&conversationModel{}, &messageModel{})
}

// LoadConversation returns metadata and ordered history. Orphan messages with no
// metadata row still load, with an empty specialty.
func (r *ConversationGormRepository) LoadConversation(ctx context.Context, id uuid.UUID) (*domain.ConversationRecord, error) {
	db := r.db.WithContext(ctx)

	var conv conversationModel
	convErr := db.First(&conv, "id = ?", id.String()).Error
	if convErr != nil && !errors.Is(convErr, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, convErr)
	}

	var rows []messageModel
	if err := db.Where("conversation_id = ?", id.String()).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages for %s: %w", id, err)
	}

	if convErr != nil && len(rows) == 0 {
		return nil, domain.ErrConversationNotFound
	}

	record := &domain.ConversationRecord{
		Meta:     domain.ConversationMeta{ID: id},
		Messages: make([]domain.ChatMessage, 0, len(rows)),
	}
	if convErr == nil {
		record.Meta = fromConversationModel(conv)
	}
	for _, row := range rows {
		role := domain.Role(row.Role)
		if !role.Valid() {
			logrus.Warnf("[ConversationGormRepository] Skipping message %d with unknown role %q in %s", row.ID, row.Role, id)
			continue
		}
		record.Messages = append(record.Messages, domain.ChatMessage{
			Role:    role,
			Content: row.Content,
		})
	}
	return record, nil
}

// AppendMessage inserta un mensaje y actualiza updated_at de la conversación.
func (r *ConversationGormRepository) AppendMessage(ctx context.Context, id uuid.UUID, msg domain.ChatMessage) error {
	if err := checkRole(msg); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := messageModel{
			ConversationID: id.String(),
			Role:           string(msg.Role),
			Content:        msg.Content,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to append message to %s: %w", id, err)
		}
		return tx.Model(&conversationModel{}).
			Where("id = ?", id.String()).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// CreateConversation stores metadata, generating an id when meta.ID is zero.
func (r *ConversationGormRepository) CreateConversation(ctx context.Context, meta domain.ConversationMeta) (uuid.UUID, error) {
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	if meta.Specialty == "" {
		meta.Specialty = domain.SpecialtyGeneral
	}
	model := toConversationModel(meta)
	model.Active = true
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return meta.ID, nil
}

// ListConversations returns the owner's conversations, most recently updated first.
func (r *ConversationGormRepository) ListConversations(ctx context.Context, ownerID string) ([]domain.ConversationMeta, error) {
	var models []conversationModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	result := make([]domain.ConversationMeta, len(models))
	for i, m := range models {
		result[i] = fromConversationModel(m)
	}
	return result, nil
}

func toConversationModel(m domain.ConversationMeta) conversationModel {
	return conversationModel{
		ID:        m.ID.String(),
		Title:     m.Title,
		Specialty: string(m.Specialty),
		OwnerID:   m.OwnerID,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func fromConversationModel(m conversationModel) domain.ConversationMeta {
	id, _ := uuid.Parse(m.ID)
	specialty, _ := domain.ParseSpecialty(m.Specialty)
	return domain.ConversationMeta{
		ID:        id,
		Title:     m.Title,
		Specialty: specialty,
		OwnerID:   m.OwnerID,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func checkRole(msg domain.ChatMessage) error {
	if !msg.Role.Valid() {
		return pkgError.ValidationError(fmt.Sprintf("unknown message role %q", msg.Role))
	}
	return nil
}
