package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// snippetModel stores the vector as a JSON array so the same table works on
// SQLite and Postgres without a vector extension.
type snippetModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	SourceID  string    `gorm:"column:source_id;size:64;index"`
	Content   string    `gorm:"type:text;not null"`
	Dimension int       `gorm:"not null;index"`
	Vector    string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (snippetModel) TableName() string {
	return "report_embeddings"
}

// SnippetGormRepository implements domain.SnippetStore using GORM.
type SnippetGormRepository struct {
	db *gorm.DB
}

func NewSnippetGormRepository(db *gorm.DB) *SnippetGormRepository {
	return &SnippetGormRepository{db: db}
}

func (r *SnippetGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&snippetModel{})
}

func (r *SnippetGormRepository) SaveSnippet(ctx context.Context, s domain.EmbeddedSnippet) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	vec, err := json.Marshal(s.Vector)
	if err != nil {
		return fmt.Errorf("failed to marshal vector: %w", err)
	}
	model := snippetModel{
		ID:        s.ID.String(),
		SourceID:  s.SourceID,
		Content:   s.Content,
		Dimension: len(s.Vector),
		Vector:    string(vec),
	}
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *SnippetGormRepository) ListSnippets(ctx context.Context, dimension int) ([]domain.EmbeddedSnippet, error) {
	var models []snippetModel
	if err := r.db.WithContext(ctx).Where("dimension = ?", dimension).Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]domain.EmbeddedSnippet, 0, len(models))
	for _, m := range models {
		var vec []float64
		if err := json.Unmarshal([]byte(m.Vector), &vec); err != nil {
			logrus.WithError(err).Warnf("[SnippetGormRepository] Skipping snippet %s with malformed vector", m.ID)
			continue
		}
		id, _ := uuid.Parse(m.ID)
		result = append(result, domain.EmbeddedSnippet{
			ID:       id,
			SourceID: m.SourceID,
			Content:  m.Content,
			Vector:   vec,
		})
	}
	return result, nil
}
