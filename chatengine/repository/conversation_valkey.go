package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	domain "github.com/AzielCF/az-medchat/chatengine/domain"
	"github.com/AzielCF/az-medchat/infrastructure/valkey"
)

// ValkeyConversationStore implements domain.ConversationStore on Valkey.
//
// Layout (after the client prefix):
//
//	conversation:<id>            hash  title, specialty, owner_id, active, created_at, updated_at
//	conversation:<id>:messages   list  JSON-encoded domain.ChatMessage, oldest first
//	owner:<owner>:conversations  zset  conversation ids scored by last update (unix ms)
type ValkeyConversationStore struct {
	client *valkey.Client
}

func NewValkeyConversationStore(client *valkey.Client) *ValkeyConversationStore {
	return &ValkeyConversationStore{client: client}
}

func (s *ValkeyConversationStore) inner() valkeylib.Client {
	return s.client.Inner()
}

func (s *ValkeyConversationStore) metaKey(id uuid.UUID) string {
	return s.client.Key("conversation", id.String())
}

func (s *ValkeyConversationStore) messagesKey(id uuid.UUID) string {
	return s.client.Key("conversation", id.String(), "messages")
}

func (s *ValkeyConversationStore) ownerKey(ownerID string) string {
	return s.client.Key("owner", ownerID, "conversations")
}

// LoadConversation reads the metadata hash and the full message list.
func (s *ValkeyConversationStore) LoadConversation(ctx context.Context, id uuid.UUID) (*domain.ConversationRecord, error) {
	c := s.inner()
	results := c.DoMulti(ctx,
		c.B().Hgetall().Key(s.metaKey(id)).Build(),
		c.B().Lrange().Key(s.messagesKey(id)).Start(0).Stop(-1).Build(),
	)

	fields, err := results[0].AsStrMap()
	if err != nil && !valkey.IsNil(err) {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	raw, err := results[1].AsStrSlice()
	if err != nil && !valkey.IsNil(err) {
		return nil, fmt.Errorf("failed to load messages for %s: %w", id, err)
	}

	if len(fields) == 0 && len(raw) == 0 {
		return nil, domain.ErrConversationNotFound
	}

	record := &domain.ConversationRecord{
		Meta:     domain.ConversationMeta{ID: id},
		Messages: make([]domain.ChatMessage, 0, len(raw)),
	}
	if len(fields) > 0 {
		record.Meta = metaFromHash(id, fields)
	}
	for _, item := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			logrus.WithError(err).Warnf("[ValkeyConversationStore] Skipping malformed message in %s", id)
			continue
		}
		if !msg.Role.Valid() {
			logrus.Warnf("[ValkeyConversationStore] Skipping message with unknown role %q in %s", msg.Role, id)
			continue
		}
		record.Messages = append(record.Messages, msg)
	}
	return record, nil
}

// AppendMessage pushes msg and bumps the conversation's update time.
func (s *ValkeyConversationStore) AppendMessage(ctx context.Context, id uuid.UUID, msg domain.ChatMessage) error {
	if err := checkRole(msg); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c := s.inner()
	if err := c.Do(ctx, c.B().Rpush().Key(s.messagesKey(id)).Element(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to append message to %s: %w", id, err)
	}

	owner, err := c.Do(ctx, c.B().Hget().Key(s.metaKey(id)).Field("owner_id").Build()).ToString()
	if err != nil {
		if valkey.IsNil(err) {
			// no metadata: message-only conversation
			return nil
		}
		return fmt.Errorf("failed to read owner of %s: %w", id, err)
	}

	now := time.Now().UTC()
	for _, resp := range c.DoMulti(ctx,
		c.B().Hset().Key(s.metaKey(id)).FieldValue().FieldValue("updated_at", now.Format(time.RFC3339Nano)).Build(),
		c.B().Zadd().Key(s.ownerKey(owner)).ScoreMember().ScoreMember(float64(now.UnixMilli()), id.String()).Build(),
	) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to touch conversation %s: %w", id, err)
		}
	}
	return nil
}

// CreateConversation writes the metadata hash and indexes it under its owner.
func (s *ValkeyConversationStore) CreateConversation(ctx context.Context, meta domain.ConversationMeta) (uuid.UUID, error) {
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	if meta.Specialty == "" {
		meta.Specialty = domain.SpecialtyGeneral
	}
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	c := s.inner()
	for _, resp := range c.DoMulti(ctx,
		c.B().Hset().Key(s.metaKey(meta.ID)).FieldValue().
			FieldValue("title", meta.Title).
			FieldValue("specialty", string(meta.Specialty)).
			FieldValue("owner_id", meta.OwnerID).
			FieldValue("active", "1").
			FieldValue("created_at", meta.CreatedAt.Format(time.RFC3339Nano)).
			FieldValue("updated_at", meta.UpdatedAt.Format(time.RFC3339Nano)).
			Build(),
		c.B().Zadd().Key(s.ownerKey(meta.OwnerID)).ScoreMember().ScoreMember(float64(now.UnixMilli()), meta.ID.String()).Build(),
	) {
		if err := resp.Error(); err != nil {
			return uuid.Nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	}
	return meta.ID, nil
}

// ListConversations returns the owner's conversations, most recently updated first.
func (s *ValkeyConversationStore) ListConversations(ctx context.Context, ownerID string) ([]domain.ConversationMeta, error) {
	c := s.inner()
	ids, err := c.Do(ctx, c.B().Zrange().Key(s.ownerKey(ownerID)).Min("0").Max("-1").Rev().Build()).AsStrSlice()
	if err != nil {
		if valkey.IsNil(err) {
			return []domain.ConversationMeta{}, nil
		}
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	result := make([]domain.ConversationMeta, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		fields, err := c.Do(ctx, c.B().Hgetall().Key(s.metaKey(id)).Build()).AsStrMap()
		if err != nil || len(fields) == 0 {
			continue // metadata may have been removed
		}
		result = append(result, metaFromHash(id, fields))
	}
	return result, nil
}

func metaFromHash(id uuid.UUID, fields map[string]string) domain.ConversationMeta {
	specialty, _ := domain.ParseSpecialty(fields["specialty"])
	active, _ := strconv.ParseBool(fields["active"])
	created, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	updated, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])
	return domain.ConversationMeta{
		ID:        id,
		Title:     fields["title"],
		Specialty: specialty,
		OwnerID:   fields["owner_id"],
		Active:    active,
		CreatedAt: created,
		UpdatedAt: updated,
	}
}
