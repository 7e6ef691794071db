package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lojf/rostersync/internal/models"
)

// ChatStore persists tracked chats.
type ChatStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewChatStore(db *gorm.DB, log zerolog.Logger) *ChatStore {
	return &ChatStore{db: db, log: log}
}

// AddChat inserts the chat or replaces its name and type.
func (s *ChatStore) AddChat(ctx context.Context, id int64, name, typ string) error {
	c := models.Chat{ID: id, Name: name, Type: typ}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "type", "updated_at"}),
	}).Create(&c).Error
	if err != nil {
		return writeErr("add chat", err)
	}
	s.log.Info().Int64("chat_id", id).Str("name", name).Str("type", typ).Msg("added/updated chat")
	return nil
}

func (s *ChatStore) Get(ctx context.Context, id int64) (*models.Chat, error) {
	var c models.Chat
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ChatStore) List(ctx context.Context) ([]models.Chat, error) {
	var out []models.Chat
	err := s.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

// UpdateChatID moves a chat to a new id (a group upgraded to a supergroup)
// and re-points roster members at it. If newID is already tracked the old
// row is dropped.
func (s *ChatStore) UpdateChatID(ctx context.Context, oldID, newID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Chat{}).Where("id = ?", newID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			if err := tx.Where("id = ?", oldID).Delete(&models.Chat{}).Error; err != nil {
				return err
			}
		} else if err := tx.Model(&models.Chat{}).Where("id = ?", oldID).Update("id", newID).Error; err != nil {
			return err
		}
		return tx.Model(&models.Member{}).Where("chat_id = ?", oldID).Update("chat_id", newID).Error
	})
	if err != nil {
		return writeErr("update chat id", err)
	}
	s.log.Info().Int64("old_chat_id", oldID).Int64("new_chat_id", newID).Msg("updated chat id")
	return nil
}
