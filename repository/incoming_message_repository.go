package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/sms-dispatcher/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IncomingMessageRepositoryImpl implements IncomingMessageRepository
type IncomingMessageRepositoryImpl struct {
	*BaseRepository[models.IncomingMessage, struct{}]
}

func NewIncomingMessageRepository(db *gorm.DB) IncomingMessageRepository {
	return &IncomingMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.IncomingMessage, struct{}](db),
	}
}

// ByIDForUpdate reads a message and holds a row lock on it until the surrounding transaction ends.
// Writers enqueueing for the same message are serialized behind it.
func (r *IncomingMessageRepositoryImpl) ByIDForUpdate(ctx context.Context, id uint) (*models.IncomingMessage, error) {
	db := r.getDB(ctx)

	var msg models.IncomingMessage
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock message %d: %w", id, err)
	}
	return &msg, nil
}
