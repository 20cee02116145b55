// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/amirphl/sms-dispatcher/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// StatusCount is the number of dispatch records in one status
type StatusCount struct {
	Status models.DispatchStatus `gorm:"column:status"`
	Count  int64                 `gorm:"column:count"`
}

// DispatchRecordRepository is the persistent queue the dispatch engine works through.
// Every method is atomic on its own; no cross-call transaction is assumed.
type DispatchRecordRepository interface {
	ByRecordID(ctx context.Context, id string) (*models.DispatchRecord, error)
	ByFilter(ctx context.Context, filter models.DispatchRecordFilter, orderBy string, limit, offset int) ([]*models.DispatchRecord, error)
	Count(ctx context.Context, filter models.DispatchRecordFilter) (int64, error)
	Exists(ctx context.Context, filter models.DispatchRecordFilter) (bool, error)
	SaveBatch(ctx context.Context, entities []*models.DispatchRecord) error
	CountByStatus(ctx context.Context) ([]StatusCount, error)

	// FindWaiting returns up to limit waiting records ordered by forced desc, created_at desc
	FindWaiting(ctx context.Context, limit int) ([]*models.DispatchRecordWithText, error)
	// FindSent returns every record handed to the gateway and not yet resolved
	FindSent(ctx context.Context) ([]*models.DispatchRecord, error)
	MarkSent(ctx context.Context, ids []string) ([]string, error)
	MarkRejected(ctx context.Context, id string) error
	MarkDeadLetter(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, ids []string) error
	// Delete removes a record; deleting an absent record is not an error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
	// ForceRequeue puts a record back to waiting with the forced flag; false when it does not exist
	ForceRequeue(ctx context.Context, id string) (bool, error)
}

// IncomingMessageRepository reads originating messages
type IncomingMessageRepository interface {
	ByID(ctx context.Context, id uint) (*models.IncomingMessage, error)
	ByIDForUpdate(ctx context.Context, id uint) (*models.IncomingMessage, error)
}

// AdminRepository defines operations for admins
type AdminRepository interface {
	Repository[models.Admin, models.AdminFilter]
	ByUsername(ctx context.Context, username string) (*models.Admin, error)
	UpdateLastLogin(ctx context.Context, adminID uint) error
}
