package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/sms-dispatcher/models"
	"github.com/amirphl/sms-dispatcher/utils"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const waitingOrder = "dispatch_records.forced DESC, dispatch_records.created_at DESC"

// DispatchRecordRepositoryImpl implements DispatchRecordRepository
type DispatchRecordRepositoryImpl struct {
	*BaseRepository[models.DispatchRecord, models.DispatchRecordFilter]
}

func NewDispatchRecordRepository(db *gorm.DB) DispatchRecordRepository {
	return &DispatchRecordRepositoryImpl{
		BaseRepository: NewBaseRepository[models.DispatchRecord, models.DispatchRecordFilter](db),
	}
}

func (r *DispatchRecordRepositoryImpl) ByRecordID(ctx context.Context, id string) (*models.DispatchRecord, error) {
	db := r.getDB(ctx)
	var row models.DispatchRecord
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find dispatch record %s: %w", id, err)
	}
	return &row, nil
}

func (r *DispatchRecordRepositoryImpl) applyFilter(db *gorm.DB, f models.DispatchRecordFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("dispatch_records.id = ?", *f.ID)
	}
	if len(f.IDs) > 0 {
		db = db.Where("dispatch_records.id = ANY(?::uuid[])", pq.Array(f.IDs))
	}
	if f.MessageID != nil {
		db = db.Where("dispatch_records.message_id = ?", *f.MessageID)
	}
	if f.Phone != nil {
		db = db.Where("dispatch_records.phone = ?", *f.Phone)
	}
	if f.Status != nil {
		db = db.Where("dispatch_records.status = ?", *f.Status)
	}
	if f.Forced != nil {
		db = db.Where("dispatch_records.forced = ?", *f.Forced)
	}
	if f.CreatedAfter != nil {
		db = db.Where("dispatch_records.created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("dispatch_records.created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *DispatchRecordRepositoryImpl) ByFilter(ctx context.Context, filter models.DispatchRecordFilter, orderBy string, limit, offset int) ([]*models.DispatchRecord, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DispatchRecord{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.DispatchRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list dispatch records: %w", err)
	}
	return rows, nil
}

func (r *DispatchRecordRepositoryImpl) Count(ctx context.Context, filter models.DispatchRecordFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DispatchRecord{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count dispatch records: %w", err)
	}
	return count, nil
}

func (r *DispatchRecordRepositoryImpl) Exists(ctx context.Context, filter models.DispatchRecordFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *DispatchRecordRepositoryImpl) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	db := r.getDB(ctx)
	var rows []StatusCount
	err := db.Model(&models.DispatchRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count dispatch records by status: %w", err)
	}
	return rows, nil
}

func (r *DispatchRecordRepositoryImpl) FindWaiting(ctx context.Context, limit int) ([]*models.DispatchRecordWithText, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.DispatchRecord{}).
		Select("dispatch_records.*, incoming_messages.text AS text").
		Joins("JOIN incoming_messages ON incoming_messages.id = dispatch_records.message_id").
		Where("dispatch_records.status = ?", models.DispatchStatusWaiting).
		Order(waitingOrder)
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []*models.DispatchRecordWithText
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find waiting dispatch records: %w", err)
	}
	return rows, nil
}

func (r *DispatchRecordRepositoryImpl) FindSent(ctx context.Context) ([]*models.DispatchRecord, error) {
	status := models.DispatchStatusSent
	return r.ByFilter(ctx, models.DispatchRecordFilter{Status: &status}, "created_at ASC", 0, 0)
}

// MarkSent moves waiting records to sent, stamps first_sent_at on their first dispatch and
// returns the ids it actually moved. Ids that were deleted or are no longer waiting are left out.
func (r *DispatchRecordRepositoryImpl) MarkSent(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	now := utils.UTCNow()
	db := r.getDB(ctx)
	var rows []models.DispatchRecord
	err := db.Model(&rows).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where("id = ANY(?::uuid[]) AND status = ?", pq.Array(ids), models.DispatchStatusWaiting).
		Updates(map[string]any{
			"status":        models.DispatchStatusSent,
			"first_sent_at": gorm.Expr("COALESCE(first_sent_at, ?)", now),
			"updated_at":    now,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to mark %d dispatch records sent: %w", len(ids), err)
	}
	moved := make([]string, 0, len(rows))
	for _, row := range rows {
		moved = append(moved, row.ID)
	}
	return moved, nil
}

func (r *DispatchRecordRepositoryImpl) MarkRejected(ctx context.Context, id string) error {
	return r.resolveSent(ctx, id, models.DispatchStatusRejected)
}

func (r *DispatchRecordRepositoryImpl) MarkDeadLetter(ctx context.Context, id string) error {
	return r.resolveSent(ctx, id, models.DispatchStatusDeadLetter)
}

// resolveSent moves a sent record to a terminal status; other states are left untouched
func (r *DispatchRecordRepositoryImpl) resolveSent(ctx context.Context, id string, status models.DispatchStatus) error {
	db := r.getDB(ctx)
	err := db.Model(&models.DispatchRecord{}).
		Where("id = ? AND status = ?", id, models.DispatchStatusSent).
		Updates(map[string]any{
			"status":     status,
			"updated_at": utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark dispatch record %s %s: %w", id, status, err)
	}
	return nil
}

func (r *DispatchRecordRepositoryImpl) IncrementAttempts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	db := r.getDB(ctx)
	err := db.Model(&models.DispatchRecord{}).
		Where("id = ANY(?::uuid[]) AND status = ?", pq.Array(ids), models.DispatchStatusSent).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to increment attempts for %d dispatch records: %w", len(ids), err)
	}
	return nil
}

func (r *DispatchRecordRepositoryImpl) Delete(ctx context.Context, id string) error {
	db := r.getDB(ctx)
	if err := db.Where("id = ?", id).Delete(&models.DispatchRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete dispatch record %s: %w", id, err)
	}
	return nil
}

func (r *DispatchRecordRepositoryImpl) DeleteAll(ctx context.Context) (int64, error) {
	db := r.getDB(ctx)
	res := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.DispatchRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete all dispatch records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *DispatchRecordRepositoryImpl) ForceRequeue(ctx context.Context, id string) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.DispatchRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.DispatchStatusWaiting,
			"forced":        true,
			"attempts":      0,
			"first_sent_at": nil,
			"updated_at":    utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to requeue dispatch record %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}
