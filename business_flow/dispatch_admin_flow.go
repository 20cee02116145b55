package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/sms-dispatcher/app/dto"
	"github.com/amirphl/sms-dispatcher/app/scheduler"
	"github.com/amirphl/sms-dispatcher/models"
	"github.com/amirphl/sms-dispatcher/repository"
	"github.com/amirphl/sms-dispatcher/utils"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	// maxExportRows bounds one XLSX export
	maxExportRows = 100000
)

// DispatchQueue is the part of the dispatch engine exposed to operators
type DispatchQueue interface {
	List(ctx context.Context, filter models.DispatchRecordFilter, limit, offset int) ([]*models.DispatchRecord, int64, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
	ForceRequeue(ctx context.Context, id string) (bool, error)
	Snapshot() scheduler.EngineSnapshot
	Wake()
}

// DispatchAdminFlow handles operator actions on the SMS dispatch queue
type DispatchAdminFlow interface {
	List(ctx context.Context, req *dto.ListDispatchRecordsRequest) (*dto.ListDispatchRecordsResponse, error)
	Export(ctx context.Context, req *dto.ListDispatchRecordsRequest) (string, []byte, error)
	Stats(ctx context.Context) (*dto.DispatchStatsResponse, error)
	Enqueue(ctx context.Context, req *dto.EnqueueDispatchRequest, metadata *ClientMetadata) (*dto.EnqueueDispatchResponse, error)
	Delete(ctx context.Context, req *dto.DeleteDispatchRecordsRequest, metadata *ClientMetadata) (*dto.DeleteDispatchRecordsResponse, error)
	Requeue(ctx context.Context, id string, metadata *ClientMetadata) (*dto.RequeueDispatchRecordResponse, error)
	EngineState() dto.DispatchEngineStateDTO
}

// DispatchAdminFlowImpl implements DispatchAdminFlow on top of the engine and its store
type DispatchAdminFlowImpl struct {
	queue       DispatchQueue
	recordRepo  repository.DispatchRecordRepository
	messageRepo repository.IncomingMessageRepository
	tx          repository.TxRunner
	countryCode string
}

func NewDispatchAdminFlow(
	queue DispatchQueue,
	recordRepo repository.DispatchRecordRepository,
	messageRepo repository.IncomingMessageRepository,
	tx repository.TxRunner,
	countryCode string,
) DispatchAdminFlow {
	if countryCode == "" {
		countryCode = utils.DefaultCountryCode
	}
	return &DispatchAdminFlowImpl{
		queue:       queue,
		recordRepo:  recordRepo,
		messageRepo: messageRepo,
		tx:          tx,
		countryCode: countryCode,
	}
}

func (f *DispatchAdminFlowImpl) List(ctx context.Context, req *dto.ListDispatchRecordsRequest) (*dto.ListDispatchRecordsResponse, error) {
	filter, page, pageSize, err := f.buildFilter(req)
	if err != nil {
		return nil, err
	}

	rows, total, err := f.queue.List(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LIST_DISPATCH_RECORDS_FAILED", "Failed to list dispatch records", err)
	}

	items := make([]dto.DispatchRecordDTO, 0, len(rows))
	for _, r := range rows {
		items = append(items, ToDispatchRecordDTO(*r))
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))

	return &dto.ListDispatchRecordsResponse{
		Items: items,
		Pagination: dto.PaginationInfo{
			Total:      total,
			Page:       page,
			Limit:      pageSize,
			TotalPages: totalPages,
		},
	}, nil
}

// Export renders every record matching the filter into a single-sheet workbook
func (f *DispatchAdminFlowImpl) Export(ctx context.Context, req *dto.ListDispatchRecordsRequest) (string, []byte, error) {
	filter, _, _, err := f.buildFilter(req)
	if err != nil {
		return "", nil, err
	}

	rows, _, err := f.queue.List(ctx, filter, maxExportRows, 0)
	if err != nil {
		return "", nil, NewBusinessError("LIST_DISPATCH_RECORDS_FAILED", "Failed to list dispatch records", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := "sms_queue"
	if err := xl.SetSheetName(xl.GetSheetName(0), sheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to prepare Excel sheet", err)
	}

	header := []string{"id", "message_id", "phone", "communication_id", "status", "forced", "attempts", "first_sent_at", "created_at", "updated_at"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	for i, r := range rows {
		record := []string{
			r.ID,
			strconv.FormatUint(uint64(r.MessageID), 10),
			r.Phone,
			utils.Deref(r.CommunicationID),
			string(r.Status),
			strconv.FormatBool(r.Forced),
			strconv.Itoa(r.Attempts),
			utils.FormatTimePtr(r.FirstSentAt),
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.UpdatedAt.UTC().Format(time.RFC3339),
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("sms_queue_%s.xlsx", utils.UTCNow().Format("20060102_150405"))
	return filename, buf.Bytes(), nil
}

func (f *DispatchAdminFlowImpl) Stats(ctx context.Context) (*dto.DispatchStatsResponse, error) {
	counts, err := f.recordRepo.CountByStatus(ctx)
	if err != nil {
		return nil, NewBusinessError("DISPATCH_STATS_FAILED", "Failed to count dispatch records", err)
	}

	resp := &dto.DispatchStatsResponse{
		Counts: map[string]int64{
			string(models.DispatchStatusWaiting):    0,
			string(models.DispatchStatusSent):       0,
			string(models.DispatchStatusRejected):   0,
			string(models.DispatchStatusDeadLetter): 0,
		},
		Engine: f.EngineState(),
	}
	for _, c := range counts {
		resp.Counts[string(c.Status)] += c.Count
		resp.Total += c.Count
	}
	return resp, nil
}

// Enqueue creates waiting records for an existing message. Phones are normalized, and
// duplicates plus phones already waiting or in flight for the same message are skipped.
func (f *DispatchAdminFlowImpl) Enqueue(ctx context.Context, req *dto.EnqueueDispatchRequest, metadata *ClientMetadata) (*dto.EnqueueDispatchResponse, error) {
	if req == nil || req.MessageID == 0 {
		return nil, NewBusinessError("MESSAGE_NOT_FOUND", "Message not found", ErrMessageNotFound)
	}
	if len(req.Phones) == 0 {
		return nil, NewBusinessError("ENQUEUE_VALIDATION_FAILED", "No phone numbers given", ErrNoPhones)
	}

	var (
		msg     *models.IncomingMessage
		records []*models.DispatchRecord
		invalid int
	)
	// the message row lock serializes concurrent enqueues for one message so dedupe and insert are atomic
	err := f.tx(ctx, func(txCtx context.Context) error {
		var err error
		msg, err = f.messageRepo.ByIDForUpdate(txCtx, req.MessageID)
		if err != nil {
			return NewBusinessError("MESSAGE_LOOKUP_FAILED", "Failed to lookup message", err)
		}
		if msg == nil {
			return NewBusinessErrorf("MESSAGE_NOT_FOUND", "Message %d not found", ErrMessageNotFound, req.MessageID)
		}

		existing, err := f.recordRepo.ByFilter(txCtx, models.DispatchRecordFilter{MessageID: &req.MessageID}, "", 0, 0)
		if err != nil {
			return NewBusinessError("LIST_DISPATCH_RECORDS_FAILED", "Failed to list dispatch records", err)
		}
		seen := make(map[string]struct{}, len(existing)+len(req.Phones))
		for _, r := range existing {
			if !r.Status.IsTerminal() {
				seen[r.Phone] = struct{}{}
			}
		}

		now := utils.UTCNow()
		records = make([]*models.DispatchRecord, 0, len(req.Phones))
		for _, raw := range req.Phones {
			phone := utils.NormalizePhone(raw, f.countryCode)
			if len(phone) < 8 || len(phone) > 15 {
				invalid++
				continue
			}
			if _, dup := seen[phone]; dup {
				continue
			}
			seen[phone] = struct{}{}
			records = append(records, &models.DispatchRecord{
				ID:              uuid.NewString(),
				MessageID:       msg.ID,
				Phone:           phone,
				CommunicationID: req.CommunicationID,
				Status:          models.DispatchStatusWaiting,
				Forced:          req.Forced,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}
		if invalid == len(req.Phones) {
			return NewBusinessError("ENQUEUE_VALIDATION_FAILED", "No valid phone numbers given", ErrInvalidPhone)
		}
		if len(records) == 0 {
			return nil
		}
		if err := f.recordRepo.SaveBatch(txCtx, records); err != nil {
			return NewBusinessError("ENQUEUE_FAILED", "Failed to enqueue dispatch records", err)
		}
		return nil
	})
	if err != nil {
		var be *BusinessError
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, NewBusinessError("ENQUEUE_FAILED", "Failed to enqueue dispatch records", err)
	}

	resp := &dto.EnqueueDispatchResponse{
		Created: len(records),
		Skipped: len(req.Phones) - len(records),
		IDs:     make([]string, 0, len(records)),
	}
	if len(records) == 0 {
		return resp, nil
	}
	for _, r := range records {
		resp.IDs = append(resp.IDs, r.ID)
	}

	f.queue.Wake()
	log.Printf("sms queue: enqueued %d records for message %d (skipped %d)%s", resp.Created, msg.ID, resp.Skipped, auditSuffix(metadata))
	return resp, nil
}

func (f *DispatchAdminFlowImpl) Delete(ctx context.Context, req *dto.DeleteDispatchRecordsRequest, metadata *ClientMetadata) (*dto.DeleteDispatchRecordsResponse, error) {
	if req == nil || (req.All == (req.ID != "")) {
		return nil, NewBusinessError("DELETE_VALIDATION_FAILED", "Either id or all must be provided", ErrDeleteTargetAmbiguous)
	}

	if req.All {
		n, err := f.queue.DeleteAll(ctx)
		if err != nil {
			return nil, NewBusinessError("DELETE_DISPATCH_RECORDS_FAILED", "Failed to delete dispatch records", err)
		}
		log.Printf("sms queue: deleted all %d records%s", n, auditSuffix(metadata))
		return &dto.DeleteDispatchRecordsResponse{Deleted: n}, nil
	}

	id, err := parseRecordID(req.ID)
	if err != nil {
		return nil, err
	}
	rec, err := f.recordRepo.ByRecordID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("DISPATCH_RECORD_LOOKUP_FAILED", "Failed to lookup dispatch record", err)
	}
	if rec == nil {
		return nil, NewBusinessError("DISPATCH_RECORD_NOT_FOUND", "Dispatch record not found", ErrDispatchRecordNotFound)
	}
	if err := f.queue.Delete(ctx, id); err != nil {
		return nil, NewBusinessError("DELETE_DISPATCH_RECORDS_FAILED", "Failed to delete dispatch record", err)
	}
	log.Printf("sms queue: deleted record %s%s", id, auditSuffix(metadata))
	return &dto.DeleteDispatchRecordsResponse{Deleted: 1}, nil
}

func (f *DispatchAdminFlowImpl) Requeue(ctx context.Context, id string, metadata *ClientMetadata) (*dto.RequeueDispatchRecordResponse, error) {
	id, err := parseRecordID(id)
	if err != nil {
		return nil, err
	}
	found, err := f.queue.ForceRequeue(ctx, id)
	if err != nil {
		return nil, NewBusinessError("REQUEUE_FAILED", "Failed to requeue dispatch record", err)
	}
	if !found {
		return nil, NewBusinessError("DISPATCH_RECORD_NOT_FOUND", "Dispatch record not found", ErrDispatchRecordNotFound)
	}
	log.Printf("sms queue: force requeued record %s%s", id, auditSuffix(metadata))
	return &dto.RequeueDispatchRecordResponse{
		ID:     id,
		Status: string(models.DispatchStatusWaiting),
		Forced: true,
	}, nil
}

func (f *DispatchAdminFlowImpl) EngineState() dto.DispatchEngineStateDTO {
	return ToDispatchEngineStateDTO(f.queue.Snapshot())
}

func (f *DispatchAdminFlowImpl) buildFilter(req *dto.ListDispatchRecordsRequest) (models.DispatchRecordFilter, int, int, error) {
	var filter models.DispatchRecordFilter
	if req == nil {
		req = &dto.ListDispatchRecordsRequest{}
	}

	page := req.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return filter, 0, 0, NewBusinessError("INVALID_PAGE", "Page must be at least 1", ErrInvalidPage)
	}
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return filter, 0, 0, NewBusinessErrorf("INVALID_PAGE_SIZE", "Page size must be between 1 and %d", ErrInvalidPageSize, maxPageSize)
	}

	if s := strings.TrimSpace(req.Status); s != "" {
		status := models.DispatchStatus(s)
		if !status.Valid() {
			return filter, 0, 0, NewBusinessErrorf("INVALID_STATUS", "Unknown status %q", ErrInvalidStatus, s)
		}
		filter.Status = &status
	}
	if p := strings.TrimSpace(req.Phone); p != "" {
		phone := utils.NormalizePhone(p, f.countryCode)
		filter.Phone = &phone
	}
	filter.Forced = req.Forced
	filter.MessageID = req.MessageID
	return filter, page, pageSize, nil
}

func parseRecordID(raw string) (string, error) {
	id, err := utils.ParseUUID(strings.TrimSpace(raw))
	if err != nil {
		return "", NewBusinessError("INVALID_DISPATCH_ID", "Invalid dispatch record id", ErrInvalidDispatchID)
	}
	return id.String(), nil
}

func auditSuffix(metadata *ClientMetadata) string {
	if metadata == nil {
		return ""
	}
	return fmt.Sprintf(" ip=%s request_id=%s", metadata.IPAddress, metadata.RequestID)
}
