package dto

// DispatchRecordDTO is one queue entry as shown to operators
type DispatchRecordDTO struct {
	ID              string  `json:"id" example:"0b9f3a4e-2c1d-4e7f-9a55-0f5e8d1c2b3a"`
	MessageID       uint    `json:"message_id" example:"12"`
	Phone           string  `json:"phone" example:"989121234567"`
	CommunicationID *string `json:"communication_id,omitempty"`
	Status          string  `json:"status" example:"sent"`
	Forced          bool    `json:"forced" example:"false"`
	Attempts        int     `json:"attempts" example:"3"`
	FirstSentAt     string  `json:"first_sent_at,omitempty" example:"2024-01-15T10:30:00Z"`
	CreatedAt       string  `json:"created_at" example:"2024-01-15T10:29:00Z"`
	UpdatedAt       string  `json:"updated_at" example:"2024-01-15T10:31:00Z"`
}

// ListDispatchRecordsRequest filters the queue listing
type ListDispatchRecordsRequest struct {
	Status    string `query:"status" validate:"omitempty,oneof=waiting sent rejected dead_letter"`
	Phone     string `query:"phone" validate:"omitempty,max=32"`
	Forced    *bool  `query:"forced"`
	MessageID *uint  `query:"message_id" validate:"omitempty,gt=0"`
	Page      int    `query:"page" validate:"omitempty,min=1"`
	PageSize  int    `query:"page_size" validate:"omitempty,min=1,max=500"`
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

type ListDispatchRecordsResponse struct {
	Items      []DispatchRecordDTO `json:"items"`
	Pagination PaginationInfo      `json:"pagination"`
}

// DispatchEngineStateDTO is the in-memory state of the dispatch engine
type DispatchEngineStateDTO struct {
	PendingQueue         int  `json:"pending_queue"`
	AwaitingConfirmation int  `json:"awaiting_confirmation"`
	AdmissionActive      bool `json:"admission_active"`
	DispatchActive       bool `json:"dispatch_active"`
	ReconciliationActive bool `json:"reconciliation_active"`
	Running              bool `json:"running"`
}

type DispatchStatsResponse struct {
	Counts map[string]int64       `json:"counts"`
	Total  int64                  `json:"total"`
	Engine DispatchEngineStateDTO `json:"engine"`
}

// EnqueueDispatchRequest creates waiting records for an existing message
type EnqueueDispatchRequest struct {
	MessageID       uint     `json:"message_id" validate:"required,gt=0"`
	Phones          []string `json:"phones" validate:"required,min=1,max=10000,dive,required,min=5,max=32"`
	CommunicationID *string  `json:"communication_id,omitempty" validate:"omitempty,max=64"`
	Forced          bool     `json:"forced"`
}

type EnqueueDispatchResponse struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	IDs     []string `json:"ids"`
}

// DeleteDispatchRecordsRequest deletes one record by id, or every record when All is set
type DeleteDispatchRecordsRequest struct {
	ID  string `json:"id" validate:"required_without=All,omitempty,uuid"`
	All bool   `json:"all"`
}

type DeleteDispatchRecordsResponse struct {
	Deleted int64 `json:"deleted"`
}

type RequeueDispatchRecordResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Forced bool   `json:"forced"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   string                 `json:"timestamp"`
	Version     string                 `json:"version"`
	Environment string                 `json:"environment"`
	Engine      DispatchEngineStateDTO `json:"engine"`
}
