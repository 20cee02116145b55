// Package models contains domain entities persisted by the dispatch service
package models

import "time"

// DispatchStatus enumerates the lifecycle states of a dispatch record.
// Delivered records are deleted, so there is no delivered status.
type DispatchStatus string

const (
	DispatchStatusWaiting    DispatchStatus = "waiting"
	DispatchStatusSent       DispatchStatus = "sent"
	DispatchStatusRejected   DispatchStatus = "rejected"
	DispatchStatusDeadLetter DispatchStatus = "dead_letter"
)

// IsTerminal reports whether no further transitions are allowed from s
func (s DispatchStatus) IsTerminal() bool {
	return s == DispatchStatusRejected || s == DispatchStatusDeadLetter
}

func (s DispatchStatus) Valid() bool {
	switch s {
	case DispatchStatusWaiting, DispatchStatusSent, DispatchStatusRejected, DispatchStatusDeadLetter:
		return true
	}
	return false
}

// DispatchRecord is one (message, recipient) pairing tracked through send, confirm and resolve
type DispatchRecord struct {
	ID              string         `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID       uint           `gorm:"not null;index:idx_dispatch_records_message_id" json:"message_id"`
	Phone           string         `gorm:"size:20;not null;index:idx_dispatch_records_phone" json:"phone"`
	CommunicationID *string        `gorm:"size:64" json:"communication_id,omitempty"`
	Status          DispatchStatus `gorm:"size:16;not null;default:'waiting';index:idx_dispatch_records_status_order,priority:1" json:"status"`
	Forced          bool           `gorm:"not null;default:false;index:idx_dispatch_records_status_order,priority:2" json:"forced"`
	Attempts        int            `gorm:"not null;default:0" json:"attempts"`
	FirstSentAt     *time.Time     `json:"first_sent_at,omitempty"`
	CreatedAt       time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_dispatch_records_status_order,priority:3" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (DispatchRecord) TableName() string { return "dispatch_records" }

// DispatchRecordWithText is a dispatch record joined with its message text
type DispatchRecordWithText struct {
	DispatchRecord
	Text string `gorm:"column:text" json:"text"`
}

// DispatchRecordFilter provides filter fields for repository queries
type DispatchRecordFilter struct {
	ID            *string
	IDs           []string
	MessageID     *uint
	Phone         *string
	Status        *DispatchStatus
	Forced        *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
