package models

import "time"

// IncomingMessage is the originating message aggregate that supplies SMS text.
// It is owned by the message-authoring side; the dispatch service only reads it.
type IncomingMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

func (IncomingMessage) TableName() string { return "incoming_messages" }
