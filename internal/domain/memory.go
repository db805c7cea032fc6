package domain

import (
	"context"
	"time"
)

// RecordStore persists conversation records. Rows are inserted once and never
// updated or deleted by the webhook service.
type RecordStore interface {
	Insert(ctx context.Context, rec ConversationRecord) error
	Close() error
}

// ConversationRecord is one answered text message.
type ConversationRecord struct {
	ID           int64     `json:"-"`
	UserID       string    `json:"user_id"`
	MessageID    string    `json:"message_id"`
	Type         string    `json:"type"`
	Content      string    `json:"content"`
	ReplyToken   string    `json:"reply_token"`
	ReplyContent string    `json:"reply_content"`
	CreatedAt    time.Time `json:"-"`
}
