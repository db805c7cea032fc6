package domain

import (
	"context"
	"io"
)

// Messenger is the messaging platform client used to answer events.
type Messenger interface {
	// Reply sends messages using a one-time reply token.
	Reply(ctx context.Context, replyToken string, messages ...OutboundMessage) (*SendAck, error)
	// Content streams the binary content of a media message. Callers close it.
	Content(ctx context.Context, messageID string) (io.ReadCloser, error)
}
