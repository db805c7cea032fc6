package domain

import "strings"

// EventKind classifies an inbound webhook event for routing.
type EventKind string

const (
	KindText  EventKind = "text"
	KindImage EventKind = "image"
	KindOther EventKind = "other"
)

// WebhookBody is the JSON body LINE posts to the webhook endpoint.
type WebhookBody struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is a single inbound webhook event. Only message events carry a Message.
type Event struct {
	Type            string           `json:"type"`
	Mode            string           `json:"mode,omitempty"`
	Timestamp       int64            `json:"timestamp,omitempty"`
	ReplyToken      string           `json:"replyToken,omitempty"`
	WebhookEventID  string           `json:"webhookEventId,omitempty"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
	Source          Source           `json:"source"`
	Message         *EventMessage    `json:"message,omitempty"`
}

type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

type Source struct {
	Type    string `json:"type"` // user | group | room
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type EventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"` // text | image | sticker | ...
	Text string `json:"text,omitempty"`
}

// Kind reports whether the event is a text message, an image message, or
// anything else.
func (e Event) Kind() EventKind {
	if e.Type != "message" || e.Message == nil {
		return KindOther
	}
	switch e.Message.Type {
	case "image":
		return KindImage
	case "text":
		return KindText
	default:
		return KindOther
	}
}

// MessageID returns the message id, or "" for non-message events.
func (e Event) MessageID() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.ID
}

// Redelivered reports whether LINE flagged this event as a redelivery.
func (e Event) Redelivered() bool {
	return e.DeliveryContext != nil && e.DeliveryContext.IsRedelivery
}

// OutboundMessage is a reply message object.
type OutboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextMessage builds a plain text reply message.
func TextMessage(text string) OutboundMessage {
	return OutboundMessage{Type: "text", Text: text}
}

// SendAck is the platform acknowledgement of a reply.
type SendAck struct {
	SentMessages []SentMessage `json:"sentMessages"`
}

type SentMessage struct {
	ID         string `json:"id"`
	QuoteToken string `json:"quoteToken,omitempty"`
}

// TrimReply strips surrounding whitespace from generated text.
func TrimReply(s string) string {
	return strings.TrimSpace(s)
}
