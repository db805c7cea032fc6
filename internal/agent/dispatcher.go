// Package agent routes inbound LINE events to the text and image pipelines.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"linegem/internal/domain"
	"linegem/internal/metrics"
)

const (
	defaultBucket = "uploads"
	defaultPrefix = "line_images"
	imageMIME     = "image/jpeg"
)

// Config holds the process-scoped clients the dispatcher uses.
type Config struct {
	Provider  domain.Provider
	Messenger domain.Messenger
	Storage   domain.ObjectStore
	Records   domain.RecordStore
	Deduper   domain.Deduper // optional
	Replies   *Replies       // nil means DefaultReplies
	Bucket    string
	Prefix    string
	Model     string // empty means the provider default
	Logger    *slog.Logger
}

// Dispatcher fans a webhook batch out to one goroutine per event.
type Dispatcher struct {
	provider  domain.Provider
	messenger domain.Messenger
	storage   domain.ObjectStore
	records   domain.RecordStore
	deduper   domain.Deduper
	replies   Replies
	bucket    string
	prefix    string
	model     string
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher, filling in the default bucket, prefix,
// replies and logger.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Bucket == "" {
		cfg.Bucket = defaultBucket
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	replies := DefaultReplies()
	if cfg.Replies != nil {
		replies = *cfg.Replies
	}
	return &Dispatcher{
		provider:  cfg.Provider,
		messenger: cfg.Messenger,
		storage:   cfg.Storage,
		records:   cfg.Records,
		deduper:   cfg.Deduper,
		replies:   replies,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		model:     cfg.Model,
		logger:    cfg.Logger,
	}
}

type loggerKey struct{}

// WithLogger attaches a request-scoped logger that Dispatch will use.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func (d *Dispatcher) loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return d.logger
}

// Dispatch handles every event concurrently and returns one result per event in
// input order. Ignored events yield a nil slot. Every handler runs to completion
// even when the caller's context is cancelled; the returned error joins the
// failures of handlers that could not even send an apology.
func (d *Dispatcher) Dispatch(ctx context.Context, events []domain.Event) ([]*domain.SendAck, error) {
	ctx = context.WithoutCancel(ctx)
	results := make([]*domain.SendAck, len(events))
	errs := make([]error, len(events))

	var wg sync.WaitGroup
	for i := range events {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.handleEvent(ctx, events[i])
		}(i)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

func (d *Dispatcher) handleEvent(ctx context.Context, ev domain.Event) (*domain.SendAck, error) {
	kind := ev.Kind()
	metrics.EventKind(string(kind)).Inc()

	logger := d.loggerFrom(ctx).With("kind", kind, "message_id", ev.MessageID())
	if kind == domain.KindOther {
		logger.Debug("event ignored", "type", ev.Type)
		return nil, nil
	}

	claimed := false
	if d.deduper != nil && ev.WebhookEventID != "" {
		fresh, err := d.deduper.Claim(ctx, ev.WebhookEventID)
		if err != nil {
			logger.Warn("dedupe claim failed, processing anyway", "event_id", ev.WebhookEventID, "error", err)
		} else if !fresh {
			metrics.EventsDuplicate.Inc()
			logger.Info("duplicate event skipped", "event_id", ev.WebhookEventID, "redelivery", ev.Redelivered())
			return nil, nil
		} else {
			claimed = true
		}
	}

	metrics.InFlightEvents.Inc()
	defer metrics.InFlightEvents.Dec()

	var ack *domain.SendAck
	var err error
	switch kind {
	case domain.KindImage:
		ack, err = d.handleImage(ctx, ev, logger)
	default:
		ack, err = d.handleText(ctx, ev, logger)
	}

	// The batch answers 500 and LINE redelivers; let that attempt through.
	if err != nil && claimed {
		if rerr := d.deduper.Release(ctx, ev.WebhookEventID); rerr != nil {
			logger.Warn("dedupe release failed", "event_id", ev.WebhookEventID, "error", rerr)
		}
	}
	return ack, err
}

func (d *Dispatcher) handleText(ctx context.Context, ev domain.Event, logger *slog.Logger) (*domain.SendAck, error) {
	ack, err := d.answerText(ctx, ev, logger)
	if err == nil {
		return ack, nil
	}
	logger.Error("text event failed", "error", err)
	return d.apologize(ctx, ev, d.replies.TextApology, logger)
}

func (d *Dispatcher) answerText(ctx context.Context, ev domain.Event, logger *slog.Logger) (*domain.SendAck, error) {
	text := ev.Message.Text

	resp, err := d.generate(ctx, domain.TextPart(d.replies.textPrompt(text)))
	if err != nil {
		return nil, err
	}
	reply := domain.TrimReply(resp.Text)

	rec := domain.ConversationRecord{
		UserID:       ev.Source.UserID,
		MessageID:    ev.Message.ID,
		Type:         "text",
		Content:      text,
		ReplyToken:   ev.ReplyToken,
		ReplyContent: reply,
	}
	if err := d.records.Insert(ctx, rec); err != nil {
		metrics.PersistFailures.Inc()
		logger.Warn("record insert failed", "error", err)
	}

	return d.reply(ctx, ev, reply)
}

func (d *Dispatcher) handleImage(ctx context.Context, ev domain.Event, logger *slog.Logger) (*domain.SendAck, error) {
	ack, err := d.answerImage(ctx, ev, logger)
	if err == nil {
		return ack, nil
	}
	logger.Error("image event failed", "error", err)
	return d.apologize(ctx, ev, d.replies.ImageApology, logger)
}

func (d *Dispatcher) answerImage(ctx context.Context, ev domain.Event, logger *slog.Logger) (*domain.SendAck, error) {
	data, err := d.fetchContent(ctx, ev.Message.ID)
	if err != nil {
		return nil, err
	}

	objectPath := path.Join(d.prefix, ev.Message.ID+".jpg")
	_, err = d.storage.Upload(ctx, d.bucket, objectPath, data, domain.UploadOptions{
		ContentType: imageMIME,
		Upsert:      true,
	})
	if err != nil {
		metrics.UploadFailures.Inc()
		logger.Error("image upload failed", "bucket", d.bucket, "path", objectPath, "error", err)
		return d.reply(ctx, ev, d.replies.UploadFailed)
	}
	logger.Info("image uploaded", "url", d.storage.PublicURL(d.bucket, objectPath), "bytes", len(data))

	resp, err := d.generate(ctx,
		domain.TextPart(d.replies.ImagePrompt),
		domain.InlinePart(imageMIME, data),
	)
	if err != nil {
		return nil, err
	}
	subject := domain.TrimReply(resp.Text)

	return d.reply(ctx, ev, d.replies.imageAnswer(subject))
}

func (d *Dispatcher) fetchContent(ctx context.Context, messageID string) ([]byte, error) {
	body, err := d.messenger.Content(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch content: %w", err)
	}
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *Dispatcher) generate(ctx context.Context, parts ...domain.Part) (*domain.GenerateResponse, error) {
	metrics.AIRequests.Inc()
	start := time.Now()
	resp, err := d.provider.Generate(ctx, domain.GenerateRequest{Parts: parts, Model: d.model})
	metrics.AILatency.ObserveSince(start)
	if err != nil {
		metrics.AIErrors.Inc()
		return nil, fmt.Errorf("%s generate: %w", d.provider.Name(), err)
	}
	return resp, nil
}

func (d *Dispatcher) reply(ctx context.Context, ev domain.Event, text string) (*domain.SendAck, error) {
	ack, err := d.messenger.Reply(ctx, ev.ReplyToken, domain.TextMessage(text))
	if err != nil {
		return nil, fmt.Errorf("reply: %w", err)
	}
	metrics.Replies.Inc()
	return ack, nil
}

func (d *Dispatcher) apologize(ctx context.Context, ev domain.Event, text string, logger *slog.Logger) (*domain.SendAck, error) {
	metrics.Apologies.Inc()
	ack, err := d.messenger.Reply(ctx, ev.ReplyToken, domain.TextMessage(text))
	if err != nil {
		logger.Error("apology reply failed", "error", err)
		return nil, fmt.Errorf("message %s: apology reply: %w", ev.MessageID(), err)
	}
	return ack, nil
}
