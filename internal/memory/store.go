package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"linegem/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.RecordStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.RecordStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Concurrent handlers in one batch all insert; serialize them on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// DB exposes the handle for diagnostics.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Insert(ctx context.Context, rec domain.ConversationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, message_id, type, content, reply_token, reply_content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.MessageID, rec.Type, rec.Content, rec.ReplyToken, rec.ReplyContent, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Recent returns the newest records first. A non-empty userID filters by sender.
func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]domain.ConversationRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, user_id, message_id, type, content, reply_token, reply_content, created_at
		 FROM messages`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.ConversationRecord
	for rows.Next() {
		var r domain.ConversationRecord
		var user, msgID, content, token, reply sql.NullString
		if err := rows.Scan(&r.ID, &user, &msgID, &r.Type, &content, &token, &reply, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.UserID = user.String
		r.MessageID = msgID.String
		r.Content = content.String
		r.ReplyToken = token.String
		r.ReplyContent = reply.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
