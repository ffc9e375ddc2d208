// Package store provides PostgreSQL-backed storage for direct messages. A
// message's client-supplied timestamp doubles as its deletion key, so the
// schema enforces its uniqueness; a colliding insert is rejected rather than
// silently creating an undeletable record.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrDuplicateKey is returned by Insert when a message with the same
// timestamp key already exists.
var ErrDuplicateKey = errors.New("store: duplicate message key")

// Message is one persisted direct message. Immutable after creation; the
// only mutation is whole-record deletion by Timestamp.
type Message struct {
	SenderID      string `json:"senderId"`
	RecipientID   string `json:"recipientId"`
	SenderName    string `json:"senderName"`
	RecipientName string `json:"recipientName"`
	Body          string `json:"body"`
	Timestamp     int64  `json:"timestamp"`
}

// Store manages message records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the given DSN and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: postgres connection failed: %w", err)
	}
	return db, nil
}

// Insert appends one message record. It returns ErrDuplicateKey if a record
// with the same timestamp already exists.
func (s *Store) Insert(ctx context.Context, m *Message) error {
	const query = `
		INSERT INTO messages (ts, sender_id, recipient_id, sender_name, recipient_name, body)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		m.Timestamp,
		m.SenderID,
		m.RecipientID,
		m.SenderName,
		m.RecipientName,
		m.Body,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateKey
		}
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

// DeleteByKey removes at most one record by its timestamp key. Deleting a
// non-existent key is not an error.
func (s *Store) DeleteByKey(ctx context.Context, key int64) error {
	const query = `DELETE FROM messages WHERE ts = $1`

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}

// QueryConversation returns all messages exchanged between the two
// identities, ordered by timestamp ascending. The LEAST/GREATEST pair
// normalizes the unordered conversation key so the lookup hits the
// conversation index instead of scanning the table.
func (s *Store) QueryConversation(ctx context.Context, idA, idB string) ([]Message, error) {
	const query = `
		SELECT ts, sender_id, recipient_id, sender_name, recipient_name, body
		FROM messages
		WHERE LEAST(sender_id, recipient_id) = LEAST($1, $2)
		  AND GREATEST(sender_id, recipient_id) = GREATEST($1, $2)
		ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, idA, idB)
	if err != nil {
		return nil, fmt.Errorf("store: query conversation: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Timestamp, &m.SenderID, &m.RecipientID, &m.SenderName, &m.RecipientName, &m.Body); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}
	return messages, nil
}
