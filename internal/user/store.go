// Package user provides PostgreSQL-backed storage for user accounts. The
// relay itself only uses user IDs as opaque identities; this package backs
// the directory and credential endpoints around it.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user: not found")

	// ErrEmailExists is returned by Create when the email is already taken.
	ErrEmailExists = errors.New("user: email already exists")
)

// User is a stored account record.
type User struct {
	ID           string
	Username     string
	Email        string
	BirthDate    string
	PasswordHash string
}

// Public is the projection of a user exposed by the directory endpoints. It
// never carries the email or password hash.
type Public struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	BirthDate string `json:"dateBirth"`
}

// Store manages user records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new user record. It returns ErrEmailExists if the email
// is already registered.
func (s *Store) Create(ctx context.Context, u *User) error {
	const query = `
		INSERT INTO users (id, username, email, birth_date, password_hash)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.Email, u.BirthDate, u.PasswordHash)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEmailExists
		}
		return fmt.Errorf("user: insert: %w", err)
	}
	return nil
}

// GetByEmail returns the full record for the given email, or ErrNotFound.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	const query = `
		SELECT id, username, email, birth_date, password_hash
		FROM users WHERE email = $1`

	u := &User{}
	err := s.db.QueryRowContext(ctx, query, email).Scan(&u.ID, &u.Username, &u.Email, &u.BirthDate, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user: get by email: %w", err)
	}
	return u, nil
}

// GetByID returns the public projection for the given user ID, or
// ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*Public, error) {
	const query = `SELECT id, username, birth_date FROM users WHERE id = $1`

	p := &Public{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Username, &p.BirthDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user: get by id: %w", err)
	}
	return p, nil
}

// List returns the public projection of every user.
func (s *Store) List(ctx context.Context) ([]Public, error) {
	const query = `SELECT id, username, birth_date FROM users ORDER BY username`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("user: list: %w", err)
	}
	defer rows.Close()

	users := []Public{}
	for rows.Next() {
		var p Public
		if err := rows.Scan(&p.ID, &p.Username, &p.BirthDate); err != nil {
			return nil, fmt.Errorf("user: scan: %w", err)
		}
		users = append(users, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("user: iterate: %w", err)
	}
	return users, nil
}
