// Package users stores the wallet address each user last played with and
// the password credentials used to log in.
package users

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrInvalidArgs   = errors.New("invalid arguments")
	ErrUsernameTaken = errors.New("username already exists")
)

// Store reads and writes user addresses. GetAddress returns "" when the user
// has none on record.
type Store interface {
	GetAddress(ctx context.Context, userID string) (string, error)
	SetAddress(ctx context.Context, userID, address string) error
}

// CredentialStore keeps bcrypt password hashes by username. Password returns
// "", nil, nil for an unknown username.
type CredentialStore interface {
	CreatePassword(ctx context.Context, username string, hash []byte) (userID string, err error)
	Password(ctx context.Context, username string) (userID string, hash []byte, err error)
}

type credential struct {
	userID string
	hash   []byte
}

type MemoryStore struct {
	mu    sync.RWMutex
	addrs map[string]string
	creds map[string]credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{addrs: make(map[string]string), creds: make(map[string]credential)}
}

func (m *MemoryStore) GetAddress(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.addrs[strings.TrimSpace(userID)], nil
}

func (m *MemoryStore) SetAddress(_ context.Context, userID, address string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addrs[userID] = strings.TrimSpace(address)
	return nil
}

func (m *MemoryStore) CreatePassword(_ context.Context, username string, hash []byte) (string, error) {
	username = normalizeUsername(username)
	if username == "" || len(hash) == 0 {
		return "", ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[username]; ok {
		return "", ErrUsernameTaken
	}
	id := uuid.NewString()
	m.creds[username] = credential{userID: id, hash: append([]byte(nil), hash...)}
	return id, nil
}

func (m *MemoryStore) Password(_ context.Context, username string) (string, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[normalizeUsername(username)]
	if !ok {
		return "", nil, nil
	}
	return c.userID, append([]byte(nil), c.hash...), nil
}

func normalizeUsername(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

const schema = `CREATE TABLE IF NOT EXISTS users (
    id             TEXT PRIMARY KEY,
    public_address TEXT NOT NULL DEFAULT '',
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS user_credentials (
    username      TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL UNIQUE,
    password_hash BYTEA NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps addresses in users and passwords in user_credentials.
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if p == nil || p.db == nil {
		return nil
	}
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresStore) GetAddress(ctx context.Context, userID string) (string, error) {
	var addr string
	err := p.db.QueryRowContext(ctx,
		`SELECT public_address FROM users WHERE id = $1`, strings.TrimSpace(userID)).Scan(&addr)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return addr, err
}

func (p *PostgresStore) SetAddress(ctx context.Context, userID, address string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidArgs
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO users (id, public_address, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (id) DO UPDATE SET public_address = EXCLUDED.public_address, updated_at = now()`,
		userID, strings.TrimSpace(address))
	return err
}

func (p *PostgresStore) CreatePassword(ctx context.Context, username string, hash []byte) (string, error) {
	username = normalizeUsername(username)
	if username == "" || len(hash) == 0 {
		return "", ErrInvalidArgs
	}
	id := uuid.NewString()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO user_credentials (username, user_id, password_hash) VALUES ($1, $2, $3)`,
		username, id, hash)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return "", ErrUsernameTaken
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *PostgresStore) Password(ctx context.Context, username string) (string, []byte, error) {
	var (
		id   string
		hash []byte
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT user_id, password_hash FROM user_credentials WHERE username = $1`,
		normalizeUsername(username)).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return id, hash, nil
}
