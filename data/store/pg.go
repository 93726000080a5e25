package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on PostgreSQL via pgx.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() { s.pool.Close() }

const userColumns = `id, COALESCE(external_id, ''), email, name, COALESCE(avatar_url, ''), COALESCE(push_token, '')`

func (s *PGStore) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.Name, &u.AvatarURL, &u.PushToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PGStore) UserByExternalID(ctx context.Context, externalID string) (*User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID))
}

func (s *PGStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *PGStore) UserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PGStore) LinkExternalID(ctx context.Context, userID, externalID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET external_id = $2 WHERE id = $1 AND external_id IS NULL`,
		userID, externalID)
	return err
}

func (s *PGStore) UpdateUserStatus(ctx context.Context, userID, status string, lastSeen time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET status = $2, last_seen_at = $3 WHERE id = $1`,
		userID, status, lastSeen)
	return err
}

func (s *PGStore) ParticipantRole(ctx context.Context, conversationID, userID string) (Role, bool, error) {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Role(role), true, nil
}

func (s *PGStore) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PGStore) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id FROM conversation_participants WHERE user_id = $1`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PGStore) InsertMessage(ctx context.Context, m *Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.CreatedAt)
	return err
}

func (s *PGStore) MessageMeta(ctx context.Context, messageID string) (*MessageMeta, error) {
	var meta MessageMeta
	err := s.pool.QueryRow(ctx,
		`SELECT conversation_id, sender_id FROM messages WHERE id = $1`,
		messageID).Scan(&meta.ConversationID, &meta.SenderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// MarkRead relies on COALESCE keeping the first read timestamp: re-reads return
// the original value, and changed comes back false.
func (s *PGStore) MarkRead(ctx context.Context, messageID, userID string, at time.Time) (time.Time, bool, error) {
	at = at.Truncate(time.Microsecond) // timestamptz keeps microseconds
	var readAt time.Time
	err := s.pool.QueryRow(ctx,
		`INSERT INTO message_receipts (message_id, user_id, read_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id)
		 DO UPDATE SET read_at = COALESCE(message_receipts.read_at, EXCLUDED.read_at)
		 RETURNING read_at`,
		messageID, userID, at).Scan(&readAt)
	if err != nil {
		return time.Time{}, false, err
	}
	return readAt, readAt.Equal(at), nil
}

func (s *PGStore) MarkDelivered(ctx context.Context, messageID, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO message_receipts (message_id, user_id, delivered_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id)
		 DO UPDATE SET delivered_at = COALESCE(message_receipts.delivered_at, EXCLUDED.delivered_at)`,
		messageID, userID, at)
	return err
}
