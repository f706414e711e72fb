// Package realtime contains relay's realtime WebSocket gateway, room fanout
// and message persistence primitives.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - CreateMessage takes a per-room transactional advisory lock so duplicate
//   temp ids from a flaky client can never insert twice.
// - Mutations take a per-message advisory lock: reaction updates are
//   read-modify-write over a JSONB map and would lose updates otherwise.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "relay").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "relay",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const messageColumns = `id, temp_id, room_key, sender_id, recipient_id, kind, content, file_url,
	created_at, reactions, hidden_for, is_unsent, original_kind, original_content, status`

// CreateMessage persists a message with idempotency per (room_key, temp_id).
func (s *PostgresStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, bool, error) {
	if s == nil || s.pool == nil {
		return Message{}, false, errors.New("realtime: nil store")
	}
	if in.RoomKey == "" || in.SenderID == "" {
		return Message{}, false, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	kind := in.Kind
	if kind == "" {
		kind = KindText
	}
	status := StatusSent
	if in.Delivered {
		status = StatusDelivered
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")

	// Serialize all writes per room so a duplicate temp id can never race
	// its original into two rows.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.RoomKey); err != nil {
		return Message{}, false, fmt.Errorf("advisory lock: %w", err)
	}

	if in.TempID != "" {
		existing, err := scanMessageRow(tx.QueryRow(ctx,
			`SELECT `+messageColumns+` FROM `+messages+`
			  WHERE room_key = $1 AND temp_id = $2`,
			in.RoomKey, in.TempID,
		))
		if err == nil {
			if err := tx.Commit(ctx); err != nil {
				return Message{}, false, err
			}
			return existing, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Message{}, false, err
		}
	}

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, false, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, temp_id, room_key, sender_id, recipient_id, kind, content, file_url,
		     created_at, reactions, hidden_for, is_unsent, original_kind, original_content, status
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '{}'::jsonb, '[]'::jsonb, FALSE, '', '', $10)`,
		id, in.TempID, in.RoomKey, in.SenderID, in.RecipientID, string(kind), in.Content, in.FileURL,
		now, string(status),
	); err != nil {
		return Message{}, false, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, false, err
	}

	return Message{
		ID:          id,
		TempID:      in.TempID,
		RoomKey:     in.RoomKey,
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		Kind:        kind,
		Content:     in.Content,
		FileURL:     in.FileURL,
		CreatedAt:   now,
		Reactions:   make(map[string]string),
		Status:      status,
	}, false, nil
}

// GetMessage returns a message by durable id.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("realtime: nil store")
	}
	if messageID == "" {
		return Message{}, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")
	m, err := scanMessageRow(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+` WHERE id = $1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

// SetReaction replaces userID's reaction with the normalized form of raw.
func (s *PostgresStore) SetReaction(ctx context.Context, messageID, userID string, raw json.RawMessage) (Message, error) {
	if userID == "" {
		return Message{}, errors.New("missing user id")
	}
	return s.mutate(ctx, messageID, func(m *Message) error {
		if IsEmptyReaction(raw) {
			delete(m.Reactions, userID)
			return nil
		}
		m.Reactions[userID] = CanonicalEmoji(raw)
		return nil
	})
}

// Unsend tombstones the message. Sender-only; idempotent.
func (s *PostgresStore) Unsend(ctx context.Context, messageID, requesterID string) (Message, error) {
	return s.mutate(ctx, messageID, func(m *Message) error {
		if m.SenderID != requesterID {
			return ErrForbidden
		}
		if m.IsUnsent {
			return nil
		}
		m.OriginalKind = m.Kind
		m.OriginalContent = m.Content
		m.Kind = KindUnsent
		m.Content = ""
		m.FileURL = ""
		m.Reactions = make(map[string]string)
		m.IsUnsent = true
		return nil
	})
}

// HideForMe idempotently hides the message for userID.
func (s *PostgresStore) HideForMe(ctx context.Context, messageID, userID string) (Message, error) {
	if userID == "" {
		return Message{}, errors.New("missing user id")
	}
	return s.mutate(ctx, messageID, func(m *Message) error {
		if !m.HiddenForUser(userID) {
			m.HiddenFor = append(m.HiddenFor, userID)
		}
		return nil
	})
}

// MarkSeen advances the status to seen on behalf of a recipient.
func (s *PostgresStore) MarkSeen(ctx context.Context, messageID, userID string) (Message, error) {
	return s.mutate(ctx, messageID, func(m *Message) error {
		if m.SenderID == userID {
			return ErrForbidden
		}
		m.Status = StatusSeen
		return nil
	})
}

// ListRoomMessages returns visible messages ascending by creation time.
// Hidden-for filtering happens in SQL via the jsonb containment operator.
func (s *PostgresStore) ListRoomMessages(ctx context.Context, roomKey, viewerID string, after *time.Time) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	if roomKey == "" {
		return nil, errors.New("missing room key")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM `+messages+`
			  WHERE room_key = $1 AND NOT (hidden_for ? $2)
			  ORDER BY created_at ASC, id ASC`,
			roomKey, viewerID,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM `+messages+`
			  WHERE room_key = $1 AND NOT (hidden_for ? $2) AND created_at > $3
			  ORDER BY created_at ASC, id ASC`,
			roomKey, viewerID, *after,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// mutate runs fn over the current row under a per-message advisory lock and
// writes the result back. This is the read-modify-write discipline reaction
// maps need to avoid lost updates.
func (s *PostgresStore) mutate(ctx context.Context, messageID string, fn func(*Message) error) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("realtime: nil store")
	}
	if messageID == "" {
		return Message{}, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, messageID); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	messages := pgIdent(s.schema, "messages")
	m, err := scanMessageRow(tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+` WHERE id = $1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}

	if err := fn(&m); err != nil {
		return Message{}, err
	}

	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return Message{}, err
	}
	hidden, err := json.Marshal(hiddenOrEmpty(m.HiddenFor))
	if err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+messages+`
		    SET kind = $2, content = $3, file_url = $4, reactions = $5, hidden_for = $6,
		        is_unsent = $7, original_kind = $8, original_content = $9, status = $10
		  WHERE id = $1`,
		m.ID, string(m.Kind), m.Content, m.FileURL, reactions, hidden,
		m.IsUnsent, string(m.OriginalKind), m.OriginalContent, string(m.Status),
	); err != nil {
		return Message{}, fmt.Errorf("update message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return m, nil
}

type pgRow interface {
	Scan(dest ...any) error
}

// scanMessageRow scans a message row, normalizing the reaction map
// defensively: rows written by older generations may still carry the inverse
// emoji -> [userID] shape.
func scanMessageRow(row pgRow) (Message, error) {
	var (
		m            Message
		kind         string
		originalKind string
		status       string
		reactionsRaw []byte
		hiddenRaw    []byte
	)
	if err := row.Scan(
		&m.ID, &m.TempID, &m.RoomKey, &m.SenderID, &m.RecipientID,
		&kind, &m.Content, &m.FileURL, &m.CreatedAt,
		&reactionsRaw, &hiddenRaw, &m.IsUnsent, &originalKind, &m.OriginalContent, &status,
	); err != nil {
		return Message{}, err
	}
	m.Kind = Kind(kind)
	m.OriginalKind = Kind(originalKind)
	m.Status = Status(status)
	m.CreatedAt = m.CreatedAt.UTC()

	reactions, err := CanonicalReactionMap(reactionsRaw)
	if err != nil {
		return Message{}, fmt.Errorf("decode reactions: %w", err)
	}
	m.Reactions = reactions

	if len(hiddenRaw) > 0 {
		if err := json.Unmarshal(hiddenRaw, &m.HiddenFor); err != nil {
			return Message{}, fmt.Errorf("decode hidden_for: %w", err)
		}
	}
	return m, nil
}

func hiddenOrEmpty(h []string) []string {
	if h == nil {
		return []string{}
	}
	return h
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
