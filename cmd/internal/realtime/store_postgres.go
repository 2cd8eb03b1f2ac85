// Package realtime contains the reference backend: the WebSocket gateway that
// serves paged history and live changes, and the message persistence behind it.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"msgwindow/cmd/internal/ids"
	"msgwindow/cmd/internal/window"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Uses per-conversation transactional advisory locks to guarantee:
//   - No sequence gaps caused by duplicates
//   - Strict monotonic ordering under concurrency
//   - Strictly increasing updated_at per message
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	ids    *ids.Monotonic
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "msgwindow").
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
		schema: "msgwindow",
		ids:    ids.NewMonotonic(),
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

// Migrate creates the schema and tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := pgx.Identifier{s.schema}.Sanitize()
	conversations := pgIdent(s.schema, "conversations")
	cursors := pgIdent(s.schema, "conversation_cursors")
	messages := pgIdent(s.schema, "messages")

	ddl := fmt.Sprintf(schemaTemplate,
		schema,
		conversations,
		cursors, conversations,
		messages, conversations,
		messages,
		messages,
	)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("realtime: migrate: %w", err)
	}
	return nil
}

const schemaTemplate = `
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id TEXT PRIMARY KEY REFERENCES %s(id) ON DELETE CASCADE,
  next_seq        BIGINT NOT NULL DEFAULT 1,
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  seq             BIGINT NOT NULL,
  id              TEXT NOT NULL UNIQUE,
  client_msg_id   TEXT NOT NULL,
  sender_session  TEXT NOT NULL,
  sender          TEXT NOT NULL CHECK (sender IN ('customer', 'operator', 'system')),
  text            TEXT NOT NULL,
  status          TEXT NOT NULL CHECK (status IN ('sent', 'delivered', 'read')),
  created_at      TIMESTAMPTZ NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL,

  PRIMARY KEY (conversation_id, seq),
  CONSTRAINT uq_messages_conversation_client_msg UNIQUE (conversation_id, client_msg_id),
  CONSTRAINT chk_messages_text_len CHECK (char_length(text) > 0 AND char_length(text) <= 4096)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq_desc
  ON %s (conversation_id, seq DESC);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_id
  ON %s (conversation_id, id);
`

const messageColumns = `conversation_id, seq, id, client_msg_id, sender_session, sender, text, status, created_at, updated_at`

func scanMessage(row pgx.Row) (StoredMessage, error) {
	var (
		m              StoredMessage
		sender, status string
	)
	err := row.Scan(
		&m.ConversationID,
		&m.Seq,
		&m.ID,
		&m.ClientMsgID,
		&m.SenderSession,
		&sender,
		&m.Text,
		&status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	m.Sender = window.Sender(sender)
	m.Status = window.Status(status)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, err
}

func (s *PostgresStore) lock(ctx context.Context, tx pgx.Tx, conversationID string) error {
	// Serialize all writes per conversation.
	// hashtextextended reduces collision risk vs hashtext (still a hash, but better).
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, conversationID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

// AppendMessage appends a message with idempotency and monotonic sequence allocation.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if s == nil || s.pool == nil {
		return AppendMessageResult{}, errors.New("realtime: nil store")
	}
	if err := in.validate(); err != nil {
		return AppendMessageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Microsecond)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendMessageResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversations := pgIdent(s.schema, "conversations")
	cursors := pgIdent(s.schema, "conversation_cursors")
	messages := pgIdent(s.schema, "messages")

	if err := s.lock(ctx, tx, in.ConversationID); err != nil {
		return AppendMessageResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+conversations+` (id) VALUES ($1)
		 ON CONFLICT (id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return AppendMessageResult{}, err
	}

	existing, err := scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+`
		   FROM `+messages+`
		  WHERE conversation_id = $1 AND client_msg_id = $2`,
		in.ConversationID, in.ClientMsgID,
	))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendMessageResult{}, err
		}
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendMessageResult{}, err
	}

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (conversation_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return AppendMessageResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE conversation_id = $1
		RETURNING (next_seq - 1)`,
		in.ConversationID,
	).Scan(&seq); err != nil {
		return AppendMessageResult{}, err
	}

	id, err := s.ids.New(now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	out := StoredMessage{
		ID:             id,
		ConversationID: in.ConversationID,
		ClientMsgID:    in.ClientMsgID,
		Seq:            seq,
		SenderSession:  in.SenderSession,
		Sender:         in.Sender,
		Text:           in.Text,
		Status:         window.StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		out.ConversationID, out.Seq, out.ID, out.ClientMsgID, out.SenderSession,
		string(out.Sender), out.Text, string(out.Status), out.CreatedAt, out.UpdatedAt,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendMessageResult{}, err
	}
	return AppendMessageResult{Stored: out, Duplicated: false}, nil
}

// UpdateStatus advances a message's status and bumps updated_at.
func (s *PostgresStore) UpdateStatus(ctx context.Context, in UpdateStatusInput) (UpdateStatusResult, error) {
	if s == nil || s.pool == nil {
		return UpdateStatusResult{}, errors.New("realtime: nil store")
	}
	if err := in.validate(); err != nil {
		return UpdateStatusResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return UpdateStatusResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return UpdateStatusResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.lock(ctx, tx, in.ConversationID); err != nil {
		return UpdateStatusResult{}, err
	}

	messages := pgIdent(s.schema, "messages")

	cur, err := scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+`
		   FROM `+messages+`
		  WHERE conversation_id = $1 AND id = $2`,
		in.ConversationID, in.MessageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return UpdateStatusResult{}, ErrNotFound
	}
	if err != nil {
		return UpdateStatusResult{}, err
	}

	if statusRank(in.Status) <= statusRank(cur.Status) {
		if err := tx.Commit(ctx); err != nil {
			return UpdateStatusResult{}, err
		}
		return UpdateStatusResult{Stored: cur, Changed: false}, nil
	}

	cur.Status = in.Status
	cur.UpdatedAt = nextUpdatedAt(cur.UpdatedAt, now)

	if _, err := tx.Exec(ctx,
		`UPDATE `+messages+`
		    SET status = $3, updated_at = $4
		  WHERE conversation_id = $1 AND id = $2`,
		in.ConversationID, in.MessageID, string(cur.Status), cur.UpdatedAt,
	); err != nil {
		return UpdateStatusResult{}, fmt.Errorf("update status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return UpdateStatusResult{}, err
	}
	return UpdateStatusResult{Stored: cur, Changed: true}, nil
}

// FetchPage returns one page ordered by seq ASC. Backward and tail reads
// scan seq DESC with one extra row and are reversed before returning.
func (s *PostgresStore) FetchPage(ctx context.Context, in FetchPageInput) (FetchPageResult, error) {
	if s == nil || s.pool == nil {
		return FetchPageResult{}, errors.New("realtime: nil store")
	}
	if err := in.validate(); err != nil {
		return FetchPageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return FetchPageResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1
	messages := pgIdent(s.schema, "messages")
	sel := `SELECT ` + messageColumns + ` FROM ` + messages

	var (
		query    string
		args     []any
		backward bool
	)
	switch {
	case in.Last:
		backward = true
		query = sel + ` WHERE conversation_id = $1 ORDER BY seq DESC LIMIT $2`
		args = []any{in.ConversationID, fetch}
	case in.BeforeSeq != nil:
		backward = true
		query = sel + ` WHERE conversation_id = $1 AND seq < $2 ORDER BY seq DESC LIMIT $3`
		args = []any{in.ConversationID, *in.BeforeSeq, fetch}
	case in.AfterSeq != nil:
		query = sel + ` WHERE conversation_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`
		args = []any{in.ConversationID, *in.AfterSeq, fetch}
	default:
		query = sel + ` WHERE conversation_id = $1 ORDER BY seq ASC LIMIT $2`
		args = []any{in.ConversationID, fetch}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return FetchPageResult{}, err
	}
	defer rows.Close()

	msgs := make([]StoredMessage, 0, fetch)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return FetchPageResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return FetchPageResult{}, err
	}

	more := len(msgs) > limit
	if more {
		msgs = msgs[:limit]
	}

	var out FetchPageResult
	if backward {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
		out.HasPrevious = more
		if in.BeforeSeq != nil {
			out.HasNext, err = s.exists(ctx, messages, `seq >= $2`, in.ConversationID, *in.BeforeSeq)
		}
	} else {
		out.HasNext = more
		if in.AfterSeq != nil {
			out.HasPrevious, err = s.exists(ctx, messages, `seq <= $2`, in.ConversationID, *in.AfterSeq)
		}
	}
	if err != nil {
		return FetchPageResult{}, err
	}
	out.Messages = msgs
	return out, nil
}

func (s *PostgresStore) exists(ctx context.Context, table, cond, conversationID string, seq int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE conversation_id = $1 AND `+cond+`)`,
		conversationID, seq,
	).Scan(&ok)
	return ok, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
