package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/collab/internal/protocol"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS collab_documents (
	document_id TEXT PRIMARY KEY,
	head        BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS collab_changes (
	document_id  TEXT   NOT NULL REFERENCES collab_documents(document_id),
	version      BIGINT NOT NULL,
	change_id    TEXT,
	base_version BIGINT NOT NULL,
	payload      JSONB,
	PRIMARY KEY (document_id, version)
);
CREATE UNIQUE INDEX IF NOT EXISTS collab_changes_change_id
	ON collab_changes (document_id, change_id) WHERE change_id IS NOT NULL;
`

// PostgresLog is a Log shared by every hub process pointed at one database.
type PostgresLog struct {
	pool *pgxpool.Pool
}

var _ Log = (*PostgresLog)(nil)

// OpenPostgresLog connects and ensures the schema exists.
func OpenPostgresLog(ctx context.Context, dsn string) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("hub: postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("hub: postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("hub: postgres schema: %w", err)
	}
	log.Info().Msg("hub.PostgresLog ready")
	return &PostgresLog{pool: pool}, nil
}

func (l *PostgresLog) Since(ctx context.Context, doc string, version int64) (int64, []Entry, error) {
	if doc == "" {
		return 0, nil, ErrDocumentRequired
	}
	var head int64
	err := l.pool.QueryRow(ctx, `SELECT head FROM collab_documents WHERE document_id = $1`, doc).Scan(&head)
	if errors.Is(err, pgx.ErrNoRows) {
		return BaseVersion, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("hub: postgres head: %w", err)
	}
	rows, err := l.pool.Query(ctx, `
		SELECT version, change_id, base_version, payload
		FROM collab_changes
		WHERE document_id = $1 AND version > $2 AND version <= $3
		ORDER BY version`, doc, version, head)
	if err != nil {
		return 0, nil, fmt.Errorf("hub: postgres since: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return 0, nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("hub: postgres since: %w", err)
	}
	return head, out, nil
}

func scanEntry(rows pgx.Rows) (Entry, error) {
	var (
		e       Entry
		id      *string
		payload []byte
	)
	if err := rows.Scan(&e.Version, &id, &e.Change.BaseVersion, &payload); err != nil {
		return Entry{}, fmt.Errorf("hub: postgres scan: %w", err)
	}
	if id != nil {
		e.Change.ID = *id
	}
	if len(payload) > 0 {
		e.Change.Payload = json.RawMessage(payload)
	}
	return e, nil
}

func (l *PostgresLog) Append(ctx context.Context, doc string, changes []protocol.Change) (int64, []Entry, error) {
	if doc == "" {
		return 0, nil, ErrDocumentRequired
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("hub: postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO collab_documents (document_id, head) VALUES ($1, $2)
		ON CONFLICT (document_id) DO NOTHING`, doc, BaseVersion); err != nil {
		return 0, nil, fmt.Errorf("hub: postgres document: %w", err)
	}
	var head int64
	if err := tx.QueryRow(ctx, `SELECT head FROM collab_documents WHERE document_id = $1 FOR UPDATE`, doc).Scan(&head); err != nil {
		return 0, nil, fmt.Errorf("hub: postgres lock head: %w", err)
	}

	known, err := knownChangeIDs(ctx, tx, doc, changes)
	if err != nil {
		return 0, nil, err
	}
	var appended []Entry
	for _, c := range changes {
		if c.ID != "" {
			if _, dup := known[c.ID]; dup {
				continue
			}
			known[c.ID] = struct{}{}
		}
		head++
		var id *string
		if c.ID != "" {
			id = &c.ID
		}
		var payload []byte
		if len(c.Payload) > 0 {
			payload = c.Payload
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO collab_changes (document_id, version, change_id, base_version, payload)
			VALUES ($1, $2, $3, $4, $5)`, doc, head, id, c.BaseVersion, payload); err != nil {
			return 0, nil, fmt.Errorf("hub: postgres insert change: %w", err)
		}
		appended = append(appended, Entry{Version: head, Change: c})
	}
	if _, err := tx.Exec(ctx, `UPDATE collab_documents SET head = $2 WHERE document_id = $1`, doc, head); err != nil {
		return 0, nil, fmt.Errorf("hub: postgres update head: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, nil, fmt.Errorf("hub: postgres commit: %w", err)
	}
	return head, appended, nil
}

func knownChangeIDs(ctx context.Context, tx pgx.Tx, doc string, changes []protocol.Change) (map[string]struct{}, error) {
	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		if c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	known := make(map[string]struct{})
	if len(ids) == 0 {
		return known, nil
	}
	rows, err := tx.Query(ctx, `
		SELECT change_id FROM collab_changes
		WHERE document_id = $1 AND change_id = ANY($2)`, doc, ids)
	if err != nil {
		return nil, fmt.Errorf("hub: postgres dedupe: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("hub: postgres dedupe scan: %w", err)
		}
		known[id] = struct{}{}
	}
	return known, rows.Err()
}

func (l *PostgresLog) Close() {
	l.pool.Close()
}
