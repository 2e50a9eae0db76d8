package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "shipbot/pkg/logx"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

const itemColumns = `id, raw_content, rendered_content, media_ref, state, created_at, scheduled_at, published_at`

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes every mutation.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return &sqliteStore{db: db, log: log, now: time.Now}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Submit(ctx context.Context, n NewItem) (int64, error) {
	if err := n.validate(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items(raw_content, rendered_content, media_ref, state, created_at) VALUES(?,?,?,?,?)`,
		n.RawContent, n.RenderedContent, nullStr(n.MediaRef), string(StateQueued), s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListQueued(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE state = ? ORDER BY id`, string(StateQueued))
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanSQLiteItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, err
}

func (s *sqliteStore) MarkScheduled(ctx context.Context, id int64, at time.Time) error {
	if at.IsZero() {
		return ErrInvalidTransition
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET scheduled_at = ? WHERE id = ? AND state = ? AND scheduled_at IS NULL`,
		at.UnixMilli(), id, string(StateQueued))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrSlotTaken
		}
		return fmt.Errorf("mark scheduled: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

func (s *sqliteStore) MarkPublished(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET state = ?, published_at = ? WHERE id = ? AND state = ?`,
		string(StatePublished), s.now().UnixMilli(), id, string(StateQueued))
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

func (s *sqliteStore) MarkDeleted(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET state = ? WHERE id = ? AND state = ?`,
		string(StateDeleted), id, string(StateQueued))
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	err = s.checkAffected(ctx, res, id)
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

// checkAffected maps a zero-row guarded UPDATE to ErrNotFound or ErrInvalidTransition.
func (s *sqliteStore) checkAffected(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrInvalidTransition
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, action, target, ok, err) VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.Action,
		nullStr(e.Target), boolInt(e.OK), nullStr(e.Error),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteItem(r rowScanner) (Item, error) {
	var (
		it          Item
		media       sql.NullString
		state       string
		createdAt   int64
		scheduledAt sql.NullInt64
		publishedAt sql.NullInt64
	)
	if err := r.Scan(&it.ID, &it.RawContent, &it.RenderedContent, &media, &state,
		&createdAt, &scheduledAt, &publishedAt); err != nil {
		return Item{}, err
	}
	it.MediaRef = media.String
	it.State = State(state)
	it.CreatedAt = time.UnixMilli(createdAt).UTC()
	if scheduledAt.Valid {
		it.ScheduledAt = time.UnixMilli(scheduledAt.Int64).UTC()
	}
	if publishedAt.Valid {
		it.PublishedAt = time.UnixMilli(publishedAt.Int64).UTC()
	}
	return it, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
