package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "shipbot/pkg/logx"
)

//go:embed migrations/*.sql
var postgresMigrations embed.FS

const pgUniqueViolation = "23505"

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
	now  func() time.Time
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	if err := migratePostgres(dsn); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Debug("postgres store ready", logx.Int("max_conns", int(poolCfg.MaxConns)))
	return &postgresStore{pool: pool, log: log, now: time.Now}, nil
}

// migratePostgres applies embedded migrations. golang-migrate's pgx/v5 driver
// expects the "pgx5://" scheme.
func migratePostgres(dsn string) error {
	rest := dsn
	switch {
	case strings.HasPrefix(dsn, "postgresql://"):
		rest = dsn[len("postgresql://"):]
	case strings.HasPrefix(dsn, "postgres://"):
		rest = dsn[len("postgres://"):]
	}
	src, err := iofs.New(postgresMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "pgx5://"+rest)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) Submit(ctx context.Context, n NewItem) (int64, error) {
	if err := n.validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO items(raw_content, rendered_content, media_ref, state, created_at)
		 VALUES($1,$2,$3,$4,$5) RETURNING id`,
		n.RawContent, n.RenderedContent, nullStr(n.MediaRef), string(StateQueued), instant(s.now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	return id, nil
}

func (s *postgresStore) ListQueued(ctx context.Context) ([]Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE state = $1 ORDER BY id`, string(StateQueued))
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanPgItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *postgresStore) Get(ctx context.Context, id int64) (Item, error) {
	it, err := scanPgItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, err
}

func (s *postgresStore) MarkScheduled(ctx context.Context, id int64, at time.Time) error {
	if at.IsZero() {
		return ErrInvalidTransition
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET scheduled_at = $1 WHERE id = $2 AND state = $3 AND scheduled_at IS NULL`,
		instant(at), id, string(StateQueued))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrSlotTaken
		}
		return fmt.Errorf("mark scheduled: %w", err)
	}
	return s.checkAffected(ctx, tag.RowsAffected(), id)
}

func (s *postgresStore) MarkPublished(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET state = $1, published_at = $2 WHERE id = $3 AND state = $4`,
		string(StatePublished), instant(s.now()), id, string(StateQueued))
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return s.checkAffected(ctx, tag.RowsAffected(), id)
}

func (s *postgresStore) MarkDeleted(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET state = $1 WHERE id = $2 AND state = $3`,
		string(StateDeleted), id, string(StateQueued))
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	err = s.checkAffected(ctx, tag.RowsAffected(), id)
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

func (s *postgresStore) checkAffected(ctx context.Context, n int64, id int64) error {
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, action, target, ok, err) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.At, e.ActorID, nullStr(e.ActorUsername), e.Action, nullStr(e.Target), e.OK, nullStr(e.Error),
	)
	return err
}

func scanPgItem(r pgx.Row) (Item, error) {
	var (
		it          Item
		media       *string
		state       string
		scheduledAt *time.Time
		publishedAt *time.Time
	)
	if err := r.Scan(&it.ID, &it.RawContent, &it.RenderedContent, &media, &state,
		&it.CreatedAt, &scheduledAt, &publishedAt); err != nil {
		return Item{}, err
	}
	if media != nil {
		it.MediaRef = *media
	}
	it.State = State(state)
	it.CreatedAt = instant(it.CreatedAt)
	if scheduledAt != nil {
		it.ScheduledAt = instant(*scheduledAt)
	}
	if publishedAt != nil {
		it.PublishedAt = instant(*publishedAt)
	}
	return it, nil
}
