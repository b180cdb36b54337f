package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"proxyhealth/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS proxies (
	id            BIGSERIAL PRIMARY KEY,
	host          TEXT NOT NULL,
	port          INTEGER NOT NULL,
	protocol      TEXT NOT NULL DEFAULT 'http',
	status        TEXT NOT NULL DEFAULT 'unknown',
	score         INTEGER NOT NULL DEFAULT 50,
	success_count INTEGER NOT NULL DEFAULT 0,
	fail_count    INTEGER NOT NULL DEFAULT 0,
	last_checked  TIMESTAMPTZ,
	last_used     TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	history       JSONB NOT NULL DEFAULT '[]',
	source        TEXT NOT NULL DEFAULT '',
	country       TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	anonymity     TEXT NOT NULL DEFAULT '',
	metadata      JSONB NOT NULL DEFAULT '{}',
	UNIQUE (host, port)
);
CREATE INDEX IF NOT EXISTS idx_proxies_status ON proxies (status);
CREATE INDEX IF NOT EXISTS idx_proxies_score ON proxies (score DESC);
CREATE INDEX IF NOT EXISTS idx_proxies_last_checked ON proxies (last_checked);
`

const proxyColumns = `id, host, port, protocol, status, score, success_count, fail_count,
	last_checked, last_used, created_at, history, source, country, city, anonymity, metadata`

type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dbURL and creates the schema if needed.
func OpenPostgres(ctx context.Context, dbURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Transaction poolers (PgBouncer) reject named prepared statements, so
	// JSON arguments are passed as text.
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanProxy(row pgx.Row) (*model.Proxy, error) {
	var (
		p        model.Proxy
		id       int64
		history  []byte
		metadata []byte
	)
	err := row.Scan(&id, &p.Host, &p.Port, &p.Protocol, &p.Status, &p.Score,
		&p.SuccessCount, &p.FailCount, &p.LastChecked, &p.LastUsed, &p.CreatedAt,
		&history, &p.Source, &p.Country, &p.City, &p.Anonymity, &metadata)
	if err != nil {
		return nil, err
	}
	p.ID = uint(id)
	if err := json.Unmarshal(history, &p.History); err != nil {
		return nil, fmt.Errorf("decode history of %s: %w", p.Address(), err)
	}
	if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", p.Address(), err)
	}
	return &p, nil
}

func collectProxies(rows pgx.Rows) ([]model.Proxy, error) {
	defer rows.Close()
	var out []model.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindByKey(ctx context.Context, host string, port int) (*model.Proxy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+proxyColumns+` FROM proxies WHERE host = $1 AND port = $2`, host, port)
	p, err := scanProxy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s:%d: %w", host, port, err)
	}
	return p, nil
}

func (s *PostgresStore) FindFiltered(ctx context.Context, f Filter) ([]model.Proxy, error) {
	query := `SELECT ` + proxyColumns + ` FROM proxies WHERE ($1 = '' OR status = $1) AND score >= $2
		ORDER BY score DESC, id ASC`
	args := []interface{}{string(f.Status), f.MinScore}
	if f.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find filtered: %w", err)
	}
	return collectProxies(rows)
}

func (s *PostgresStore) Upsert(ctx context.Context, p *model.Proxy) (bool, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	history, err := json.Marshal(nonNilHistory(p.History))
	if err != nil {
		return false, err
	}
	metadata, err := json.Marshal(nonNilMetadata(p.Metadata))
	if err != nil {
		return false, err
	}

	// xmax = 0 only for freshly inserted rows.
	var (
		id      int64
		created bool
	)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO proxies (host, port, protocol, status, score, success_count, fail_count,
			created_at, history, source, country, city, anonymity, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (host, port) DO UPDATE SET
			protocol = EXCLUDED.protocol,
			source = EXCLUDED.source,
			country = EXCLUDED.country,
			city = EXCLUDED.city,
			anonymity = EXCLUDED.anonymity,
			metadata = EXCLUDED.metadata
		RETURNING id, (xmax = 0)
	`, p.Host, p.Port, string(p.Protocol), string(p.Status), p.Score, p.SuccessCount, p.FailCount,
		p.CreatedAt, string(history), p.Source, p.Country, p.City, p.Anonymity, string(metadata)).Scan(&id, &created)
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", p.Address(), err)
	}

	stored, err := s.FindByKey(ctx, p.Host, p.Port)
	if err != nil {
		return false, err
	}
	*p = *stored
	return created, nil
}

func (s *PostgresStore) ApplyUpdate(ctx context.Context, host string, port int, u Update) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			id  int64
			raw []byte
		)
		err := tx.QueryRow(ctx, `SELECT id, history FROM proxies WHERE host = $1 AND port = $2 FOR UPDATE`,
			host, port).Scan(&id, &raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var history []model.Check
		if err := json.Unmarshal(raw, &history); err != nil {
			return fmt.Errorf("decode history of %s:%d: %w", host, port, err)
		}
		encoded, err := json.Marshal(AppendHistory(history, u.Append, u.HistoryLimit))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE proxies SET
				status = $2,
				score = $3,
				last_checked = $4,
				success_count = success_count + $5,
				fail_count = fail_count + $6,
				history = $7
			WHERE id = $1
		`, id, string(u.Status), u.Score, u.LastChecked.UTC(), u.SuccessInc, u.FailInc, string(encoded))
		return err
	})
}

func (s *PostgresStore) MarkUsed(ctx context.Context, host string, port int, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE proxies SET last_used = $3 WHERE host = $1 AND port = $2`, host, port, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, host string, port int) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM proxies WHERE host = $1 AND port = $2`, host, port)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// whereClause renders p as a SQL condition with positional arguments.
func whereClause(p Predicate) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if p.Status != "" {
		add("status = $%d", string(p.Status))
	}
	if p.MinFailCount > 0 {
		add("fail_count >= $%d", p.MinFailCount)
	}
	if p.ScoreBelow > 0 {
		add("score < $%d", p.ScoreBelow)
	}
	if !p.CheckedBefore.IsZero() {
		add("last_checked < $%d", p.CheckedBefore.UTC())
	}
	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}

func (s *PostgresStore) DeleteWhere(ctx context.Context, p Predicate) (int64, error) {
	if p == (Predicate{}) {
		return 0, fmt.Errorf("refusing to delete with an empty predicate")
	}
	cond, args := whereClause(p)
	tag, err := s.pool.Exec(ctx, `DELETE FROM proxies WHERE `+cond, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountWhere(ctx context.Context, p Predicate) (int64, error) {
	cond, args := whereClause(p)
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM proxies WHERE `+cond, args...).Scan(&n)
	return n, err
}

func (s *PostgresStore) Stream(ctx context.Context, pageSize int, fn func([]model.Proxy) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := s.pool.Query(ctx, `SELECT `+proxyColumns+` FROM proxies WHERE id > $1 ORDER BY id ASC LIMIT $2`,
			lastID, pageSize)
		if err != nil {
			return fmt.Errorf("stream page after id %d: %w", lastID, err)
		}
		page, err := collectProxies(rows)
		if err != nil {
			return fmt.Errorf("stream page after id %d: %w", lastID, err)
		}
		if len(page) == 0 {
			return nil
		}
		lastID = int64(page[len(page)-1].ID)

		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

func nonNilHistory(h []model.Check) []model.Check {
	if h == nil {
		return []model.Check{}
	}
	return h
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
