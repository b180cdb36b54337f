// Package store persists proxy records keyed by (host, port).
//
// Two backends implement Store: GormStore (sqlite, the default) and
// PostgresStore (pgx) for pools shared between hosts. Both provide the
// per-key atomicity the validator relies on; neither takes a store-wide
// lock.
package store

import (
	"context"
	"errors"
	"time"

	"proxyhealth/internal/model"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("proxy not found")

type Store interface {
	FindByKey(ctx context.Context, host string, port int) (*model.Proxy, error)

	// FindFiltered returns records ordered by score, highest first.
	FindFiltered(ctx context.Context, f Filter) ([]model.Proxy, error)

	// Upsert inserts a candidate. If the key already exists only the
	// descriptive fields are refreshed; counters, score, status and
	// history are left as they are.
	Upsert(ctx context.Context, p *model.Proxy) (created bool, err error)

	// ApplyUpdate applies one outcome to a record atomically.
	ApplyUpdate(ctx context.Context, host string, port int, u Update) error

	MarkUsed(ctx context.Context, host string, port int, at time.Time) error
	Delete(ctx context.Context, host string, port int) error

	DeleteWhere(ctx context.Context, p Predicate) (int64, error)
	CountWhere(ctx context.Context, p Predicate) (int64, error)

	// Stream calls fn with consecutive pages of at most pageSize records in
	// id order. Each page is fully loaded before fn runs, and ctx is checked
	// between pages. An error from fn stops the stream and is returned.
	Stream(ctx context.Context, pageSize int, fn func([]model.Proxy) error) error

	Close() error
}

// Filter selects records for listing. An empty Status matches any status.
type Filter struct {
	Status   model.Status
	MinScore int
	Limit    int
}

// Update is the partial update produced by one outcome.
type Update struct {
	Status      model.Status
	Score       int
	LastChecked time.Time

	SuccessInc int
	FailInc    int

	Append       model.Check
	HistoryLimit int
}

// Predicate selects records for counting and bulk deletion. Zero values
// leave a field unconstrained:
//   - Status "" matches any status
//   - MinFailCount matches fail_count >= MinFailCount
//   - ScoreBelow matches score < ScoreBelow when positive
//   - CheckedBefore matches last_checked < CheckedBefore when non-zero
type Predicate struct {
	Status        model.Status
	MinFailCount  int
	ScoreBelow    int
	CheckedBefore time.Time
}
