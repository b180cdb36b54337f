package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proxyhealth/internal/config"
	"proxyhealth/internal/logger"
	"proxyhealth/internal/metrics"
	"proxyhealth/internal/model"
	"proxyhealth/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 10
	MaxConcurrency     = 50
)

// Prober checks one proxy. It never fails: every failure mode is
// reported through the Outcome.
type Prober interface {
	Probe(ctx context.Context, p model.Proxy) model.Outcome
}

// Result is what happened to one record during a batch.
type Result struct {
	Host    string
	Port    int
	Outcome model.Outcome
	Status  model.Status
	Score   int
	// Err is set when the outcome could not be persisted.
	Err error
}

// Summary describes the pool after a sweep. Success, Fail and Blocked
// are post-sweep status counts across the store, not this run's probe
// results.
type Summary struct {
	Total       int   `json:"total"`
	Success     int64 `json:"success"`
	Fail        int64 `json:"fail"`
	Blocked     int64 `json:"blocked"`
	Deleted     int64 `json:"deleted"`
	WriteErrors int   `json:"write_errors"`
}

type Validator struct {
	store  store.Store
	prober Prober
	pruner *Pruner
	cfg    config.ValidatorConfig

	// Metrics, when set, records every probe outcome.
	Metrics *metrics.Collector
	// OnResult, when set, is called after each record is handled. It may
	// be called from several goroutines at once.
	OnResult func(Result)

	now func() time.Time
}

func NewValidator(st store.Store, prober Prober, pruner *Pruner, cfg config.ValidatorConfig) *Validator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Validator{
		store:  st,
		prober: prober,
		pruner: pruner,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Concurrency clamps a requested number of in-flight probes to 1-50.
// Zero or less selects the configured default.
func (v *Validator) Concurrency(n int) int {
	if n <= 0 {
		n = v.cfg.Concurrency
	}
	if n <= 0 {
		n = DefaultConcurrency
	}
	if n > MaxConcurrency {
		n = MaxConcurrency
	}
	return n
}

// ValidateBatch probes every record with at most concurrency probes in
// flight and persists each outcome as soon as it arrives. A failing record
// never stops the batch. It returns once every record has been handled.
func (v *Validator) ValidateBatch(ctx context.Context, records []model.Proxy, concurrency int) []Result {
	results := make([]Result, len(records))

	// Plain Group: one record's failure must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(v.Concurrency(concurrency))
	for i := range records {
		i := i
		g.Go(func() error {
			results[i] = v.validate(ctx, records[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (v *Validator) validate(ctx context.Context, p model.Proxy) Result {
	out := v.prober.Probe(ctx, p)
	if v.Metrics != nil {
		v.Metrics.Record(out)
	}

	res, err := v.apply(ctx, p.Host, p.Port, out)
	if err != nil {
		logger.Log.Warnf("Failed to persist outcome for %s: %v", p.Address(), err)
	} else {
		logger.Log.Debugf("%s -> %s (score %d) %s", p.Address(), res.Status, res.Score, out.Error)
	}

	if v.OnResult != nil {
		v.OnResult(res)
	}
	return res
}

// apply feeds one outcome through the status resolver and the scoring
// function using the record's counters as of just before this outcome,
// then writes the result back in a single store update.
func (v *Validator) apply(ctx context.Context, host string, port int, out model.Outcome) (Result, error) {
	res := Result{Host: host, Port: port, Outcome: out}

	cur, err := v.store.FindByKey(ctx, host, port)
	if err != nil {
		res.Err = err
		return res, err
	}

	u := store.Update{HistoryLimit: v.cfg.HistoryLimit}
	successes, failures := cur.SuccessCount, cur.FailCount
	if out.Success {
		successes++
		u.SuccessInc = 1
	} else {
		failures++
		u.FailInc = 1
	}

	now := v.now().UTC()
	u.Status = ResolveStatus(out)
	u.Score = CalculateScore(successes, failures, out)
	u.LastChecked = now
	u.Append = model.Check{
		Timestamp: now,
		Success:   out.Success,
		LatencyMS: out.LatencyMS,
		Error:     out.Error,
		Blocked:   out.Blocked,
	}

	res.Status, res.Score = u.Status, u.Score
	if err := v.store.ApplyUpdate(ctx, host, port, u); err != nil {
		res.Err = err
		return res, err
	}
	return res, nil
}

// ValidateAll sweeps the whole store page by page, then runs stale
// eviction and reports the pool's status counts.
//
// Cancelling ctx stops the sweep between pages; the page in flight is
// always finished so it is never left half updated. A cancelled sweep
// skips eviction and returns the partial Summary with ctx's error.
// Per-record failures are counted in WriteErrors and never returned.
func (v *Validator) ValidateAll(ctx context.Context, concurrency int) (Summary, error) {
	var sum Summary
	concurrency = v.Concurrency(concurrency)

	runID := uuid.NewString()
	log := logger.Log.With("run", runID[:8])
	start := v.now()
	log.Infof("🔎 Starting sweep (concurrency %d, page size %d)", concurrency, v.cfg.PageSize)

	pageCtx := context.WithoutCancel(ctx)
	err := v.store.Stream(ctx, v.cfg.PageSize, func(page []model.Proxy) error {
		for _, r := range v.ValidateBatch(pageCtx, page, concurrency) {
			if r.Err != nil {
				sum.WriteErrors++
			}
		}
		sum.Total += len(page)
		log.Infof("Validated %d proxies", sum.Total)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warnf("Sweep stopped early after %d proxies", sum.Total)
		}
		return sum, fmt.Errorf("sweep: %w", err)
	}

	if v.pruner != nil {
		deleted, err := v.pruner.EvictStale(ctx)
		if err != nil {
			return sum, err
		}
		sum.Deleted = deleted
	}

	if err := v.countPool(ctx, &sum); err != nil {
		return sum, err
	}

	log.Infof("✅ Sweep done in %s: %d probed, %d active, %d inactive, %d blocked, %d evicted, %d write errors",
		v.now().Sub(start).Round(time.Millisecond), sum.Total, sum.Success, sum.Fail, sum.Blocked, sum.Deleted, sum.WriteErrors)
	return sum, nil
}

func (v *Validator) countPool(ctx context.Context, sum *Summary) error {
	counts := []struct {
		status model.Status
		dst    *int64
	}{
		{model.StatusActive, &sum.Success},
		{model.StatusInactive, &sum.Fail},
		{model.StatusBlocked, &sum.Blocked},
	}
	for _, c := range counts {
		n, err := v.store.CountWhere(ctx, store.Predicate{Status: c.status})
		if err != nil {
			return fmt.Errorf("count %s proxies: %w", c.status, err)
		}
		*c.dst = n
	}
	return nil
}

// ValidateOne probes a single record and reports whether its outcome was
// persisted.
func (v *Validator) ValidateOne(ctx context.Context, p model.Proxy) bool {
	return v.validate(ctx, p).Err == nil
}

// ReportOutcome applies an outcome observed by a consumer of the proxy
// rather than by a probe. The proxy is also marked as used.
// It returns store.ErrNotFound for unknown proxies.
func (v *Validator) ReportOutcome(ctx context.Context, host string, port int, out model.Outcome) (Result, error) {
	if v.Metrics != nil {
		v.Metrics.Record(out)
	}
	res, err := v.apply(ctx, host, port, out)
	if err != nil {
		return res, fmt.Errorf("report %s:%d: %w", host, port, err)
	}
	if err := v.store.MarkUsed(ctx, host, port, v.now()); err != nil {
		logger.Log.Warnf("Failed to mark %s:%d as used: %v", host, port, err)
	}
	return res, nil
}
