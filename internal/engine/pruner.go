package engine

import (
	"context"
	"fmt"
	"time"

	"proxyhealth/internal/config"
	"proxyhealth/internal/logger"
	"proxyhealth/internal/model"
	"proxyhealth/internal/store"
)

// Pruner permanently removes proxies that have stopped being worth
// probing. Deletion is irreversible.
type Pruner struct {
	store store.Store
	cfg   config.EvictionConfig
	now   func() time.Time
}

func NewPruner(st store.Store, cfg config.EvictionConfig) *Pruner {
	def := config.Default().Eviction
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.StaleMinFails < 0 {
		cfg.StaleMinFails = def.StaleMinFails
	}
	if cfg.CleanupMinFails < 0 {
		cfg.CleanupMinFails = def.CleanupMinFails
	}
	if cfg.CleanupMaxScore <= 0 {
		cfg.CleanupMaxScore = def.CleanupMaxScore
	}
	return &Pruner{store: st, cfg: cfg, now: time.Now}
}

// StalePredicate matches inactive proxies with more than StaleMinFails
// failures that have not been checked for StaleAfter.
func (p *Pruner) StalePredicate() store.Predicate {
	return store.Predicate{
		Status:        model.StatusInactive,
		MinFailCount:  p.cfg.StaleMinFails + 1,
		CheckedBefore: p.now().Add(-p.cfg.StaleAfter),
	}
}

// FailingPredicate matches inactive proxies with more than
// CleanupMinFails failures and a score under CleanupMaxScore, however
// recently they were checked.
func (p *Pruner) FailingPredicate() store.Predicate {
	return store.Predicate{
		Status:       model.StatusInactive,
		MinFailCount: p.cfg.CleanupMinFails + 1,
		ScoreBelow:   p.cfg.CleanupMaxScore,
	}
}

// EvictStale runs at the end of every full sweep.
func (p *Pruner) EvictStale(ctx context.Context) (int64, error) {
	n, err := p.store.DeleteWhere(ctx, p.StalePredicate())
	if err != nil {
		return 0, fmt.Errorf("stale eviction: %w", err)
	}
	if n > 0 {
		logger.Log.Infof("✂️  Evicted %d stale proxies (inactive, >%d fails, unchecked for %s)",
			n, p.cfg.StaleMinFails, p.cfg.StaleAfter)
	}
	return n, nil
}

// CleanupFailing is the on-demand cut for proxies with a poor record.
func (p *Pruner) CleanupFailing(ctx context.Context) (int64, error) {
	n, err := p.store.DeleteWhere(ctx, p.FailingPredicate())
	if err != nil {
		return 0, fmt.Errorf("failing cleanup: %w", err)
	}
	if n > 0 {
		logger.Log.Infof("✂️  Removed %d persistently failing proxies (inactive, >%d fails, score <%d)",
			n, p.cfg.CleanupMinFails, p.cfg.CleanupMaxScore)
	}
	return n, nil
}
