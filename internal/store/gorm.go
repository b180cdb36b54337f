package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proxyhealth/internal/db"
	"proxyhealth/internal/model"

	"gorm.io/gorm"
)

// descriptive columns refreshed when a known proxy is rediscovered
var refreshColumns = []string{"protocol", "source", "country", "city", "anonymity", "metadata"}

type GormStore struct {
	db *gorm.DB
}

// OpenSQLite connects to the sqlite file at path and migrates the schema.
func OpenSQLite(path string) (*GormStore, error) {
	database, err := db.Connect(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		db.Close(database)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return NewGormStore(database), nil
}

func NewGormStore(database *gorm.DB) *GormStore {
	return &GormStore{db: database}
}

func (s *GormStore) Close() error {
	db.Close(s.db)
	return nil
}

func (s *GormStore) FindByKey(ctx context.Context, host string, port int) (*model.Proxy, error) {
	var p model.Proxy
	err := s.db.WithContext(ctx).Where("host = ? AND port = ?", host, port).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s:%d: %w", host, port, err)
	}
	return &p, nil
}

func (s *GormStore) FindFiltered(ctx context.Context, f Filter) ([]model.Proxy, error) {
	q := s.db.WithContext(ctx).Model(&model.Proxy{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.MinScore > 0 {
		q = q.Where("score >= ?", f.MinScore)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []model.Proxy
	if err := q.Order("score DESC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find filtered: %w", err)
	}
	return out, nil
}

func (s *GormStore) Upsert(ctx context.Context, p *model.Proxy) (bool, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Proxy
		err := tx.Where("host = ? AND port = ?", p.Host, p.Port).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			return tx.Create(p).Error
		}
		if err != nil {
			return err
		}

		existing.Protocol = p.Protocol
		existing.Source = p.Source
		existing.Country = p.Country
		existing.City = p.City
		existing.Anonymity = p.Anonymity
		existing.Metadata = p.Metadata
		if err := tx.Model(&model.Proxy{ID: existing.ID}).Select(refreshColumns).Updates(&existing).Error; err != nil {
			return err
		}
		*p = existing
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", p.Address(), err)
	}
	return created, nil
}

func (s *GormStore) ApplyUpdate(ctx context.Context, host string, port int, u Update) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur model.Proxy
		err := tx.Select("id", "history").Where("host = ? AND port = ?", host, port).Take(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		checked := u.LastChecked.UTC()
		sets := model.Proxy{
			Status:      u.Status,
			Score:       u.Score,
			LastChecked: &checked,
			History:     AppendHistory(cur.History, u.Append, u.HistoryLimit),
		}
		err = tx.Model(&model.Proxy{ID: cur.ID}).
			Select("status", "score", "last_checked", "history").
			Updates(&sets).Error
		if err != nil {
			return err
		}

		return tx.Model(&model.Proxy{ID: cur.ID}).UpdateColumns(map[string]interface{}{
			"success_count": gorm.Expr("success_count + ?", u.SuccessInc),
			"fail_count":    gorm.Expr("fail_count + ?", u.FailInc),
		}).Error
	})
}

func (s *GormStore) MarkUsed(ctx context.Context, host string, port int, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Proxy{}).
		Where("host = ? AND port = ?", host, port).
		Update("last_used", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, host string, port int) error {
	res := s.db.WithContext(ctx).Where("host = ? AND port = ?", host, port).Delete(&model.Proxy{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) where(ctx context.Context, p Predicate) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&model.Proxy{})
	if p.Status != "" {
		q = q.Where("status = ?", p.Status)
	}
	if p.MinFailCount > 0 {
		q = q.Where("fail_count >= ?", p.MinFailCount)
	}
	if p.ScoreBelow > 0 {
		q = q.Where("score < ?", p.ScoreBelow)
	}
	if !p.CheckedBefore.IsZero() {
		q = q.Where("last_checked < ?", p.CheckedBefore.UTC())
	}
	return q
}

func (s *GormStore) DeleteWhere(ctx context.Context, p Predicate) (int64, error) {
	if p == (Predicate{}) {
		return 0, fmt.Errorf("refusing to delete with an empty predicate")
	}
	res := s.where(ctx, p).Delete(&model.Proxy{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) CountWhere(ctx context.Context, p Predicate) (int64, error) {
	var n int64
	err := s.where(ctx, p).Count(&n).Error
	return n, err
}

func (s *GormStore) Stream(ctx context.Context, pageSize int, fn func([]model.Proxy) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	var lastID uint
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var page []model.Proxy
		err := s.db.WithContext(ctx).
			Where("id > ?", lastID).
			Order("id ASC").
			Limit(pageSize).
			Find(&page).Error
		if err != nil {
			return fmt.Errorf("stream page after id %d: %w", lastID, err)
		}
		if len(page) == 0 {
			return nil
		}
		lastID = page[len(page)-1].ID

		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
	}
}
