package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"proxyhealth/internal/model"
)

func openTestSQLite(t *testing.T) *GormStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("PROXYHEALTH_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("PROXYHEALTH_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dbURL)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE proxies`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGormStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return openTestSQLite(t) })
}

func TestPostgresStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return openTestPostgres(t) })
}

func seed(t *testing.T, s Store, p *model.Proxy) {
	t.Helper()
	if _, err := s.Upsert(context.Background(), p); err != nil {
		t.Fatalf("seed %s: %v", p.Address(), err)
	}
}

func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("upsert keeps counters on rediscovery", func(t *testing.T) {
		s := open(t)

		p := model.NewProxy("10.0.0.1", 8080, model.ProtocolHTTP, "list-a")
		created, err := s.Upsert(ctx, p)
		if err != nil || !created {
			t.Fatalf("first Upsert = %v, %v; want created", created, err)
		}

		err = s.ApplyUpdate(ctx, "10.0.0.1", 8080, Update{
			Status: model.StatusActive, Score: 90, LastChecked: time.Now(),
			SuccessInc: 1, Append: model.Check{Success: true}, HistoryLimit: 20,
		})
		if err != nil {
			t.Fatalf("ApplyUpdate: %v", err)
		}

		again := model.NewProxy("10.0.0.1", 8080, model.ProtocolSOCKS5, "list-b")
		again.Country = "NL"
		created, err = s.Upsert(ctx, again)
		if err != nil || created {
			t.Fatalf("second Upsert = %v, %v; want existing", created, err)
		}

		got, err := s.FindByKey(ctx, "10.0.0.1", 8080)
		if err != nil {
			t.Fatalf("FindByKey: %v", err)
		}
		if got.SuccessCount != 1 || got.Status != model.StatusActive || got.Score != 90 || len(got.History) != 1 {
			t.Errorf("rediscovery reset state: %+v", got)
		}
		if got.Protocol != model.ProtocolSOCKS5 || got.Source != "list-b" || got.Country != "NL" {
			t.Errorf("descriptive fields not refreshed: %+v", got)
		}
	})

	t.Run("find by key not found", func(t *testing.T) {
		s := open(t)
		if _, err := s.FindByKey(ctx, "10.9.9.9", 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		err := s.ApplyUpdate(ctx, "10.9.9.9", 1, Update{Status: model.StatusActive, HistoryLimit: 20, LastChecked: time.Now()})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("ApplyUpdate err = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, "10.9.9.9", 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("Delete err = %v, want ErrNotFound", err)
		}
	})

	t.Run("history is truncated to the limit", func(t *testing.T) {
		s := open(t)
		seed(t, s, model.NewProxy("10.0.0.2", 3128, model.ProtocolHTTP, "test"))

		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 25; i++ {
			err := s.ApplyUpdate(ctx, "10.0.0.2", 3128, Update{
				Status: model.StatusInactive, Score: 0, LastChecked: base.Add(time.Duration(i) * time.Minute),
				FailInc: 1, Append: model.Check{Timestamp: base.Add(time.Duration(i) * time.Minute), Error: "timeout"},
				HistoryLimit: 20,
			})
			if err != nil {
				t.Fatalf("ApplyUpdate %d: %v", i, err)
			}
		}

		got, err := s.FindByKey(ctx, "10.0.0.2", 3128)
		if err != nil {
			t.Fatalf("FindByKey: %v", err)
		}
		if got.FailCount != 25 {
			t.Errorf("FailCount = %d, want 25", got.FailCount)
		}
		if len(got.History) != 20 {
			t.Fatalf("history len = %d, want 20", len(got.History))
		}
		if !got.History[0].Timestamp.Equal(base.Add(5 * time.Minute)) {
			t.Errorf("oldest kept = %v, want the 6th check", got.History[0].Timestamp)
		}
		if !got.History[19].Timestamp.Equal(base.Add(24 * time.Minute)) {
			t.Errorf("newest = %v, want the 25th check", got.History[19].Timestamp)
		}
	})

	t.Run("find filtered orders by score", func(t *testing.T) {
		s := open(t)
		for i, score := range []int{30, 90, 60, 75} {
			p := model.NewProxy("10.0.1.1", 1000+i, model.ProtocolHTTP, "test")
			seed(t, s, p)
			err := s.ApplyUpdate(ctx, p.Host, p.Port, Update{
				Status: model.StatusActive, Score: score, LastChecked: time.Now(),
				SuccessInc: 1, HistoryLimit: 20,
			})
			if err != nil {
				t.Fatalf("ApplyUpdate: %v", err)
			}
		}
		seed(t, s, model.NewProxy("10.0.1.2", 80, model.ProtocolHTTP, "test"))

		got, err := s.FindFiltered(ctx, Filter{Status: model.StatusActive, MinScore: 50, Limit: 2})
		if err != nil {
			t.Fatalf("FindFiltered: %v", err)
		}
		if len(got) != 2 || got[0].Score != 90 || got[1].Score != 75 {
			t.Errorf("got %+v", got)
		}

		all, err := s.FindFiltered(ctx, Filter{})
		if err != nil {
			t.Fatalf("FindFiltered: %v", err)
		}
		if len(all) != 5 {
			t.Errorf("unfiltered len = %d, want 5", len(all))
		}
	})

	t.Run("predicates count and delete", func(t *testing.T) {
		s := open(t)
		now := time.Now()
		old := now.Add(-96 * time.Hour)

		type row struct {
			port    int
			status  model.Status
			fails   int
			score   int
			checked time.Time
		}
		rows := []row{
			{1, model.StatusInactive, 4, 10, old},
			{2, model.StatusInactive, 4, 10, now},
			{3, model.StatusActive, 6, 10, old},
			{4, model.StatusInactive, 2, 10, old},
		}
		for _, r := range rows {
			seed(t, s, model.NewProxy("10.0.2.1", r.port, model.ProtocolHTTP, "test"))
			err := s.ApplyUpdate(ctx, "10.0.2.1", r.port, Update{
				Status: r.status, Score: r.score, LastChecked: r.checked, FailInc: r.fails, HistoryLimit: 20,
			})
			if err != nil {
				t.Fatalf("ApplyUpdate: %v", err)
			}
		}

		stale := Predicate{Status: model.StatusInactive, MinFailCount: 4, CheckedBefore: now.Add(-72 * time.Hour)}
		n, err := s.CountWhere(ctx, stale)
		if err != nil || n != 1 {
			t.Fatalf("CountWhere = %d, %v; want 1", n, err)
		}
		n, err = s.DeleteWhere(ctx, stale)
		if err != nil || n != 1 {
			t.Fatalf("DeleteWhere = %d, %v; want 1", n, err)
		}
		if _, err := s.FindByKey(ctx, "10.0.2.1", 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("stale record survived: %v", err)
		}

		total, _ := s.CountWhere(ctx, Predicate{})
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}

		if _, err := s.DeleteWhere(ctx, Predicate{}); err == nil {
			t.Error("empty predicate delete should be refused")
		}
	})

	t.Run("stream visits every record once", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 23; i++ {
			seed(t, s, model.NewProxy("10.0.3.1", 2000+i, model.ProtocolHTTP, "test"))
		}

		seen := make(map[int]bool)
		pages := 0
		err := s.Stream(ctx, 10, func(page []model.Proxy) error {
			pages++
			for _, p := range page {
				if seen[p.Port] {
					t.Errorf("port %d streamed twice", p.Port)
				}
				seen[p.Port] = true
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		if len(seen) != 23 || pages != 3 {
			t.Errorf("seen %d records in %d pages, want 23 in 3", len(seen), pages)
		}
	})

	t.Run("stream stops on cancelled context", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 5; i++ {
			seed(t, s, model.NewProxy("10.0.4.1", 3000+i, model.ProtocolHTTP, "test"))
		}

		cctx, cancel := context.WithCancel(ctx)
		pages := 0
		err := s.Stream(cctx, 2, func(page []model.Proxy) error {
			pages++
			cancel()
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if pages != 1 {
			t.Errorf("pages = %d, want 1", pages)
		}
	})

	t.Run("mark used and delete", func(t *testing.T) {
		s := open(t)
		seed(t, s, model.NewProxy("10.0.5.1", 9050, model.ProtocolSOCKS5, "test"))

		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		if err := s.MarkUsed(ctx, "10.0.5.1", 9050, at); err != nil {
			t.Fatalf("MarkUsed: %v", err)
		}
		got, err := s.FindByKey(ctx, "10.0.5.1", 9050)
		if err != nil {
			t.Fatalf("FindByKey: %v", err)
		}
		if got.LastUsed == nil || !got.LastUsed.Equal(at) {
			t.Errorf("LastUsed = %v, want %v", got.LastUsed, at)
		}

		if err := s.Delete(ctx, "10.0.5.1", 9050); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.FindByKey(ctx, "10.0.5.1", 9050); !errors.Is(err, ErrNotFound) {
			t.Errorf("record still present: %v", err)
		}
	})
}
