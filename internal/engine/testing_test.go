package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"proxyhealth/internal/model"
	"proxyhealth/internal/store"
)

// fakeProber returns a fixed outcome per port and tracks parallelism.
type fakeProber struct {
	mu       sync.Mutex
	outcomes map[int]model.Outcome
	fallback model.Outcome
	delay    time.Duration

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeProber) set(port int, out model.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = make(map[int]model.Outcome)
	}
	f.outcomes[port] = out
}

func (f *fakeProber) Probe(ctx context.Context, p model.Proxy) model.Outcome {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if out, ok := f.outcomes[p.Port]; ok {
		return out
	}
	return f.fallback
}

func openStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

type seedState struct {
	status  model.Status
	success int
	fail    int
	score   int
	checked time.Time
}

// seedProxy inserts a candidate and, if state is non-nil, forces its
// counters, status, score and last check time.
func seedProxy(t *testing.T, st store.Store, host string, port int, state *seedState) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.Upsert(ctx, model.NewProxy(host, port, model.ProtocolHTTP, "test")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if state == nil {
		return
	}
	err := st.ApplyUpdate(ctx, host, port, store.Update{
		Status:       state.status,
		Score:        state.score,
		LastChecked:  state.checked,
		SuccessInc:   state.success,
		FailInc:      state.fail,
		HistoryLimit: 20,
		Append:       model.Check{Timestamp: state.checked},
	})
	if err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
}

func mustFind(t *testing.T, st store.Store, host string, port int) *model.Proxy {
	t.Helper()
	p, err := st.FindByKey(context.Background(), host, port)
	if err != nil {
		t.Fatalf("FindByKey(%s:%d): %v", host, port, err)
	}
	return p
}
