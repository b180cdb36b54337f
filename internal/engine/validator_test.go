package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"proxyhealth/internal/config"
	"proxyhealth/internal/metrics"
	"proxyhealth/internal/model"
	"proxyhealth/internal/store"
)

func newTestValidator(st store.Store, prober Prober) *Validator {
	cfg := config.Default()
	cfg.Validator.PageSize = 3
	return NewValidator(st, prober, NewPruner(st, cfg.Eviction), cfg.Validator)
}

func TestValidator_Concurrency(t *testing.T) {
	v := NewValidator(nil, nil, nil, config.ValidatorConfig{Concurrency: 12})
	tests := []struct{ in, want int }{
		{0, 12}, {-3, 12}, {1, 1}, {50, 50}, {51, 50}, {1000, 50},
	}
	for _, tt := range tests {
		if got := v.Concurrency(tt.in); got != tt.want {
			t.Errorf("Concurrency(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}

	v = NewValidator(nil, nil, nil, config.ValidatorConfig{})
	if got := v.Concurrency(0); got != DefaultConcurrency {
		t.Errorf("Concurrency(0) without config = %d, want %d", got, DefaultConcurrency)
	}
}

func TestValidateOne_ReferenceScenario(t *testing.T) {
	st := openStore(t)
	seedProxy(t, st, "10.1.0.1", 8080, &seedState{
		status: model.StatusActive, success: 9, fail: 1, score: 80, checked: time.Now().Add(-time.Hour),
	})

	prober := &fakeProber{fallback: model.Outcome{Success: true, LatencyMS: model.Latency(500)}}
	v := newTestValidator(st, prober)
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return fixed }

	if ok := v.ValidateOne(context.Background(), *mustFind(t, st, "10.1.0.1", 8080)); !ok {
		t.Fatal("ValidateOne returned false")
	}

	got := mustFind(t, st, "10.1.0.1", 8080)
	if got.SuccessCount != 10 || got.FailCount != 1 {
		t.Errorf("counters = %d/%d, want 10/1", got.SuccessCount, got.FailCount)
	}
	if got.Score != 86 {
		t.Errorf("score = %d, want 86", got.Score)
	}
	if got.Status != model.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.LastChecked == nil || !got.LastChecked.Equal(fixed) {
		t.Errorf("last checked = %v, want %v", got.LastChecked, fixed)
	}
	last := got.History[len(got.History)-1]
	if !last.Success || last.LatencyMS == nil || *last.LatencyMS != 500 || !last.Timestamp.Equal(fixed) {
		t.Errorf("last history entry = %+v", last)
	}
}

func TestValidateOne_BlockedOnActive(t *testing.T) {
	st := openStore(t)
	seedProxy(t, st, "10.1.0.2", 3128, &seedState{
		status: model.StatusActive, success: 4, score: 90, checked: time.Now(),
	})

	prober := &fakeProber{fallback: model.Outcome{Success: false, LatencyMS: model.Latency(300), Error: "blocked", Blocked: true}}
	v := newTestValidator(st, prober)

	if !v.ValidateOne(context.Background(), *mustFind(t, st, "10.1.0.2", 3128)) {
		t.Fatal("ValidateOne returned false")
	}
	got := mustFind(t, st, "10.1.0.2", 3128)
	if got.Status != model.StatusBlocked {
		t.Errorf("status = %s, want blocked", got.Status)
	}
	if got.FailCount != 1 || got.SuccessCount != 4 {
		t.Errorf("counters = %d/%d, want 4/1", got.SuccessCount, got.FailCount)
	}
	if got.Score != 80 {
		t.Errorf("score = %d, want 80", got.Score)
	}
	if last := got.History[len(got.History)-1]; !last.Blocked || last.Error != "blocked" {
		t.Errorf("last history entry = %+v", last)
	}
}

func TestValidateOne_MissingRecord(t *testing.T) {
	st := openStore(t)
	v := newTestValidator(st, &fakeProber{fallback: model.Outcome{Success: true}})

	if v.ValidateOne(context.Background(), *model.NewProxy("10.1.0.9", 1, model.ProtocolHTTP, "test")) {
		t.Error("ValidateOne should fail for a record that is not stored")
	}
}

func TestValidateBatch_BoundedAndIndependent(t *testing.T) {
	st := openStore(t)
	var records []model.Proxy
	for i := 0; i < 12; i++ {
		seedProxy(t, st, "10.2.0.1", 4000+i, nil)
		records = append(records, *mustFind(t, st, "10.2.0.1", 4000+i))
	}
	// Deleted behind the validator's back: its write fails, the rest succeed.
	if err := st.Delete(context.Background(), "10.2.0.1", 4005); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	prober := &fakeProber{fallback: model.Outcome{Success: true, LatencyMS: model.Latency(100)}, delay: 20 * time.Millisecond}
	prober.set(4003, model.Outcome{Error: "timeout"})
	v := newTestValidator(st, prober)
	v.Metrics = metrics.New()

	results := v.ValidateBatch(context.Background(), records, 4)

	if n := prober.calls.Load(); n != 12 {
		t.Errorf("probes = %d, want 12", n)
	}
	if max := prober.maxInFlight.Load(); max > 4 {
		t.Errorf("max in flight = %d, want <= 4", max)
	}
	if len(results) != 12 {
		t.Fatalf("results = %d, want 12", len(results))
	}
	for _, r := range results {
		switch r.Port {
		case 4005:
			if !errors.Is(r.Err, store.ErrNotFound) {
				t.Errorf("deleted record err = %v, want ErrNotFound", r.Err)
			}
		case 4003:
			if r.Err != nil || r.Status != model.StatusInactive {
				t.Errorf("timeout record = %+v", r)
			}
		default:
			if r.Err != nil || r.Status != model.StatusActive {
				t.Errorf("record %d = %+v", r.Port, r)
			}
		}
	}

	if got := mustFind(t, st, "10.2.0.1", 4003); got.FailCount != 1 || got.Score != 0 {
		t.Errorf("timeout record stored as %+v", got)
	}
	if snap := v.Metrics.Snapshot(); snap.Total != 12 || snap.Success != 11 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestValidateAll_SummaryAndEviction(t *testing.T) {
	st := openStore(t)
	for i := 0; i < 8; i++ {
		seedProxy(t, st, "10.3.0.1", 5000+i, nil)
	}
	// Already failing four times; one more failure recorded with an old
	// clock leaves it inactive, over the threshold and stale.
	seedProxy(t, st, "10.3.0.2", 5100, &seedState{status: model.StatusInactive, fail: 4, checked: time.Now()})

	prober := &fakeProber{fallback: model.Outcome{Success: true, LatencyMS: model.Latency(200)}}
	prober.set(5001, model.Outcome{Error: "connection refused"})
	prober.set(5002, model.Outcome{Error: "connection refused"})
	prober.set(5003, model.Outcome{Success: false, LatencyMS: model.Latency(150), Error: "blocked", Blocked: true})
	prober.set(5100, model.Outcome{Error: "timeout"})

	v := newTestValidator(st, prober)
	v.now = func() time.Time { return time.Now().Add(-96 * time.Hour) }

	sum, err := v.ValidateAll(context.Background(), 5)
	if err != nil {
		t.Fatalf("ValidateAll: %v", err)
	}

	want := Summary{Total: 9, Success: 5, Fail: 2, Blocked: 1, Deleted: 1}
	if sum != want {
		t.Errorf("summary = %+v, want %+v", sum, want)
	}
	if _, err := st.FindByKey(context.Background(), "10.3.0.2", 5100); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale record not evicted: %v", err)
	}
}

func TestValidateAll_StableBuckets(t *testing.T) {
	st := openStore(t)
	prober := &fakeProber{fallback: model.Outcome{Success: true, LatencyMS: model.Latency(400)}}
	for i := 0; i < 7; i++ {
		seedProxy(t, st, "10.4.0.1", 6000+i, nil)
		if i%3 == 0 {
			prober.set(6000+i, model.Outcome{Error: "timeout"})
		}
	}
	v := newTestValidator(st, prober)

	first, err := v.ValidateAll(context.Background(), 3)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	second, err := v.ValidateAll(context.Background(), 3)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if first.Success != second.Success || first.Fail != second.Fail || first.Blocked != second.Blocked {
		t.Errorf("buckets moved: %+v then %+v", first, second)
	}
	if first.Success != 4 || first.Fail != 3 {
		t.Errorf("first sweep = %+v", first)
	}
}

func TestValidateAll_CancelBetweenPages(t *testing.T) {
	st := openStore(t)
	for i := 0; i < 7; i++ {
		seedProxy(t, st, "10.5.0.1", 7000+i, nil)
	}

	prober := &fakeProber{fallback: model.Outcome{Success: true, LatencyMS: model.Latency(50)}, delay: 5 * time.Millisecond}
	v := newTestValidator(st, prober)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v.OnResult = func(Result) { cancel() }

	sum, err := v.ValidateAll(ctx, 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// The first page (3 records) is finished in full despite the cancel.
	if sum.Total != 3 {
		t.Errorf("total = %d, want 3", sum.Total)
	}
	active, _ := st.CountWhere(context.Background(), store.Predicate{Status: model.StatusActive})
	if active != 3 {
		t.Errorf("active = %d, want 3", active)
	}
}

func TestReportOutcome(t *testing.T) {
	st := openStore(t)
	seedProxy(t, st, "10.6.0.1", 1080, nil)
	v := newTestValidator(st, &fakeProber{})

	res, err := v.ReportOutcome(context.Background(), "10.6.0.1", 1080, model.Outcome{Success: true, LatencyMS: model.Latency(1000)})
	if err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}
	// 1/1 success: 0.7*100 + 0.3*50 = 85
	if res.Score != 85 || res.Status != model.StatusActive {
		t.Errorf("result = %+v", res)
	}
	got := mustFind(t, st, "10.6.0.1", 1080)
	if got.SuccessCount != 1 || got.LastUsed == nil || got.LastChecked == nil {
		t.Errorf("stored = %+v", got)
	}

	_, err = v.ReportOutcome(context.Background(), "10.6.0.1", 9999, model.Outcome{Success: true})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown proxy err = %v, want ErrNotFound", err)
	}
}

func TestValidateOne_HistoryBound(t *testing.T) {
	st := openStore(t)
	seedProxy(t, st, "10.7.0.1", 8000, nil)
	prober := &fakeProber{fallback: model.Outcome{Error: "timeout"}}
	v := newTestValidator(st, prober)

	p := *mustFind(t, st, "10.7.0.1", 8000)
	for i := 0; i < 30; i++ {
		if !v.ValidateOne(context.Background(), p) {
			t.Fatalf("ValidateOne %d failed", i)
		}
	}
	got := mustFind(t, st, "10.7.0.1", 8000)
	if len(got.History) != 20 {
		t.Errorf("history len = %d, want 20", len(got.History))
	}
	if got.FailCount != 30 {
		t.Errorf("fail count = %d, want 30", got.FailCount)
	}
	if got.Status != model.StatusInactive || got.Score != 0 {
		t.Errorf("status/score = %s/%d", got.Status, got.Score)
	}
}
