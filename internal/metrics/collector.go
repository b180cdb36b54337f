package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"proxyhealth/internal/model"
)

// Error categories
const (
	CategoryTimeout       = "timeout"
	CategoryRefused       = "refused"
	CategoryReset         = "reset"
	CategoryStatus        = "bad_status"
	CategoryInvalidFormat = "invalid_format"
	CategoryBlocked       = "blocked"
	CategoryOther         = "other"
)

// Collector aggregates probe outcomes over one sweep. It is safe for
// concurrent use by the validator's workers.
type Collector struct {
	mu sync.Mutex

	// Successful probes only
	latencies []int

	total       int
	success     int
	errorCounts map[string]int
}

func New() *Collector {
	return &Collector{errorCounts: make(map[string]int)}
}

func (c *Collector) Record(out model.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if out.Success && !out.Blocked {
		c.success++
		if out.LatencyMS != nil {
			c.latencies = append(c.latencies, *out.LatencyMS)
		}
		return
	}
	c.errorCounts[Categorize(out)]++
}

// Categorize buckets a failed outcome by its error text.
func Categorize(out model.Outcome) string {
	if out.Blocked {
		return CategoryBlocked
	}
	msg := strings.ToLower(out.Error)
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(msg, "refused"):
		return CategoryRefused
	case strings.Contains(msg, "reset"):
		return CategoryReset
	case strings.Contains(msg, "status code"):
		return CategoryStatus
	case strings.Contains(msg, "invalid response format"):
		return CategoryInvalidFormat
	}
	return CategoryOther
}

// Snapshot is a point-in-time copy of the collector.
type Snapshot struct {
	Total   int
	Success int
	Errors  map[string]int

	AvgLatencyMS float64
	P50LatencyMS int
	P90LatencyMS int
}

func (s Snapshot) Failed() int {
	return s.Total - s.Success
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Total:   c.total,
		Success: c.success,
		Errors:  make(map[string]int, len(c.errorCounts)),
	}
	for k, v := range c.errorCounts {
		snap.Errors[k] = v
	}

	if n := len(c.latencies); n > 0 {
		sorted := append([]int(nil), c.latencies...)
		sort.Ints(sorted)
		sum := 0
		for _, l := range sorted {
			sum += l
		}
		snap.AvgLatencyMS = float64(sum) / float64(n)
		snap.P50LatencyMS = sorted[n/2]
		snap.P90LatencyMS = sorted[int(float64(n)*0.9)]
	}
	return snap
}

// PrintReport writes a human readable summary of the sweep's probes.
func (c *Collector) PrintReport(out io.Writer) {
	snap := c.Snapshot()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\n📊 \033[1mPROBE REPORT\033[0m")
	fmt.Fprintln(w, "────────────────────────────────────────")

	fmt.Fprintln(w, "\033[1;36m[ LATENCY (Successful Probes) ]\033[0m")
	if snap.Success > 0 {
		fmt.Fprintf(w, "  Avg:\t%.0f ms\n", snap.AvgLatencyMS)
		fmt.Fprintf(w, "  p50 (Median):\t%d ms\n", snap.P50LatencyMS)
		fmt.Fprintf(w, "  p90 (Slowest 10%%):\t%d ms\n", snap.P90LatencyMS)
	} else {
		fmt.Fprintln(w, "  No successful probes.")
	}
	fmt.Fprintln(w, "")

	fmt.Fprintln(w, "\033[1;36m[ FAILURES ]\033[0m")
	fmt.Fprintf(w, "  Probed:\t%d\n", snap.Total)
	fmt.Fprintf(w, "  Failed:\t%d\n", snap.Failed())

	cats := make([]string, 0, len(snap.Errors))
	for k := range snap.Errors {
		cats = append(cats, k)
	}
	sort.Strings(cats)
	for _, k := range cats {
		fmt.Fprintf(w, "  %s:\t%d\n", k, snap.Errors[k])
	}

	if f := snap.Failed(); f > 0 {
		timeoutPct := float64(snap.Errors[CategoryTimeout]) / float64(f) * 100
		if timeoutPct > 70 {
			fmt.Fprintln(w, "  ⚠️  \033[1;31mHIGH SATURATION DETECTED\033[0m")
			fmt.Fprintln(w, "  >70% of failures are timeouts. Lower the concurrency or raise tester.timeout.")
		}
	}

	w.Flush()
	fmt.Fprintln(out, "")
}
