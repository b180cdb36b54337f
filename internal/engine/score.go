package engine

import (
	"math"

	"proxyhealth/internal/model"
)

// Latencies at or above this earn no latency credit.
const latencyCeilingMS = 2000

const (
	weightRatio   = 0.7
	weightLatency = 0.3
)

// CalculateScore maps counters (already including the current outcome)
// to a 0-100 health score. Latency only counts on a successful outcome
// with a measured latency, so a fast but broken proxy is not overrated.
// The score is recomputed from scratch every time.
func CalculateScore(successCount, failCount int, out model.Outcome) int {
	total := successCount + failCount
	if total <= 0 {
		return model.DefaultScore
	}

	ratioScore := math.Round(100 * float64(successCount) / float64(total))
	score := ratioScore

	if out.Success && out.LatencyMS != nil {
		latencyFactor := clamp01(float64(latencyCeilingMS-*out.LatencyMS) / latencyCeilingMS)
		score = math.Round(weightRatio*ratioScore + weightLatency*100*latencyFactor)
	}

	return clampScore(int(score))
}

// ResolveStatus is the lifecycle transition for one outcome. A blocked
// signature wins over the raw success flag. UNKNOWN is never re-entered.
func ResolveStatus(out model.Outcome) model.Status {
	switch {
	case out.Blocked:
		return model.StatusBlocked
	case out.Success:
		return model.StatusActive
	default:
		return model.StatusInactive
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
