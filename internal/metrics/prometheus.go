package metrics

import (
	"fmt"
	"io"
	"sort"

	"proxyhealth/internal/model"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// PoolCounts is the number of stored proxies per status.
type PoolCounts map[model.Status]int64

// WritePrometheus writes the pool counts and, when snap is non-nil, the
// last sweep's probe figures in the Prometheus text format. The output is
// meant for a node_exporter textfile collector.
func WritePrometheus(w io.Writer, pool PoolCounts, snap *Snapshot) error {
	families := []*dto.MetricFamily{poolFamily(pool)}
	if snap != nil {
		families = append(families, probeFamilies(*snap)...)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func gauge(labelName, labelValue string, v float64) *dto.Metric {
	return &dto.Metric{
		Label: []*dto.LabelPair{{Name: proto.String(labelName), Value: proto.String(labelValue)}},
		Gauge: &dto.Gauge{Value: proto.Float64(v)},
	}
}

func poolFamily(pool PoolCounts) *dto.MetricFamily {
	statuses := []model.Status{model.StatusActive, model.StatusInactive, model.StatusBlocked, model.StatusUnknown}
	mf := &dto.MetricFamily{
		Name: proto.String("proxyhealth_pool_proxies"),
		Help: proto.String("Stored proxies by status."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for _, s := range statuses {
		mf.Metric = append(mf.Metric, gauge("status", string(s), float64(pool[s])))
	}
	return mf
}

func probeFamilies(snap Snapshot) []*dto.MetricFamily {
	results := &dto.MetricFamily{
		Name: proto.String("proxyhealth_probe_total"),
		Help: proto.String("Probes in the last sweep by result."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	results.Metric = append(results.Metric, gauge("result", "success", float64(snap.Success)))

	cats := make([]string, 0, len(snap.Errors))
	for k := range snap.Errors {
		cats = append(cats, k)
	}
	sort.Strings(cats)
	for _, k := range cats {
		results.Metric = append(results.Metric, gauge("result", k, float64(snap.Errors[k])))
	}

	latency := &dto.MetricFamily{
		Name: proto.String("proxyhealth_probe_latency_ms"),
		Help: proto.String("Latency of successful probes in the last sweep."),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{
			gauge("quantile", "0.5", float64(snap.P50LatencyMS)),
			gauge("quantile", "0.9", float64(snap.P90LatencyMS)),
		},
	}
	return []*dto.MetricFamily{results, latency}
}
