// Package report aggregates learned scores, recent performance, and cache
// effectiveness into operator-facing snapshots.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/modelmesh/internal/cache"
	"github.com/sells-group/modelmesh/internal/model"
	"github.com/sells-group/modelmesh/internal/storage"
)

// scoreSource is the slice of the learning engine the collector needs.
type scoreSource interface {
	Snapshot() map[string]model.ConfidenceScore
}

// ModelPerformance summarizes one (model, task type) pair over the lookback.
type ModelPerformance struct {
	ModelName       string         `json:"model"`
	TaskType        model.TaskType `json:"task_type"`
	Requests        int            `json:"requests"`
	Correct         int            `json:"correct"`
	Accuracy        float64        `json:"accuracy"`
	AvgResponseTime time.Duration  `json:"avg_response_time"`
	TotalCost       float64        `json:"total_cost"`
}

// Report is a point-in-time operational snapshot.
type Report struct {
	GeneratedAt     time.Time               `json:"generated_at"`
	Lookback        time.Duration           `json:"lookback"`
	Scores          []model.ConfidenceScore `json:"scores"`
	Performance     []ModelPerformance      `json:"performance"`
	Cache           cache.Stats             `json:"cache"`
	StorageDegraded bool                    `json:"storage_degraded"`
}

// Collector builds reports from the live components.
type Collector struct {
	engine scoreSource
	store  storage.HistoryStore
	cache  *cache.Cache
}

// NewCollector wires a collector.
func NewCollector(engine scoreSource, store storage.HistoryStore, c *cache.Cache) *Collector {
	return &Collector{engine: engine, store: store, cache: c}
}

// Collect assembles a report covering the lookback window.
func (c *Collector) Collect(ctx context.Context, lookback time.Duration) (*Report, error) {
	now := time.Now().UTC()

	records, err := c.store.QueryRecords(ctx, storage.RecordFilter{Since: now.Add(-lookback)})
	if err != nil {
		return nil, eris.Wrap(err, "report: query records")
	}

	type agg struct {
		requests  int
		correct   int
		totalTime time.Duration
		totalCost float64
	}
	grouped := make(map[string]*agg)
	meta := make(map[string]ModelPerformance)
	for _, rec := range records {
		key := model.ScoreKey(rec.ModelName, rec.TaskType)
		a, ok := grouped[key]
		if !ok {
			a = &agg{}
			grouped[key] = a
			meta[key] = ModelPerformance{ModelName: rec.ModelName, TaskType: rec.TaskType}
		}
		a.requests++
		if rec.WasCorrect {
			a.correct++
		}
		a.totalTime += rec.ResponseTime
		a.totalCost += rec.Cost
	}

	performance := make([]ModelPerformance, 0, len(grouped))
	for key, a := range grouped {
		p := meta[key]
		p.Requests = a.requests
		p.Correct = a.correct
		p.Accuracy = float64(a.correct) / float64(a.requests)
		p.AvgResponseTime = a.totalTime / time.Duration(a.requests)
		p.TotalCost = a.totalCost
		performance = append(performance, p)
	}
	sort.Slice(performance, func(i, j int) bool {
		if performance[i].ModelName != performance[j].ModelName {
			return performance[i].ModelName < performance[j].ModelName
		}
		return performance[i].TaskType < performance[j].TaskType
	})

	scores := make([]model.ConfidenceScore, 0)
	for _, cs := range c.engine.Snapshot() {
		scores = append(scores, cs)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].ModelName != scores[j].ModelName {
			return scores[i].ModelName < scores[j].ModelName
		}
		return scores[i].TaskType < scores[j].TaskType
	})

	rep := &Report{
		GeneratedAt:     now,
		Lookback:        lookback,
		Scores:          scores,
		Performance:     performance,
		StorageDegraded: c.store.Degraded(),
	}
	if c.cache != nil {
		rep.Cache = c.cache.Stats()
	}
	return rep, nil
}

// WriteText renders the report as aligned tables for the CLI.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Report generated %s (lookback %s)\n", r.GeneratedAt.Format(time.RFC3339), r.Lookback)
	if r.StorageDegraded {
		fmt.Fprintln(w, "WARNING: storage is degraded; scores are held in memory only")
	}

	fmt.Fprintln(w, "\nConfidence scores:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tTASK\tSCORE\tSAMPLES\tUPDATED")
	for _, cs := range r.Scores {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%d\t%s\n",
			cs.ModelName, cs.TaskType, cs.Score, cs.SampleCount, cs.LastUpdated.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return eris.Wrap(err, "report: flush scores table")
	}

	fmt.Fprintln(w, "\nRecent performance:")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tTASK\tREQUESTS\tACCURACY\tAVG TIME\tCOST")
	for _, p := range r.Performance {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f%%\t%s\t$%.4f\n",
			p.ModelName, p.TaskType, p.Requests, p.Accuracy*100, p.AvgResponseTime.Round(time.Millisecond), p.TotalCost)
	}
	if err := tw.Flush(); err != nil {
		return eris.Wrap(err, "report: flush performance table")
	}

	fmt.Fprintf(w, "\nCache: %d entries, %.1f%% hit rate (%d hits / %d misses), %d evictions, %d expired\n",
		r.Cache.Entries, r.Cache.HitRate*100, r.Cache.Hits, r.Cache.Misses, r.Cache.Evictions, r.Cache.ExpiredRemovals)
	return nil
}
