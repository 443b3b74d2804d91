// Package report periodically publishes the stats rollup as gauges and logs it.
package report

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"codedrop/internal/service/broker"
)

// DefaultSchedule is used when no schedule is configured.
const DefaultSchedule = "@every 5m"

const runTimeout = 30 * time.Second

var (
	filesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codedrop_files_total",
		Help: "Stored file records at the last stats run.",
	})
	viewsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codedrop_views_total",
		Help: "Sum of views across all records at the last stats run.",
	})
)

// StatsSource produces the rollup.
type StatsSource interface {
	Stats(ctx context.Context) (*broker.Stats, error)
}

// Reporter runs the stats job on a cron schedule.
type Reporter struct {
	source   StatsSource
	schedule string
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// New validates schedule and builds a Reporter. "off" disables the job;
// Start is then a no-op.
func New(source StatsSource, schedule string) (*Reporter, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}
	r := &Reporter{source: source, schedule: schedule}
	if r.Disabled() {
		return r, nil
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(schedule, r.tick); err != nil {
		return nil, fmt.Errorf("parse stats schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Disabled reports whether the schedule turns the job off.
func (r *Reporter) Disabled() bool {
	return strings.EqualFold(r.schedule, "off")
}

// Start runs one report immediately and then follows the schedule.
func (r *Reporter) Start() {
	if r.cron == nil {
		return
	}
	go r.tick()
	r.cron.Start()
	log.Printf("stats reporter scheduled: %s", r.schedule)
}

// Stop halts the schedule and waits for a running report to finish.
func (r *Reporter) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// RunOnce refreshes the gauges from the store and logs the rollup.
func (r *Reporter) RunOnce(ctx context.Context) error {
	stats, err := r.source.Stats(ctx)
	if err != nil {
		return fmt.Errorf("collect stats: %w", err)
	}
	filesTotal.Set(float64(stats.TotalFiles))
	viewsTotal.Set(float64(stats.TotalViews))

	newest := "none"
	if len(stats.RecentFiles) > 0 {
		f := stats.RecentFiles[0]
		newest = fmt.Sprintf("%s (%s, %d views)", f.Code, f.FileType, f.Views)
	}
	log.Printf("stats: %d files, %d views, newest %s", stats.TotalFiles, stats.TotalViews, newest)
	return nil
}

// tick skips a run while the previous one is still going.
func (r *Reporter) tick() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		log.Printf("stats run skipped: previous run still in progress")
		return
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if err := r.RunOnce(ctx); err != nil {
		log.Printf("stats run failed: %v", err)
	}
}
