package report

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codedrop/internal/service/broker"
)

type staticStats struct {
	stats *broker.Stats
	err   error
	calls atomic.Int32
}

func (s *staticStats) Stats(context.Context) (*broker.Stats, error) {
	s.calls.Add(1)
	return s.stats, s.err
}

func TestRunOnceUpdatesGauges(t *testing.T) {
	src := &staticStats{stats: &broker.Stats{
		TotalFiles:  7,
		TotalViews:  19,
		RecentFiles: []broker.StatsFile{{Code: "abcd1234", FileType: "photo", Views: 3, CreatedAt: 1}},
	}}
	r, err := New(src, "")
	require.NoError(t, err)

	require.NoError(t, r.RunOnce(context.Background()))
	assert.Equal(t, float64(7), testutil.ToFloat64(filesTotal))
	assert.Equal(t, float64(19), testutil.ToFloat64(viewsTotal))
}

func TestRunOnceKeepsGaugesOnError(t *testing.T) {
	filesTotal.Set(5)
	src := &staticStats{err: errors.New("database is locked")}
	r, err := New(src, "off")
	require.NoError(t, err)

	assert.Error(t, r.RunOnce(context.Background()))
	assert.Equal(t, float64(5), testutil.ToFloat64(filesTotal))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(&staticStats{}, "every so often")
	assert.Error(t, err)
}

func TestDisabledScheduleNeverRuns(t *testing.T) {
	src := &staticStats{stats: &broker.Stats{RecentFiles: []broker.StatsFile{}}}
	r, err := New(src, "OFF")
	require.NoError(t, err)
	assert.True(t, r.Disabled())

	r.Start()
	r.Stop()
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestStartRunsImmediately(t *testing.T) {
	src := &staticStats{stats: &broker.Stats{TotalFiles: 1, RecentFiles: []broker.StatsFile{}}}
	r, err := New(src, "@every 1h")
	require.NoError(t, err)

	r.Start()
	defer r.Stop()
	assert.Eventually(t, func() bool { return src.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
