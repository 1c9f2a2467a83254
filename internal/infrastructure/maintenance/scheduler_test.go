package maintenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/accessgate/internal/infrastructure/monitoring"
	"github.com/turtacn/accessgate/pkg/logger"
)

type countingSweeper struct {
	calls   atomic.Int32
	removed int
}

func (s *countingSweeper) Cleanup() int {
	s.calls.Add(1)
	return s.removed
}

type tokenSweeper struct{ removed int }

func (s tokenSweeper) CleanupExpired(context.Context) int { return s.removed }

func TestScheduler_RunNowRecordsSweeps(t *testing.T) {
	limiter := &countingSweeper{removed: 4}
	windows := &countingSweeper{removed: 1}
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	s, err := NewScheduler(StandardJobs(limiter, time.Minute, tokenSweeper{removed: 2}, time.Minute, windows), metrics, logger.NewNoopLogger())
	require.NoError(t, err)

	removed := s.RunNow(context.Background())
	assert.Equal(t, map[string]int{"rate_limiter": 4, "tokens": 2, "policy_windows": 1}, removed)
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.MaintenanceSweeps.WithLabelValues("rate_limiter")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MaintenanceSweeps.WithLabelValues("tokens")))
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	sweeper := &countingSweeper{}
	s, err := NewScheduler([]Job{{
		Name:     "tick",
		Interval: time.Second,
		Run:      func(context.Context) int { return sweeper.Cleanup() },
	}}, nil, logger.NewNoopLogger())
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return sweeper.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestScheduler_RejectsInvalidJobs(t *testing.T) {
	_, err := NewScheduler([]Job{{Name: "zero", Run: func(context.Context) int { return 0 }}}, nil, logger.NewNoopLogger())
	assert.Error(t, err)

	_, err = NewScheduler([]Job{{Name: "nil", Interval: time.Minute}}, nil, logger.NewNoopLogger())
	assert.Error(t, err)
}
