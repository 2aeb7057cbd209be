package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	removed int64
	seen    time.Time
}

func (f *fakeSweeper) DeleteExpiredSessionRecords(ctx context.Context, now time.Time) (int64, error) {
	f.seen = now
	return f.removed, nil
}

type fakePruner struct {
	cutoff time.Time
}

func (f *fakePruner) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	f.cutoff = olderThan
	return 3, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionsSweepJob(t *testing.T) {
	sweeper := &fakeSweeper{removed: 5}
	job := NewSessionsSweepJob(sweeper, testLogger())
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewSessionsSweepTask(now)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, now, sweeper.seen)
}

func TestSessionsSweepJobSkipsBadPayload(t *testing.T) {
	job := NewSessionsSweepJob(&fakeSweeper{}, testLogger())
	task := asynq.NewTask(TaskSessionsSweep, []byte("not json"))

	err := job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAuditPruneJobAppliesRetention(t *testing.T) {
	pruner := &fakePruner{}
	job := NewAuditPruneJob(pruner, testLogger())
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewAuditPruneTask(30)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, now.AddDate(0, 0, -30), pruner.cutoff)
}

func TestAuditPruneTaskDefaultsRetention(t *testing.T) {
	pruner := &fakePruner{}
	job := NewAuditPruneJob(pruner, testLogger())
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewAuditPruneTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, now.AddDate(0, 0, -180), pruner.cutoff)
}
