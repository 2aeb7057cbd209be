package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionsSweep removes expired login session records.
	TaskSessionsSweep = "sessions:sweep"
	// TaskAuditPrune trims old audit log rows.
	TaskAuditPrune = "audit:prune"
)

// SessionSweeper describes the behaviour required to clear expired session
// records. Live-session correctness never depends on the sweep; Redis TTLs
// expire the authoritative state.
type SessionSweeper interface {
	DeleteExpiredSessionRecords(ctx context.Context, now time.Time) (int64, error)
}

// AuditPruner trims audit rows older than a retention window.
type AuditPruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SessionsSweepPayload carries scheduling metadata.
type SessionsSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSessionsSweepTask constructs an Asynq task for the session sweep.
func NewSessionsSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SessionsSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionsSweep, body, asynq.Queue(QueueDefault)), nil
}

// SessionsSweepJob coordinates the sweep workflow.
type SessionsSweepJob struct {
	Sweeper SessionSweeper
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewSessionsSweepJob constructs the job handler.
func NewSessionsSweepJob(sweeper SessionSweeper, logger *slog.Logger) *SessionsSweepJob {
	return &SessionsSweepJob{
		Sweeper: sweeper,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the session sweep job.
func (j *SessionsSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload SessionsSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	removed, err := j.Sweeper.DeleteExpiredSessionRecords(ctx, j.clock())
	if err != nil {
		j.Logger.Error("sessions sweep", slog.Any("error", err))
		return err
	}
	j.Logger.Info("sessions sweep complete", slog.Int64("removed", removed))
	return nil
}

// AuditPrunePayload configures the retention window.
type AuditPrunePayload struct {
	RetainDays int `json:"retain_days"`
}

// NewAuditPruneTask constructs an Asynq task for audit pruning.
func NewAuditPruneTask(retainDays int) (*asynq.Task, error) {
	if retainDays <= 0 {
		retainDays = 180
	}
	body, err := json.Marshal(AuditPrunePayload{RetainDays: retainDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, body, asynq.Queue(QueueDefault)), nil
}

// AuditPruneJob coordinates audit retention.
type AuditPruneJob struct {
	Pruner AuditPruner
	Logger *slog.Logger
	clock  func() time.Time
}

// NewAuditPruneJob constructs the job handler.
func NewAuditPruneJob(pruner AuditPruner, logger *slog.Logger) *AuditPruneJob {
	return &AuditPruneJob{
		Pruner: pruner,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the audit prune job.
func (j *AuditPruneJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload AuditPrunePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retain := payload.RetainDays
	if retain <= 0 {
		retain = 180
	}
	cutoff := j.clock().AddDate(0, 0, -retain)
	removed, err := j.Pruner.Prune(ctx, cutoff)
	if err != nil {
		j.Logger.Error("audit prune", slog.Any("error", err))
		return err
	}
	j.Logger.Info("audit prune complete", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	return nil
}
