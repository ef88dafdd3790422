// Package sweeper resolves tasks that never produced a result. It scans for
// tasks enqueued before the timeout window and records a synthetic FAILURE
// for each, so the user is answered and their session unblocked even when a
// worker died mid-task. The task_results insert is first-writer-wins, so a
// slow worker finishing after the sweep loses cleanly.
package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/kafka"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/postgres"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/telemetry"
)

const (
	leaderKey = "sweeper:leader"
	leaderTTL = 30 * time.Second

	timeoutDetail = "Your request took too long to process. Please try again."
)

// Sweeper periodically expires unresolved tasks. Multiple instances may run;
// Redis leader election ensures only one sweeps per tick.
type Sweeper struct {
	repo       postgres.Repository
	producer   kafka.Producer
	redis      *redis.Client
	schedule   cron.Schedule
	taskTTL    time.Duration
	batchLimit int
	instanceID string
	logger     *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithTaskTTL(d time.Duration) Option { return func(s *Sweeper) { s.taskTTL = d } }
func WithBatchLimit(n int) Option        { return func(s *Sweeper) { s.batchLimit = n } }
func WithLogger(l *slog.Logger) Option   { return func(s *Sweeper) { s.logger = l } }

// NewSweeper constructs a Sweeper. cronExpr is a standard five-field cron
// expression controlling how often a sweep runs.
func NewSweeper(
	repo postgres.Repository,
	producer kafka.Producer,
	redisClient *redis.Client,
	instanceID, cronExpr string,
	opts ...Option,
) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", cronExpr, err)
	}

	s := &Sweeper{
		repo:       repo,
		producer:   producer,
		redis:      redisClient,
		schedule:   schedule,
		taskTTL:    5 * time.Minute,
		batchLimit: 100,
		instanceID: instanceID,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run fires sweeps on the configured schedule. Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(time.Until(s.schedule.Next(time.Now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if !s.acquireOrRenewLeadership(ctx) {
		return
	}
	if err := s.sweep(ctx); err != nil {
		s.logger.Error("sweep failed", slog.String("error", err.Error()))
	}
}

// acquireOrRenewLeadership attempts SETNX; returns true if this instance is
// the leader.
func (s *Sweeper) acquireOrRenewLeadership(ctx context.Context) bool {
	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, leaderTTL).Result()
	if err != nil {
		s.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		s.logger.Info("acquired sweeper leadership", slog.String("instance_id", s.instanceID))
		return true
	}

	// Already set, renew only if we own it (atomic Lua script avoids races).
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, s.redis,
		[]string{leaderKey},
		s.instanceID,
		leaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// sweep expires every task older than the timeout window. One failed task
// does not stop the batch.
func (s *Sweeper) sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.taskTTL)
	stale, err := s.repo.ListUnresolved(ctx, cutoff, s.batchLimit)
	if err != nil {
		return err
	}

	for _, task := range stale {
		if err := s.expireTask(ctx, task); err != nil {
			s.logger.Error("expire task failed",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *Sweeper) expireTask(ctx context.Context, task *domain.Task) error {
	res := &domain.Result{
		TaskID:      task.ID,
		Kind:        task.Kind,
		UserKey:     task.UserKey,
		Outcome:     domain.OutcomeFailure,
		ErrorDetail: timeoutDetail,
		CompletedAt: time.Now().UTC(),
	}

	inserted, err := s.repo.RecordOutcome(ctx, res)
	if err != nil {
		return err
	}
	if !inserted {
		// A worker resolved the task between the list and the insert. Its
		// result stands and it publishes the delivery itself.
		return nil
	}

	value, err := json.Marshal(res)
	if err != nil {
		return err
	}
	// The outcome is already durable. If this publish fails the user misses
	// the timeout notice and the session TTL unblocks them instead.
	if err := s.producer.Publish(ctx, kafka.TopicResponse, res.UserKey, value); err != nil {
		return err
	}

	telemetry.SweeperTimeoutsTotal.WithLabelValues(string(task.Kind)).Inc()
	s.logger.Info("unresolved task expired",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.Time("enqueued_at", task.EnqueuedAt),
	)
	return nil
}
