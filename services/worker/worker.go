// Package worker consumes tasks from a kind-specific topic, runs the matching
// handler, and publishes exactly one terminal Result per task. The
// task_results table is the idempotency authority: whoever inserts first owns
// the outcome, and redeliveries re-emit the stored result instead of
// reprocessing.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/handlers"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/kafka"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/postgres"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/retry"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/telemetry"
)

const genericFailureDetail = "We couldn't process your request. Please try again."

// Worker consumes tasks of one kind and executes them.
type Worker struct {
	consumer   kafka.Consumer
	producer   kafka.Producer
	repo       postgres.Repository
	registry   *handlers.Registry
	workerID   string
	kind       string
	maxRetries int
	timeout    time.Duration
	baseDelay  time.Duration
	logger     *slog.Logger

	wg sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

func WithRetries(n int) Option             { return func(w *Worker) { w.maxRetries = n } }
func WithTimeout(d time.Duration) Option   { return func(w *Worker) { w.timeout = d } }
func WithLogger(l *slog.Logger) Option     { return func(w *Worker) { w.logger = l } }
func WithKind(k string) Option             { return func(w *Worker) { w.kind = k } }
func WithBaseDelay(d time.Duration) Option { return func(w *Worker) { w.baseDelay = d } }

// NewWorker constructs a Worker with the given dependencies and options.
func NewWorker(
	workerID string,
	consumer kafka.Consumer,
	producer kafka.Producer,
	repo postgres.Repository,
	registry *handlers.Registry,
	opts ...Option,
) *Worker {
	w := &Worker{
		workerID:   workerID,
		consumer:   consumer,
		producer:   producer,
		repo:       repo,
		registry:   registry,
		maxRetries: 3,
		timeout:    2 * time.Minute,
		baseDelay:  time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts consuming and processing messages. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Subscribe(ctx, w.processMessage)
}

// Wait blocks until all in-flight tasks finish. Call after Run returns.
func (w *Worker) Wait() { w.wg.Wait() }

// processMessage is the Kafka HandlerFunc. Returning nil commits the offset;
// returning an error leaves the message for redelivery, which is safe because
// the stored outcome short-circuits reprocessing.
func (w *Worker) processMessage(consumerCtx context.Context, msg kafka.Message) error {
	var task domain.Task
	if err := json.Unmarshal(msg.Value, &task); err != nil || task.ID == "" {
		w.logger.Error("malformed task message, forwarding to DLQ",
			slog.String("raw", string(msg.Value)),
		)
		_ = w.producer.Publish(consumerCtx, kafka.TopicDLQ, string(msg.Key), msg.Value)
		telemetry.WorkerDLQTotal.WithLabelValues(w.kind).Inc()
		return nil
	}

	ctx, span := otel.Tracer("worker").Start(consumerCtx, "worker.process_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.kind", string(task.Kind)),
		attribute.String("worker.id", w.workerID),
	)

	log := w.logger.With(
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
	)

	// A stored outcome means this delivery is a replay. Re-emit the stored
	// result; the responder's dedup absorbs any duplicate.
	if stored, err := w.repo.GetOutcome(ctx, task.ID); err == nil {
		log.Info("task already resolved, re-emitting stored result")
		return w.publishResult(ctx, stored)
	} else if !isNotFound(err) {
		log.Error("outcome lookup failed", slog.String("error", err.Error()))
		return err
	}

	w.wg.Add(1)
	defer w.wg.Done()

	h, err := w.registry.Get(task.Kind)
	if err != nil {
		log.Error("no handler for task kind", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no handler registered")
		_ = w.producer.Publish(ctx, kafka.TopicDLQ, task.UserKey, msg.Value)
		telemetry.WorkerDLQTotal.WithLabelValues(w.kind).Inc()
		// The user is known, so they still get a terminal answer.
		return w.finish(ctx, &task, nil, err)
	}

	start := time.Now()
	var data json.RawMessage

	execErr := retry.Do(ctx, retry.Config{
		MaxAttempts: w.maxRetries + 1,
		BaseDelay:   w.baseDelay,
		OnRetry: func(attempt int, retryErr error) {
			telemetry.WorkerRetriesTotal.WithLabelValues(w.kind).Inc()
			log.Warn("attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", retryErr.Error()),
			)
		},
	}, func() error {
		// Fresh context so the handler timeout is independent of consumer
		// shutdown, while child spans stay parented to this one.
		execCtx, cancel := context.WithTimeout(
			trace.ContextWithSpan(context.Background(), span),
			w.timeout,
		)
		defer cancel()

		out, err := h.Handle(execCtx, &task)
		if err != nil {
			return err
		}
		data = out
		return nil
	})

	telemetry.WorkerTaskDurationSeconds.WithLabelValues(w.kind).Observe(time.Since(start).Seconds())

	if execErr != nil {
		log.Error("task failed", slog.String("error", execErr.Error()))
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "task failed")
	} else {
		log.Info("task completed", slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	}

	return w.finish(ctx, &task, data, execErr)
}

// finish records the terminal outcome and publishes the winning result. If
// another writer recorded first, their result is the one re-emitted.
func (w *Worker) finish(ctx context.Context, task *domain.Task, data json.RawMessage, execErr error) error {
	res := buildResult(task, data, execErr)

	inserted, err := w.repo.RecordOutcome(ctx, res)
	if err != nil {
		w.logger.Error("outcome insert failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		return err
	}
	if !inserted {
		stored, err := w.repo.GetOutcome(ctx, task.ID)
		if err != nil {
			return err
		}
		res = stored
	}

	if err := w.publishResult(ctx, res); err != nil {
		w.logger.Error("result publish failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		return err
	}

	telemetry.WorkerTasksProcessed.WithLabelValues(w.kind, string(res.Outcome)).Inc()
	return nil
}

func (w *Worker) publishResult(ctx context.Context, res *domain.Result) error {
	value, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return w.producer.Publish(ctx, kafka.TopicResponse, res.UserKey, value)
}

// buildResult maps a handler outcome to the Result delivered to the user.
// TaskFailedError carries a user-facing detail; anything else gets the
// generic one.
func buildResult(task *domain.Task, data json.RawMessage, execErr error) *domain.Result {
	res := &domain.Result{
		TaskID:      task.ID,
		Kind:        task.Kind,
		UserKey:     task.UserKey,
		CompletedAt: time.Now().UTC(),
	}
	if execErr == nil {
		res.Outcome = domain.OutcomeSuccess
		res.Data = data
		return res
	}

	res.Outcome = domain.OutcomeFailure
	var failed *domain.TaskFailedError
	if errors.As(execErr, &failed) {
		res.ErrorDetail = failed.Detail
	} else {
		res.ErrorDetail = genericFailureDetail
	}
	return res
}

func isNotFound(err error) bool {
	var notFound *domain.TaskNotFoundError
	return errors.As(err, &notFound)
}
