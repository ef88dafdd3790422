// Package responder is the outbound edge of the pipeline. It consumes
// terminal task results, delivers exactly one WhatsApp message per task, and
// returns the user's session to IDLE so the conversation can continue.
package responder

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/kafka"
	redisstore "github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/redis"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/whatsapp"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/retry"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/telemetry"
)

// errSessionMoved aborts the reset write when the session no longer belongs
// to this result's task.
var errSessionMoved = errors.New("session moved on")

// Responder consumes results and delivers them to users.
type Responder struct {
	consumer kafka.Consumer
	sessions redisstore.SessionStore
	dedup    redisstore.DedupStore
	sender   whatsapp.Sender

	sendAttempts int
	baseDelay    time.Duration
	sendTimeout  time.Duration
	logger       *slog.Logger
}

// Option configures a Responder.
type Option func(*Responder)

func WithSendAttempts(n int) Option        { return func(r *Responder) { r.sendAttempts = n } }
func WithBaseDelay(d time.Duration) Option { return func(r *Responder) { r.baseDelay = d } }
func WithLogger(l *slog.Logger) Option     { return func(r *Responder) { r.logger = l } }

// NewResponder constructs a Responder with the given dependencies and options.
func NewResponder(
	consumer kafka.Consumer,
	sessions redisstore.SessionStore,
	dedup redisstore.DedupStore,
	sender whatsapp.Sender,
	opts ...Option,
) *Responder {
	r := &Responder{
		consumer:     consumer,
		sessions:     sessions,
		dedup:        dedup,
		sender:       sender,
		sendAttempts: 3,
		baseDelay:    time.Second,
		sendTimeout:  30 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts consuming results. Blocks until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	return r.consumer.Subscribe(ctx, r.handleResult)
}

// handleResult is the Kafka HandlerFunc for the results topic. Returning nil
// commits the offset. The dedup claim is taken before sending, so a worker
// re-emitting a stored result cannot reach the user twice.
func (r *Responder) handleResult(consumerCtx context.Context, msg kafka.Message) error {
	var res domain.Result
	if err := json.Unmarshal(msg.Value, &res); err != nil || res.TaskID == "" {
		// Nothing downstream can use a result we cannot attribute to a task.
		r.logger.Error("malformed result message, dropping",
			slog.String("raw", string(msg.Value)),
		)
		return nil
	}

	ctx, span := otel.Tracer("responder").Start(consumerCtx, "responder.deliver_result")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", res.TaskID),
		attribute.String("task.kind", string(res.Kind)),
		attribute.String("result.outcome", string(res.Outcome)),
	)

	log := r.logger.With(
		slog.String("task_id", res.TaskID),
		slog.String("user_key", res.UserKey),
	)

	first, err := r.dedup.FirstDelivery(ctx, res.TaskID)
	if err != nil {
		log.Error("dedup claim failed", slog.String("error", err.Error()))
		return err // uncommitted, redelivered
	}
	if !first {
		log.Info("duplicate result absorbed")
		telemetry.ResponderDuplicatesTotal.Inc()
		return nil
	}

	// A result for a task the session no longer waits on is stale: the
	// session expired or the sweeper already answered. Suppress it rather
	// than confuse the user mid-conversation. A session read failure fails
	// open, delivery matters more than suppression.
	suppressed := false
	sess, err := r.sessions.Get(ctx, res.UserKey)
	if err != nil {
		log.Warn("session read failed, delivering anyway", slog.String("error", err.Error()))
	} else if sess.PendingTaskID != res.TaskID {
		suppressed = true
	}

	if suppressed {
		log.Info("stale result suppressed",
			slog.String("pending_task_id", sess.PendingTaskID),
		)
		telemetry.ResponderSuppressedTotal.Inc()
		return nil
	}

	body, mediaURL := formatMessage(&res)

	sendErr := retry.Do(ctx, retry.Config{
		MaxAttempts: r.sendAttempts,
		BaseDelay:   r.baseDelay,
		OnRetry: func(attempt int, retryErr error) {
			log.Warn("send attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", retryErr.Error()),
			)
		},
	}, func() error {
		sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		defer cancel()
		return r.sender.Send(sendCtx, res.UserKey, body, mediaURL)
	})

	if sendErr != nil {
		// The outcome is durable in Postgres; the message is the only loss.
		// The session is still reset below so the user is not stuck.
		log.Error("delivery failed after retries", slog.String("error", sendErr.Error()))
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "delivery failed")
		telemetry.ResponderSendFailuresTotal.Inc()
	} else {
		log.Info("result delivered")
		telemetry.ResponderDeliveredTotal.WithLabelValues(string(res.Outcome)).Inc()
	}

	r.resetSession(ctx, &res, log)
	return nil
}

// resetSession clears the pending gate and returns the session to IDLE, but
// only while it still points at this result's task. Best effort: the session
// TTL is the backstop if Redis is unreachable here.
func (r *Responder) resetSession(ctx context.Context, res *domain.Result, log *slog.Logger) {
	_, err := r.sessions.Update(ctx, res.UserKey, func(sess domain.Session) (domain.Session, error) {
		if sess.PendingTaskID != res.TaskID {
			return sess, errSessionMoved
		}
		sess.PendingTaskID = ""
		sess.State = domain.StateIdle
		return sess, nil
	})
	if err != nil && !errors.Is(err, errSessionMoved) {
		log.Warn("session reset failed", slog.String("error", err.Error()))
	}
}
