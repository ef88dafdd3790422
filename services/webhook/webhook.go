// Package webhook is the inbound edge of the pipeline. It terminates the
// Twilio WhatsApp webhook, routes each message through the conversation
// state machine under an atomic session update, and publishes any task the
// router emits.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/kafka"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/postgres"
	redisstore "github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/redis"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/router"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/whatsapp"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/telemetry"
)

const rateLimitedReply = "You're sending messages too quickly. Please wait a moment and try again."

// errSessionEnded aborts the session write when the user exits; the caller
// deletes the key instead.
var errSessionEnded = errors.New("session ended")

// Service wires the webhook's collaborators together.
type Service struct {
	sessions redisstore.SessionStore
	limiter  redisstore.RateLimiter
	producer kafka.Producer
	repo     postgres.Repository
	health   []telemetry.HealthCheck
	logger   *slog.Logger
}

func NewService(sessions redisstore.SessionStore, limiter redisstore.RateLimiter, producer kafka.Producer, repo postgres.Repository, logger *slog.Logger) *Service {
	return &Service{
		sessions: sessions,
		limiter:  limiter,
		producer: producer,
		repo:     repo,
		logger:   logger,
	}
}

// Receive handles POST /webhook. Twilio retries non-2xx responses, so store
// conflicts and publish failures answer 503 and the message comes back.
func (s *Service) Receive(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("webhook").Start(r.Context(), "webhook.receive")
	defer span.End()

	msg, err := whatsapp.ParseInbound(r)
	if err != nil {
		s.logger.Warn("rejecting malformed webhook form", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("user.key", msg.UserKey))

	if allowed, err := s.limiter.Allow(ctx, msg.UserKey); err != nil {
		// Fail open: a limiter outage should not take the webhook down.
		s.logger.Warn("rate limiter unavailable", "user", msg.UserKey, "error", err)
	} else if !allowed {
		telemetry.WebhookRateLimitedTotal.Inc()
		s.reply(w, rateLimitedReply)
		return
	}

	taskID := uuid.New().String()
	now := time.Now().UTC()

	var (
		decision   router.Decision
		priorState domain.SessionState
	)
	_, err = s.sessions.Update(ctx, msg.UserKey, func(sess domain.Session) (domain.Session, error) {
		priorState = sess.State
		decision = router.Route(sess, msg, taskID, now)
		if decision.End {
			return sess, errSessionEnded
		}
		return decision.Next, nil
	})

	switch {
	case errors.Is(err, errSessionEnded):
		if delErr := s.sessions.Delete(ctx, msg.UserKey); delErr != nil {
			s.logger.Error("session delete failed", "user", msg.UserKey, "error", delErr)
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
	case err != nil:
		var conflict *domain.SessionConflictError
		if errors.As(err, &conflict) {
			telemetry.WebhookSessionConflicts.Inc()
			s.logger.Warn("session write conflict, asking for retry", "user", msg.UserKey)
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session update failed")
			s.logger.Error("session update failed", "user", msg.UserKey, "error", err)
		}
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	telemetry.WebhookMessagesTotal.WithLabelValues(string(priorState)).Inc()

	if decision.Task != nil {
		if err := s.publishTask(ctx, decision.Task); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "task publish failed")
			s.logger.Error("task publish failed, rolling back pending id",
				"task_id", decision.Task.ID, "error", err)
			s.rollbackPending(ctx, msg.UserKey, decision.Task.ID)
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		telemetry.WebhookTasksEnqueued.WithLabelValues(string(decision.Task.Kind)).Inc()
		s.logger.Info("task enqueued",
			"task_id", decision.Task.ID,
			"kind", string(decision.Task.Kind),
			"user", msg.UserKey,
		)
	}

	s.reply(w, decision.Reply)
}

func (s *Service) publishTask(ctx context.Context, task *domain.Task) error {
	// The tasks row must exist before a worker can see the task: task_results
	// references it, so without it no outcome could ever be recorded and the
	// task would never resolve. Failing here answers 503 and Twilio redelivers.
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("task audit insert: %w", err)
	}

	value, err := json.Marshal(task)
	if err != nil {
		return err
	}
	// Keyed by user so one user's tasks stay ordered on a single partition.
	return s.producer.Publish(ctx, kafka.TaskTopic(string(task.Kind)), task.UserKey, value)
}

// rollbackPending clears the pending id we just set so the user is not stuck
// behind a task that never reached the queue.
func (s *Service) rollbackPending(ctx context.Context, userKey, taskID string) {
	_, err := s.sessions.Update(ctx, userKey, func(sess domain.Session) (domain.Session, error) {
		if sess.PendingTaskID == taskID {
			sess.PendingTaskID = ""
		}
		return sess, nil
	})
	if err != nil {
		s.logger.Error("pending rollback failed", "user", userKey, "task_id", taskID, "error", err)
	}
}

func (s *Service) reply(w http.ResponseWriter, body string) {
	if err := whatsapp.WriteTwiML(w, body); err != nil {
		s.logger.Error("twiml write failed", "error", err)
	}
}

// WithHealthChecks registers the dependency probes answered on /health and
// /healthz.
func (s *Service) WithHealthChecks(checks ...telemetry.HealthCheck) {
	s.health = checks
}

// Healthz handles GET /health and /healthz: 200 only while every registered
// dependency (session store, queue, database) is reachable.
func (s *Service) Healthz(w http.ResponseWriter, r *http.Request) {
	telemetry.HealthHandler(s.health...)(w, r)
}

// Readyz handles GET /readyz and checks the session store.
func (s *Service) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.sessions.Get(ctx, "__readyz__"); err != nil {
		http.Error(w, "session store not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
