package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/kafka"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/postgres"
)

type published struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	messages  []published
	returnErr error
}

func (f *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	if f.returnErr != nil {
		return f.returnErr
	}
	f.messages = append(f.messages, published{topic: topic, key: key, value: value})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type fakeRepo struct {
	unresolved []*domain.Task
	listErr    error

	outcomes   map[string]*domain.Result
	insertErrs map[string]error
}

func newFakeRepo(tasks ...*domain.Task) *fakeRepo {
	return &fakeRepo{
		unresolved: tasks,
		outcomes:   make(map[string]*domain.Result),
		insertErrs: make(map[string]error),
	}
}

func (f *fakeRepo) EnsureUser(context.Context, string) error { return nil }

func (f *fakeRepo) SaveInvoice(context.Context, *postgres.Invoice) error { return nil }

func (f *fakeRepo) RecordQuery(context.Context, *postgres.QueryRecord) error { return nil }

func (f *fakeRepo) CreateTask(context.Context, *domain.Task) error { return nil }

func (f *fakeRepo) ListUnresolved(_ context.Context, _ time.Time, _ int) ([]*domain.Task, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.unresolved, nil
}

func (f *fakeRepo) RecordOutcome(_ context.Context, res *domain.Result) (bool, error) {
	if err := f.insertErrs[res.TaskID]; err != nil {
		return false, err
	}
	if _, exists := f.outcomes[res.TaskID]; exists {
		return false, nil
	}
	f.outcomes[res.TaskID] = res
	return true, nil
}

func (f *fakeRepo) GetOutcome(_ context.Context, taskID string) (*domain.Result, error) {
	if res, ok := f.outcomes[taskID]; ok {
		return res, nil
	}
	return nil, &domain.TaskNotFoundError{TaskID: taskID}
}

func (f *fakeRepo) SelectRows(context.Context, string) ([]string, [][]any, error) {
	return nil, nil, nil
}

func staleTask(id string, kind domain.TaskKind) *domain.Task {
	return &domain.Task{
		ID:         id,
		Kind:       kind,
		UserKey:    "whatsapp:+15550001111",
		EnqueuedAt: time.Now().UTC().Add(-10 * time.Minute),
	}
}

func newTestSweeper(t *testing.T, repo *fakeRepo, producer *fakeProducer) *Sweeper {
	t.Helper()
	s, err := NewSweeper(repo, producer, nil, "sweeper-test", "* * * * *",
		WithTaskTTL(5*time.Minute),
		WithBatchLimit(10),
	)
	require.NoError(t, err)
	return s
}

func TestSweep_ExpiresStaleTask(t *testing.T) {
	repo := newFakeRepo(staleTask("task-1", domain.KindImageInvoice))
	producer := &fakeProducer{}
	s := newTestSweeper(t, repo, producer)

	require.NoError(t, s.sweep(context.Background()))

	stored, ok := repo.outcomes["task-1"]
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeFailure, stored.Outcome)
	assert.Equal(t, timeoutDetail, stored.ErrorDetail)
	assert.Equal(t, domain.KindImageInvoice, stored.Kind)

	require.Len(t, producer.messages, 1)
	assert.Equal(t, kafka.TopicResponse, producer.messages[0].topic)
	assert.Equal(t, "whatsapp:+15550001111", producer.messages[0].key)

	var res domain.Result
	require.NoError(t, json.Unmarshal(producer.messages[0].value, &res))
	assert.Equal(t, "task-1", res.TaskID)
	assert.Equal(t, timeoutDetail, res.ErrorDetail)
}

func TestSweep_WorkerWinsRaceNothingPublished(t *testing.T) {
	repo := newFakeRepo(staleTask("task-2", domain.KindNLQuery))
	// The worker recorded its result after the task was listed.
	repo.outcomes["task-2"] = &domain.Result{TaskID: "task-2", Outcome: domain.OutcomeSuccess}
	producer := &fakeProducer{}
	s := newTestSweeper(t, repo, producer)

	require.NoError(t, s.sweep(context.Background()))

	assert.Equal(t, domain.OutcomeSuccess, repo.outcomes["task-2"].Outcome)
	assert.Empty(t, producer.messages)
}

func TestSweep_BatchContinuesPastFailures(t *testing.T) {
	repo := newFakeRepo(
		staleTask("task-3", domain.KindImageInvoice),
		staleTask("task-4", domain.KindNLQuery),
	)
	repo.insertErrs["task-3"] = errors.New("postgres down")
	producer := &fakeProducer{}
	s := newTestSweeper(t, repo, producer)

	require.NoError(t, s.sweep(context.Background()))

	_, expired := repo.outcomes["task-4"]
	assert.True(t, expired)
	require.Len(t, producer.messages, 1)
}

func TestSweep_NoStaleTasks(t *testing.T) {
	repo := newFakeRepo()
	producer := &fakeProducer{}
	s := newTestSweeper(t, repo, producer)

	require.NoError(t, s.sweep(context.Background()))
	assert.Empty(t, producer.messages)
}

func TestNewSweeper_RejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(newFakeRepo(), &fakeProducer{}, nil, "sweeper-test", "not a cron expr")
	require.Error(t, err)
}
