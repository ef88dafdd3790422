//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/postgres"
)

// newRepo creates a repository connected to the test Postgres container and
// truncates the tables on cleanup.
func newRepo(t *testing.T) (postgres.Repository, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE task_results, tasks, queries, invoices, users CASCADE") //nolint:errcheck
		pool.Close()
	})
	return postgres.NewRepository(pool), pool
}

func makeTask(kind domain.TaskKind, userKey string) *domain.Task {
	return &domain.Task{
		ID:         uuid.New().String(),
		Kind:       kind,
		UserKey:    userKey,
		Payload:    json.RawMessage(`{"media_url":"https://example.test/img"}`),
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestPostgres_EnsureUserIsIdempotent(t *testing.T) {
	repo, pool := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.EnsureUser(ctx, "whatsapp:+15551230001"))
	require.NoError(t, repo.EnsureUser(ctx, "whatsapp:+15551230001"))

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM users WHERE whatsapp_number = $1", "whatsapp:+15551230001",
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestPostgres_SaveInvoiceReplayIsAbsorbed(t *testing.T) {
	repo, pool := newRepo(t)
	ctx := context.Background()
	userKey := "whatsapp:+15551230002"
	require.NoError(t, repo.EnsureUser(ctx, userKey))

	date := "12/03/2025"
	amount := 99.50
	inv := &postgres.Invoice{
		ID:            uuid.New().String(),
		UserKey:       userKey,
		InvoiceDate:   &date,
		ExpenseAmount: &amount,
		RawImageKey:   "invoices/u/abc",
	}
	require.NoError(t, repo.SaveInvoice(ctx, inv))
	// A redelivered task saves with the same invoice_id and must not duplicate.
	require.NoError(t, repo.SaveInvoice(ctx, inv))

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM invoices WHERE invoice_id = $1", inv.ID,
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestPostgres_RecordOutcomeFirstWriterWins(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	task := makeTask(domain.KindImageInvoice, "whatsapp:+15551230003")
	require.NoError(t, repo.CreateTask(ctx, task))

	success := &domain.Result{
		TaskID:      task.ID,
		Kind:        task.Kind,
		UserKey:     task.UserKey,
		Outcome:     domain.OutcomeSuccess,
		Data:        json.RawMessage(`{"invoice_date":"12/03/2025"}`),
		CompletedAt: time.Now().UTC(),
	}
	inserted, err := repo.RecordOutcome(ctx, success)
	require.NoError(t, err)
	assert.True(t, inserted)

	// A slower writer (sweeper, duplicate worker) loses and the stored
	// outcome is unchanged.
	failure := &domain.Result{
		TaskID:      task.ID,
		Kind:        task.Kind,
		UserKey:     task.UserKey,
		Outcome:     domain.OutcomeFailure,
		ErrorDetail: "too late",
		CompletedAt: time.Now().UTC(),
	}
	inserted, err = repo.RecordOutcome(ctx, failure)
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := repo.GetOutcome(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, stored.Outcome)
	assert.Empty(t, stored.ErrorDetail)
}

func TestPostgres_GetOutcomeNotFound(t *testing.T) {
	repo, _ := newRepo(t)

	_, err := repo.GetOutcome(context.Background(), uuid.New().String())
	require.Error(t, err)

	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPostgres_ListUnresolvedSkipsResolvedAndFresh(t *testing.T) {
	repo, pool := newRepo(t)
	ctx := context.Background()

	staleOpen := makeTask(domain.KindImageInvoice, "whatsapp:+15551230004")
	staleDone := makeTask(domain.KindNLQuery, "whatsapp:+15551230004")
	fresh := makeTask(domain.KindImageInvoice, "whatsapp:+15551230004")

	require.NoError(t, repo.CreateTask(ctx, staleOpen))
	require.NoError(t, repo.CreateTask(ctx, staleDone))
	require.NoError(t, repo.CreateTask(ctx, fresh))

	// Age two of the tasks past the cutoff.
	old := time.Now().UTC().Add(-10 * time.Minute)
	_, err := pool.Exec(ctx,
		"UPDATE tasks SET enqueued_at = $1 WHERE task_id = ANY($2)",
		old, []string{staleOpen.ID, staleDone.ID})
	require.NoError(t, err)

	_, err = repo.RecordOutcome(ctx, &domain.Result{
		TaskID:      staleDone.ID,
		Kind:        staleDone.Kind,
		UserKey:     staleDone.UserKey,
		Outcome:     domain.OutcomeSuccess,
		CompletedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	unresolved, err := repo.ListUnresolved(ctx, cutoff, 10)
	require.NoError(t, err)

	require.Len(t, unresolved, 1)
	assert.Equal(t, staleOpen.ID, unresolved[0].ID)
	assert.Equal(t, domain.KindImageInvoice, unresolved[0].Kind)
}

func TestPostgres_SelectRowsReadOnlyGuard(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.EnsureUser(ctx, "whatsapp:+15551230005"))

	cols, rows, err := repo.SelectRows(ctx,
		"SELECT whatsapp_number FROM users WHERE whatsapp_number = 'whatsapp:+15551230005'")
	require.NoError(t, err)
	assert.Equal(t, []string{"whatsapp_number"}, cols)
	require.Len(t, rows, 1)

	_, _, err = repo.SelectRows(ctx, "DELETE FROM users")
	require.Error(t, err, "non-SELECT statements are refused")

	_, _, err = repo.SelectRows(ctx, "SELECT 1; DROP TABLE users")
	require.Error(t, err, "multi-statement input is refused")
}
