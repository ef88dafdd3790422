package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
)

// Invoice is a stored, extracted invoice row.
type Invoice struct {
	ID            string
	UserKey       string
	InvoiceDate   *string
	ExpenseAmount *float64
	VAT           *float64
	PayeeName     *string
	PaymentMethod *string
	RawImageKey   string
	CreatedAt     time.Time
}

// QueryRecord audits one natural-language retrieval request.
type QueryRecord struct {
	ID        string
	UserKey   string
	QueryText string
	RowCount  int
	CreatedAt time.Time
}

// Repository abstracts all database access for the pipeline: user/invoice
// persistence, the task audit trail the sweeper scans, and the task_results
// table that makes worker processing idempotent.
type Repository interface {
	EnsureUser(ctx context.Context, userKey string) error
	SaveInvoice(ctx context.Context, inv *Invoice) error
	RecordQuery(ctx context.Context, rec *QueryRecord) error

	CreateTask(ctx context.Context, task *domain.Task) error
	// ListUnresolved returns tasks enqueued before cutoff that still have no
	// recorded outcome.
	ListUnresolved(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error)

	// RecordOutcome stores the terminal result for a task. The insert is
	// first-writer-wins on task_id; inserted reports whether this caller won.
	RecordOutcome(ctx context.Context, res *domain.Result) (inserted bool, err error)
	// GetOutcome returns the stored result, or *domain.TaskNotFoundError.
	GetOutcome(ctx context.Context, taskID string) (*domain.Result, error)

	// SelectRows runs a model-generated SELECT in a read-only transaction and
	// returns column names plus rows. Anything but a single SELECT is refused.
	SelectRows(ctx context.Context, query string) ([]string, [][]any, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the Repository interface.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) EnsureUser(ctx context.Context, userKey string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (whatsapp_number, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (whatsapp_number) DO NOTHING
	`, userKey)
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", userKey, err)
	}
	return nil
}

func (r *repository) SaveInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invoices
			(invoice_id, whatsapp_number, invoice_date, expense_amount, vat,
			 payee_name, payment_method, raw_image_url, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (invoice_id) DO NOTHING
	`,
		inv.ID, inv.UserKey, inv.InvoiceDate, inv.ExpenseAmount, inv.VAT,
		inv.PayeeName, inv.PaymentMethod, inv.RawImageKey, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save invoice for %s: %w", inv.UserKey, err)
	}
	return nil
}

func (r *repository) RecordQuery(ctx context.Context, rec *QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queries (query_id, whatsapp_number, query_text, row_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (query_id) DO NOTHING
	`, rec.ID, rec.UserKey, rec.QueryText, rec.RowCount, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record query for %s: %w", rec.UserKey, err)
	}
	return nil
}

func (r *repository) CreateTask(ctx context.Context, task *domain.Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, kind, whatsapp_number, payload, enqueued_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id) DO NOTHING
	`, task.ID, string(task.Kind), task.UserKey, task.Payload, task.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (r *repository) ListUnresolved(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.task_id, t.kind, t.whatsapp_number, t.payload, t.enqueued_at
		FROM tasks t
		LEFT JOIN task_results r ON r.task_id = t.task_id
		WHERE r.task_id IS NULL AND t.enqueued_at < $1
		ORDER BY t.enqueued_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list unresolved tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		var (
			task domain.Task
			kind string
		)
		if err := rows.Scan(&task.ID, &kind, &task.UserKey, &task.Payload, &task.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan unresolved task: %w", err)
		}
		task.Kind = domain.TaskKind(kind)
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

func (r *repository) RecordOutcome(ctx context.Context, res *domain.Result) (bool, error) {
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now().UTC()
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO task_results (task_id, kind, whatsapp_number, outcome, data, error_detail, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO NOTHING
	`,
		res.TaskID, string(res.Kind), res.UserKey, string(res.Outcome),
		res.Data, res.ErrorDetail, res.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record outcome for %s: %w", res.TaskID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) GetOutcome(ctx context.Context, taskID string) (*domain.Result, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT task_id, kind, whatsapp_number, outcome, data, error_detail, completed_at
		FROM task_results
		WHERE task_id = $1
	`, taskID)

	var (
		res     domain.Result
		kind    string
		outcome string
	)
	err := row.Scan(&res.TaskID, &kind, &res.UserKey, &outcome, &res.Data, &res.ErrorDetail, &res.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("get outcome for %s: %w", taskID, err)
	}
	res.Kind = domain.TaskKind(kind)
	res.Outcome = domain.Outcome(outcome)
	return &res, nil
}

// SelectRows executes a generated query with two guards: a SELECT-only prefix
// check and a read-only transaction, so a hallucinated statement can never
// mutate data.
func (r *repository) SelectRows(ctx context.Context, query string) ([]string, [][]any, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return nil, nil, fmt.Errorf("refusing non-SELECT query")
	}
	if strings.Contains(trimmed, ";") {
		return nil, nil, fmt.Errorf("refusing multi-statement query")
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("execute generated query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("read generated query row: %w", err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("generated query rows: %w", err)
	}
	return columns, out, nil
}
