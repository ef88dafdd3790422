package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/postgres"
)

type fakeMedia struct {
	body []byte
	err  error
	urls []string
}

func (f *fakeMedia) Download(_ context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	return f.body, f.err
}

type fakeStore struct {
	objects    map[string][]byte
	deleted    []string
	putErr     error
	presignErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Put(_ context.Context, key string, body []byte, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = body
	return nil
}

func (f *fakeStore) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://signed.example.com/" + key, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

type fakeExtractor struct {
	data *domain.InvoiceData
	err  error
}

func (f *fakeExtractor) ExtractInvoice(_ context.Context, _ string) (*domain.InvoiceData, error) {
	return f.data, f.err
}

type fakeGenerator struct {
	query string
	err   error
}

func (f *fakeGenerator) GenerateQuery(_ context.Context, _, _ string) (string, error) {
	return f.query, f.err
}

// fakeRepo implements postgres.Repository in memory.
type fakeRepo struct {
	users    map[string]bool
	invoices []*postgres.Invoice
	queries  []*postgres.QueryRecord
	tasks    map[string]*domain.Task
	outcomes map[string]*domain.Result

	selectColumns []string
	selectRows    [][]any
	selectErr     error
	selectedQuery string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    map[string]bool{},
		tasks:    map[string]*domain.Task{},
		outcomes: map[string]*domain.Result{},
	}
}

func (f *fakeRepo) EnsureUser(_ context.Context, userKey string) error {
	f.users[userKey] = true
	return nil
}

func (f *fakeRepo) SaveInvoice(_ context.Context, inv *postgres.Invoice) error {
	f.invoices = append(f.invoices, inv)
	return nil
}

func (f *fakeRepo) RecordQuery(_ context.Context, rec *postgres.QueryRecord) error {
	f.queries = append(f.queries, rec)
	return nil
}

func (f *fakeRepo) CreateTask(_ context.Context, task *domain.Task) error {
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeRepo) ListUnresolved(_ context.Context, cutoff time.Time, limit int) ([]*domain.Task, error) {
	var out []*domain.Task
	for _, task := range f.tasks {
		if _, done := f.outcomes[task.ID]; done {
			continue
		}
		if task.EnqueuedAt.Before(cutoff) {
			out = append(out, task)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) RecordOutcome(_ context.Context, res *domain.Result) (bool, error) {
	if _, exists := f.outcomes[res.TaskID]; exists {
		return false, nil
	}
	f.outcomes[res.TaskID] = res
	return true, nil
}

func (f *fakeRepo) GetOutcome(_ context.Context, taskID string) (*domain.Result, error) {
	res, ok := f.outcomes[taskID]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: taskID}
	}
	return res, nil
}

func (f *fakeRepo) SelectRows(_ context.Context, query string) ([]string, [][]any, error) {
	f.selectedQuery = query
	if f.selectErr != nil {
		return nil, nil, f.selectErr
	}
	return f.selectColumns, f.selectRows, nil
}

var _ postgres.Repository = (*fakeRepo)(nil)

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal test payload: %v", err))
	}
	return b
}
