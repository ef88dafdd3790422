package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/postgres"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/report"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/storage"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/retry"
)

// QueryGenerator turns a natural language request into a SELECT statement.
type QueryGenerator interface {
	GenerateQuery(ctx context.Context, request, userKey string) (string, error)
}

// reportPresignTTL is how long the download link in the reply stays valid.
const reportPresignTTL = 24 * time.Hour

const noResultsDetail = "No matching information was found. Please try a different request."

// QueryHandler processes NL_QUERY tasks: generate a scoped SELECT, run it,
// render the rows into an Excel report, and park the report in object
// storage.
type QueryHandler struct {
	generator QueryGenerator
	store     ObjectStore
	repo      postgres.Repository
	logger    *slog.Logger
}

func NewQueryHandler(generator QueryGenerator, store ObjectStore, repo postgres.Repository, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{generator: generator, store: store, repo: repo, logger: logger}
}

func (h *QueryHandler) Kind() domain.TaskKind { return domain.KindNLQuery }

func (h *QueryHandler) Handle(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.query")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", task.ID))

	var p domain.QueryPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return nil, retry.Permanent(&domain.InvalidPayloadError{Kind: task.Kind, Reason: err.Error()})
	}
	if strings.TrimSpace(p.Text) == "" {
		span.SetStatus(codes.Error, "empty query text")
		return nil, retry.Permanent(&domain.InvalidPayloadError{Kind: task.Kind, Reason: "empty query text"})
	}

	query, err := h.generator.GenerateQuery(ctx, p.Text, task.UserKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query generation failed")
		return nil, err
	}
	h.logger.Debug("generated query", "task_id", task.ID, "query", query)

	columns, rows, err := h.repo.SelectRows(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query execution failed")
		return nil, err
	}
	if len(rows) == 0 {
		span.SetStatus(codes.Error, "no rows")
		return nil, retry.Permanent(&domain.TaskFailedError{Detail: noResultsDetail})
	}

	if err := h.presignImageColumn(ctx, columns, rows); err != nil {
		span.RecordError(err)
		return nil, err
	}

	workbook, err := report.Build(columns, rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report build failed")
		return nil, err
	}

	key := storage.ReportKey(task.UserKey, task.ID)
	const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	if err := h.store.Put(ctx, key, workbook, xlsxContentType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report upload failed")
		return nil, err
	}
	reportURL, err := h.store.Presign(ctx, key, reportPresignTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report presign failed")
		return nil, err
	}

	if err := h.repo.RecordQuery(ctx, &postgres.QueryRecord{
		ID:        task.ID,
		UserKey:   task.UserKey,
		QueryText: p.Text,
		RowCount:  len(rows),
	}); err != nil {
		// The report exists and the user should still get it.
		h.logger.Warn("could not record query audit row", "task_id", task.ID, "error", err)
	}

	out, err := json.Marshal(domain.ReportData{ReportURL: reportURL, RowCount: len(rows)})
	if err != nil {
		return nil, fmt.Errorf("marshal report data: %w", err)
	}
	return out, nil
}

// presignImageColumn swaps stored raw_image_url keys for time-limited URLs so
// the report's Download links actually work.
func (h *QueryHandler) presignImageColumn(ctx context.Context, columns []string, rows [][]any) error {
	col := -1
	for i, name := range columns {
		if name == "raw_image_url" {
			col = i
			break
		}
	}
	if col == -1 {
		return nil
	}
	for _, row := range rows {
		key, ok := row[col].(string)
		if !ok || key == "" {
			continue
		}
		url, err := h.store.Presign(ctx, key, reportPresignTTL)
		if err != nil {
			return fmt.Errorf("presign image %s: %w", key, err)
		}
		row[col] = url
	}
	return nil
}
