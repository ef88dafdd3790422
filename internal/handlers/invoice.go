package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/postgres"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/storage"
	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/pkg/retry"
)

// MediaFetcher downloads a message attachment.
type MediaFetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// ObjectStore is the slice of blob storage the handlers need.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// InvoiceExtractor pulls structured invoice fields out of an image.
type InvoiceExtractor interface {
	ExtractInvoice(ctx context.Context, imageURL string) (*domain.InvoiceData, error)
}

// extractPresignTTL must outlive the model call that reads the image.
const extractPresignTTL = 1 * time.Hour

// InvoiceHandler processes IMAGE_INVOICE tasks: fetch the attachment, park
// it in object storage, extract its fields, and persist the invoice row.
type InvoiceHandler struct {
	media     MediaFetcher
	store     ObjectStore
	extractor InvoiceExtractor
	repo      postgres.Repository
	logger    *slog.Logger
}

func NewInvoiceHandler(media MediaFetcher, store ObjectStore, extractor InvoiceExtractor, repo postgres.Repository, logger *slog.Logger) *InvoiceHandler {
	return &InvoiceHandler{media: media, store: store, extractor: extractor, repo: repo, logger: logger}
}

func (h *InvoiceHandler) Kind() domain.TaskKind { return domain.KindImageInvoice }

func (h *InvoiceHandler) Handle(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	ctx, span := otel.Tracer("worker").Start(ctx, "handler.invoice")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", task.ID))

	var p domain.ImagePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return nil, retry.Permanent(&domain.InvalidPayloadError{Kind: task.Kind, Reason: err.Error()})
	}
	if p.MediaURL == "" {
		span.SetStatus(codes.Error, "missing media url")
		return nil, retry.Permanent(&domain.InvalidPayloadError{Kind: task.Kind, Reason: "missing media_url"})
	}

	image, err := h.media.Download(ctx, p.MediaURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "media download failed")
		return nil, fmt.Errorf("download media: %w", err)
	}

	key := storage.InvoiceKey(task.UserKey, task.ID)
	if err := h.store.Put(ctx, key, image, p.ContentType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "image upload failed")
		return nil, err
	}

	imageURL, err := h.store.Presign(ctx, key, extractPresignTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "presign failed")
		return nil, err
	}

	data, err := h.extractor.ExtractInvoice(ctx, imageURL)
	if err != nil {
		var failed *domain.TaskFailedError
		if errors.As(err, &failed) {
			// Not an invoice. Don't keep the image around.
			if delErr := h.store.Delete(ctx, key); delErr != nil {
				h.logger.Warn("could not remove rejected image", "key", key, "error", delErr)
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return nil, err
	}

	if err := h.repo.EnsureUser(ctx, task.UserKey); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := h.repo.SaveInvoice(ctx, &postgres.Invoice{
		ID:            task.ID,
		UserKey:       task.UserKey,
		InvoiceDate:   data.InvoiceDate,
		ExpenseAmount: data.ExpenseAmount,
		VAT:           data.VAT,
		PayeeName:     data.PayeeName,
		PaymentMethod: data.PaymentMethod,
		RawImageKey:   key,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invoice insert failed")
		return nil, err
	}

	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice data: %w", err)
	}
	return out, nil
}
