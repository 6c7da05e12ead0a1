package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/llm"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
	"github.com/capitalize-ai/bill-assistant/pkg/metrics"
	"github.com/capitalize-ai/bill-assistant/pkg/tracing"
)

// extractedBill is the only shape accepted from the model.
type extractedBill struct {
	Name            string      `json:"name"`
	TransactionType string      `json:"transactionType"`
	InvoiceNumber   string      `json:"invoiceNumber"`
	SupplierName    string      `json:"supplierName"`
	BillType        string      `json:"billType"`
	TotalAmount     *jsonAmount `json:"totalAmount"`
	TaxAmount       *jsonAmount `json:"taxAmount"`
	NetAmount       *jsonAmount `json:"netAmount"`
	CurrencyCode    string      `json:"currencyCode"`
	IssueDate       string      `json:"issueDate"`
	Notes           string      `json:"notes"`
	FileID          json.Number `json:"fileId"`
}

// jsonAmount is a money value that must be a bare JSON number. Quoted numbers
// are rejected.
type jsonAmount struct {
	decimal.Decimal
}

func (a *jsonAmount) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || (b[0] != '-' && (b[0] < '0' || b[0] > '9')) {
		return fmt.Errorf("amount must be a JSON number, got %s", b)
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", n, err)
	}
	a.Decimal = d
	return nil
}

func (a *jsonAmount) ptr() *decimal.Decimal {
	if a == nil {
		return nil
	}
	d := a.Decimal
	return &d
}

// decodeBill parses the single JSON object in content. Unknown fields, wrong
// value types, trailing objects and missing required fields are all errors.
func decodeBill(content string) (*extractedBill, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in model output")
	}

	dec := json.NewDecoder(strings.NewReader(content[start : end+1]))
	dec.DisallowUnknownFields()

	var b extractedBill
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("malformed bill object: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("unexpected data after bill object")
	}

	if strings.TrimSpace(b.Name) == "" {
		return nil, errors.New("bill object has no name")
	}
	if !model.Direction(b.TransactionType).Valid() {
		return nil, fmt.Errorf("invalid transactionType %q", b.TransactionType)
	}
	if b.TotalAmount == nil {
		return nil, errors.New("bill object has no totalAmount")
	}
	return &b, nil
}

// draft converts the decoded object. The issue date is left zero when absent
// so that filing applies today's date.
func (b *extractedBill) draft(sourceFileID int64) (*model.BillDraft, error) {
	d := &model.BillDraft{
		Name:             strings.TrimSpace(b.Name),
		Direction:        model.Direction(b.TransactionType),
		InvoiceNumber:    b.InvoiceNumber,
		CounterpartyName: b.SupplierName,
		CategoryLabel:    b.BillType,
		TotalAmount:      b.TotalAmount.Decimal,
		TaxAmount:        b.TaxAmount.ptr(),
		NetAmount:        b.NetAmount.ptr(),
		CurrencyCode:     b.CurrencyCode,
		Notes:            b.Notes,
	}
	if b.IssueDate != "" {
		date, err := model.ParseDate(b.IssueDate)
		if err != nil {
			return nil, err
		}
		d.IssueDate = date
	}
	if sourceFileID > 0 {
		d.SourceFileID = &sourceFileID
	}
	return d, nil
}

// BillFiler stores extracted drafts.
type BillFiler interface {
	File(ctx context.Context, ownerID int64, draft *model.BillDraft, categoryID *int64) (*model.Bill, error)
	HasBillForFile(ctx context.Context, ownerID, fileID int64) (bool, error)
}

// CategoryNamer lists the category names offered to the model.
type CategoryNamer interface {
	AvailableNames(ctx context.Context, ownerID int64) ([]string, error)
}

// ExtractionService turns stored receipts into filed bills with one model call.
type ExtractionService struct {
	llm        llm.Client
	files      FileStore
	categories CategoryNamer
	bills      BillFiler
	prompts    *Prompts
	settings   ModelSettings
	events     EventPublisher
	logger     *logger.Logger
}

// NewExtractionService creates a new extraction service.
func NewExtractionService(
	client llm.Client,
	files FileStore,
	categories CategoryNamer,
	bills BillFiler,
	prompts *Prompts,
	settings ModelSettings,
	events EventPublisher,
	log *logger.Logger,
) *ExtractionService {
	if events == nil {
		events = NopPublisher{}
	}
	return &ExtractionService{
		llm:        client,
		files:      files,
		categories: categories,
		bills:      bills,
		prompts:    prompts,
		settings:   settings,
		events:     events,
		logger:     log.Named("extraction"),
	}
}

// ExtractAndFileBill extracts a bill from a stored file, matches its category
// and files it. There are no retries. Every failure is a KindExtraction error,
// the uniform "no result" signal.
func (s *ExtractionService) ExtractAndFileBill(ctx context.Context, fileID int64) (*model.Bill, error) {
	const op = "extraction.file_bill"

	ctx, span := tracing.Tracer().Start(ctx, "extraction.file_bill")
	defer span.End()
	span.SetAttributes(attribute.Int64("file.id", fileID))

	bill, ownerID, err := s.extractAndFile(ctx, fileID)
	if errors.Is(err, ErrBillExists) {
		metrics.RecordExtraction("duplicate")
		span.SetAttributes(attribute.Bool("bill.exists", true))
		s.logger.Info("file already has a bill, skipping extraction", zap.Int64("file_id", fileID))
		return nil, apperr.Extraction(op, err)
	}
	if err != nil {
		metrics.RecordExtraction("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		s.logger.Error("bill extraction failed", zap.Int64("file_id", fileID), zap.Error(err))
		if ownerID > 0 {
			publish(ctx, s.events, s.logger, &model.Event{
				OwnerID: ownerID,
				Type:    model.EventExtractionFailed,
				FileID:  fileID,
				Reason:  apperr.CouldNotComplete,
			})
		}
		if apperr.Is(err, apperr.KindExtraction) {
			return nil, err
		}
		return nil, apperr.Extraction(op, err)
	}

	metrics.RecordExtraction("filed")
	span.SetAttributes(attribute.Int64("bill.id", bill.ID))
	publish(ctx, s.events, s.logger, &model.Event{
		OwnerID: bill.OwnerID,
		Type:    model.EventBillFiled,
		FileID:  fileID,
		BillID:  bill.ID,
		Metadata: map[string]any{
			"name":         bill.Name,
			"total_amount": bill.TotalAmount.String(),
			"currency":     bill.CurrencyCode,
		},
	})
	return bill, nil
}

func (s *ExtractionService) extractAndFile(ctx context.Context, fileID int64) (*model.Bill, int64, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load file %d: %w", fileID, err)
	}

	exists, err := s.bills.HasBillForFile(ctx, f.OwnerID, f.ID)
	if err != nil {
		return nil, f.OwnerID, err
	}
	if exists {
		return nil, f.OwnerID, ErrBillExists
	}

	names, err := s.categories.AvailableNames(ctx, f.OwnerID)
	if err != nil {
		return nil, f.OwnerID, err
	}

	draft, err := s.Extract(ctx, f, names)
	if err != nil {
		return nil, f.OwnerID, err
	}

	bill, err := s.bills.File(ctx, f.OwnerID, draft, nil)
	if err != nil {
		return nil, f.OwnerID, err
	}
	return bill, f.OwnerID, nil
}

// Extract asks the model for the bill in f.
func (s *ExtractionService) Extract(ctx context.Context, f *model.UploadedFile, categories []string) (*model.BillDraft, error) {
	const op = "extraction.extract"

	if f.StorageURL == "" || f.MimeType == "" {
		return nil, apperr.Extractionf(op, "file %d has no url or type", f.ID)
	}

	resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{
		Model:       s.settings.Model,
		System:      s.prompts.ExtractionSystem(categories),
		MaxTokens:   s.settings.MaxTokens,
		Temperature: s.settings.Temperature,
		JSONMode:    true,
		Messages: []llm.ChatMessage{{
			Role:        string(model.RoleUser),
			Content:     s.prompts.ImageOnly(categories, f.ID),
			Attachments: []llm.Attachment{{URL: f.StorageURL, MimeType: f.MimeType}},
		}},
	})
	if err != nil {
		return nil, apperr.Extraction(op, fmt.Errorf("model call failed: %w", err))
	}

	decoded, err := decodeBill(resp.Content)
	if err != nil {
		return nil, apperr.Extraction(op, err)
	}
	if decoded.FileID != "" && decoded.FileID.String() != fmt.Sprint(f.ID) {
		s.logger.Warn("model echoed a different file id",
			zap.Int64("file_id", f.ID),
			zap.String("echoed", decoded.FileID.String()),
		)
	}

	draft, err := decoded.draft(f.ID)
	if err != nil {
		return nil, apperr.Extraction(op, err)
	}
	return draft, nil
}
