package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/chatcontext"
	"github.com/capitalize-ai/bill-assistant/internal/llm"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/internal/worker"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
	"github.com/capitalize-ai/bill-assistant/pkg/metrics"
	"github.com/capitalize-ai/bill-assistant/pkg/tracing"
)

// Canned replies.
const (
	MessageNoInput = "咦，小咩什么都没收到呢 🤔 说句话或者发张票据照片给我吧～"
	MessageBusy    = "咩～服务暂时有点忙，小咩连不上大脑啦，请稍后再试吧 😥"
)

// Chat shapes, used as metric labels.
const (
	shapeEmpty = "empty"
	shapeFiles = "files"
	shapeText  = "text"
)

const defaultUploadConcurrency = 4

// ModelSettings are the model parameters used for every call.
type ModelSettings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Uploader ingests one file.
type Uploader interface {
	Upload(ctx context.Context, data []byte, name string, ownerID int64) (*model.UploadedFile, error)
}

// Extractor files a bill from an ingested file.
type Extractor interface {
	ExtractAndFileBill(ctx context.Context, fileID int64) (*model.Bill, error)
}

// TaskSubmitter queues background work.
type TaskSubmitter interface {
	Submit(t worker.Task) bool
}

// OrchestratorConfig holds the collaborators of an Orchestrator.
type OrchestratorConfig struct {
	LLM          llm.Client
	Uploader     Uploader
	Extractor    Extractor
	Categories   CategoryNamer
	Memory       chatcontext.Store
	Tasks        TaskSubmitter
	Prompts      *Prompts
	Settings     ModelSettings
	ReplayRounds int
	// UploadConcurrency bounds parallel ingestion of one request's files.
	UploadConcurrency int
}

// Orchestrator classifies chat requests and streams the model's reply.
//
// A request is one of three shapes. Empty requests get a canned reply. File
// requests ingest every file, attach the stored files to one model call and
// queue an extraction per file; they never read or write memory. Text
// requests replay recent turns, record the user turn before streaming and
// record the reply only when the stream completes.
type Orchestrator struct {
	cfg    OrchestratorConfig
	logger *logger.Logger
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, log *logger.Logger) *Orchestrator {
	if cfg.ReplayRounds <= 0 {
		cfg.ReplayRounds = chatcontext.DefaultReplayRounds
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = defaultUploadConcurrency
	}
	return &Orchestrator{cfg: cfg, logger: log.Named("orchestrator")}
}

// HandleChat answers req. The returned channel yields reply chunks and is
// closed when the reply ends or ctx is cancelled. Failures surface as a
// single MessageBusy chunk; no error text ever reaches the caller.
func (o *Orchestrator) HandleChat(ctx context.Context, req model.ChatRequest) <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		o.handle(ctx, req, out)
	}()
	return out
}

// ClearContext drops the caller's conversation memory.
func (o *Orchestrator) ClearContext(ctx context.Context, identity string) error {
	if err := o.cfg.Memory.Clear(ctx, identity); err != nil {
		return apperr.Storage("chat.clear", err)
	}
	return nil
}

// emit delivers s unless the caller went away.
func emit(ctx context.Context, out chan<- string, s string) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) handle(ctx context.Context, req model.ChatRequest, out chan<- string) {
	ctx, span := tracing.Tracer().Start(ctx, "chat.handle")
	defer span.End()

	log := o.logger.With(zap.String("identity", req.Identity), zap.Int64("owner_id", req.OwnerID))
	hasText := strings.TrimSpace(req.Text) != ""

	if len(req.Files) == 0 && !hasText {
		span.SetAttributes(attribute.String("chat.shape", shapeEmpty))
		metrics.RecordChat(shapeEmpty, "ok")
		log.Info("empty chat request")
		emit(ctx, out, MessageNoInput)
		return
	}

	shape := shapeText
	defer func() {
		if r := recover(); r != nil {
			log.Error("chat handling panicked", zap.Any("panic", r), zap.Stack("stack"))
			metrics.RecordChat(shape, "error")
			emit(ctx, out, MessageBusy)
		}
	}()

	categories, err := o.cfg.Categories.AvailableNames(ctx, req.OwnerID)
	if err != nil {
		log.Error("failed to load categories", zap.Error(err))
		metrics.RecordChat(shape, "error")
		emit(ctx, out, MessageBusy)
		return
	}

	if len(req.Files) > 0 {
		shape = shapeFiles
		files, rejection := o.ingest(ctx, req, log)
		if len(files) > 0 {
			span.SetAttributes(attribute.String("chat.shape", shapeFiles), attribute.Int("chat.files", len(files)))
			o.handleFiles(ctx, req, files, categories, out, log)
			return
		}
		if !hasText {
			metrics.RecordChat(shapeFiles, "rejected")
			if rejection != nil {
				emit(ctx, out, apperr.UserMessage(rejection))
			} else {
				emit(ctx, out, MessageBusy)
			}
			return
		}
		log.Warn("no file could be ingested, answering the text alone")
		shape = shapeText
	}

	span.SetAttributes(attribute.String("chat.shape", shapeText))
	o.handleText(ctx, req, categories, out, log)
}

// ingest uploads the request's files concurrently. Stored files keep request
// order. The first validation failure is returned for the rejection reply.
func (o *Orchestrator) ingest(ctx context.Context, req model.ChatRequest, log *logger.Logger) ([]*model.UploadedFile, error) {
	results := make([]*model.UploadedFile, len(req.Files))
	errs := make([]error, len(req.Files))

	var g errgroup.Group
	g.SetLimit(o.cfg.UploadConcurrency)
	for i, f := range req.Files {
		i, f := i, f
		g.Go(func() (err error) {
			// The caller's recover does not reach this goroutine.
			defer func() {
				if r := recover(); r != nil {
					log.Error("file ingestion panicked", zap.String("file_name", f.Name), zap.Any("panic", r), zap.Stack("stack"))
					errs[i] = fmt.Errorf("ingestion of %q panicked: %v", f.Name, r)
					err = nil
				}
			}()

			file, err := o.cfg.Uploader.Upload(ctx, f.Data, f.Name, req.OwnerID)
			if err != nil {
				log.Warn("file ingestion failed", zap.String("file_name", f.Name), zap.Error(err))
				errs[i] = err
				return nil
			}
			results[i] = file
			return nil
		})
	}
	_ = g.Wait()

	var (
		stored    []*model.UploadedFile
		rejection error
	)
	for i, f := range results {
		if f != nil {
			stored = append(stored, f)
			continue
		}
		if rejection == nil && apperr.Is(errs[i], apperr.KindValidation) {
			rejection = errs[i]
		}
	}
	return stored, rejection
}

func (o *Orchestrator) handleFiles(ctx context.Context, req model.ChatRequest, files []*model.UploadedFile, categories []string, out chan<- string, log *logger.Logger) {
	for _, f := range files {
		fileID := f.ID
		o.cfg.Tasks.Submit(worker.Task{
			Name: "extract_bill",
			Run: func(ctx context.Context) error {
				_, err := o.cfg.Extractor.ExtractAndFileBill(ctx, fileID)
				return err
			},
		})
	}

	first := files[0].ID
	prompt := o.cfg.Prompts.ImageOnly(categories, first)
	if strings.TrimSpace(req.Text) != "" {
		prompt = o.cfg.Prompts.ImageAndText(categories, req.Text, first)
	}

	attachments := make([]llm.Attachment, 0, len(files))
	for _, f := range files {
		attachments = append(attachments, llm.Attachment{URL: f.StorageURL, MimeType: f.MimeType})
	}

	messages := []llm.ChatMessage{{
		Role:        string(model.RoleUser),
		Content:     prompt,
		Attachments: attachments,
	}}

	if _, err := o.stream(ctx, categories, messages, out); err != nil {
		o.streamFailed(ctx, shapeFiles, err, out, log)
		return
	}
	metrics.RecordChat(shapeFiles, "ok")
}

func (o *Orchestrator) handleText(ctx context.Context, req model.ChatRequest, categories []string, out chan<- string, log *logger.Logger) {
	history, err := o.cfg.Memory.RecentTurns(ctx, req.Identity, o.cfg.ReplayRounds)
	if err != nil {
		log.Error("failed to load conversation context", zap.Error(err))
		metrics.RecordChat(shapeText, "error")
		emit(ctx, out, MessageBusy)
		return
	}

	if err := o.cfg.Memory.AppendUser(ctx, req.Identity, req.Text); err != nil {
		log.Error("failed to record user turn", zap.Error(err))
		metrics.RecordChat(shapeText, "error")
		emit(ctx, out, MessageBusy)
		return
	}

	messages := make([]llm.ChatMessage, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, llm.ChatMessage{Role: string(t.Role), Content: t.Text})
	}
	messages = append(messages, llm.ChatMessage{
		Role:    string(model.RoleUser),
		Content: o.cfg.Prompts.WithCategories(categories, req.Text),
	})

	reply, err := o.stream(ctx, categories, messages, out)
	if err != nil {
		o.streamFailed(ctx, shapeText, err, out, log)
		return
	}

	if reply != "" {
		if err := o.cfg.Memory.AppendAssistant(ctx, req.Identity, reply); err != nil {
			log.Warn("failed to record assistant turn", zap.Error(err))
		}
	}
	metrics.RecordChat(shapeText, "ok")
}

// stream forwards chunks to out as they arrive and returns the full reply.
func (o *Orchestrator) stream(ctx context.Context, categories []string, messages []llm.ChatMessage, out chan<- string) (string, error) {
	var reply strings.Builder
	start := time.Now()

	resp, err := o.cfg.LLM.CompleteStream(ctx, &llm.CompletionRequest{
		Model:       o.cfg.Settings.Model,
		System:      o.cfg.Prompts.System(categories),
		Messages:    messages,
		MaxTokens:   o.cfg.Settings.MaxTokens,
		Temperature: o.cfg.Settings.Temperature,
	}, func(token string, index int) error {
		reply.WriteString(token)
		if !emit(ctx, out, token) {
			return ctx.Err()
		}
		return nil
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordLLMStream(o.cfg.Settings.Model, "error", elapsed, 0, 0)
		return "", fmt.Errorf("model stream failed: %w", err)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	metrics.RecordLLMStream(resp.Model, "success", elapsed, resp.TokensIn, resp.TokensOut)
	return reply.String(), nil
}

// streamFailed reports a broken stream. A cancelled caller gets nothing more.
func (o *Orchestrator) streamFailed(ctx context.Context, shape string, err error, out chan<- string, log *logger.Logger) {
	if ctx.Err() != nil {
		metrics.RecordChat(shape, "cancelled")
		log.Info("caller went away during stream", zap.Error(err))
		return
	}
	metrics.RecordChat(shape, "error")
	log.Error("model stream failed", zap.Error(err))
	emit(ctx, out, MessageBusy)
}
