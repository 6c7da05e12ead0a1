package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/middleware"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
	"github.com/capitalize-ai/bill-assistant/pkg/metrics"
)

const (
	// maxChatFiles bounds the attachments of a single chat request.
	maxChatFiles = 9
	// multipartMemory is held in memory before parts spill to disk.
	multipartMemory = 8 << 20
)

// ChatService answers chat requests.
type ChatService interface {
	HandleChat(ctx context.Context, req model.ChatRequest) <-chan string
	ClearContext(ctx context.Context, identity string) error
}

// ChatHandler handles the streaming chat endpoints.
type ChatHandler struct {
	chat           ChatService
	maxUploadBytes int64
	logger         *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat ChatService, maxUploadBytes int64, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:           chat,
		maxUploadBytes: maxUploadBytes,
		logger:         log.Named("chat"),
	}
}

type chatBody struct {
	Message string `json:"message"`
}

// Chat handles POST /api/v1/chat
// Accepts multipart (message, files) or a JSON body and streams the reply.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := middleware.RequestLogger(ctx, h.logger)

	req := model.ChatRequest{
		Identity: middleware.GetIdentity(ctx),
		OwnerID:  middleware.GetOwnerID(ctx),
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeBodyError(w, err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		req.Text = r.FormValue("message")
		files, err := readFormFiles(r.MultipartForm, "files", "files[]")
		if err != nil {
			log.Warn("failed to read uploaded files", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid file upload")
			return
		}
		if len(files) > maxChatFiles {
			writeError(w, http.StatusBadRequest, "too many files")
			return
		}
		req.Files = files
	default:
		var body chatBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeBodyError(w, err)
			return
		}
		req.Text = body.Message
	}

	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	var index int
	for chunk := range h.chat.HandleChat(ctx, req) {
		if err := sendSSEEvent(w, flusher, "chunk", &model.ChunkEvent{Text: chunk, Index: index}); err != nil {
			log.Warn("failed to write chunk", zap.Error(err))
		}
		index++
	}

	if ctx.Err() != nil {
		log.Info("chat client disconnected", zap.Int("chunks", index))
		return
	}
	sendSSEEvent(w, flusher, "done", map[string]int{"chunks": index})
}

// ClearContext handles DELETE /api/v1/chat/context
func (h *ChatHandler) ClearContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.chat.ClearContext(ctx, middleware.GetIdentity(ctx)); err != nil {
		middleware.RequestLogger(ctx, h.logger).Error("failed to clear chat context", zap.Error(err))
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readFormFiles reads every part under the given field names, in order.
func readFormFiles(form *multipart.Form, fields ...string) ([]model.FileUpload, error) {
	var files []model.FileUpload
	for _, field := range fields {
		for _, fh := range form.File[field] {
			data, err := readFormFile(fh)
			if err != nil {
				return nil, err
			}
			files = append(files, model.FileUpload{Name: fh.Filename, Data: data})
		}
	}
	return files, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// writeBodyError answers 413 for oversized bodies and 400 otherwise.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}
