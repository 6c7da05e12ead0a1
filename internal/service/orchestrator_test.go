package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/bill-assistant/internal/chatcontext"
	"github.com/capitalize-ai/bill-assistant/internal/llm"
	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

const testIdentity = "openid-7"

type staticNamer struct {
	names []string
	err   error
}

func (n staticNamer) AvailableNames(context.Context, int64) ([]string, error) {
	return n.names, n.err
}

type recordingExtractor struct {
	mu  sync.Mutex
	ids []int64
}

func (e *recordingExtractor) ExtractAndFileBill(ctx context.Context, fileID int64) (*model.Bill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, fileID)
	return &model.Bill{ID: fileID}, nil
}

// hookedClient calls before, when set, ahead of each stream it delegates to the mock.
type hookedClient struct {
	*llm.MockClient
	before func()
}

func (c *hookedClient) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	if c.before != nil {
		c.before()
	}
	return c.MockClient.CompleteStream(ctx, req, cb)
}

type orchestratorFixture struct {
	orch      *Orchestrator
	llm       *llm.MockClient
	hooked     *hookedClient
	blobs     *fakeBlobStore
	memory    *chatcontext.MemoryStore
	tasks     *recordingSubmitter
	extractor *recordingExtractor
	cfg       OrchestratorConfig
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	mock := llm.NewMockClient()
	hooked := &hookedClient{MockClient: mock}
	blobs := newFakeBlobStore()
	memory := chatcontext.NewMemoryStore(chatcontext.Options{}, logger.NewNop())
	tasks := &recordingSubmitter{}
	extractor := &recordingExtractor{}

	prompts := NewPrompts(shanghai)
	prompts.now = func() time.Time { return time.Date(2025, 5, 19, 12, 0, 0, 0, shanghai) }

	cfg := OrchestratorConfig{
		LLM:               hooked,
		Uploader:          newTestIngestion(blobs, newFakeFileStore(), nil, logger.NewNop()),
		Extractor:         extractor,
		Categories:        staticNamer{names: []string{"餐饮", "交通"}},
		Memory:            memory,
		Tasks:             tasks,
		Prompts:           prompts,
		Settings:          ModelSettings{Model: "gpt-4o", Temperature: 0.3, MaxTokens: 256},
		UploadConcurrency: 1,
	}
	return &orchestratorFixture{
		orch:      NewOrchestrator(cfg, logger.NewNop()),
		llm:       mock,
		hooked:     hooked,
		blobs:     blobs,
		memory:    memory,
		tasks:     tasks,
		extractor: extractor,
		cfg:       cfg,
	}
}

func (fx *orchestratorFixture) rebuild() {
	fx.orch = NewOrchestrator(fx.cfg, logger.NewNop())
}

func (fx *orchestratorFixture) turns(t *testing.T) []model.Turn {
	t.Helper()
	turns, err := fx.memory.RecentTurns(context.Background(), testIdentity, 5)
	require.NoError(t, err)
	return turns
}

func collect(ch <-chan string) []string {
	var out []string
	for s := range ch {
		out = append(out, s)
	}
	return out
}

func chat(text string, files ...model.FileUpload) model.ChatRequest {
	return model.ChatRequest{Identity: testIdentity, OwnerID: 7, Text: text, Files: files}
}

func TestHandleChatEmpty(t *testing.T) {
	fx := newOrchestratorFixture(t)

	out := collect(fx.orch.HandleChat(context.Background(), chat("   ")))

	assert.Equal(t, []string{MessageNoInput}, out)
	assert.Empty(t, fx.llm.Requests())
	assert.Empty(t, fx.turns(t))
	assert.Empty(t, fx.tasks.submitted())
}

func TestHandleChatText(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.llm.Chunks = []string{"好的～", "已记录晚饭 50 元"}

	var beforeStream []model.Turn
	fx.hooked.before = func() { beforeStream = fx.turns(t) }

	out := collect(fx.orch.HandleChat(context.Background(), chat("昨天晚饭花了50")))

	assert.Equal(t, []string{"好的～", "已记录晚饭 50 元"}, out)
	assert.Equal(t, []model.Turn{{Role: model.RoleUser, Text: "昨天晚饭花了50"}}, beforeStream,
		"user turn is recorded before the stream starts")
	assert.Equal(t, []model.Turn{
		{Role: model.RoleUser, Text: "昨天晚饭花了50"},
		{Role: model.RoleAssistant, Text: "好的～已记录晚饭 50 元"},
	}, fx.turns(t))

	reqs := fx.llm.Requests()
	require.Len(t, reqs, 1)
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	assert.Contains(t, last.Content, "今天是 2025-05-19")
	assert.Contains(t, last.Content, "昨天晚饭花了50")
	assert.Empty(t, last.Attachments)
	assert.Contains(t, reqs[0].System, "餐饮、交通")
	assert.False(t, reqs[0].JSONMode)
	assert.Empty(t, fx.tasks.submitted())
}

func TestHandleChatReplaysRecentRounds(t *testing.T) {
	ctx := context.Background()
	fx := newOrchestratorFixture(t)
	for _, q := range []string{"q1", "q2", "q3", "q4", "q5", "q6"} {
		require.NoError(t, fx.memory.AppendUser(ctx, testIdentity, q))
		require.NoError(t, fx.memory.AppendAssistant(ctx, testIdentity, "a"+q[1:]))
	}

	collect(fx.orch.HandleChat(ctx, chat("q7")))

	reqs := fx.llm.Requests()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 11)
	assert.Equal(t, llm.ChatMessage{Role: "user", Content: "q2"}, msgs[0])
	assert.Equal(t, llm.ChatMessage{Role: "assistant", Content: "a6"}, msgs[9])
}

func TestHandleChatStreamErrorLeavesRoundOpen(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.llm.Chunks = []string{"一", "二", "三"}
	fx.llm.FailAfter = 1

	out := collect(fx.orch.HandleChat(context.Background(), chat("A")))

	assert.Equal(t, []string{"一", MessageBusy}, out)
	assert.Equal(t, []model.Turn{{Role: model.RoleUser, Text: "A"}}, fx.turns(t))
}

func TestHandleChatCancelledCaller(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.llm.Chunks = []string{"一", "二"}

	ctx, cancel := context.WithCancel(context.Background())
	fx.hooked.before = cancel

	out := collect(fx.orch.HandleChat(ctx, chat("A")))

	assert.NotContains(t, out, MessageBusy)
	assert.Equal(t, []model.Turn{{Role: model.RoleUser, Text: "A"}}, fx.turns(t))
}

func TestHandleChatFiles(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.llm.Chunks = []string{`{"name":"午餐"}`}

	out := collect(fx.orch.HandleChat(context.Background(), chat("",
		model.FileUpload{Name: "a.jpg", Data: []byte("jpg")},
		model.FileUpload{Name: "b.pdf", Data: []byte("pdf")},
	)))
	assert.Equal(t, []string{`{"name":"午餐"}`}, out)

	reqs := fx.llm.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 1)
	msg := reqs[0].Messages[0]
	assert.Contains(t, msg.Content, "fileId 是 '1'")
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "image/jpeg", msg.Attachments[0].MimeType)
	assert.Equal(t, "application/pdf", msg.Attachments[1].MimeType)

	assert.Empty(t, fx.turns(t), "file requests bypass memory")

	tasks := fx.tasks.submitted()
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		require.NoError(t, task.Run(context.Background()))
	}
	assert.ElementsMatch(t, []int64{1, 2}, fx.extractor.ids)
}

func TestHandleChatFilesWithText(t *testing.T) {
	fx := newOrchestratorFixture(t)

	collect(fx.orch.HandleChat(context.Background(), chat("这是昨天的打车票",
		model.FileUpload{Name: "setup.exe", Data: []byte("MZ")},
		model.FileUpload{Name: "taxi.png", Data: []byte("png")},
	)))

	reqs := fx.llm.Requests()
	require.Len(t, reqs, 1)
	msg := reqs[0].Messages[0]
	assert.Contains(t, msg.Content, "这是昨天的打车票")
	assert.Contains(t, msg.Content, "'1'")
	assert.Len(t, msg.Attachments, 1)
	assert.Len(t, fx.tasks.submitted(), 1)
	assert.Empty(t, fx.turns(t))
}

func TestHandleChatRejectedFiles(t *testing.T) {
	fx := newOrchestratorFixture(t)

	out := collect(fx.orch.HandleChat(context.Background(), chat("",
		model.FileUpload{Name: "setup.exe", Data: []byte("MZ")},
	)))

	require.Len(t, out, 1)
	assert.Contains(t, out[0], "unsupported file type")
	assert.Empty(t, fx.llm.Requests())
	assert.Empty(t, fx.tasks.submitted())
}

func TestHandleChatRejectedFilesFallBackToText(t *testing.T) {
	fx := newOrchestratorFixture(t)

	collect(fx.orch.HandleChat(context.Background(), chat("打车 23 元",
		model.FileUpload{Name: "notes.txt", Data: []byte("hi")},
	)))

	require.Len(t, fx.llm.Requests(), 1)
	turns := fx.turns(t)
	require.NotEmpty(t, turns)
	assert.Equal(t, "打车 23 元", turns[0].Text)
}

func TestHandleChatFailuresAreOpaque(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		fx := newOrchestratorFixture(t)
		fx.blobs.putErr = errInjected

		out := collect(fx.orch.HandleChat(context.Background(), chat("", model.FileUpload{Name: "a.png", Data: []byte("png")})))
		assert.Equal(t, []string{MessageBusy}, out)
	})

	t.Run("categories", func(t *testing.T) {
		fx := newOrchestratorFixture(t)
		fx.cfg.Categories = staticNamer{err: errInjected}
		fx.rebuild()

		out := collect(fx.orch.HandleChat(context.Background(), chat("hello")))
		assert.Equal(t, []string{MessageBusy}, out)
		assert.Empty(t, fx.turns(t))
	})

	t.Run("model", func(t *testing.T) {
		fx := newOrchestratorFixture(t)
		fx.llm.Err = errInjected

		out := collect(fx.orch.HandleChat(context.Background(), chat("hello")))
		assert.Equal(t, []string{MessageBusy}, out)
	})
}

type panickingUploader struct{}

func (panickingUploader) Upload(context.Context, []byte, string, int64) (*model.UploadedFile, error) {
	panic("nil blob client")
}

func TestHandleChatUploadPanicIsContained(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.cfg.Uploader = panickingUploader{}
	fx.rebuild()

	out := collect(fx.orch.HandleChat(context.Background(), chat("", model.FileUpload{Name: "a.png", Data: []byte("png")})))
	assert.Equal(t, []string{MessageBusy}, out)
	assert.Empty(t, fx.llm.Requests())
	assert.Empty(t, fx.tasks.submitted())

	// With text the request still gets an answer.
	fx.llm.Reply = "好的"
	out = collect(fx.orch.HandleChat(context.Background(), chat("打车 23 元", model.FileUpload{Name: "a.png", Data: []byte("png")})))
	assert.Equal(t, "好的", strings.Join(out, ""))
}

func TestClearContext(t *testing.T) {
	ctx := context.Background()
	fx := newOrchestratorFixture(t)
	require.NoError(t, fx.memory.AppendUser(ctx, testIdentity, "hi"))

	require.NoError(t, fx.orch.ClearContext(ctx, testIdentity))
	assert.Empty(t, fx.turns(t))
}
