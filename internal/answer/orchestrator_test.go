package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/conversation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRetriever struct {
	results []models.RetrievalResult
	err     error
	calls   int
	gotK    int
	gotMin  float64
}

func (f *fakeRetriever) Search(ctx context.Context, query string, topK int, threshold float64) ([]models.RetrievalResult, error) {
	f.calls++
	f.gotK, f.gotMin = topK, threshold
	return f.results, f.err
}

type fakeGenerator struct {
	mu        sync.Mutex
	answer    string
	err       error
	prompts   []string
	histories [][]models.Turn
	deadline  bool
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, history []models.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.histories = append(f.histories, history)
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeGenerator) HealthCheck(ctx context.Context) bool { return f.err == nil }

func ragConfig() *config.RAGConfig {
	return &config.RAGConfig{
		TopK:                5,
		SimilarityThreshold: 0.3,
		MaxContextLength:    4000,
		FallbackAnswer:      config.DefaultFallbackAnswer,
	}
}

func result(text string, score float64, filename string, index int) models.RetrievalResult {
	return models.RetrievalResult{
		ID:    fmt.Sprintf("%s-%d", filename, index),
		Text:  text,
		Score: score,
		Metadata: map[string]interface{}{
			"filename":    filename,
			"chunk_index": index,
			"document_id": "doc-" + filename,
		},
	}
}

func TestAnswer_NoContext(t *testing.T) {
	ret := &fakeRetriever{}
	gen := &fakeGenerator{answer: "unused"}
	store := conversation.NewMemoryStore(0)
	o := NewOrchestrator(ret, gen, store, ragConfig())

	resp, err := o.Answer(context.Background(), &models.ChatRequest{Query: "What is X?"})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultFallbackAnswer, resp.Answer)
	assert.Equal(t, 0.0, resp.Confidence)
	assert.Empty(t, resp.Sources)
	assert.NotNil(t, resp.Sources)
	assert.Regexp(t, `^conv_[0-9a-f]{12}$`, resp.ConversationID)
	assert.Empty(t, gen.prompts, "no generation without context")
	assert.Zero(t, store.Len(), "no history written")
	assert.Equal(t, 5, ret.gotK)
	assert.Equal(t, 0.3, ret.gotMin)
}

func TestAnswer_Generated(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	ret := &fakeRetriever{results: []models.RetrievalResult{
		result(strings.Repeat("r", 250), 0.8766, "cv.pdf", 2),
		result("Second passage.", 0.5, "notes.md", 0),
	}}
	gen := &fakeGenerator{answer: "Grounded answer."}
	store := conversation.NewMemoryStore(0)
	o := NewOrchestrator(ret, gen, store, ragConfig(),
		WithClock(func() time.Time { return at }),
		WithGenerationTimeout(time.Minute))

	resp, err := o.Answer(context.Background(), &models.ChatRequest{Query: "  Tell me about the research  ", ConversationID: "conv_given"})
	require.NoError(t, err)
	assert.Equal(t, "Grounded answer.", resp.Answer)
	assert.Equal(t, "conv_given", resp.ConversationID)
	assert.Equal(t, time.UTC, resp.Timestamp.Location())
	assert.InDelta(t, 0.28, resp.Confidence, 1e-9)

	require.Len(t, resp.Sources, 2)
	assert.Equal(t, strings.Repeat("r", 200)+"...", resp.Sources[0].Text)
	assert.InDelta(t, 0.877, resp.Sources[0].Score, 1e-9)
	assert.Equal(t, models.SourceMetadata{Filename: "cv.pdf", ChunkIndex: 2, DocumentID: "doc-cv.pdf"}, resp.Sources[0].Metadata)
	assert.Equal(t, "Second passage.", resp.Sources[1].Text)

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "[Source 1: cv.pdf]\n"+strings.Repeat("r", 250)+"\n\n[Source 2: notes.md]\nSecond passage.\n")
	assert.True(t, strings.HasSuffix(prompt, "User Question: Tell me about the research\n\nAnswer:"))
	assert.Empty(t, gen.histories[0], "first exchange is single shot")
	assert.True(t, gen.deadline, "generation is bounded by the timeout")

	turns, err := store.Read(context.Background(), "conv_given")
	require.NoError(t, err)
	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Text: "Tell me about the research"},
		{Role: models.RoleAssistant, Text: "Grounded answer."},
	}, turns)
}

func TestAnswer_HistoryPassedAndCapped(t *testing.T) {
	ret := &fakeRetriever{results: []models.RetrievalResult{result("Context.", 0.9, "a.txt", 0)}}
	gen := &fakeGenerator{answer: "ok"}
	store := conversation.NewMemoryStore(0)
	o := NewOrchestrator(ret, gen, store, ragConfig())
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := o.Answer(ctx, &models.ChatRequest{Query: fmt.Sprintf("question %d", i), ConversationID: "c"})
		require.NoError(t, err)
	}
	assert.Len(t, gen.histories[1], 2)
	assert.Len(t, gen.histories[10], conversation.MaxTurns)

	turns, err := store.Read(ctx, "c")
	require.NoError(t, err)
	require.Len(t, turns, conversation.MaxTurns)
	assert.Equal(t, "question 1", turns[0].Text)
}

func TestAnswer_Validation(t *testing.T) {
	ret := &fakeRetriever{}
	o := NewOrchestrator(ret, &fakeGenerator{}, conversation.NewMemoryStore(0), ragConfig())

	for _, q := range []string{"", "   ", strings.Repeat("x", models.MaxQueryLength+1)} {
		_, err := o.Answer(context.Background(), &models.ChatRequest{Query: q})
		assert.ErrorIs(t, err, models.ErrValidation)
	}
	assert.Zero(t, ret.calls)
}

func TestAnswer_RetrievalFailure(t *testing.T) {
	boom := errors.New("index offline")
	gen := &fakeGenerator{}
	o := NewOrchestrator(&fakeRetriever{err: boom}, gen, conversation.NewMemoryStore(0), ragConfig())

	_, err := o.Answer(context.Background(), &models.ChatRequest{Query: "q"})
	assert.ErrorIs(t, err, models.ErrRetrieval)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, gen.prompts)
}

func TestAnswer_GenerationFailureLeavesHistory(t *testing.T) {
	ret := &fakeRetriever{results: []models.RetrievalResult{result("Context.", 0.9, "a.txt", 0)}}
	store := conversation.NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "c", "earlier", "reply"))

	o := NewOrchestrator(ret, &fakeGenerator{err: errors.New("rate limited")}, store, ragConfig())
	_, err := o.Answer(ctx, &models.ChatRequest{Query: "q", ConversationID: "c"})
	assert.ErrorIs(t, err, models.ErrGeneration)

	turns, err := store.Read(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, turns, 2, "failed generation does not touch history")
}

// appendFailingStore reads like a memory store but cannot record exchanges.
type appendFailingStore struct {
	*conversation.MemoryStore
	err error
}

func (s appendFailingStore) Append(ctx context.Context, id, userText, assistantText string) error {
	return s.err
}

func TestAnswer_HistoryWriteFailureIsReported(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	diskFull := errors.New("disk full")
	ret := &fakeRetriever{results: []models.RetrievalResult{result("Context.", 0.9, "a.txt", 0)}}
	store := appendFailingStore{MemoryStore: conversation.NewMemoryStore(0), err: diskFull}
	o := NewOrchestrator(ret, &fakeGenerator{answer: "ok"}, store, ragConfig(), WithLogger(zap.New(core)))

	resp, err := o.Answer(context.Background(), &models.ChatRequest{Query: "q", ConversationID: "c"})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.ErrorIs(t, err, diskFull)

	var last string
	for _, entry := range logs.FilterMessage("chat state").All() {
		last = entry.ContextMap()["state"].(string)
	}
	assert.Equal(t, "FAILED", last)
}

func TestAnswer_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ret := &fakeRetriever{results: []models.RetrievalResult{result("Context.", 0.9, "a.txt", 0)}}
	o := NewOrchestrator(ret, &fakeGenerator{answer: "ok"}, conversation.NewMemoryStore(0), ragConfig(),
		WithLogger(zap.New(core)))

	_, err := o.Answer(context.Background(), &models.ChatRequest{Query: "q", ConversationID: "c"})
	require.NoError(t, err)

	var states []string
	for _, entry := range logs.FilterMessage("chat state").All() {
		states = append(states, entry.ContextMap()["state"].(string))
		assert.Equal(t, "c", entry.ContextMap()["conversation_id"])
	}
	assert.Equal(t, []string{"RECEIVED", "RETRIEVING", "SCORING", "GENERATING", "COMPLETED"}, states)
}

func TestAnswer_ConcurrentSameConversation(t *testing.T) {
	ret := &fakeRetriever{results: []models.RetrievalResult{result("Context.", 0.9, "a.txt", 0)}}
	gen := &fakeGenerator{answer: "ok"}
	store := conversation.NewMemoryStore(0)
	o := NewOrchestrator(ret, gen, store, ragConfig())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.Answer(context.Background(), &models.ChatRequest{Query: fmt.Sprintf("q%d", i), ConversationID: "c"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, h := range gen.histories {
		seen[len(h)] = true
	}
	for n := 0; n <= 8; n += 2 {
		assert.True(t, seen[n], "each request sees the exchanges before it (history of %d)", n)
	}
}
