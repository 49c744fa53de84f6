// Package answer turns a chat request into a grounded answer: retrieve, score,
// generate, and record the exchange.
package answer

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/conversation"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

// State is a step of answering one request.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateRetrieving State = "RETRIEVING"
	StateNoContext  State = "NO_CONTEXT"
	StateScoring    State = "SCORING"
	StateGenerating State = "GENERATING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Retriever finds the chunks relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, threshold float64) ([]models.RetrievalResult, error)
}

// Orchestrator answers chat requests.
type Orchestrator struct {
	retriever  Retriever
	generator  llm.Generator
	history    conversation.Store
	locks      *conversation.KeyLocker
	config     *config.RAGConfig
	genTimeout time.Duration
	logger     *zap.Logger // optional; when set, logs state transitions at debug level
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a logger for state transitions and failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithGenerationTimeout bounds each generator call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.genTimeout = d }
}

// WithClock sets the time source for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator with the given collaborators.
func NewOrchestrator(retriever Retriever, generator llm.Generator, history conversation.Store, cfg *config.RAGConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever: retriever,
		generator: generator,
		history:   history,
		locks:     conversation.NewKeyLocker(),
		config:    cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer runs one request through retrieval, scoring, and generation. When nothing
// relevant is retrieved it returns the fallback answer without calling the generator.
// History is only written for generated answers.
func (o *Orchestrator) Answer(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		o.transition(StateFailed, req.ConversationID, zap.Error(err))
		return nil, err
	}
	convID := req.ConversationID
	if convID == "" {
		convID = NewConversationID()
	}
	o.transition(StateReceived, convID)

	o.transition(StateRetrieving, convID)
	results, err := o.retriever.Search(ctx, req.Query, o.config.TopK, o.config.SimilarityThreshold)
	if err != nil {
		if models.KindOf(err) == "" {
			err = models.NewRetrievalError("retrieval failed", err)
		}
		o.transition(StateFailed, convID, zap.Error(err))
		return nil, err
	}

	if len(results) == 0 {
		o.transition(StateNoContext, convID)
		fallback := o.config.FallbackAnswer
		if fallback == "" {
			fallback = config.DefaultFallbackAnswer
		}
		return &models.ChatResponse{
			Answer:         fallback,
			Sources:        []models.Source{},
			ConversationID: convID,
			Confidence:     0,
			Timestamp:      o.now().UTC(),
		}, nil
	}

	o.transition(StateScoring, convID, zap.Int("results", len(results)))
	confidence := search.Confidence(results, o.config.TopK)
	prompt := BuildPrompt(BuildContext(results, o.config.MaxContextLength), req.Query)

	answer, err := o.generate(ctx, convID, req.Query, prompt)
	if err != nil {
		o.transition(StateFailed, convID, zap.Error(err))
		return nil, err
	}

	o.transition(StateCompleted, convID, zap.Float64("confidence", confidence))
	return &models.ChatResponse{
		Answer:         answer,
		Sources:        Sources(results),
		ConversationID: convID,
		Confidence:     confidence,
		Timestamp:      o.now().UTC(),
	}, nil
}

// generate holds the conversation's lock from reading history until the new
// exchange is appended, so concurrent requests on one conversation see each other.
func (o *Orchestrator) generate(ctx context.Context, convID, query, prompt string) (string, error) {
	unlock := o.locks.Lock(convID)
	defer unlock()

	o.transition(StateGenerating, convID)
	history, err := o.history.Read(ctx, convID)
	if err != nil {
		return "", models.NewGenerationError("failed to read conversation history", err)
	}

	gctx := ctx
	if o.genTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, o.genTimeout)
		defer cancel()
	}
	answer, err := o.generator.Generate(gctx, prompt, history)
	if err != nil {
		return "", models.NewGenerationError("answer generation failed", err)
	}

	if err := o.history.Append(ctx, convID, query, answer); err != nil {
		return "", models.NewGenerationError("failed to record conversation", err)
	}
	return answer, nil
}

func (o *Orchestrator) transition(state State, convID string, fields ...zap.Field) {
	if o.logger == nil {
		return
	}
	fields = append([]zap.Field{zap.String("state", string(state)), zap.String("conversation_id", convID)}, fields...)
	o.logger.Debug("chat state", fields...)
}

// NewConversationID returns "conv_" followed by 12 random hex characters.
func NewConversationID() string {
	return "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Sources converts results to display form: text cut to a snippet, score
// rounded to three decimals.
func Sources(results []models.RetrievalResult) []models.Source {
	out := make([]models.Source, len(results))
	for i, r := range results {
		docID, _ := r.Metadata["document_id"].(string)
		out[i] = models.Source{
			Text:  search.Snippet(r.Text),
			Score: utils.Round(r.Score, 3),
			Metadata: models.SourceMetadata{
				Filename:   r.Filename(),
				ChunkIndex: metaInt(r.Metadata["chunk_index"]),
				DocumentID: docID,
			},
		}
	}
	return out
}

// metaInt reads an integer that may have round-tripped through JSON or a database.
func metaInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}
