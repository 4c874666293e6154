// Package engine answers natural-language questions over the scoped index,
// degrading gracefully when retrieval is slow or unavailable.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"learnmate-go/internal/config"
	"learnmate-go/internal/model"
	"learnmate-go/internal/repository"
	"learnmate-go/pkg/llm"
	"learnmate-go/pkg/log"
)

// Searcher is the retrieval capability. Implemented by index.Indexer.
type Searcher interface {
	Search(ctx context.Context, scope model.Scope, queryText string, k int) ([]model.SearchHit, error)
}

// systemPrompt is the fixed role description for answer synthesis.
const systemPrompt = `You are a knowledgeable learning assistant. Answer the user's question based on the provided context passages when they are relevant. If the context does not contain the needed information, say so and answer from general knowledge. Provide detailed, well-structured answers.`

// apologyMessage is the only synthesis-failure text external callers see.
const apologyMessage = "Sorry, I am unable to answer right now. Please try again in a moment."

// Engine coordinates retrieval and synthesis for one deployment.
type Engine struct {
	llmClient llm.Client
	searcher  Searcher
	sessions  repository.SessionRepository
	cfg       config.QueryConfig

	// retrievalSem bounds concurrent similarity-search calls.
	retrievalSem chan struct{}

	// sessionLocks serializes queries per session so history is never
	// interleaved by concurrent answers.
	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// New creates an Engine.
func New(llmClient llm.Client, searcher Searcher, sessions repository.SessionRepository, cfg config.QueryConfig) *Engine {
	workers := cfg.RetrievalWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Engine{
		llmClient:    llmClient,
		searcher:     searcher,
		sessions:     sessions,
		cfg:          cfg,
		retrievalSem: make(chan struct{}, workers),
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.sessionLocks[sessionID] = l
	}
	return l
}

type retrievalOutcome struct {
	hits []model.SearchHit
	err  error
}

// retrieveAsync starts retrieval on the bounded worker pool with its own
// timeout. The returned channel always yields exactly one outcome within
// roughly the retrieval timeout.
func (e *Engine) retrieveAsync(ctx context.Context, question string, scope model.Scope) <-chan retrievalOutcome {
	out := make(chan retrievalOutcome, 1)
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RetrievalTimeout())
	go func() {
		defer cancel()
		select {
		case e.retrievalSem <- struct{}{}:
			defer func() { <-e.retrievalSem }()
		case <-rctx.Done():
			out <- retrievalOutcome{err: fmt.Errorf("retrieval queue: %w", rctx.Err())}
			return
		}
		hits, err := e.retrieve(rctx, question, scope)
		out <- retrievalOutcome{hits: hits, err: err}
	}()
	return out
}

// awaitRetrieval joins the retrieval goroutine without trusting it to honor
// its context: the wait is bounded by whatever remains of the retrieval
// timeout since start, so a stuck searcher degrades the answer instead of
// stalling it.
func (e *Engine) awaitRetrieval(ch <-chan retrievalOutcome, start time.Time) retrievalOutcome {
	select {
	case outcome := <-ch:
		return outcome
	default:
	}
	remaining := e.cfg.RetrievalTimeout() - time.Since(start)
	if remaining < 0 {
		remaining = 0
	}
	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(remaining):
		return retrievalOutcome{err: fmt.Errorf("retrieval abandoned: %w", context.DeadlineExceeded)}
	}
}

// retrieve targets the union of personal and global collections for a user
// scope, the global collection alone otherwise. Hits come back best-first.
func (e *Engine) retrieve(ctx context.Context, question string, scope model.Scope) ([]model.SearchHit, error) {
	if scope.IsGlobal() {
		return e.searcher.Search(ctx, model.GlobalScope, question, e.cfg.TopK)
	}

	personal, err := e.searcher.Search(ctx, scope, question, e.cfg.TopKPersonal)
	if err != nil {
		return nil, err
	}
	global, err := e.searcher.Search(ctx, model.GlobalScope, question, e.cfg.TopKGlobal)
	if err != nil {
		return nil, err
	}
	merged := append(personal, global...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, nil
}

// composeMessages builds the chat request: system role, retrieved context,
// conversation history, then the question.
func composeMessages(history []model.ChatMessage, hits []model.SearchHit, question string) []llm.Message {
	sys := systemPrompt
	if len(hits) > 0 {
		var ctxText strings.Builder
		for i, h := range hits {
			ctxText.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, h.Entry.FileName, h.Entry.Text))
		}
		sys = sys + "\n\nContext passages:\n" + ctxText.String()
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: sys})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: question})
	return msgs
}

// Answer runs one query: the model call is the critical path, retrieval is
// raced concurrently under its own timeout and attached when it arrives in
// time. Retrieval failure never fails the answer; synthesis failure after
// retries yields an error result with a generic message.
func (e *Engine) Answer(ctx context.Context, question, sessionID string, scope model.Scope) model.QueryResult {
	question = strings.TrimSpace(question)
	if question == "" {
		return model.QueryResult{Status: model.StatusError, Sources: []model.Source{}, Message: "question must not be empty"}
	}

	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	history, err := e.sessions.History(ctx, sessionID, e.cfg.HistoryLimit)
	if err != nil {
		log.Warnf("[Engine] history load failed, session: %s: %v", sessionID, err)
		history = nil
	}

	// Retrieval races the direct model call.
	retrievalStart := time.Now()
	retrievalCh := e.retrieveAsync(ctx, question, scope)

	answer, synthErr := e.chatWithRetries(ctx, composeMessages(history, nil, question))

	outcome := e.awaitRetrieval(retrievalCh, retrievalStart)
	hasContext := outcome.err == nil
	if outcome.err != nil {
		log.Warnf("[Engine] retrieval skipped, session: %s: %v", sessionID, outcome.err)
	}

	// When retrieval arrived in time and found passages, re-ask with the
	// context attached only if the first call failed; otherwise keep the
	// fast answer and cite the sources.
	if synthErr != nil && hasContext {
		answer, synthErr = e.chatWithRetries(ctx, composeMessages(history, outcome.hits, question))
	}
	if synthErr != nil {
		log.Errorf("[Engine] synthesis failed, session: %s: %v", sessionID, synthErr)
		return model.QueryResult{Status: model.StatusError, Sources: []model.Source{}, Message: apologyMessage}
	}

	sources := make([]model.Source, 0, len(outcome.hits))
	for _, h := range outcome.hits {
		sources = append(sources, model.SourceFromHit(h))
	}

	// History is appended only after a successful answer.
	now := time.Now()
	if err := e.sessions.Append(ctx, sessionID,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	); err != nil {
		log.Warnf("[Engine] history append failed, session: %s: %v", sessionID, err)
	}

	return model.QueryResult{
		Status:     model.StatusSuccess,
		Answer:     answer,
		Sources:    sources,
		HasContext: hasContext,
	}
}

// chatWithRetries calls the model with bounded retries and backoff.
func (e *Engine) chatWithRetries(ctx context.Context, messages []llm.Message) (string, error) {
	retries := e.cfg.ModelRetries
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		answer, err := e.llmClient.Chat(ctx, messages, nil)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		log.Warnf("[Engine] model call attempt %d failed: %v", attempt+1, err)
	}
	return "", lastErr
}

// Context runs a direct retrieval without synthesis, for diagnostics and
// other retrieval-only consumers.
func (e *Engine) Context(ctx context.Context, query string, scope model.Scope, k int) ([]model.Source, error) {
	if k <= 0 {
		k = e.cfg.TopK
	}
	var (
		hits []model.SearchHit
		err  error
	)
	if scope.IsGlobal() {
		hits, err = e.searcher.Search(ctx, model.GlobalScope, query, k)
	} else {
		hits, err = e.retrieve(ctx, query, scope)
	}
	if err != nil {
		return nil, err
	}
	sources := make([]model.Source, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, model.SourceFromHit(h))
	}
	return sources, nil
}

// ResetSession clears one session's conversation state.
func (e *Engine) ResetSession(ctx context.Context, sessionID string) error {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return e.sessions.Reset(ctx, sessionID)
}
