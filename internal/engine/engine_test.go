package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnmate-go/internal/config"
	"learnmate-go/internal/model"
	"learnmate-go/pkg/llm"
)

// fakeSearcher records the scopes it was asked about and can simulate a
// slow or failing vector store.
type fakeSearcher struct {
	mu     sync.Mutex
	calls  []model.Scope
	hits   map[model.Scope][]model.SearchHit
	delay  time.Duration
	err    error
}

func (f *fakeSearcher) Search(ctx context.Context, scope model.Scope, queryText string, k int) ([]model.SearchHit, error) {
	f.mu.Lock()
	f.calls = append(f.calls, scope)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	hits := f.hits[scope]
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeSearcher) scopesAsked() []model.Scope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Scope(nil), f.calls...)
}

// fakeSessions is an in-memory session store.
type fakeSessions struct {
	mu       sync.Mutex
	messages map[string][]model.ChatMessage
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{messages: map[string][]model.ChatMessage{}}
}

func (f *fakeSessions) History(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]model.ChatMessage(nil), msgs...), nil
}

func (f *fakeSessions) Append(ctx context.Context, sessionID string, messages ...model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[sessionID] = append(f.messages[sessionID], messages...)
	return nil
}

func (f *fakeSessions) Reset(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, sessionID)
	return nil
}

// fakeChat answers with a fixed string, optionally failing the first n calls.
type fakeChat struct {
	mu       sync.Mutex
	answer   string
	failures int
	calls    int
	lastMsgs []llm.Message
}

func (f *fakeChat) Chat(ctx context.Context, messages []llm.Message, params *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastMsgs = messages
	if f.failures > 0 {
		f.failures--
		return "", errors.New("model overloaded")
	}
	return f.answer, nil
}

func (f *fakeChat) StreamChat(ctx context.Context, messages []llm.Message, params *llm.GenerationParams, writer llm.MessageWriter) error {
	answer, err := f.Chat(ctx, messages, params)
	if err != nil {
		return err
	}
	return writer.WriteMessage(1, []byte(answer))
}

func testConfig() config.QueryConfig {
	return config.QueryConfig{
		TopK:                3,
		TopKPersonal:        2,
		TopKGlobal:          2,
		RetrievalTimeoutSec: 1,
		RetrievalWorkers:    4,
		ModelRetries:        1,
		HistoryLimit:        10,
	}
}

func hit(text string, score float64) model.SearchHit {
	return model.SearchHit{
		Entry: model.IndexEntry{Text: text, FileName: "doc.txt"},
		Score: score,
	}
}

func TestAnswer_WithRetrievedSources(t *testing.T) {
	searcher := &fakeSearcher{hits: map[model.Scope][]model.SearchHit{
		model.GlobalScope: {hit("fact one", 0.9), hit("fact two", 0.8)},
	}}
	sessions := newFakeSessions()
	chat := &fakeChat{answer: "here is the answer"}
	e := New(chat, searcher, sessions, testConfig())

	res := e.Answer(context.Background(), "what?", "s1", model.GlobalScope)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "here is the answer", res.Answer)
	assert.True(t, res.HasContext)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "fact one", res.Sources[0].Content)

	// Both turns recorded after success.
	history, _ := sessions.History(context.Background(), "s1", 10)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestAnswer_SlowRetrievalDegrades(t *testing.T) {
	searcher := &fakeSearcher{
		delay: 3 * time.Second,
		hits:  map[model.Scope][]model.SearchHit{model.GlobalScope: {hit("late fact", 0.9)}},
	}
	sessions := newFakeSessions()
	chat := &fakeChat{answer: "answered without context"}
	e := New(chat, searcher, sessions, testConfig())

	start := time.Now()
	res := e.Answer(context.Background(), "what?", "s1", model.GlobalScope)
	elapsed := time.Since(start)

	// The retrieval timeout bounds the wait; the answer still succeeds.
	assert.Less(t, elapsed, 2500*time.Millisecond)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "answered without context", res.Answer)
	assert.False(t, res.HasContext)
	assert.Empty(t, res.Sources)

	history, _ := sessions.History(context.Background(), "s1", 10)
	assert.Len(t, history, 2)
}

// stubbornSearcher sleeps through its context, like a driver blocked on a
// socket with no deadline set.
type stubbornSearcher struct {
	delay time.Duration
}

func (f *stubbornSearcher) Search(ctx context.Context, scope model.Scope, queryText string, k int) ([]model.SearchHit, error) {
	time.Sleep(f.delay)
	return []model.SearchHit{hit("late fact", 0.9)}, nil
}

func TestAnswer_ContextIgnoringSearcherDoesNotStall(t *testing.T) {
	searcher := &stubbornSearcher{delay: 3 * time.Second}
	sessions := newFakeSessions()
	chat := &fakeChat{answer: "answered without context"}
	e := New(chat, searcher, sessions, testConfig())

	start := time.Now()
	res := e.Answer(context.Background(), "what?", "s1", model.GlobalScope)
	elapsed := time.Since(start)

	// The join is bounded by the retrieval timeout even when the searcher
	// never observes cancellation.
	assert.Less(t, elapsed, 2500*time.Millisecond)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "answered without context", res.Answer)
	assert.False(t, res.HasContext)
	assert.Empty(t, res.Sources)
}

func TestAnswer_RetrievalErrorDegrades(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("vector store down")}
	sessions := newFakeSessions()
	chat := &fakeChat{answer: "still answered"}
	e := New(chat, searcher, sessions, testConfig())

	res := e.Answer(context.Background(), "what?", "s1", model.GlobalScope)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.False(t, res.HasContext)
	assert.Empty(t, res.Sources)
}

func TestAnswer_UserScopeQueriesUnion(t *testing.T) {
	personal := model.UserScope("alice")
	searcher := &fakeSearcher{hits: map[model.Scope][]model.SearchHit{
		personal:          {hit("personal note", 0.7)},
		model.GlobalScope: {hit("global fact", 0.95)},
	}}
	e := New(&fakeChat{answer: "ok"}, searcher, newFakeSessions(), testConfig())

	res := e.Answer(context.Background(), "what?", "s1", personal)
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Len(t, res.Sources, 2)
	// Merged best-first across the two collections.
	assert.Equal(t, "global fact", res.Sources[0].Content)
	assert.Equal(t, "personal note", res.Sources[1].Content)

	scopes := searcher.scopesAsked()
	assert.Contains(t, scopes, personal)
	assert.Contains(t, scopes, model.GlobalScope)
}

func TestAnswer_GlobalScopeAsksGlobalOnly(t *testing.T) {
	searcher := &fakeSearcher{hits: map[model.Scope][]model.SearchHit{}}
	e := New(&fakeChat{answer: "ok"}, searcher, newFakeSessions(), testConfig())

	_ = e.Answer(context.Background(), "what?", "s1", model.GlobalScope)
	assert.Equal(t, []model.Scope{model.GlobalScope}, searcher.scopesAsked())
}

func TestAnswer_ModelRetrySucceeds(t *testing.T) {
	chat := &fakeChat{answer: "second try", failures: 1}
	e := New(chat, &fakeSearcher{}, newFakeSessions(), testConfig())

	res := e.Answer(context.Background(), "what?", "s1", model.GlobalScope)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "second try", res.Answer)
	assert.Equal(t, 2, chat.calls)
}

func TestAnswer_ModelFailureReturnsApology(t *testing.T) {
	chat := &fakeChat{failures: 10}
	sessions := newFakeSessions()
	e := New(chat, &fakeSearcher{}, sessions, testConfig())

	res := e.Answer(context.Background(), "what?", "s1", model.GlobalScope)
	assert.Equal(t, model.StatusError, res.Status)
	assert.Empty(t, res.Answer)
	assert.NotEmpty(t, res.Message)
	assert.NotNil(t, res.Sources)
	assert.Empty(t, res.Sources)

	// Failed turns never enter the history.
	history, _ := sessions.History(context.Background(), "s1", 10)
	assert.Empty(t, history)
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	chat := &fakeChat{answer: "ok"}
	e := New(chat, &fakeSearcher{}, newFakeSessions(), testConfig())

	res := e.Answer(context.Background(), "   ", "s1", model.GlobalScope)
	assert.Equal(t, model.StatusError, res.Status)
	assert.Zero(t, chat.calls)
}

func TestAnswer_HistoryFlowsIntoPrompt(t *testing.T) {
	sessions := newFakeSessions()
	chat := &fakeChat{answer: "ok"}
	e := New(chat, &fakeSearcher{}, sessions, testConfig())

	_ = e.Answer(context.Background(), "first question", "s1", model.GlobalScope)
	_ = e.Answer(context.Background(), "second question", "s1", model.GlobalScope)

	// system + 2 prior turns + new question.
	require.Len(t, chat.lastMsgs, 4)
	assert.Equal(t, "system", chat.lastMsgs[0].Role)
	assert.Equal(t, "first question", chat.lastMsgs[1].Content)
	assert.Equal(t, "second question", chat.lastMsgs[3].Content)
}

func TestContext(t *testing.T) {
	searcher := &fakeSearcher{hits: map[model.Scope][]model.SearchHit{
		model.GlobalScope: {hit("a fact", 0.9)},
	}}
	e := New(&fakeChat{}, searcher, newFakeSessions(), testConfig())

	sources, err := e.Context(context.Background(), "query", model.GlobalScope, 5)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "a fact", sources[0].Content)
}

func TestContext_ErrorSurfaces(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("down")}
	e := New(&fakeChat{}, searcher, newFakeSessions(), testConfig())

	_, err := e.Context(context.Background(), "query", model.GlobalScope, 5)
	assert.Error(t, err)
}

func TestResetSession(t *testing.T) {
	sessions := newFakeSessions()
	e := New(&fakeChat{answer: "ok"}, &fakeSearcher{}, sessions, testConfig())

	_ = e.Answer(context.Background(), "q", "s1", model.GlobalScope)
	history, _ := sessions.History(context.Background(), "s1", 10)
	require.NotEmpty(t, history)

	require.NoError(t, e.ResetSession(context.Background(), "s1"))
	history, _ = sessions.History(context.Background(), "s1", 10)
	assert.Empty(t, history)
}

func TestStreamAnswer_AppendsCapturedAnswer(t *testing.T) {
	sessions := newFakeSessions()
	chat := &fakeChat{answer: "streamed answer"}
	e := New(chat, &fakeSearcher{}, sessions, testConfig())

	var got []byte
	writer := writerFunc(func(messageType int, data []byte) error {
		got = append(got, data...)
		return nil
	})

	require.NoError(t, e.StreamAnswer(context.Background(), "q", "s1", model.GlobalScope, writer))
	assert.Equal(t, "streamed answer", string(got))

	history, _ := sessions.History(context.Background(), "s1", 10)
	require.Len(t, history, 2)
	assert.Equal(t, "streamed answer", history[1].Content)
}

type writerFunc func(messageType int, data []byte) error

func (f writerFunc) WriteMessage(messageType int, data []byte) error {
	return f(messageType, data)
}
