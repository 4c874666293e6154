package engine

import (
	"context"
	"strings"
	"time"

	"learnmate-go/internal/model"
	"learnmate-go/pkg/llm"
	"learnmate-go/pkg/log"
)

// capturingWriter tees streamed tokens into a buffer so the full answer can
// be appended to the session history after the stream completes.
type capturingWriter struct {
	inner llm.MessageWriter
	buf   strings.Builder
}

func (w *capturingWriter) WriteMessage(messageType int, data []byte) error {
	w.buf.Write(data)
	return w.inner.WriteMessage(messageType, data)
}

// StreamAnswer behaves like Answer but streams tokens to the writer as they
// arrive. Retrieval is raced before the stream starts so context passages can
// be attached; a retrieval miss streams without them.
func (e *Engine) StreamAnswer(ctx context.Context, question, sessionID string, scope model.Scope, writer llm.MessageWriter) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}

	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	history, err := e.sessions.History(ctx, sessionID, e.cfg.HistoryLimit)
	if err != nil {
		log.Warnf("[Engine] history load failed, session: %s: %v", sessionID, err)
		history = nil
	}

	outcome := e.awaitRetrieval(e.retrieveAsync(ctx, question, scope), time.Now())
	if outcome.err != nil {
		log.Warnf("[Engine] retrieval skipped, session: %s: %v", sessionID, outcome.err)
	}

	capture := &capturingWriter{inner: writer}
	if err := e.llmClient.StreamChat(ctx, composeMessages(history, outcome.hits, question), nil, capture); err != nil {
		return err
	}

	now := time.Now()
	if err := e.sessions.Append(ctx, sessionID,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: capture.buf.String(), Timestamp: now},
	); err != nil {
		log.Warnf("[Engine] history append failed, session: %s: %v", sessionID, err)
	}
	return nil
}
