// Package pipeline sequences the ingestion stages: extract, normalize,
// condense, split, chunk, index. Stage failures are terminal except for the
// condenser, which falls back to the normalized text when allowed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"learnmate-go/internal/chunker"
	"learnmate-go/internal/condense"
	"learnmate-go/internal/config"
	"learnmate-go/internal/extract"
	"learnmate-go/internal/index"
	"learnmate-go/internal/model"
	"learnmate-go/internal/split"
	"learnmate-go/pkg/log"
	"learnmate-go/pkg/tasks"
)

// Stage names used in StageError and logs.
const (
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageCondense  = "condense"
	StageSplit     = "split"
	StageChunk     = "chunk"
	StageIndex     = "index"
)

// StageError wraps a stage failure with the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Normalizer turns raw extracted text into clean text. Satisfied by
// normalize.Basic.
type Normalizer func(string) string

// Staging is the object store holding payloads for queued ingestion.
// Implemented by storage.Store.
type Staging interface {
	PutStaged(ctx context.Context, docHash string, raw []byte) (string, error)
	GetStaged(ctx context.Context, objectName string) ([]byte, error)
	RemoveStaged(ctx context.Context, objectName string) error
}

// Orchestrator drives a document through the full ingestion pipeline.
type Orchestrator struct {
	extractor *extract.Extractor
	normalize Normalizer
	condenser *condense.Condenser
	splitter  *split.Splitter
	chunker   *chunker.Chunker
	indexer   *index.Indexer
	staging   Staging
	counter   split.TokenCounter
	cfg       config.IngestConfig
}

// New wires the pipeline stages together.
func New(
	extractor *extract.Extractor,
	normalizer Normalizer,
	condenser *condense.Condenser,
	splitter *split.Splitter,
	chk *chunker.Chunker,
	indexer *index.Indexer,
	staging Staging,
	counter split.TokenCounter,
	cfg config.IngestConfig,
) *Orchestrator {
	if counter == nil {
		counter = split.ByteRatioCounter(0)
	}
	return &Orchestrator{
		extractor: extractor,
		normalize: normalizer,
		condenser: condenser,
		splitter:  splitter,
		chunker:   chk,
		indexer:   indexer,
		staging:   staging,
		counter:   counter,
		cfg:       cfg,
	}
}

// IngestRequest describes one document to ingest. Either Path or Raw+FileName
// must be set.
type IngestRequest struct {
	Path     string
	Raw      []byte
	FileName string
	Scope    model.Scope
}

// Ingest runs the pipeline end to end. Nothing is committed to the registry
// or the vector store unless every stage succeeds; re-submitting the same
// content into the same scope is a no-op reported as a duplicate.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (model.IngestResult, error) {
	raw, fileName, err := o.loadPayload(req)
	if err != nil {
		return errResult(err), err
	}
	format, err := extract.FormatForName(fileName)
	if err != nil {
		err = &StageError{Stage: StageExtract, Err: err}
		return errResult(err), err
	}

	doc := model.NewSourceDocument(raw, fileName, format, req.Scope)
	log.Infof("[Pipeline] step 1: ingesting %s (%s) into scope %s, hash: %s",
		fileName, format, doc.Scope, doc.DocHash)

	// Short-circuit before any model calls when the content is already
	// indexed in this scope.
	if rec, lookErr := o.indexer.Lookup(ctx, doc.Scope, doc.DocHash); lookErr == nil && rec != nil {
		log.Infof("[Pipeline] duplicate content, scope: %s, hash: %s", doc.Scope, doc.DocHash)
		return model.IngestResult{
			Status:     model.StatusSuccess,
			DocID:      rec.DocHash,
			ChunkCount: rec.ChunkCount,
			Duplicate:  true,
		}, nil
	}

	text, err := o.extractor.Extract(ctx, raw, fileName, format)
	if err != nil {
		err = &StageError{Stage: StageExtract, Err: err}
		return errResult(err), err
	}
	log.Infof("[Pipeline] step 2: extracted %d chars from %s", len(text), fileName)

	cleaned := o.normalize(text)
	if cleaned == "" {
		err = &StageError{Stage: StageNormalize, Err: errors.New("no text left after cleanup")}
		return errResult(err), err
	}

	condensed, err := o.condenser.Condense(ctx, cleaned)
	if err != nil {
		if o.cfg.CondenseRequired {
			err = &StageError{Stage: StageCondense, Err: err}
			return errResult(err), err
		}
		log.Warnf("[Pipeline] condenser unavailable, using cleaned text, hash: %s: %v", doc.DocHash, err)
		condensed = cleaned
	}
	log.Infof("[Pipeline] step 3: condensed %d -> %d chars (~%d -> ~%d tokens)",
		len(cleaned), len(condensed), o.counter(cleaned), o.counter(condensed))

	windows, err := o.splitter.Split(condensed)
	if err != nil {
		err = &StageError{Stage: StageSplit, Err: err}
		return errResult(err), err
	}

	chunks, err := o.chunkWindows(ctx, doc, windows)
	if err != nil {
		err = &StageError{Stage: StageChunk, Err: err}
		return errResult(err), err
	}
	log.Infof("[Pipeline] step 4: %d windows -> %d chunks, hash: %s", len(windows), len(chunks), doc.DocHash)

	res, err := o.addWithRetries(ctx, doc, chunks)
	if err != nil {
		err = &StageError{Stage: StageIndex, Err: err}
		return errResult(err), err
	}
	log.Infof("[Pipeline] step 5: indexed %d chunks, scope: %s, doc: %s", res.ChunkCount, doc.Scope, res.DocID)

	return model.IngestResult{
		Status:     model.StatusSuccess,
		DocID:      res.DocID,
		ChunkCount: res.ChunkCount,
		Duplicate:  res.Duplicate,
	}, nil
}

func (o *Orchestrator) loadPayload(req IngestRequest) ([]byte, string, error) {
	if len(req.Raw) > 0 {
		if req.FileName == "" {
			return nil, "", &StageError{Stage: StageExtract, Err: errors.New("file name required with raw payload")}
		}
		return req.Raw, req.FileName, nil
	}
	raw, err := os.ReadFile(req.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", &StageError{Stage: StageExtract, Err: fmt.Errorf("%w: %s", extract.ErrFileNotFound, req.Path)}
		}
		return nil, "", &StageError{Stage: StageExtract, Err: fmt.Errorf("read %s: %w", req.Path, err)}
	}
	return raw, filepath.Base(req.Path), nil
}

// chunkWindows chunks every split window and assembles the ordered chunk
// list with document-wide sequence numbers.
func (o *Orchestrator) chunkWindows(ctx context.Context, doc model.SourceDocument, windows []string) ([]model.Chunk, error) {
	var chunks []model.Chunk
	seq := 0
	for wi, window := range windows {
		pieces, err := o.chunker.Chunk(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", wi, err)
		}
		for _, text := range pieces {
			chunks = append(chunks, model.Chunk{
				Seq:     seq,
				DocHash: doc.DocHash,
				Scope:   doc.Scope,
				Text:    text,
				Tokens:  o.counter(text),
			})
			seq++
		}
	}
	if len(chunks) == 0 {
		return nil, errors.New("no chunks produced")
	}
	return chunks, nil
}

func (o *Orchestrator) addWithRetries(ctx context.Context, doc model.SourceDocument, chunks []model.Chunk) (index.AddResult, error) {
	retries := o.cfg.IndexRetries
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return index.AddResult{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * o.cfg.IndexRetryBackoff()):
			}
		}
		res, err := o.indexer.Add(ctx, doc, chunks)
		if err == nil {
			return res, nil
		}
		lastErr = err
		log.Warnf("[Pipeline] index attempt %d failed, hash: %s: %v", attempt+1, doc.DocHash, err)
	}
	return index.AddResult{}, lastErr
}

// Stage submits a document to object storage and returns the queued task,
// for async ingestion over the task queue.
func (o *Orchestrator) Stage(ctx context.Context, raw []byte, fileName string, scope model.Scope) (tasks.IngestTask, error) {
	format, err := extract.FormatForName(fileName)
	if err != nil {
		return tasks.IngestTask{}, err
	}
	doc := model.NewSourceDocument(raw, fileName, format, scope)
	objectName, err := o.staging.PutStaged(ctx, doc.DocHash, raw)
	if err != nil {
		return tasks.IngestTask{}, fmt.Errorf("stage payload: %w", err)
	}
	return tasks.IngestTask{
		TaskID:     uuid.NewString(),
		DocHash:    doc.DocHash,
		ObjectName: objectName,
		FileName:   fileName,
		Scope:      scope.String(),
	}, nil
}

// ProcessTask fetches a staged payload and runs the pipeline on it. The
// staged object is removed only after a successful run, so failed tasks can
// be retried from the queue.
func (o *Orchestrator) ProcessTask(ctx context.Context, task tasks.IngestTask) error {
	scope, err := model.ParseScope(task.Scope)
	if err != nil {
		return fmt.Errorf("task %s: %w", task.TaskID, err)
	}
	raw, err := o.staging.GetStaged(ctx, task.ObjectName)
	if err != nil {
		return fmt.Errorf("task %s: fetch staged payload: %w", task.TaskID, err)
	}
	if _, err := o.Ingest(ctx, IngestRequest{Raw: raw, FileName: task.FileName, Scope: scope}); err != nil {
		return fmt.Errorf("task %s: %w", task.TaskID, err)
	}
	if err := o.staging.RemoveStaged(ctx, task.ObjectName); err != nil {
		log.Warnf("[Pipeline] staged object cleanup failed, task: %s: %v", task.TaskID, err)
	}
	return nil
}

func errResult(err error) model.IngestResult {
	return model.IngestResult{Status: model.StatusError, Message: err.Error()}
}
