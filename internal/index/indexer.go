// Package index owns one vector collection per scope and handles
// deduplicated insertion, removal and similarity search.
package index

import (
	"context"
	"errors"
	"fmt"

	"learnmate-go/internal/model"
	"learnmate-go/internal/repository"
	"learnmate-go/pkg/log"
)

// VectorStore is the external similarity-search capability. Implemented by
// es.Store; tests substitute a fake.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, entries []model.IndexEntry) error
	DeleteByDoc(ctx context.Context, collection, docHash string) (int, error)
	Search(ctx context.Context, collection string, vector []float32, k int) ([]model.SearchHit, error)
}

// Embedder maps text to vectors. Satisfied by embedding.Client.
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrNotFound reports a removal target that is not indexed in the scope.
var ErrNotFound = errors.New("document not indexed in scope")

// AddResult reports the outcome of an Add call.
type AddResult struct {
	DocID      string
	ChunkCount int
	// Duplicate is true when the document was already indexed and the call
	// was a no-op.
	Duplicate bool
}

// Indexer implements the scoped indexing discipline: one collection per
// scope, at most one document per (scope, content hash).
type Indexer struct {
	store        VectorStore
	docs         repository.DocumentRepository
	embedder     Embedder
	prefix       string
	modelVersion string
}

// New creates an Indexer writing collections under the given name prefix.
func New(store VectorStore, docs repository.DocumentRepository, embedder Embedder, prefix, modelVersion string) *Indexer {
	return &Indexer{
		store:        store,
		docs:         docs,
		embedder:     embedder,
		prefix:       prefix,
		modelVersion: modelVersion,
	}
}

// Lookup returns the registry record for (scope, docHash), or
// repository.ErrDocumentNotFound.
func (ix *Indexer) Lookup(ctx context.Context, scope model.Scope, docHash string) (*model.DocumentRecord, error) {
	return ix.docs.Find(ctx, scope, docHash)
}

// Add embeds and indexes the chunks of one document into the scope's
// collection. Re-ingesting identical bytes into the same scope is a no-op
// reporting the existing document id; the registry's unique key keeps the
// dedupe check atomic under concurrent adds.
func (ix *Indexer) Add(ctx context.Context, doc model.SourceDocument, chunks []model.Chunk) (AddResult, error) {
	if len(chunks) == 0 {
		return AddResult{}, fmt.Errorf("add document %s: no chunks", doc.DocHash)
	}
	collection := doc.Scope.CollectionName(ix.prefix)
	if err := ix.store.EnsureCollection(ctx, collection); err != nil {
		return AddResult{}, fmt.Errorf("ensure collection: %w", err)
	}

	created, rec, err := ix.docs.Register(ctx, &model.DocumentRecord{
		DocHash:  doc.DocHash,
		Scope:    doc.Scope.String(),
		FileName: doc.FileName,
		Format:   string(doc.Format),
		RawBytes: doc.RawBytes,
	})
	if err != nil {
		return AddResult{}, err
	}
	if !created {
		log.Infof("[Indexer] document already indexed, scope: %s, doc: %s", doc.Scope, rec.DocHash)
		return AddResult{DocID: rec.DocHash, ChunkCount: rec.ChunkCount, Duplicate: true}, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := ix.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		ix.rollback(ctx, doc, collection)
		return AddResult{}, fmt.Errorf("embed chunks: %w", err)
	}

	entries := make([]model.IndexEntry, len(chunks))
	for i, ch := range chunks {
		entries[i] = model.IndexEntry{
			EntryID:  fmt.Sprintf("%s_%d", doc.DocHash, ch.Seq),
			DocHash:  doc.DocHash,
			Seq:      ch.Seq,
			Text:     ch.Text,
			Vector:   vectors[i],
			FileName: doc.FileName,
			Scope:    doc.Scope.String(),
			Model:    ix.modelVersion,
		}
	}
	if err := ix.store.Upsert(ctx, collection, entries); err != nil {
		// No partial commits: withdraw anything written plus the registry row.
		ix.rollback(ctx, doc, collection)
		return AddResult{}, fmt.Errorf("index chunks: %w", err)
	}

	if err := ix.docs.SetChunkCount(ctx, doc.Scope, doc.DocHash, len(entries)); err != nil {
		log.Warnf("[Indexer] chunk count update failed, doc: %s: %v", doc.DocHash, err)
	}
	log.Infof("[Indexer] indexed %d chunks, scope: %s, doc: %s", len(entries), doc.Scope, doc.DocHash)
	return AddResult{DocID: doc.DocHash, ChunkCount: len(entries)}, nil
}

func (ix *Indexer) rollback(ctx context.Context, doc model.SourceDocument, collection string) {
	if _, err := ix.store.DeleteByDoc(ctx, collection, doc.DocHash); err != nil {
		log.Warnf("[Indexer] rollback of entries failed, doc: %s: %v", doc.DocHash, err)
	}
	if err := ix.docs.Delete(ctx, doc.Scope, doc.DocHash); err != nil && !errors.Is(err, repository.ErrDocumentNotFound) {
		log.Warnf("[Indexer] rollback of registry row failed, doc: %s: %v", doc.DocHash, err)
	}
}

// Remove deletes every index entry of the document from the scope's
// collection. A missing document reports ErrNotFound, a non-fatal outcome.
func (ix *Indexer) Remove(ctx context.Context, scope model.Scope, docID string) error {
	if err := ix.docs.Delete(ctx, scope, docID); err != nil {
		if errors.Is(err, repository.ErrDocumentNotFound) {
			return ErrNotFound
		}
		return err
	}
	collection := scope.CollectionName(ix.prefix)
	deleted, err := ix.store.DeleteByDoc(ctx, collection, docID)
	if err != nil {
		return fmt.Errorf("remove document %s: %w", docID, err)
	}
	log.Infof("[Indexer] removed %d entries, scope: %s, doc: %s", deleted, scope, docID)
	return nil
}

// Search runs a pure-read similarity search against the scope's collection,
// best match first.
func (ix *Indexer) Search(ctx context.Context, scope model.Scope, queryText string, k int) ([]model.SearchHit, error) {
	vector, err := ix.embedder.CreateEmbedding(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := ix.store.Search(ctx, scope.CollectionName(ix.prefix), vector, k)
	if err != nil {
		return nil, fmt.Errorf("search scope %s: %w", scope, err)
	}
	return hits, nil
}
