// Package es implements the vector-store capability on Elasticsearch.
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"learnmate-go/internal/config"
	"learnmate-go/internal/model"
	"learnmate-go/pkg/log"
)

// Store holds one Elasticsearch client and manages one index per scoped
// collection.
type Store struct {
	client *elasticsearch.Client
	dims   int

	mu    sync.Mutex
	known map[string]bool // collections already verified to exist
}

// NewStore connects to Elasticsearch.
func NewStore(esCfg config.ElasticsearchConfig, dims int) (*Store, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Store{client: client, dims: dims, known: make(map[string]bool)}, nil
}

// collectionMapping returns the index mapping for a scoped collection.
func (s *Store) collectionMapping() string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"entry_id":      { "type": "keyword" },
				"doc_hash":      { "type": "keyword" },
				"seq":           { "type": "integer" },
				"text":          { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"file_name":     { "type": "keyword" },
				"scope":         { "type": "keyword" },
				"model_version": { "type": "keyword" }
			}
		}
	}`, s.dims)
}

// EnsureCollection creates the index if missing. Idempotent and safe to call
// on every write; existence is cached after the first check.
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.known[name] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	res, err := s.client.Indices.Exists([]string{name}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check collection %q: %w", name, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		s.markKnown(name)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check collection %q: unexpected status %d", name, res.StatusCode)
	}

	createRes, err := s.client.Indices.Create(
		name,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(s.collectionMapping())),
	)
	if err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		// A concurrent create may have won the race.
		if strings.Contains(createRes.String(), "resource_already_exists_exception") {
			s.markKnown(name)
			return nil
		}
		return fmt.Errorf("create collection %q: %s", name, createRes.String())
	}

	log.Infof("vector collection '%s' created", name)
	s.markKnown(name)
	return nil
}

func (s *Store) markKnown(name string) {
	s.mu.Lock()
	s.known[name] = true
	s.mu.Unlock()
}

// Upsert indexes entries into the collection, keyed by entry ID.
func (s *Store) Upsert(ctx context.Context, collection string, entries []model.IndexEntry) error {
	for _, entry := range entries {
		docBytes, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal index entry %q: %w", entry.EntryID, err)
		}
		req := esapi.IndexRequest{
			Index:      collection,
			DocumentID: entry.EntryID,
			Body:       bytes.NewReader(docBytes),
			Refresh:    "true",
		}
		res, err := req.Do(ctx, s.client)
		if err != nil {
			return fmt.Errorf("index entry %q: %w", entry.EntryID, err)
		}
		res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("index entry %q: status %s", entry.EntryID, res.Status())
		}
	}
	return nil
}

// DeleteByDoc removes every entry belonging to docHash from the collection.
// Returns the number of deleted entries.
func (s *Store) DeleteByDoc(ctx context.Context, collection, docHash string) (int, error) {
	query := fmt.Sprintf(`{"query":{"term":{"doc_hash":"%s"}}}`, docHash)
	res, err := s.client.DeleteByQuery(
		[]string{collection},
		strings.NewReader(query),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("delete entries for doc %q: %w", docHash, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("delete entries for doc %q: %s", docHash, res.String())
	}

	var parsed struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return parsed.Deleted, nil
}

// Search runs a kNN similarity search and returns hits best-first.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, k int) ([]model.SearchHit, error) {
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
		},
		"size":    k,
		"_source": []string{"entry_id", "doc_hash", "seq", "text", "file_name", "scope", "model_version"},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("encode knn query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(collection),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search on %q: %w", collection, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		// Scope never written to; an empty result, not an error.
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("knn search on %q: %s", collection, res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source model.IndexEntry `json:"_source"`
				Score  float64          `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, model.SearchHit{Entry: h.Source, Score: h.Score})
	}
	return hits, nil
}
