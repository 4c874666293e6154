package model

// Query/ingest status values surfaced to external callers.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// QueryResult is the outcome of one Answer call. Not persisted.
type QueryResult struct {
	Status string `json:"status"`
	Answer string `json:"answer,omitempty"`
	// Sources are the retrieved chunks backing the answer, best match first.
	Sources []Source `json:"sources"`
	// HasContext is false when retrieval timed out or failed and the answer
	// was produced from the model alone.
	HasContext bool   `json:"has_context"`
	Message    string `json:"message,omitempty"`
}

// IngestResult is the outcome of one ingestion request.
type IngestResult struct {
	Status     string `json:"status"`
	DocID      string `json:"doc_id,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	// Duplicate is true when the document was already indexed in the scope
	// and the call was a no-op.
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}
