package model

// Chunk is one ordered unit of cleaned text below the configured token
// bound — the unit of embedding and retrieval.
type Chunk struct {
	// Seq preserves the chunk's position in the source document.
	Seq     int
	DocHash string
	Scope   Scope
	Text    string
	Tokens  int
}

// IndexEntry is a chunk as stored in a scoped vector collection.
type IndexEntry struct {
	// EntryID is "<doc_hash>_<seq>", unique within its collection.
	EntryID  string    `json:"entry_id"`
	DocHash  string    `json:"doc_hash"`
	Seq      int       `json:"seq"`
	Text     string    `json:"text"`
	Vector   []float32 `json:"vector,omitempty"`
	FileName string    `json:"file_name"`
	Scope    string    `json:"scope"`
	Model    string    `json:"model_version"`
}

// SearchHit pairs an index entry with its similarity score, best first.
type SearchHit struct {
	Entry IndexEntry
	Score float64
}

// Source is one cited retrieval result attached to an answer.
type Source struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// SourceFromHit converts a search hit to the external source shape.
func SourceFromHit(h SearchHit) Source {
	return Source{
		Content: h.Entry.Text,
		Metadata: map[string]string{
			"source":   h.Entry.FileName,
			"doc_hash": h.Entry.DocHash,
			"scope":    h.Entry.Scope,
		},
	}
}
