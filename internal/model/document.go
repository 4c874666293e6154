package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// Format tags the closed set of supported source document formats.
type Format string

const (
	FormatPDF          Format = "pdf"
	FormatMarkdown     Format = "markdown"
	FormatPlainText    Format = "plain-text"
	FormatWordDocument Format = "word-document"
	FormatUnstructured Format = "unstructured"
)

// SupportedFormats lists every format the extractor dispatches on.
func SupportedFormats() []Format {
	return []Format{FormatPDF, FormatMarkdown, FormatPlainText, FormatWordDocument, FormatUnstructured}
}

// SourceDocument identifies one ingested document. Immutable after hashing.
type SourceDocument struct {
	// DocHash is the sha256 hex digest of the raw bytes and the document's
	// identity for dedupe.
	DocHash  string
	FileName string
	Format   Format
	RawBytes int64
	Scope    Scope
}

// NewSourceDocument hashes raw and fills the identity fields.
func NewSourceDocument(raw []byte, fileName string, format Format, scope Scope) SourceDocument {
	sum := sha256.Sum256(raw)
	return SourceDocument{
		DocHash:  hex.EncodeToString(sum[:]),
		FileName: fileName,
		Format:   format,
		RawBytes: int64(len(raw)),
		Scope:    scope,
	}
}

// DocumentRecord is the persisted per-scope hash index row used for dedupe.
type DocumentRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	DocHash    string `gorm:"type:varchar(64);not null;uniqueIndex:uniq_scope_hash,priority:2;column:doc_hash"`
	Scope      string `gorm:"type:varchar(128);not null;uniqueIndex:uniq_scope_hash,priority:1;column:scope"`
	FileName   string `gorm:"type:varchar(255);not null;column:file_name"`
	Format     string `gorm:"type:varchar(32);not null;column:format"`
	RawBytes   int64  `gorm:"not null;column:raw_bytes"`
	ChunkCount int    `gorm:"not null;default:0;column:chunk_count"`
}

// TableName pins the MySQL table name.
func (DocumentRecord) TableName() string {
	return "document_records"
}
