// Package tasks defines the wire type for queued ingestion jobs.
package tasks

// IngestTask describes one staged document waiting to be ingested.
type IngestTask struct {
	TaskID     string `json:"task_id"`
	DocHash    string `json:"doc_hash"`
	ObjectName string `json:"object_name"`
	FileName   string `json:"file_name"`
	Scope      string `json:"scope"`
}
