package tasks

// Task Types
const (
	TypeProcessDocument = "ingest:process_document"
	TypeDeleteSource    = "ingest:delete_source"
	TypeCacheSweep      = "cache:sweep"
)

// ProcessDocumentPayload 教材处理任务载荷
type ProcessDocumentPayload struct {
	UploadID string `json:"upload_id"`
}

// DeleteSourcePayload 教材删除任务载荷
type DeleteSourcePayload struct {
	UploadID string `json:"upload_id"`
}
