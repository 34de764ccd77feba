// Package upload implements the chunked archive upload session: the init
// control frame, indexed binary chunk frames, acknowledgements, and the
// scratch-file assembly that hands a completed archive to the pipeline.
package upload

// Frame kinds exchanged over the upload session.
const (
	// KindInit opens a session (client to server).
	KindInit = "init"
	// KindStatusUpdate reports job status changes (server to client).
	KindStatusUpdate = "status_update"
	// KindChunkAck acknowledges one received chunk (server to client).
	KindChunkAck = "chunk_ack"
	// KindProcessingProgress forwards pipeline progress (server to client).
	KindProcessingProgress = "processing_progress"
	// KindError reports a session error (server to client).
	KindError = "error"
)

// DefaultChunkSize is assumed when the init frame does not declare one.
// It matches the reference client's 1 MiB chunks.
const DefaultChunkSize = 1 << 20

// InitFrame is the first (text) message of an upload session.
type InitFrame struct {
	Kind        string `json:"kind" validate:"required,eq=init"`
	TotalChunks int    `json:"totalChunks" validate:"required,min=1"`
	TotalSize   int64  `json:"totalSize" validate:"required,min=1"`
	// ChunkSize is the size of every chunk except possibly the last.
	// Chunks are placed at chunkIndex*ChunkSize, so frame ordering does
	// not matter. Defaults to DefaultChunkSize.
	ChunkSize int64 `json:"chunkSize,omitempty" validate:"omitempty,min=1"`
	// JobID attaches the session to a job allocated via POST /jobs. When
	// empty a fresh job is created.
	JobID string `json:"jobId,omitempty"`
	// Name optionally labels the job.
	Name string `json:"name,omitempty"`
}

// ServerFrame is the envelope for every server-to-client message.
type ServerFrame struct {
	Kind  string `json:"kind"`
	JobID string `json:"jobId,omitempty"`
	Data  any    `json:"data"`
}

// StatusUpdateData reports the job's status and progress counters.
type StatusUpdateData struct {
	Status         string `json:"status"`
	ProcessedFiles int    `json:"processedFiles"`
	TotalFiles     int    `json:"totalFiles"`
}

// ChunkAckData acknowledges one chunk.
type ChunkAckData struct {
	ChunkIndex uint32 `json:"chunkIndex"`
	Received   int    `json:"received"`
	Total      int    `json:"total"`
}

// ProgressData forwards pipeline progress for one stage.
type ProgressData struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// ErrorData carries a session error message.
type ErrorData struct {
	Message string `json:"message"`
}
