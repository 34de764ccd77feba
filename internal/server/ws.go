package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maauso/photocull-api/internal/catalog"
	"github.com/maauso/photocull-api/internal/pipeline"
	"github.com/maauso/photocull-api/internal/upload"
)

// writeWait is the time allowed to write a frame to the peer.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 << 10,
	WriteBufferSize: 32 << 10,
	// Browser clients connect from the dashboard origin; auth happens
	// upstream of this service.
	CheckOrigin: func(*http.Request) bool { return true },
}

// UploadWS handles the duplex upload session at /ws/upload.
func (h *Handlers) UploadWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("error", err.Error()),
		)
		return
	}

	session := &wsSession{
		conn:    conn,
		service: h.service,
		logger:  h.logger,
	}
	session.run(r.Context())
}

// wsSession owns one upload websocket connection. The session goroutine is
// the only reader; pipeline observers write concurrently under writeMu.
type wsSession struct {
	conn    *websocket.Conn
	service *pipeline.Service
	logger  *slog.Logger

	writeMu     sync.Mutex
	assembler   *upload.Assembler
	unsubscribe func()
}

// run processes frames until the peer disconnects.
func (s *wsSession) run(ctx context.Context) {
	defer s.teardown()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.assembler != nil && !s.assembler.Complete() {
				s.logger.Warn("upload session disconnected mid-upload",
					slog.String("job_id", s.assembler.JobID()),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if err := s.handleInit(ctx, data); err != nil {
				s.sendError(err.Error())
			}
		case websocket.BinaryMessage:
			if s.assembler == nil {
				s.sendError(upload.ErrNoSession.Error())
				continue
			}
			if done := s.handleChunk(ctx, data); done {
				return
			}
		}
	}
}

// handleInit opens the upload session: attaches to the job named in the
// init frame (or creates a fresh one), allocates its scratch file,
// subscribes to pipeline events and acknowledges with the job ID.
func (s *wsSession) handleInit(ctx context.Context, data []byte) error {
	if s.assembler != nil {
		return upload.ErrSessionComplete
	}

	var init upload.InitFrame
	if err := json.Unmarshal(data, &init); err != nil {
		return err
	}
	if init.Kind != upload.KindInit || init.TotalChunks < 1 || init.TotalSize < 1 {
		return upload.ErrInvalidInit
	}

	var job *catalog.Job
	var err error
	if init.JobID != "" {
		job, err = s.service.GetJob(ctx, init.JobID)
		if err == nil && job.Status != catalog.StatusUploading {
			err = fmt.Errorf("%w: job %s is not awaiting upload", upload.ErrInvalidInit, job.ID)
		}
	} else {
		job, err = s.service.CreateJob(ctx, init.Name)
	}
	if err != nil {
		return err
	}
	file, err := s.service.ScratchFile(job.ID)
	if err != nil {
		_ = s.service.FailJob(ctx, job.ID, err.Error())
		return err
	}

	s.assembler = upload.NewAssembler(job.ID, file, init)
	s.unsubscribe = s.service.Subscribe(job.ID, s)

	s.logger.Info("upload session opened",
		slog.String("job_id", job.ID),
		slog.Int("total_chunks", init.TotalChunks),
		slog.Int64("total_size", init.TotalSize),
	)

	s.send(upload.ServerFrame{
		Kind:  upload.KindStatusUpdate,
		JobID: job.ID,
		Data: upload.StatusUpdateData{
			Status: string(job.Status),
		},
	})
	return nil
}

// handleChunk feeds one binary frame to the assembler. When the archive is
// complete the pipeline is started in the background; the session stays
// open to forward its progress. Returns true when the session must close.
func (s *wsSession) handleChunk(ctx context.Context, data []byte) bool {
	jobID := s.assembler.JobID()

	// A retransmit after the final ack is a session-level protocol error;
	// the job is already processing and must not be touched.
	if s.assembler.Complete() {
		s.sendError(upload.ErrSessionComplete.Error())
		return false
	}

	ack, complete, err := s.assembler.HandleChunk(data)
	if err != nil {
		s.logger.Error("chunk handling failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		s.sendError(err.Error())
		_ = s.service.FailJob(context.WithoutCancel(ctx), jobID, err.Error())
		return true
	}

	s.send(upload.ServerFrame{
		Kind:  upload.KindChunkAck,
		JobID: jobID,
		Data:  ack,
	})

	if complete {
		s.logger.Info("upload complete, starting pipeline",
			slog.String("job_id", jobID),
		)
		// The run outlives the request; progress flows back through the
		// observer subscription.
		go func() {
			if err := s.service.Run(context.WithoutCancel(ctx), jobID); err != nil {
				s.logger.Error("pipeline run failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	return false
}

// StatusChanged implements pipeline.Observer.
func (s *wsSession) StatusChanged(job *catalog.Job) {
	s.send(upload.ServerFrame{
		Kind:  upload.KindStatusUpdate,
		JobID: job.ID,
		Data: upload.StatusUpdateData{
			Status:         string(job.Status),
			ProcessedFiles: job.ProcessedFiles,
			TotalFiles:     job.TotalFiles,
		},
	})
}

// Progress implements pipeline.Observer.
func (s *wsSession) Progress(jobID string, stage catalog.Status, current, total int, message string) {
	s.send(upload.ServerFrame{
		Kind:  upload.KindProcessingProgress,
		JobID: jobID,
		Data: upload.ProgressData{
			Stage:   string(stage),
			Current: current,
			Total:   total,
			Message: message,
		},
	})
}

// send writes one JSON frame under the write lock.
func (s *wsSession) send(frame upload.ServerFrame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(frame); err != nil {
		s.logger.Debug("websocket write failed",
			slog.String("error", err.Error()),
		)
	}
}

// sendError writes an error frame.
func (s *wsSession) sendError(message string) {
	jobID := ""
	if s.assembler != nil {
		jobID = s.assembler.JobID()
	}
	s.send(upload.ServerFrame{
		Kind:  upload.KindError,
		JobID: jobID,
		Data:  upload.ErrorData{Message: message},
	})
}

// teardown releases the session's resources. An incomplete upload keeps
// its job in uploading; boot-time recovery fails such jobs.
func (s *wsSession) teardown() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.assembler != nil {
		s.assembler.Abort()
	}
	_ = s.conn.Close()
}
