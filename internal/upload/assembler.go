package upload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Static errors for upload session handling.
var (
	// ErrNoSession is returned when a binary frame arrives before init.
	ErrNoSession = errors.New("no active upload session")
	// ErrInvalidInit is returned when the init frame is malformed.
	ErrInvalidInit = errors.New("invalid init frame")
	// ErrFrameTooShort is returned when a binary frame lacks the index prefix.
	ErrFrameTooShort = errors.New("binary frame shorter than chunk index prefix")
	// ErrChunkIndexOutOfRange is returned when the chunk index exceeds totalChunks.
	ErrChunkIndexOutOfRange = errors.New("chunk index out of range")
	// ErrSessionComplete is returned when a chunk arrives after completion.
	ErrSessionComplete = errors.New("upload session already complete")
)

// indexPrefixLen is the length of the big-endian chunk index prefix.
const indexPrefixLen = 4

// Assembler assembles the chunks of one upload session into a scratch file.
// Each chunk is written at chunkIndex*chunkSize, so chunks may arrive in any
// order and duplicates are idempotent. An Assembler is owned by a single
// session goroutine and is not safe for concurrent use.
type Assembler struct {
	jobID       string
	file        *os.File
	totalChunks int
	totalSize   int64
	chunkSize   int64
	received    map[uint32]bool
	complete    bool
}

// NewAssembler creates an Assembler writing to the given scratch file.
func NewAssembler(jobID string, file *os.File, init InitFrame) *Assembler {
	chunkSize := init.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Assembler{
		jobID:       jobID,
		file:        file,
		totalChunks: init.TotalChunks,
		totalSize:   init.TotalSize,
		chunkSize:   chunkSize,
		received:    make(map[uint32]bool, init.TotalChunks),
	}
}

// JobID returns the job this session is uploading for.
func (a *Assembler) JobID() string {
	return a.jobID
}

// Received returns the number of distinct chunks received so far.
func (a *Assembler) Received() int {
	return len(a.received)
}

// Complete reports whether every chunk has been received.
func (a *Assembler) Complete() bool {
	return a.complete
}

// HandleChunk writes one binary frame into the scratch file and returns the
// acknowledgement to send. complete is true once the final chunk landed; the
// scratch file is closed at that point.
func (a *Assembler) HandleChunk(frame []byte) (ack ChunkAckData, complete bool, err error) {
	if a.complete {
		return ChunkAckData{}, false, ErrSessionComplete
	}
	if len(frame) < indexPrefixLen {
		return ChunkAckData{}, false, ErrFrameTooShort
	}

	index := binary.BigEndian.Uint32(frame[:indexPrefixLen])
	if int(index) >= a.totalChunks {
		return ChunkAckData{}, false, fmt.Errorf("%w: %d >= %d", ErrChunkIndexOutOfRange, index, a.totalChunks)
	}

	data := frame[indexPrefixLen:]
	if _, err := a.file.WriteAt(data, int64(index)*a.chunkSize); err != nil {
		return ChunkAckData{}, false, fmt.Errorf("write chunk %d: %w", index, err)
	}
	a.received[index] = true

	ack = ChunkAckData{
		ChunkIndex: index,
		Received:   len(a.received),
		Total:      a.totalChunks,
	}

	if len(a.received) == a.totalChunks {
		a.complete = true
		if err := a.file.Close(); err != nil {
			return ack, false, fmt.Errorf("close scratch file: %w", err)
		}
		return ack, true, nil
	}
	return ack, false, nil
}

// Abort closes the scratch file without completing the session.
func (a *Assembler) Abort() {
	if !a.complete {
		_ = a.file.Close()
	}
}
