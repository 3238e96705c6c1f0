package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned when the buffer is at capacity; the caller decides what to tell the user.
	ErrQueueFull = errors.New("analysis queue is full")
	// ErrQueueClosed is returned once Shutdown has started.
	ErrQueueClosed = errors.New("analysis queue is shutting down")
)

// Job asks a worker to run one pending analysis.
type Job struct {
	AnalysisID  uuid.UUID
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Processor runs one analysis. *pipeline.Processor implements it.
type Processor interface {
	Process(ctx context.Context, analysisID uuid.UUID) error
}
