package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/common"
	"github.com/joseph-ayodele/bill-trends/internal/entity"
	"github.com/joseph-ayodele/bill-trends/internal/repository"
	"github.com/joseph-ayodele/bill-trends/internal/storage"
)

// Upload is one bill as received from a client.
type Upload struct {
	SessionID uuid.UUID
	Kind      string
	MIMEType  string
	Size      int64 // -1 when the client did not declare it
	Body      io.Reader
}

// IngestionResult is the per-upload outcome.
type IngestionResult struct {
	DocumentID    uuid.UUID
	Kind          constants.DocKind
	HashHex       string
	SizeBytes     int64
	Replaced      bool
	SessionStatus constants.SessionStatus
	UploadedAt    time.Time
}

// Ingestor validates uploads, stores the blob and records the document row.
type Ingestor struct {
	sessions  repository.SessionRepository
	documents repository.DocumentRepository
	store     *storage.LocalStore
	maxBytes  int64
	log       *slog.Logger
}

func NewIngestor(s repository.SessionRepository, d repository.DocumentRepository, store *storage.LocalStore, maxFileMB int, log *slog.Logger) *Ingestor {
	return &Ingestor{sessions: s, documents: d, store: store, maxBytes: int64(maxFileMB) << 20, log: log}
}

// MaxBytes is the per-file upload limit.
func (i *Ingestor) MaxBytes() int64 { return i.maxBytes }

func (i *Ingestor) IngestUpload(ctx context.Context, up Upload) (IngestionResult, error) {
	var out IngestionResult

	v := common.NewValidator().
		Field("kind", up.Kind, common.DocKind).
		Field("mime_type", up.MIMEType, common.UploadMIME)
	if up.Size >= 0 {
		v.Field("size", up.Size, common.MaxBytes(i.maxBytes))
	}
	if err := common.ValidateAndReturnError(v); err != nil {
		i.log.Warn("upload rejected", "session_id", up.SessionID, "reason", v.ErrorMessage())
		return out, err
	}
	kind, _ := constants.ParseDocKind(up.Kind)
	mime := constants.NormalizeMIME(up.MIMEType)

	session, err := i.sessions.Get(ctx, up.SessionID)
	if err != nil {
		return out, err
	}

	obj, err := i.store.Save(ctx, session.ID, kind, constants.AllowedMIME[mime], up.Body, i.maxBytes)
	if errors.Is(err, storage.ErrTooLarge) {
		return out, common.InvalidArgumentErrorf("file exceeds %d MB", i.maxBytes>>20)
	}
	if err != nil {
		i.log.Error("upload store failed", "session_id", session.ID, "kind", kind, "error", err)
		return out, fmt.Errorf("store upload: %w", err)
	}
	if obj.SizeBytes == 0 {
		_ = i.store.Delete(obj.Path)
		return out, common.InvalidArgumentError("file is empty")
	}

	doc := &entity.Document{
		SessionID: session.ID,
		Kind:      kind,
		Path:      obj.Path,
		MIMEType:  mime,
		SizeBytes: obj.SizeBytes,
		CreatedAt: time.Now().UTC(),
	}
	prev, err := i.documents.Replace(ctx, doc)
	if err != nil {
		_ = i.store.Delete(obj.Path)
		return out, err
	}
	if prev != nil && prev.Path != doc.Path {
		if err := i.store.Delete(prev.Path); err != nil {
			i.log.Warn("stale upload not removed", "path", prev.Path, "error", err)
		}
	}

	status := session.Status
	docs, err := i.documents.ListBySession(ctx, session.ID)
	if err != nil {
		return out, err
	}
	if len(docs) == 2 && status != constants.SessionStatusUploaded {
		if err := i.sessions.SetStatus(ctx, session.ID, constants.SessionStatusUploaded); err != nil {
			return out, err
		}
		status = constants.SessionStatusUploaded
	}

	i.log.Info("upload ingested", "session_id", session.ID, "kind", kind, "size_bytes", obj.SizeBytes, "sha256", obj.SHA256)
	return IngestionResult{
		DocumentID:    doc.ID,
		Kind:          kind,
		HashHex:       obj.SHA256,
		SizeBytes:     obj.SizeBytes,
		Replaced:      prev != nil,
		SessionStatus: status,
		UploadedAt:    doc.CreatedAt,
	}, nil
}
