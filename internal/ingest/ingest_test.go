package ingest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/common"
	"github.com/joseph-ayodele/bill-trends/internal/repository"
	"github.com/joseph-ayodele/bill-trends/internal/storage"
)

type env struct {
	ingestor  *Ingestor
	sessions  repository.SessionRepository
	documents repository.DocumentRepository
	store     *storage.LocalStore
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.OpenSQLite(ctx, "file::memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(log) })
	require.NoError(t, repository.Migrate(db, log))

	store, err := storage.NewLocalStore(t.TempDir(), log)
	require.NoError(t, err)
	sessions := repository.NewSessionRepository(db, log)
	documents := repository.NewDocumentRepository(db, log)
	return env{
		ingestor:  NewIngestor(sessions, documents, store, 1, log),
		sessions:  sessions,
		documents: documents,
		store:     store,
	}
}

func TestIngestUpload_BothKindsMarkUploaded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s, err := e.sessions.Create(ctx)
	require.NoError(t, err)

	res, err := e.ingestor.IngestUpload(ctx, Upload{SessionID: s.ID, Kind: "recent", MIMEType: "application/pdf", Size: 4, Body: strings.NewReader("%PDF")})
	require.NoError(t, err)
	assert.Equal(t, constants.DocKindRecent, res.Kind)
	assert.False(t, res.Replaced)
	assert.Equal(t, constants.SessionStatusStarted, res.SessionStatus)
	assert.Len(t, res.HashHex, 64)

	res, err = e.ingestor.IngestUpload(ctx, Upload{SessionID: s.ID, Kind: "OLD", MIMEType: "image/jpeg", Size: -1, Body: strings.NewReader("jpegdata")})
	require.NoError(t, err)
	assert.Equal(t, constants.SessionStatusUploaded, res.SessionStatus)

	got, err := e.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.SessionStatusUploaded, got.Status)

	doc, err := e.documents.Get(ctx, s.ID, constants.DocKindOld)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", doc.MIMEType)
	assert.True(t, strings.HasSuffix(doc.Path, "old.jpg"))
}

func TestIngestUpload_ReplaceRemovesStaleBlob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s, err := e.sessions.Create(ctx)
	require.NoError(t, err)

	_, err = e.ingestor.IngestUpload(ctx, Upload{SessionID: s.ID, Kind: "recent", MIMEType: "application/pdf", Size: 4, Body: strings.NewReader("%PDF")})
	require.NoError(t, err)
	first, err := e.documents.Get(ctx, s.ID, constants.DocKindRecent)
	require.NoError(t, err)

	res, err := e.ingestor.IngestUpload(ctx, Upload{SessionID: s.ID, Kind: "recent", MIMEType: "image/png", Size: 3, Body: strings.NewReader("png")})
	require.NoError(t, err)
	assert.True(t, res.Replaced)

	_, err = e.store.Open(first.Path)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestIngestUpload_Rejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s, err := e.sessions.Create(ctx)
	require.NoError(t, err)

	tests := []struct {
		name string
		up   Upload
		want error
	}{
		{"bad kind", Upload{SessionID: s.ID, Kind: "middle", MIMEType: "application/pdf", Size: 1, Body: strings.NewReader("x")}, common.ErrInvalidInput},
		{"bad mime", Upload{SessionID: s.ID, Kind: "recent", MIMEType: "text/plain", Size: 1, Body: strings.NewReader("x")}, common.ErrInvalidInput},
		{"declared too large", Upload{SessionID: s.ID, Kind: "recent", MIMEType: "image/png", Size: 2 << 20, Body: strings.NewReader("x")}, common.ErrInvalidInput},
		{"streamed too large", Upload{SessionID: s.ID, Kind: "recent", MIMEType: "image/png", Size: -1, Body: bytes.NewReader(make([]byte, 1<<20+1))}, common.ErrInvalidInput},
		{"empty body", Upload{SessionID: s.ID, Kind: "recent", MIMEType: "image/png", Size: -1, Body: strings.NewReader("")}, common.ErrInvalidInput},
		{"unknown session", Upload{SessionID: uuid.New(), Kind: "recent", MIMEType: "image/png", Size: 1, Body: strings.NewReader("x")}, common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ingestor.IngestUpload(ctx, tt.up)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	docs, err := e.documents.ListBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
