package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/common"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	return s
}

func TestLocalStore_SaveOpenDelete(t *testing.T) {
	s := newStore(t)
	sid := uuid.New()
	body := []byte("%PDF-1.4 fake bill")

	obj, err := s.Save(context.Background(), sid, constants.DocKindRecent, ".PDF", bytes.NewReader(body), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sid.String(), "recent.pdf"), obj.Path)
	assert.Equal(t, int64(len(body)), obj.SizeBytes)
	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), obj.SHA256)

	rc, err := s.Open(obj.Path)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, body, got)

	require.NoError(t, s.Delete(obj.Path))
	_, err = s.Open(obj.Path)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, s.Delete(obj.Path), "deleting twice is fine")
}

func TestLocalStore_TooLarge(t *testing.T) {
	s := newStore(t)
	sid := uuid.New()

	_, err := s.Save(context.Background(), sid, constants.DocKindOld, "png", strings.NewReader("0123456789"), 5)
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(filepath.Join(s.Root(), sid.String()))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file cleaned up")
}

func TestLocalStore_ExactLimit(t *testing.T) {
	s := newStore(t)
	obj, err := s.Save(context.Background(), uuid.New(), constants.DocKindOld, "png", strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), obj.SizeBytes)
}

func TestLocalStore_CancelledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Save(ctx, uuid.New(), constants.DocKindOld, "png", strings.NewReader("data"), 100)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStore_AbsRejectsEscape(t *testing.T) {
	s := newStore(t)
	for _, p := range []string{"../etc/passwd", "..", "a/../../b"} {
		_, err := s.Abs(p)
		assert.ErrorIs(t, err, common.ErrInvalidInput, p)
	}
	p, err := s.Abs("x/recent.pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, s.Root()))
}
