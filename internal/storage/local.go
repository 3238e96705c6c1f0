package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/common"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("file too large")

// Object describes one stored blob. Path is relative to the store root.
type Object struct {
	Path      string
	SizeBytes int64
	SHA256    string
}

// LocalStore keeps uploads on local disk under root/<session>/<kind><ext>.
type LocalStore struct {
	root string
	log  *slog.Logger
}

func NewLocalStore(root string, log *slog.Logger) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: abs, log: log}, nil
}

// Root returns the absolute storage directory.
func (s *LocalStore) Root() string { return s.root }

// Save streams r to disk, hashing as it goes. At most limit bytes are accepted.
// The file is written to a temp name and renamed so readers never see a partial upload.
func (s *LocalStore) Save(ctx context.Context, sessionID uuid.UUID, kind constants.DocKind, ext string, r io.Reader, limit int64) (Object, error) {
	rel := filepath.Join(sessionID.String(), string(kind)+"."+constants.NormalizeExt(ext))
	dst, err := s.Abs(rel)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return Object{}, fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(&ctxReader{ctx: ctx, r: r}, limit+1))
	if err != nil {
		return Object{}, fmt.Errorf("write upload: %w", err)
	}
	if n > limit {
		return Object{}, ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Object{}, fmt.Errorf("commit upload: %w", err)
	}
	tmp = nil

	s.log.Debug("blob stored", "path", rel, "size_bytes", n)
	return Object{Path: rel, SizeBytes: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Abs resolves a stored relative path, refusing anything that escapes the root.
func (s *LocalStore) Abs(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", common.InvalidArgumentError("path escapes storage root")
	}
	return filepath.Join(s.root, clean), nil
}

// Open returns a reader for a stored blob.
func (s *LocalStore) Open(rel string) (io.ReadCloser, error) {
	p, err := s.Abs(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.NotFoundError("stored file not found")
	}
	return f, err
}

// Delete removes a blob; a missing file is not an error.
func (s *LocalStore) Delete(rel string) error {
	p, err := s.Abs(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	// Drop the session dir once it is empty.
	_ = os.Remove(filepath.Dir(p))
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
