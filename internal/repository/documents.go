package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/common"
	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

type DocumentRepository interface {
	// Replace stores doc as the session's document of its kind and returns the one it replaced, if any.
	Replace(ctx context.Context, doc *entity.Document) (*entity.Document, error)
	Get(ctx context.Context, sessionID uuid.UUID, kind constants.DocKind) (*entity.Document, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*entity.Document, error)
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*entity.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type documentRepo struct {
	db  *DB
	log *slog.Logger
}

func NewDocumentRepository(db *DB, log *slog.Logger) DocumentRepository {
	return &documentRepo{db: db, log: log}
}

var documentColumns = []string{"id", "session_id", "kind", "path", "mime_type", "size_bytes", "created_at"}

func (r *documentRepo) Replace(ctx context.Context, doc *entity.Document) (*entity.Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	b := r.db.builder()
	var previous *entity.Document
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		docs, err := r.list(ctx, tx, entsql.And(
			entsql.EQ("session_id", doc.SessionID),
			entsql.EQ("kind", string(doc.Kind)),
		))
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			previous = docs[0]
			if _, err := exec(ctx, tx, b.Delete("documents").Where(entsql.EQ("id", previous.ID))); err != nil {
				return fmt.Errorf("delete previous document: %w", err)
			}
		}
		_, err = exec(ctx, tx, b.Insert("documents").
			Columns(documentColumns...).
			Values(doc.ID, doc.SessionID, string(doc.Kind), doc.Path, doc.MIMEType, doc.SizeBytes, doc.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		return nil
	})
	if err != nil {
		r.log.Error("document replace failed", "session_id", doc.SessionID, "kind", doc.Kind, "err", err)
		return nil, err
	}
	r.log.Info("document stored", "session_id", doc.SessionID, "kind", doc.Kind, "size_bytes", doc.SizeBytes, "replaced", previous != nil)
	return previous, nil
}

func (r *documentRepo) Get(ctx context.Context, sessionID uuid.UUID, kind constants.DocKind) (*entity.Document, error) {
	docs, err := r.list(ctx, r.db, entsql.And(
		entsql.EQ("session_id", sessionID),
		entsql.EQ("kind", string(kind)),
	))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.NotFoundError(fmt.Sprintf("%s document not found", kind))
	}
	return docs[0], nil
}

func (r *documentRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*entity.Document, error) {
	return r.list(ctx, r.db, entsql.EQ("session_id", sessionID))
}

func (r *documentRepo) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*entity.Document, error) {
	return r.list(ctx, r.db, entsql.LT("created_at", cutoff.UTC()))
}

func (r *documentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	b := r.db.builder()
	if _, err := exec(ctx, r.db, b.Delete("documents").Where(entsql.EQ("id", id))); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (r *documentRepo) list(ctx context.Context, q querier, where *entsql.Predicate) ([]*entity.Document, error) {
	b := r.db.builder()
	rows, err := query(ctx, q, b.Select(documentColumns...).
		From(b.Table("documents")).
		Where(where).
		OrderBy("kind"))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*entity.Document
	for rows.Next() {
		var (
			d    entity.Document
			kind string
		)
		if err := rows.Scan(&d.ID, &d.SessionID, &kind, &d.Path, &d.MIMEType, &d.SizeBytes, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Kind = constants.DocKind(kind)
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
