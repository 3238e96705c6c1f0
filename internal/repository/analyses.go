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

// MaxErrorLen bounds the message stored on a failed analysis.
const MaxErrorLen = 200

// AnalysisRepository records the pending -> running -> done|error state machine.
// Every transition is a guarded update that must touch exactly one row. A session has at most
// one pending or running analysis; Create reports ErrConflict otherwise.
type AnalysisRepository interface {
	Create(ctx context.Context, sessionID uuid.UUID) (*entity.Analysis, error)
	FailStale(ctx context.Context, message string) (int, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Analysis, error)
	LatestForSession(ctx context.Context, sessionID uuid.UUID) (*entity.Analysis, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
}

type analysisRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewAnalysisRepository(db *DB, log *slog.Logger) AnalysisRepository {
	return &analysisRepo{db: db, log: log, now: time.Now}
}

var analysisColumns = []string{"id", "session_id", "status", "error", "created_at", "started_at", "finished_at"}

func (r *analysisRepo) Create(ctx context.Context, sessionID uuid.UUID) (*entity.Analysis, error) {
	a := &entity.Analysis{
		ID:        uuid.New(),
		SessionID: sessionID,
		Status:    constants.AnalysisStatusPending,
		CreatedAt: r.now().UTC(),
	}
	b := r.db.builder()
	_, err := exec(ctx, r.db, b.Insert("analyses").
		Columns("id", "session_id", "status", "created_at").
		Values(a.ID, a.SessionID, string(a.Status), a.CreatedAt))
	if isUniqueViolation(err) {
		return nil, common.ConflictError("an analysis is already in progress")
	}
	if err != nil {
		r.log.Error("analysis create failed", "session_id", sessionID, "err", err)
		return nil, fmt.Errorf("create analysis: %w", err)
	}
	r.log.Info("analysis created", "analysis_id", a.ID, "session_id", sessionID)
	return a, nil
}

func (r *analysisRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Analysis, error) {
	return r.one(ctx, entsql.EQ("id", id))
}

func (r *analysisRepo) LatestForSession(ctx context.Context, sessionID uuid.UUID) (*entity.Analysis, error) {
	return r.one(ctx, entsql.EQ("session_id", sessionID))
}

func (r *analysisRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	b := r.db.builder()
	res, err := exec(ctx, r.db, b.Update("analyses").
		Set("status", string(constants.AnalysisStatusRunning)).
		Set("started_at", r.now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.AnalysisStatusPending)),
		)))
	if err != nil {
		return fmt.Errorf("mark analysis running: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return common.ConflictError("analysis is not pending")
	}
	r.log.Info("analysis running", "analysis_id", id)
	return nil
}

func (r *analysisRepo) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	message = common.Truncate(message, MaxErrorLen)
	b := r.db.builder()
	res, err := exec(ctx, r.db, b.Update("analyses").
		Set("status", string(constants.AnalysisStatusError)).
		Set("error", message).
		Set("finished_at", r.now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.In("status", string(constants.AnalysisStatusPending), string(constants.AnalysisStatusRunning)),
		)))
	if err != nil {
		return fmt.Errorf("mark analysis error: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return common.ConflictError("analysis already finished")
	}
	r.log.Warn("analysis failed", "analysis_id", id, "error", message)
	return nil
}

// FailStale moves every pending or running analysis to error. The daemon calls it before
// serving: no worker survives a restart, so those rows would otherwise never finish.
func (r *analysisRepo) FailStale(ctx context.Context, message string) (int, error) {
	message = common.Truncate(message, MaxErrorLen)
	b := r.db.builder()
	res, err := exec(ctx, r.db, b.Update("analyses").
		Set("status", string(constants.AnalysisStatusError)).
		Set("error", message).
		Set("finished_at", r.now().UTC()).
		Where(entsql.In("status", string(constants.AnalysisStatusPending), string(constants.AnalysisStatusRunning))))
	if err != nil {
		return 0, fmt.Errorf("fail stale analyses: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Warn("stale analyses failed", "count", n)
	}
	return int(n), nil
}

func (r *analysisRepo) one(ctx context.Context, where *entsql.Predicate) (*entity.Analysis, error) {
	b := r.db.builder()
	rows, err := query(ctx, r.db, b.Select(analysisColumns...).
		From(b.Table("analyses")).
		Where(where).
		OrderBy(entsql.Desc("created_at")).
		Limit(1))
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get analysis: %w", err)
		}
		return nil, common.NotFoundError("analysis not found")
	}
	var (
		a        entity.Analysis
		status   string
		msg      sql.NullString
		started  sql.NullTime
		finished sql.NullTime
	)
	if err := rows.Scan(&a.ID, &a.SessionID, &status, &msg, &a.CreatedAt, &started, &finished); err != nil {
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	a.Status = constants.AnalysisStatus(status)
	a.Error = stringPtr(msg)
	a.StartedAt = timePtr(started)
	a.FinishedAt = timePtr(finished)
	return &a, nil
}
