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

type SessionRepository interface {
	Create(ctx context.Context) (*entity.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Session, error)
	SetZone(ctx context.Context, id uuid.UUID, code, zoneKey string) (*entity.Session, error)
	SetStatus(ctx context.Context, id uuid.UUID, status constants.SessionStatus) error
}

type sessionRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewSessionRepository(db *DB, log *slog.Logger) SessionRepository {
	return &sessionRepo{db: db, log: log, now: time.Now}
}

var sessionColumns = []string{"id", "created_at", "status", "cap", "zone_key"}

func (r *sessionRepo) Create(ctx context.Context) (*entity.Session, error) {
	s := &entity.Session{
		ID:        uuid.New(),
		CreatedAt: r.now().UTC(),
		Status:    constants.SessionStatusStarted,
	}
	b := r.db.builder()
	_, err := exec(ctx, r.db, b.Insert("sessions").
		Columns("id", "created_at", "status").
		Values(s.ID, s.CreatedAt, string(s.Status)))
	if err != nil {
		r.log.Error("session create failed", "err", err)
		return nil, fmt.Errorf("create session: %w", err)
	}
	r.log.Info("session created", "session_id", s.ID)
	return s, nil
}

func (r *sessionRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	b := r.db.builder()
	rows, err := query(ctx, r.db, b.Select(sessionColumns...).
		From(b.Table("sessions")).
		Where(entsql.EQ("id", id)))
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		return nil, common.NotFoundError("session not found")
	}
	return scanSession(rows)
}

func (r *sessionRepo) SetZone(ctx context.Context, id uuid.UUID, code, zoneKey string) (*entity.Session, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	status := s.Status
	if status == constants.SessionStatusStarted {
		status = constants.SessionStatusZoneSet
	}
	b := r.db.builder()
	_, err = exec(ctx, r.db, b.Update("sessions").
		Set("cap", code).
		Set("zone_key", zoneKey).
		Set("status", string(status)).
		Where(entsql.EQ("id", id)))
	if err != nil {
		r.log.Error("session set zone failed", "session_id", id, "err", err)
		return nil, fmt.Errorf("set zone: %w", err)
	}
	r.log.Info("session zone set", "session_id", id, "zone_key", zoneKey)
	s.Status = status
	s.CAP = &code
	s.ZoneKey = &zoneKey
	return s, nil
}

func (r *sessionRepo) SetStatus(ctx context.Context, id uuid.UUID, status constants.SessionStatus) error {
	b := r.db.builder()
	res, err := exec(ctx, r.db, b.Update("sessions").
		Set("status", string(status)).
		Where(entsql.EQ("id", id)))
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NotFoundError("session not found")
	}
	return nil
}

func scanSession(rows *sql.Rows) (*entity.Session, error) {
	var (
		s       entity.Session
		status  string
		code    sql.NullString
		zoneKey sql.NullString
	)
	if err := rows.Scan(&s.ID, &s.CreatedAt, &status, &code, &zoneKey); err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.Status = constants.SessionStatus(status)
	s.CAP = stringPtr(code)
	s.ZoneKey = stringPtr(zoneKey)
	return &s, nil
}
