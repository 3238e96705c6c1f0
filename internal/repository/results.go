package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/common"
	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

// Outcome is everything a successful analysis writes, committed as one unit.
type Outcome struct {
	AnalysisID  uuid.UUID
	SessionID   uuid.UUID
	ZoneKey     string
	Bills       []entity.ExtractedBill
	Findings    []entity.Finding
	UserTrend   entity.UserTrend
	ZoneTrend   entity.ZoneTrend
	Position    entity.Position
	Explanation string
	Confidence  int
	MapPoint    *entity.MapPoint
	SessionHash string
}

// ExportRow is one completed analysis as listed in the admin export.
type ExportRow struct {
	SessionID     uuid.UUID
	ZoneKey       string
	CreatedAt     time.Time
	Position      entity.Position
	DeltaPct      *float64
	Confidence    int
	FindingsCount int
}

type ResultRepository interface {
	// CommitAnalysis flips the analysis running -> done and replaces the session's bills,
	// findings and trend in the same transaction. Nothing is written unless the flip succeeds.
	CommitAnalysis(ctx context.Context, out Outcome) error
	GetResult(ctx context.Context, sessionID uuid.UUID) (*entity.AnalysisResult, error)
	ZoneSamples(ctx context.Context, zoneKey string) ([]*float64, error)
	ZonePoints(ctx context.Context, zoneKey string, limit int) ([]entity.MapPoint, error)
	ListCompleted(ctx context.Context, limit int) ([]ExportRow, error)
}

type resultRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewResultRepository(db *DB, log *slog.Logger) ResultRepository {
	return &resultRepo{db: db, log: log, now: time.Now}
}

func (r *resultRepo) CommitAnalysis(ctx context.Context, out Outcome) error {
	now := r.now().UTC()
	b := r.db.builder()
	userTrend, err := json.Marshal(out.UserTrend)
	if err != nil {
		return fmt.Errorf("encode user trend: %w", err)
	}

	err = r.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := exec(ctx, tx, b.Update("analyses").
			Set("status", string(constants.AnalysisStatusDone)).
			Set("finished_at", now).
			Where(entsql.And(
				entsql.EQ("id", out.AnalysisID),
				entsql.EQ("status", string(constants.AnalysisStatusRunning)),
			)))
		if err != nil {
			return fmt.Errorf("mark analysis done: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return common.ConflictError("analysis is not running")
		}

		for _, table := range []string{"extracted_bills", "findings", "trend_results"} {
			if _, err := exec(ctx, tx, b.Delete(table).Where(entsql.EQ("session_id", out.SessionID))); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for _, bill := range out.Bills {
			if err := r.insertBill(ctx, tx, out, bill, now); err != nil {
				return err
			}
		}

		for i, f := range out.Findings {
			_, err := exec(ctx, tx, b.Insert("findings").
				Columns("id", "session_id", "analysis_id", "ord", "severity", "title", "description", "estimated_impact_eur", "rule_id").
				Values(uuid.New(), out.SessionID, out.AnalysisID, i, string(f.Severity), f.Title, f.Description, nullFloat(f.EstimatedImpactEUR), f.RuleID))
			if err != nil {
				return fmt.Errorf("insert finding %s: %w", f.RuleID, err)
			}
		}

		_, err = exec(ctx, tx, b.Insert("trend_results").
			Columns("session_id", "analysis_id", "zone_key", "user_trend", "eur_per_kwh_delta_pct",
				"zone_delta_pct", "zone_count", "position", "explanation", "confidence", "created_at").
			Values(out.SessionID, out.AnalysisID, out.ZoneKey, string(userTrend), nullFloat(out.UserTrend.EurPerKWhDeltaPct),
				out.ZoneTrend.EurPerKWhDeltaPct, out.ZoneTrend.Count, string(out.Position), out.Explanation, out.Confidence, now))
		if err != nil {
			return fmt.Errorf("insert trend result: %w", err)
		}

		if p := out.MapPoint; p != nil {
			createdAt := p.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			_, err = exec(ctx, tx, b.Insert("map_points").
				Columns("id", "zone_key", "lat", "lng", "color", "session_hash", "created_at").
				Values(uuid.New(), p.ZoneKey, p.Lat, p.Lng, string(p.Color), out.SessionHash, createdAt.UTC()))
			if err != nil {
				return fmt.Errorf("insert map point: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		r.log.Error("analysis.commit.failed", "analysis_id", out.AnalysisID, "session_id", out.SessionID, "err", err)
		return err
	}
	r.log.Info("analysis.commit.ok", "analysis_id", out.AnalysisID, "session_id", out.SessionID,
		"findings", len(out.Findings), "position", out.Position)
	return nil
}

func (r *resultRepo) insertBill(ctx context.Context, tx *sql.Tx, out Outcome, bill entity.ExtractedBill, now time.Time) error {
	fields, err := json.Marshal(bill.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	conf := bill.Confidence
	if conf == nil {
		conf = entity.FieldConfidence{}
	}
	confidence, err := json.Marshal(conf)
	if err != nil {
		return fmt.Errorf("encode confidence: %w", err)
	}
	warningList := bill.Warnings
	if warningList == nil {
		warningList = []string{}
	}
	warnings, err := json.Marshal(warningList)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	var raw sql.NullString
	if len(bill.Raw) > 0 {
		raw = sql.NullString{String: string(bill.Raw), Valid: true}
	}
	b := r.db.builder()
	_, err = exec(ctx, tx, b.Insert("extracted_bills").
		Columns("id", "session_id", "analysis_id", "kind", "fields", "confidence", "warnings",
			"method", "source", "ocr_used", "text_len", "raw", "created_at").
		Values(uuid.New(), out.SessionID, out.AnalysisID, string(bill.Kind), string(fields), string(confidence), string(warnings),
			bill.Method, bill.Source, bill.OCRUsed, bill.TextLen, raw, now))
	if err != nil {
		return fmt.Errorf("insert %s bill: %w", bill.Kind, err)
	}
	return nil
}

func (r *resultRepo) GetResult(ctx context.Context, sessionID uuid.UUID) (*entity.AnalysisResult, error) {
	b := r.db.builder()
	rows, err := query(ctx, r.db, b.Select("analysis_id", "zone_key", "user_trend", "zone_delta_pct", "zone_count",
		"position", "explanation", "confidence", "created_at").
		From(b.Table("trend_results")).
		Where(entsql.EQ("session_id", sessionID)))
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	res := entity.AnalysisResult{SessionID: sessionID}
	found := false
	func() {
		defer rows.Close()
		if !rows.Next() {
			return
		}
		found = true
		var userTrend, position string
		err = rows.Scan(&res.AnalysisID, &res.ZoneKey, &userTrend, &res.ZoneTrend.EurPerKWhDeltaPct, &res.ZoneTrend.Count,
			&position, &res.Explanation, &res.Confidence, &res.CreatedAt)
		if err != nil {
			err = fmt.Errorf("scan result: %w", err)
			return
		}
		res.Position = entity.Position(position)
		if jerr := json.Unmarshal([]byte(userTrend), &res.UserTrend); jerr != nil {
			err = fmt.Errorf("decode user trend: %w", jerr)
		}
	}()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, common.NotFoundError("result not found")
	}

	if res.Bills, err = r.bills(ctx, sessionID); err != nil {
		return nil, err
	}
	if res.Findings, err = r.findings(ctx, sessionID); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *resultRepo) bills(ctx context.Context, sessionID uuid.UUID) ([]entity.ExtractedBill, error) {
	b := r.db.builder()
	rows, err := query(ctx, r.db, b.Select("kind", "fields", "confidence", "warnings", "method", "source", "ocr_used", "text_len", "raw").
		From(b.Table("extracted_bills")).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Desc("kind")))
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	bills := []entity.ExtractedBill{}
	for rows.Next() {
		var (
			bill                         entity.ExtractedBill
			kind, fields, conf, warnings string
			raw                          sql.NullString
		)
		if err := rows.Scan(&kind, &fields, &conf, &warnings, &bill.Method, &bill.Source, &bill.OCRUsed, &bill.TextLen, &raw); err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		bill.Kind = constants.DocKind(kind)
		if err := json.Unmarshal([]byte(fields), &bill.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
		if err := json.Unmarshal([]byte(conf), &bill.Confidence); err != nil {
			return nil, fmt.Errorf("decode confidence: %w", err)
		}
		if err := json.Unmarshal([]byte(warnings), &bill.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
		if raw.Valid {
			bill.Raw = json.RawMessage(raw.String)
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

func (r *resultRepo) findings(ctx context.Context, sessionID uuid.UUID) ([]entity.Finding, error) {
	b := r.db.builder()
	rows, err := query(ctx, r.db, b.Select("severity", "title", "description", "estimated_impact_eur", "rule_id").
		From(b.Table("findings")).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy("ord"))
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	findings := []entity.Finding{}
	for rows.Next() {
		var (
			f        entity.Finding
			severity string
			impact   sql.NullFloat64
		)
		if err := rows.Scan(&severity, &f.Title, &f.Description, &impact, &f.RuleID); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Severity = entity.Severity(severity)
		f.EstimatedImpactEUR = floatPtr(impact)
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func (r *resultRepo) ZoneSamples(ctx context.Context, zoneKey string) ([]*float64, error) {
	b := r.db.builder()
	rows, err := query(ctx, r.db, b.Select("eur_per_kwh_delta_pct").
		From(b.Table("trend_results")).
		Where(entsql.EQ("zone_key", zoneKey)))
	if err != nil {
		return nil, fmt.Errorf("zone samples: %w", err)
	}
	defer rows.Close()

	var samples []*float64
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan zone sample: %w", err)
		}
		samples = append(samples, floatPtr(v))
	}
	return samples, rows.Err()
}

func (r *resultRepo) ZonePoints(ctx context.Context, zoneKey string, limit int) ([]entity.MapPoint, error) {
	b := r.db.builder()
	rows, err := query(ctx, r.db, b.Select("lat", "lng", "color", "created_at").
		From(b.Table("map_points")).
		Where(entsql.EQ("zone_key", zoneKey)).
		OrderBy(entsql.Desc("created_at")).
		Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("zone points: %w", err)
	}
	defer rows.Close()

	points := []entity.MapPoint{}
	for rows.Next() {
		p := entity.MapPoint{ZoneKey: zoneKey}
		var color string
		if err := rows.Scan(&p.Lat, &p.Lng, &color, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan map point: %w", err)
		}
		p.Color = entity.Position(color)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (r *resultRepo) ListCompleted(ctx context.Context, limit int) ([]ExportRow, error) {
	counts, err := r.findingCounts(ctx)
	if err != nil {
		return nil, err
	}
	b := r.db.builder()
	sel := b.Select("session_id", "zone_key", "created_at", "position", "eur_per_kwh_delta_pct", "confidence").
		From(b.Table("trend_results")).
		OrderBy(entsql.Desc("created_at"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	rows, err := query(ctx, r.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var (
			row      ExportRow
			position string
			delta    sql.NullFloat64
		)
		if err := rows.Scan(&row.SessionID, &row.ZoneKey, &row.CreatedAt, &position, &delta, &row.Confidence); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		row.Position = entity.Position(position)
		row.DeltaPct = floatPtr(delta)
		row.FindingsCount = counts[row.SessionID]
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *resultRepo) findingCounts(ctx context.Context) (map[uuid.UUID]int, error) {
	b := r.db.builder()
	rows, err := query(ctx, r.db, b.Select("session_id", entsql.Count("*")).
		From(b.Table("findings")).
		GroupBy("session_id"))
	if err != nil {
		return nil, fmt.Errorf("count findings: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			id uuid.UUID
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan finding count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
