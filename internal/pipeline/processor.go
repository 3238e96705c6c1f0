package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/common"
	"github.com/joseph-ayodele/bill-trends/internal/entity"
	"github.com/joseph-ayodele/bill-trends/internal/extract"
	"github.com/joseph-ayodele/bill-trends/internal/geo"
	"github.com/joseph-ayodele/bill-trends/internal/metrics"
	"github.com/joseph-ayodele/bill-trends/internal/repository"
	"github.com/joseph-ayodele/bill-trends/internal/rules"
	"github.com/joseph-ayodele/bill-trends/internal/trend"
)

// ZoneTrends reads and invalidates zone aggregates. *zone.Aggregator implements it.
type ZoneTrends interface {
	Trend(ctx context.Context, zoneKey string) (entity.ZoneTrend, error)
	Invalidate(ctx context.Context, zoneKey string)
}

// BlobResolver maps a stored document path to a readable file. *storage.LocalStore implements it.
type BlobResolver interface {
	Abs(rel string) (string, error)
}

// Extractor turns one document into a bill. *Chain implements it.
type Extractor interface {
	Extract(ctx context.Context, doc Document) Result
}

// Deps groups the collaborators of a Processor.
type Deps struct {
	Analyses  repository.AnalysisRepository
	Sessions  repository.SessionRepository
	Documents repository.DocumentRepository
	Results   repository.ResultRepository
	Blobs     BlobResolver
	Extractor Extractor
	Zones     ZoneTrends
	Rules     *rules.Engine
	Locator   *geo.Locator
}

// Processor runs one analysis end to end: pending -> running -> done | error.
type Processor struct {
	Deps
	thresholds trend.Thresholds
	logger     *slog.Logger
	now        func() time.Time
}

func NewProcessor(d Deps, th trend.Thresholds, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if d.Rules == nil {
		d.Rules = rules.NewEngine()
	}
	if d.Locator == nil {
		d.Locator = geo.NewLocator(0)
	}
	return &Processor{Deps: d, thresholds: th, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// failure is an error whose message is safe to show to the user.
type failure struct {
	public string
	cause  error
}

func (f *failure) Error() string {
	if f.cause != nil {
		return f.public + ": " + f.cause.Error()
	}
	return f.public
}

func (f *failure) Unwrap() error { return f.cause }

func fail(public string, cause error) error {
	return &failure{public: public, cause: cause}
}

// publicMessage is what the analysis row records: the failure's public text, or a generic one.
func publicMessage(err error) string {
	var f *failure
	if errors.As(err, &f) {
		return f.public
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "analysis timed out"
	}
	return "internal error during analysis"
}

// Process runs the analysis. Once the analysis is running, every failure path, including a
// panic, ends in the error state; nothing is persisted unless the whole outcome commits.
func (p *Processor) Process(ctx context.Context, analysisID uuid.UUID) (err error) {
	start := time.Now()
	if err := p.Analyses.MarkRunning(ctx, analysisID); err != nil {
		p.logger.Warn("analysis.start.rejected", "analysis_id", analysisID, "error", err)
		return err
	}
	p.logger.Info("analysis.start", "analysis_id", analysisID)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("analysis.panic", "analysis_id", analysisID, "panic", r)
			err = fmt.Errorf("analysis panicked: %v", r)
		}
		if err == nil {
			metrics.ObserveAnalysis(string(constants.AnalysisStatusDone), time.Since(start))
			return
		}
		p.markError(ctx, analysisID, err)
		metrics.ObserveAnalysis(string(constants.AnalysisStatusError), time.Since(start))
	}()

	return p.run(ctx, analysisID, start)
}

func (p *Processor) markError(ctx context.Context, analysisID uuid.UUID, err error) {
	// the caller's ctx may be the one that expired
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	msg := common.Truncate(publicMessage(err), repository.MaxErrorLen)
	if mErr := p.Analyses.MarkError(mctx, analysisID, msg); mErr != nil {
		p.logger.Error("analysis.mark_error.failed", "analysis_id", analysisID, "error", mErr)
	}
	p.logger.Error("analysis.failed", "analysis_id", analysisID, "message", msg, "error", err)
}

func (p *Processor) run(ctx context.Context, analysisID uuid.UUID, start time.Time) error {
	a, err := p.Analyses.Get(ctx, analysisID)
	if err != nil {
		return fmt.Errorf("load analysis: %w", err)
	}
	sess, err := p.Sessions.Get(ctx, a.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	bills := make(map[constants.DocKind]entity.ExtractedBill, 2)
	for _, kind := range []constants.DocKind{constants.DocKindRecent, constants.DocKindOld} {
		bill, err := p.extractKind(ctx, sess.ID, kind)
		if err != nil {
			return err
		}
		bills[kind] = bill
	}
	recent, old := bills[constants.DocKindRecent], bills[constants.DocKindOld]

	findings := p.Rules.Run(recent.Fields, &old.Fields)
	userTrend := trend.ComputeUserTrend(recent.Fields, old.Fields)

	zoneKey := trend.UnknownZone
	if sess.ZoneKey != nil && *sess.ZoneKey != "" {
		zoneKey = *sess.ZoneKey
	} else if sess.CAP != nil {
		zoneKey = trend.ZoneKey(*sess.CAP)
	}
	zoneTrend, err := p.Zones.Trend(ctx, zoneKey)
	if err != nil {
		return fmt.Errorf("zone trend: %w", err)
	}
	position, explanation := trend.ComputePosition(userTrend, zoneTrend, p.thresholds)
	confidence := extract.OverallConfidence(recent.Fields, &old.Fields, recent.OCRUsed)

	out := repository.Outcome{
		AnalysisID:  analysisID,
		SessionID:   sess.ID,
		ZoneKey:     zoneKey,
		Bills:       []entity.ExtractedBill{recent, old},
		Findings:    findings,
		UserTrend:   userTrend,
		ZoneTrend:   zoneTrend,
		Position:    position,
		Explanation: explanation,
		Confidence:  confidence,
		SessionHash: geo.SessionHash(sess.ID.String()),
	}
	if sess.CAP != nil {
		pt := p.Locator.Point(*sess.CAP, zoneKey, position, p.now())
		out.MapPoint = &pt
	}
	if err := p.Results.CommitAnalysis(ctx, out); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	p.Zones.Invalidate(ctx, zoneKey)

	p.logger.Info("analysis.done",
		"analysis_id", analysisID,
		"session_id", sess.ID,
		"zone", zoneKey,
		"position", position,
		"findings", len(findings),
		"confidence", confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Processor) extractKind(ctx context.Context, sessionID uuid.UUID, kind constants.DocKind) (entity.ExtractedBill, error) {
	doc, err := p.Documents.Get(ctx, sessionID, kind)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return entity.ExtractedBill{}, fail(fmt.Sprintf("missing %s bill", kind), err)
		}
		return entity.ExtractedBill{}, fmt.Errorf("load %s document: %w", kind, err)
	}
	path, err := p.Blobs.Abs(doc.Path)
	if err == nil {
		_, err = os.Stat(path)
	}
	if err != nil {
		// raw uploads are swept after their TTL
		return entity.ExtractedBill{}, fail(fmt.Sprintf("%s bill is no longer available", kind), err)
	}

	p.logger.Info("pipeline.extract.start", "session_id", sessionID, "kind", kind, "mime", doc.MIMEType)
	res := p.Extractor.Extract(ctx, Document{Kind: kind, Path: path, MIMEType: doc.MIMEType})
	if !res.OK() {
		if ctx.Err() != nil {
			return entity.ExtractedBill{}, ctx.Err()
		}
		return entity.ExtractedBill{}, fail(fmt.Sprintf("could not read the %s bill", kind), errors.New(res.Reason))
	}
	res.Bill.Kind = kind
	return res.Bill, nil
}
