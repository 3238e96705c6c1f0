package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/async"
	"github.com/joseph-ayodele/bill-trends/internal/auth"
	"github.com/joseph-ayodele/bill-trends/internal/cache"
	"github.com/joseph-ayodele/bill-trends/internal/entity"
	"github.com/joseph-ayodele/bill-trends/internal/ingest"
	"github.com/joseph-ayodele/bill-trends/internal/report"
	"github.com/joseph-ayodele/bill-trends/internal/repository"
	"github.com/joseph-ayodele/bill-trends/internal/storage"
	"github.com/joseph-ayodele/bill-trends/internal/zone"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []async.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Shutdown(context.Context) {}

type brokenCache struct{ cache.Cache }

func (brokenCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

// failingLatest breaks LatestForSession with a storage error.
type failingLatest struct{ repository.AnalysisRepository }

func (failingLatest) LatestForSession(context.Context, uuid.UUID) (*entity.Analysis, error) {
	return nil, errors.New("connection reset")
}

type testServer struct {
	handler  http.Handler
	queue    *fakeQueue
	analyses repository.AnalysisRepository
	results  repository.ResultRepository
}

func newTestServer(t *testing.T, rl *RateLimit) *testServer {
	t.Helper()
	return newTestServerWith(t, rl, nil)
}

func newTestServerWith(t *testing.T, rl *RateLimit, wrap func(repository.AnalysisRepository) repository.AnalysisRepository) *testServer {
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
	analyses := repository.NewAnalysisRepository(db, log)
	results := repository.NewResultRepository(db, log)
	if wrap != nil {
		analyses = wrap(analyses)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin-pw"), bcrypt.MinCost)
	require.NoError(t, err)

	q := &fakeQueue{}
	h := NewRouter(Dependencies{
		Sessions:      sessions,
		Documents:     documents,
		Analyses:      analyses,
		Results:       results,
		Ingestor:      ingest.NewIngestor(sessions, documents, store, 1, log),
		Queue:         q,
		Zones:         zone.NewAggregator(results, cache.NewMemoryCache(), time.Minute, log),
		Exporter:      report.NewExporter(results, log),
		Admin:         auth.NewAdmin(string(hash), "jwt-secret", time.Hour),
		RateLimit:     rl,
		DB:            db,
		PublicBaseURL: "https://bills.example",
		Logger:        log,
	})
	return &testServer{handler: h, queue: q, analyses: analyses, results: results}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error
}

func (s *testServer) newSession(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeData(t, rec)["id"].(string)
}

func (s *testServer) upload(t *testing.T, sid, kind string) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPut, "/api/v1/sessions/"+sid+"/documents/"+kind,
		strings.NewReader("%PDF-1.4 fake"), map[string]string{"Content-Type": "application/pdf"})
}

func TestSessionFlow(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t)

	rec := s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/zone", strings.NewReader(`{"cap":"00 184"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "00184", data["zone_key"])
	assert.Equal(t, "zone_set", data["status"])

	rec = s.upload(t, sid, "recent")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "zone_set", decodeData(t, rec)["session_status"])

	rec = s.upload(t, sid, "old")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "uploaded", decodeData(t, rec)["session_status"])

	rec = s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/analyses", nil, map[string]string{requestIDHeader: "req-42"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	aid := decodeData(t, rec)["id"].(string)
	require.Len(t, s.queue.jobs, 1)
	assert.Equal(t, aid, s.queue.jobs[0].AnalysisID.String())
	assert.Equal(t, "req-42", s.queue.jobs[0].TraceID)

	rec = s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/analyses", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "second start while pending")

	rec = s.do(t, http.MethodGet, "/api/v1/analyses/"+aid, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decodeData(t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/api/v1/sessions/"+sid+"/result", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/sessions/"+sid+"/passport.pdf", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetZone_Invalid(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t)

	rec := s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/zone", strings.NewReader(`{"cap":"1234"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "INVALID_ARGUMENT", env.Error.Code)
	assert.Equal(t, map[string]any{"cap": "must be 5 digits"}, env.Error.Details)

	rec = s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/zone", strings.NewReader(`nope`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/sessions/not-a-uuid/zone", strings.NewReader(`{"cap":"00184"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/sessions/00000000-0000-0000-0000-000000000001/zone", strings.NewReader(`{"cap":"00184"}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpload_Rejections(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t)

	tests := []struct {
		name        string
		kind        string
		contentType string
		body        string
	}{
		{"bad kind", "middle", "application/pdf", "%PDF"},
		{"bad mime", "recent", "text/plain", "hello"},
		{"empty", "recent", "application/pdf", ""},
		{"too large", "old", "image/png", strings.Repeat("x", 2<<20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPut, "/api/v1/sessions/"+sid+"/documents/"+tt.kind,
				strings.NewReader(tt.body), map[string]string{"Content-Type": tt.contentType})
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, rec).Code)
		})
	}
}

func TestUpload_Multipart(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="file"; filename="bolletta.jpg"`},
		"Content-Type":        {"image/jpeg"},
	})
	require.NoError(t, err)
	_, _ = part.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
	require.NoError(t, mw.Close())

	rec := s.do(t, http.MethodPut, "/api/v1/sessions/"+sid+"/documents/old", &buf,
		map[string]string{"Content-Type": mw.FormDataContentType()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "old", data["kind"])
	assert.EqualValues(t, 4, data["size_bytes"])
}

func TestStartAnalysis_NeedsBothBills(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t)
	require.Equal(t, http.StatusOK, s.upload(t, sid, "recent").Code)

	rec := s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/analyses", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, s.queue.jobs)
}

func TestStartAnalysis_QueueFull(t *testing.T) {
	s := newTestServer(t, nil)
	s.queue.err = async.ErrQueueFull
	sid := s.newSession(t)
	require.Equal(t, http.StatusOK, s.upload(t, sid, "recent").Code)
	require.Equal(t, http.StatusOK, s.upload(t, sid, "old").Code)

	rec := s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/analyses", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// the stranded analysis is closed out so a retry is allowed
	s.queue.err = nil
	rec = s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/analyses", nil, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestStartAnalysis_ConcurrentStartsYieldOneJob(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t)
	require.Equal(t, http.StatusOK, s.upload(t, sid, "recent").Code)
	require.Equal(t, http.StatusOK, s.upload(t, sid, "old").Code)

	const n = 8
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/analyses", nil, nil).Code
		}()
	}
	wg.Wait()

	accepted := 0
	for _, c := range codes {
		if c == http.StatusAccepted {
			accepted++
			continue
		}
		assert.Equal(t, http.StatusConflict, c)
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, s.queue.jobs, 1)
}

func TestStartAnalysis_LookupErrorIsNotIgnored(t *testing.T) {
	s := newTestServerWith(t, nil, func(r repository.AnalysisRepository) repository.AnalysisRepository {
		return failingLatest{r}
	})
	sid := s.newSession(t)
	require.Equal(t, http.StatusOK, s.upload(t, sid, "recent").Code)
	require.Equal(t, http.StatusOK, s.upload(t, sid, "old").Code)

	rec := s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/analyses", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
	assert.Empty(t, s.queue.jobs)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, NewRateLimit(cache.NewMemoryCache(), 1, slog.New(slog.NewTextHandler(io.Discard, nil))))
	sid := s.newSession(t)

	rec := s.upload(t, sid, "recent")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = s.upload(t, sid, "old")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decodeError(t, rec).Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// other scopes keep their own window
	rec = s.do(t, http.MethodGet, "/api/v1/sessions/"+sid+"/result", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit_FailOpen(t *testing.T) {
	s := newTestServer(t, NewRateLimit(brokenCache{}, 1, slog.New(slog.NewTextHandler(io.Discard, nil))))
	sid := s.newSession(t)
	assert.Equal(t, http.StatusOK, s.upload(t, sid, "recent").Code)
	assert.Equal(t, http.StatusOK, s.upload(t, sid, "old").Code)
}

func TestZoneSummary(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/zones/00184", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "00184", data["zone_key"])
	assert.Equal(t, []any{}, data["points"])

	rec = s.do(t, http.MethodGet, "/api/v1/zones/unknown", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/zones/roma", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/admin/export.xlsx", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"password":"wrong"}`), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeError(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"password":"admin-pw"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token := decodeData(t, rec)["token"].(string)
	require.NotEmpty(t, token)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/export.xlsx", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/export.xlsx?limit=0", nil, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/export.xlsx", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip")
}

func (s *testServer) adminToken(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"password":"admin-pw"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return decodeData(t, rec)["token"].(string)
}

// completeSession runs a session through upload, start and commit without the pipeline.
func (s *testServer) completeSession(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	sid := s.newSession(t)
	require.Equal(t, http.StatusOK, s.upload(t, sid, "recent").Code)
	require.Equal(t, http.StatusOK, s.upload(t, sid, "old").Code)
	rec := s.do(t, http.MethodPost, "/api/v1/sessions/"+sid+"/analyses", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	aid := uuid.MustParse(decodeData(t, rec)["id"].(string))

	require.NoError(t, s.analyses.MarkRunning(ctx, aid))
	require.NoError(t, s.results.CommitAnalysis(ctx, repository.Outcome{
		AnalysisID: aid,
		SessionID:  uuid.MustParse(sid),
		ZoneKey:    "unknown",
		Bills: []entity.ExtractedBill{
			{Kind: constants.DocKindRecent, Fields: entity.BillFields{TotalDue: entity.Float(90), KWh: entity.Float(200)}, Method: "text-layer", Source: "regex"},
			{Kind: constants.DocKindOld, Fields: entity.BillFields{TotalDue: entity.Float(80), KWh: entity.Float(200)}, Method: "text-layer", Source: "regex"},
		},
		Findings: []entity.Finding{
			{Severity: entity.SeverityLow, Title: "Dati mancanti", Description: "d", RuleID: "R_MISSING_FIELDS"},
		},
		UserTrend:   entity.UserTrend{TotalRecent: 90, TotalOld: 80, DeltaTotal: 10, EurPerKWhDeltaPct: entity.Float(12.5)},
		Position:    entity.PositionRed,
		Explanation: "ok",
		Confidence:  60,
		SessionHash: "fedcba9876543210",
	}))
	return sid
}

func TestAdmin_Submissions(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.completeSession(t)
	pending := s.newSession(t)
	hdr := map[string]string{"Authorization": "Bearer " + s.adminToken(t)}

	for _, path := range []string{"/api/v1/admin/me", "/api/v1/admin/submissions", "/api/v1/admin/submissions/" + sid} {
		rec := s.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/admin/me", nil, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", decodeData(t, rec)["subject"])

	rec = s.do(t, http.MethodGet, "/api/v1/admin/submissions", nil, hdr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Data []submissionItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1, "only completed analyses are listed")
	assert.Equal(t, sid, list.Data[0].SessionID.String())
	assert.Equal(t, entity.PositionRed, list.Data[0].Position)
	assert.Equal(t, 1, list.Data[0].FindingsCount)
	require.NotNil(t, list.Data[0].DeltaPct)
	assert.InDelta(t, 12.5, *list.Data[0].DeltaPct, 1e-9)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/submissions?limit=x", nil, hdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/submissions/"+sid, nil, hdr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detail := decodeData(t, rec)
	assert.Len(t, detail["documents"], 2)
	assert.Equal(t, "done", detail["analysis"].(map[string]any)["status"])
	result := detail["result"].(map[string]any)
	assert.Equal(t, "red", result["position"])
	assert.Len(t, result["findings"], 1)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/submissions/"+pending, nil, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	detail = decodeData(t, rec)
	assert.Nil(t, detail["analysis"])
	assert.Nil(t, detail["result"])
	assert.Equal(t, []any{}, detail["documents"])

	rec = s.do(t, http.MethodGet, "/api/v1/admin/submissions/00000000-0000-0000-0000-000000000001", nil, hdr)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/admin/submissions/nope", nil, hdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeData(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}

func TestRecovery(t *testing.T) {
	h := Recovery(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}
