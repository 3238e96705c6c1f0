package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/async"
	"github.com/joseph-ayodele/bill-trends/internal/common"
	"github.com/joseph-ayodele/bill-trends/internal/entity"
	"github.com/joseph-ayodele/bill-trends/internal/ingest"
	"github.com/joseph-ayodele/bill-trends/internal/metrics"
	"github.com/joseph-ayodele/bill-trends/internal/report"
	"github.com/joseph-ayodele/bill-trends/internal/trend"
)

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Create(r.Context())
	if err != nil {
		a.log.Error("session.create.failed", "error", err)
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusCreated, s)
}

type setZoneRequest struct {
	CAP string `json:"cap"`
}

func (a *API) setZone(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "session id must be a UUID")
		return
	}
	var req setZoneRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "body must be JSON with a cap field")
		return
	}
	v := common.NewValidator().Field("cap", req.CAP, common.Required, common.CAP)
	if v.HasErrors() {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
			Code: "INVALID_ARGUMENT", Message: v.ErrorMessage(), Details: v.Details(),
		}})
		return
	}
	code, _ := trend.NormalizeCAP(req.CAP)
	s, err := a.Sessions.SetZone(r.Context(), id, code, trend.ZoneKey(code))
	if err != nil {
		a.logUnexpected("session.zone.failed", err)
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, s)
}

type uploadResponse struct {
	DocumentID    string                  `json:"document_id"`
	Kind          constants.DocKind       `json:"kind"`
	SHA256        string                  `json:"sha256"`
	SizeBytes     int64                   `json:"size_bytes"`
	Replaced      bool                    `json:"replaced"`
	SessionStatus constants.SessionStatus `json:"session_status"`
}

// uploadDocument accepts the bill either as the raw request body (Content-Type names the file
// type) or as the "file" part of a multipart form.
func (a *API) uploadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "session id must be a UUID")
		return
	}
	kind := chi.URLParam(r, "kind")
	up := ingest.Upload{SessionID: id, Kind: kind, Size: r.ContentLength, Body: r.Body}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		limit := a.Ingestor.MaxBytes() + 1<<20
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		file, hdr, err := r.FormFile("file")
		if err != nil {
			metrics.IncUpload(kind, metrics.ResultError)
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "multipart upload needs a file part")
			return
		}
		defer file.Close()
		up.Body = file
		up.Size = hdr.Size
		up.MIMEType = hdr.Header.Get("Content-Type")
	} else {
		up.MIMEType = mediaType
	}

	res, err := a.Ingestor.IngestUpload(r.Context(), up)
	if err != nil {
		metrics.IncUpload(kind, metrics.ResultError)
		a.logUnexpected("upload.failed", err)
		writeAppError(w, err)
		return
	}
	metrics.IncUpload(string(res.Kind), metrics.ResultOK)
	writeData(w, http.StatusOK, uploadResponse{
		DocumentID:    res.DocumentID.String(),
		Kind:          res.Kind,
		SHA256:        res.HashHex,
		SizeBytes:     res.SizeBytes,
		Replaced:      res.Replaced,
		SessionStatus: res.SessionStatus,
	})
}

func (a *API) startAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathUUID(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "session id must be a UUID")
		return
	}
	if _, err := a.Sessions.Get(ctx, id); err != nil {
		a.logUnexpected("analysis.start.failed", err)
		writeAppError(w, err)
		return
	}
	docs, err := a.Documents.ListBySession(ctx, id)
	if err != nil {
		a.logUnexpected("analysis.start.failed", err)
		writeAppError(w, err)
		return
	}
	if len(docs) < 2 {
		writeError(w, http.StatusConflict, "CONFLICT", "both the recent and the old bill are required")
		return
	}
	prev, err := a.Analyses.LatestForSession(ctx, id)
	switch {
	case err == nil && !prev.Status.Terminal():
		writeError(w, http.StatusConflict, "CONFLICT", "an analysis is already in progress")
		return
	case err != nil && !errors.Is(err, common.ErrNotFound):
		a.logUnexpected("analysis.start.failed", err)
		writeAppError(w, err)
		return
	}

	// Create rejects a second active analysis for the session, so concurrent starts
	// that both passed the check above still yield a single job.
	an, err := a.Analyses.Create(ctx, id)
	if err != nil {
		a.logUnexpected("analysis.start.failed", err)
		writeAppError(w, err)
		return
	}
	err = a.Queue.Enqueue(ctx, async.Job{AnalysisID: an.ID, SubmittedAt: a.now(), TraceID: common.RequestIDFromContext(ctx)})
	if err != nil {
		msg := "analysis queue is full, retry later"
		if errors.Is(err, async.ErrQueueClosed) {
			msg = "service is shutting down, retry later"
		}
		if mErr := a.Analyses.MarkError(ctx, an.ID, msg); mErr != nil {
			a.log.Error("analysis.enqueue.mark_error_failed", "analysis_id", an.ID, "error", mErr)
		}
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", msg)
		return
	}
	writeData(w, http.StatusAccepted, an)
}

func (a *API) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "analysisID")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "analysis id must be a UUID")
		return
	}
	an, err := a.Analyses.Get(r.Context(), id)
	if err != nil {
		a.logUnexpected("analysis.get.failed", err)
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, an)
}

func (a *API) loadResult(w http.ResponseWriter, r *http.Request) (*entity.AnalysisResult, bool) {
	id, ok := pathUUID(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "session id must be a UUID")
		return nil, false
	}
	res, err := a.Results.GetResult(r.Context(), id)
	if err != nil {
		a.logUnexpected("result.get.failed", err)
		writeAppError(w, err)
		return nil, false
	}
	return res, true
}

func (a *API) getResult(w http.ResponseWriter, r *http.Request) {
	if res, ok := a.loadResult(w, r); ok {
		writeData(w, http.StatusOK, res)
	}
}

func (a *API) passport(w http.ResponseWriter, r *http.Request) {
	res, ok := a.loadResult(w, r)
	if !ok {
		return
	}
	pdf, err := report.Passport(res, a.PublicBaseURL, res.CreatedAt)
	if err != nil {
		a.log.Error("passport.render.failed", "session_id", res.SessionID, "error", err)
		writeAppError(w, err)
		return
	}
	writeFile(w, "application/pdf", "passaporto-"+res.SessionID.String()+".pdf", pdf)
}

func (a *API) getZone(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "zone"))
	key := raw
	if key != trend.UnknownZone {
		code, ok := trend.NormalizeCAP(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "zone must be a 5 digit CAP")
			return
		}
		key = trend.ZoneKey(code)
	}
	sum, err := a.Zones.Summary(r.Context(), key)
	if err != nil {
		a.log.Error("zone.summary.failed", "zone", key, "error", err)
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, sum)
}

// logUnexpected logs errors that are not client mistakes.
func (a *API) logUnexpected(event string, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) && !errors.Is(err, common.ErrInternal) && !errors.Is(err, common.ErrDatabase) {
		a.log.Debug(event, "error", err)
		return
	}
	a.log.Error(event, "error", err)
}
