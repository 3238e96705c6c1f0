package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/bill-trends/internal/auth"
	"github.com/joseph-ayodele/bill-trends/internal/common"
	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

const (
	maxExportRows          = 10000
	defaultSubmissionsPage = 50
)

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) adminLogin(w http.ResponseWriter, r *http.Request) {
	if a.Admin == nil || !a.Admin.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "ADMIN_DISABLED", "Admin access is not configured")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "body must be JSON with a password field")
		return
	}
	token, exp, err := a.Admin.Login(req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		a.log.Warn("admin.login.rejected", "request_id", common.RequestIDFromContext(r.Context()))
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
		return
	case err != nil:
		a.log.Error("admin.login.failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}
	a.log.Info("admin.login.ok")
	writeData(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp.UTC()})
}

// queryLimit reads ?limit=, defaulting to def and capped at maxExportRows.
func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxExportRows), true
}

func (a *API) adminMe(w http.ResponseWriter, r *http.Request) {
	subject, _ := common.AdminSubjectFromContext(r.Context())
	writeData(w, http.StatusOK, map[string]string{"subject": subject})
}

type submissionItem struct {
	SessionID     uuid.UUID       `json:"session_id"`
	ZoneKey       string          `json:"zone_key"`
	CreatedAt     time.Time       `json:"created_at"`
	Position      entity.Position `json:"position"`
	DeltaPct      *float64        `json:"eur_per_kwh_delta_pct"`
	Confidence    int             `json:"confidence"`
	FindingsCount int             `json:"findings_count"`
}

func (a *API) adminSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultSubmissionsPage)
	if !ok {
		return
	}
	rows, err := a.Results.ListCompleted(r.Context(), limit)
	if err != nil {
		a.log.Error("admin.submissions.failed", "error", err)
		writeAppError(w, err)
		return
	}
	items := make([]submissionItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, submissionItem{
			SessionID:     row.SessionID,
			ZoneKey:       row.ZoneKey,
			CreatedAt:     row.CreatedAt.UTC(),
			Position:      row.Position,
			DeltaPct:      row.DeltaPct,
			Confidence:    row.Confidence,
			FindingsCount: row.FindingsCount,
		})
	}
	writeData(w, http.StatusOK, items)
}

type submissionDetail struct {
	Session   *entity.Session        `json:"session"`
	Documents []*entity.Document     `json:"documents"`
	Analysis  *entity.Analysis       `json:"analysis"`
	Result    *entity.AnalysisResult `json:"result"`
}

func (a *API) adminSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathUUID(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "session id must be a UUID")
		return
	}
	sess, err := a.Sessions.Get(ctx, id)
	if err != nil {
		a.logUnexpected("admin.submission.failed", err)
		writeAppError(w, err)
		return
	}
	docs, err := a.Documents.ListBySession(ctx, id)
	if err != nil {
		a.logUnexpected("admin.submission.failed", err)
		writeAppError(w, err)
		return
	}
	detail := submissionDetail{Session: sess, Documents: docs}
	if detail.Documents == nil {
		detail.Documents = []*entity.Document{}
	}

	detail.Analysis, err = a.Analyses.LatestForSession(ctx, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		a.logUnexpected("admin.submission.failed", err)
		writeAppError(w, err)
		return
	}
	detail.Result, err = a.Results.GetResult(ctx, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		a.logUnexpected("admin.submission.failed", err)
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, detail)
}

func (a *API) adminExport(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, maxExportRows)
	if !ok {
		return
	}
	body, err := a.Exporter.ExportXLSX(r.Context(), limit)
	if err != nil {
		a.log.Error("export.xlsx.failed", "error", err)
		writeAppError(w, err)
		return
	}
	subject, _ := common.AdminSubjectFromContext(r.Context())
	a.log.Info("admin.export", "subject", subject, "bytes", len(body))
	writeFile(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"analisi-"+a.now().UTC().Format("20060102")+".xlsx", body)
}
