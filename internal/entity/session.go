package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/bill-trends/constants"
)

// Session is one anonymous user journey: a zone and two uploaded bills.
type Session struct {
	ID        uuid.UUID               `json:"id"`
	CreatedAt time.Time               `json:"created_at"`
	Status    constants.SessionStatus `json:"status"`
	CAP       *string                 `json:"cap,omitempty"`
	ZoneKey   *string                 `json:"zone_key,omitempty"`
}

// Document is an uploaded bill stored in the blob store.
type Document struct {
	ID        uuid.UUID         `json:"id"`
	SessionID uuid.UUID         `json:"session_id"`
	Kind      constants.DocKind `json:"kind"`
	Path      string            `json:"path"`
	MIMEType  string            `json:"mime_type"`
	SizeBytes int64             `json:"size_bytes"`
	CreatedAt time.Time         `json:"created_at"`
}

// Analysis is one attempt at running the pipeline for a session.
type Analysis struct {
	ID         uuid.UUID                `json:"id"`
	SessionID  uuid.UUID                `json:"session_id"`
	Status     constants.AnalysisStatus `json:"status"`
	Error      *string                  `json:"error,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	StartedAt  *time.Time               `json:"started_at,omitempty"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
}

// AnalysisResult is the committed outcome of a successful analysis.
type AnalysisResult struct {
	SessionID   uuid.UUID       `json:"session_id"`
	AnalysisID  uuid.UUID       `json:"analysis_id"`
	ZoneKey     string          `json:"zone_key"`
	Bills       []ExtractedBill `json:"bills"`
	Findings    []Finding       `json:"findings"`
	UserTrend   UserTrend       `json:"user_trend"`
	ZoneTrend   ZoneTrend       `json:"zone_trend"`
	Position    Position        `json:"position"`
	Explanation string          `json:"explanation"`
	Confidence  int             `json:"confidence"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MapPoint is an anonymized, jittered marker on the zone map.
type MapPoint struct {
	ZoneKey   string    `json:"-"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Color     Position  `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}
