package constants

// SessionStatus tracks how far a user session got through the upload wizard.
type SessionStatus string

const (
	SessionStatusStarted  SessionStatus = "started"  // created, no zone yet
	SessionStatusZoneSet  SessionStatus = "zone_set" // CAP accepted
	SessionStatusUploaded SessionStatus = "uploaded" // both bills stored
)

// AnalysisStatus is the canonical status for rows in analyses.
type AnalysisStatus string

// Stable values (store these exact strings in DB).
const (
	AnalysisStatusPending AnalysisStatus = "pending" // queued, not picked up yet
	AnalysisStatusRunning AnalysisStatus = "running" // a worker owns it
	AnalysisStatusDone    AnalysisStatus = "done"    // outcome committed
	AnalysisStatusError   AnalysisStatus = "error"   // terminal failure, see error column
)

// Terminal reports whether no further transition is allowed.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisStatusDone || s == AnalysisStatusError
}
