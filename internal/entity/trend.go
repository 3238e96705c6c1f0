package entity

// UserTrend compares the recent bill against the older one for a single session.
// Unit-cost values are nil when the quantity for that period is zero.
type UserTrend struct {
	TotalRecent float64 `json:"total_recent"`
	TotalOld    float64 `json:"total_old"`
	DeltaTotal  float64 `json:"delta_total"`

	KWhRecent float64 `json:"kwh_recent"`
	KWhOld    float64 `json:"kwh_old"`
	DeltaKWh  float64 `json:"delta_kwh"`

	SmcRecent float64 `json:"smc_recent"`
	SmcOld    float64 `json:"smc_old"`
	DeltaSmc  float64 `json:"delta_smc"`

	EurPerKWhRecent   *float64 `json:"eur_per_kwh_recent"`
	EurPerKWhOld      *float64 `json:"eur_per_kwh_old"`
	EurPerKWhDeltaPct *float64 `json:"eur_per_kwh_delta_pct"`
}

// ZoneTrend is the robust aggregate of every UserTrend sharing a zone key.
type ZoneTrend struct {
	EurPerKWhDeltaPct float64 `json:"eur_per_kwh_delta_pct"`
	Count             int     `json:"count"`
}

// Position classifies a user against their zone.
type Position string

const (
	PositionGreen  Position = "green"
	PositionYellow Position = "yellow"
	PositionRed    Position = "red"
)

// Label is the short Italian badge used on passports and exports.
func (p Position) Label() string {
	switch p {
	case PositionGreen:
		return "In linea"
	case PositionYellow:
		return "In scostamento"
	case PositionRed:
		return "Fuori trend"
	}
	return string(p)
}
