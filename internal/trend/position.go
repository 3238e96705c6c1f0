package trend

import (
	"math"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

const (
	DefaultGreenPct  = 15.0
	DefaultYellowPct = 30.0
)

const (
	ExplainInsufficient = "Dati insufficienti per il confronto con la zona."
	ExplainGreen        = "Sei in linea con l'andamento della tua zona."
	ExplainYellow       = "Stai iniziando ad allontanarti dal trend della zona."
	ExplainRed          = "Il tuo andamento è fuori trend rispetto alla tua zona."
)

// Thresholds bound the absolute gap, in percentage points, between user and zone unit-cost deltas.
type Thresholds struct {
	GreenPct  float64 `yaml:"green_pct"`
	YellowPct float64 `yaml:"yellow_pct"`
}

// DefaultThresholds returns 15 / 30.
func DefaultThresholds() Thresholds {
	return Thresholds{GreenPct: DefaultGreenPct, YellowPct: DefaultYellowPct}
}

// ComputePosition classifies user against zone. An undefined user delta is yellow.
func ComputePosition(user entity.UserTrend, zone entity.ZoneTrend, th Thresholds) (entity.Position, string) {
	if user.EurPerKWhDeltaPct == nil {
		return entity.PositionYellow, ExplainInsufficient
	}
	diff := math.Abs(*user.EurPerKWhDeltaPct - zone.EurPerKWhDeltaPct)
	switch {
	case diff <= th.GreenPct:
		return entity.PositionGreen, ExplainGreen
	case diff <= th.YellowPct:
		return entity.PositionYellow, ExplainYellow
	default:
		return entity.PositionRed, ExplainRed
	}
}
