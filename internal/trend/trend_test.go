package trend

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

func TestComputeUserTrend(t *testing.T) {
	got := ComputeUserTrend(
		entity.BillFields{TotalDue: entity.Float(100), KWh: entity.Float(200)},
		entity.BillFields{TotalDue: entity.Float(80), KWh: entity.Float(180)},
	)
	assert.InDelta(t, 20.0, got.DeltaTotal, 1e-9)
	assert.InDelta(t, 20.0, got.DeltaKWh, 1e-9)
	require.NotNil(t, got.EurPerKWhRecent)
	assert.InDelta(t, 0.5, *got.EurPerKWhRecent, 1e-9)
	require.NotNil(t, got.EurPerKWhOld)
	assert.InDelta(t, 0.4444, *got.EurPerKWhOld, 1e-3)
	require.NotNil(t, got.EurPerKWhDeltaPct)
	assert.InDelta(t, 12.5, *got.EurPerKWhDeltaPct, 1e-9)
}

func TestComputeUserTrend_MissingValues(t *testing.T) {
	got := ComputeUserTrend(
		entity.BillFields{TotalDue: entity.Float(60), Smc: entity.Float(40)},
		entity.BillFields{},
	)
	assert.Equal(t, 60.0, got.DeltaTotal)
	assert.Equal(t, 0.0, got.DeltaKWh)
	assert.Equal(t, 40.0, got.DeltaSmc)
	assert.Nil(t, got.EurPerKWhRecent)
	assert.Nil(t, got.EurPerKWhOld)
	assert.Nil(t, got.EurPerKWhDeltaPct)
}

func TestComputeUserTrend_ZeroOldTotal(t *testing.T) {
	got := ComputeUserTrend(
		entity.BillFields{TotalDue: entity.Float(50), KWh: entity.Float(100)},
		entity.BillFields{KWh: entity.Float(100)},
	)
	require.NotNil(t, got.EurPerKWhOld)
	assert.Equal(t, 0.0, *got.EurPerKWhOld)
	assert.Nil(t, got.EurPerKWhDeltaPct, "zero old unit cost cannot be a denominator")
}

func pct(v float64) *float64 { return &v }

func TestComputePosition(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name    string
		user    *float64
		zone    entity.ZoneTrend
		want    entity.Position
		explain string
	}{
		{"green", pct(5), entity.ZoneTrend{EurPerKWhDeltaPct: 4, Count: 3}, entity.PositionGreen, ExplainGreen},
		{"red", pct(50), entity.ZoneTrend{}, entity.PositionRed, ExplainRed},
		{"green boundary inclusive", pct(15), entity.ZoneTrend{}, entity.PositionGreen, ExplainGreen},
		{"yellow", pct(-20), entity.ZoneTrend{}, entity.PositionYellow, ExplainYellow},
		{"yellow boundary inclusive", pct(40), entity.ZoneTrend{EurPerKWhDeltaPct: 10}, entity.PositionYellow, ExplainYellow},
		{"undefined user delta", nil, entity.ZoneTrend{EurPerKWhDeltaPct: 80}, entity.PositionYellow, ExplainInsufficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, explain := ComputePosition(entity.UserTrend{EurPerKWhDeltaPct: tt.user}, tt.zone, th)
			assert.Equal(t, tt.want, pos)
			assert.Equal(t, tt.explain, explain)
		})
	}
}

func TestComputePosition_CustomThresholds(t *testing.T) {
	pos, _ := ComputePosition(entity.UserTrend{EurPerKWhDeltaPct: pct(8)}, entity.ZoneTrend{},
		Thresholds{GreenPct: 5, YellowPct: 10})
	assert.Equal(t, entity.PositionYellow, pos)
}

func TestAggregateZone_Empty(t *testing.T) {
	assert.Equal(t, entity.ZoneTrend{}, AggregateZone(nil))
	assert.Equal(t, entity.ZoneTrend{}, AggregateZone([]*float64{nil, nil}))
}

func TestAggregateZone_SmallSampleUntrimmed(t *testing.T) {
	got := AggregateZone([]*float64{pct(9), nil, pct(1), pct(5), pct(100)})
	// sorted 1,5,9,100 -> index 2
	assert.Equal(t, entity.ZoneTrend{EurPerKWhDeltaPct: 9, Count: 4}, got)
}

func TestAggregateZone_LowerMiddleForEvenCounts(t *testing.T) {
	got := AggregateZone([]*float64{pct(4), pct(1), pct(3), pct(2)})
	assert.Equal(t, 3.0, got.EurPerKWhDeltaPct)
}

func TestAggregateZone_TrimsOutliers(t *testing.T) {
	samples := make([]*float64, 0, 20)
	for i := 0; i < 18; i++ {
		samples = append(samples, pct(float64(i)))
	}
	samples = append(samples, pct(-1e6), pct(1e6))

	got := AggregateZone(samples)
	assert.Equal(t, 20, got.Count)
	assert.GreaterOrEqual(t, got.EurPerKWhDeltaPct, 0.0)
	assert.LessOrEqual(t, got.EurPerKWhDeltaPct, 17.0)
	// trimmed = sorted[2:18] = 1..16, index 8 -> 9
	assert.Equal(t, 9.0, got.EurPerKWhDeltaPct)
}

func TestAggregateZone_TrimBoundary(t *testing.T) {
	nine := []*float64{pct(1), pct(2), pct(3), pct(4), pct(5), pct(6), pct(7), pct(8), pct(math.Inf(1))}
	assert.Equal(t, 5.0, AggregateZone(nine).EurPerKWhDeltaPct)

	ten := append([]*float64{pct(-500)}, nine...)
	// sorted -500,1..8,+Inf; trimmed [1:9] = 1..8 -> index 4 -> 5
	assert.Equal(t, 5.0, AggregateZone(ten).EurPerKWhDeltaPct)
	assert.Equal(t, 10, AggregateZone(ten).Count)
}

func TestZoneKey(t *testing.T) {
	assert.Equal(t, "00184", ZoneKey(" 00184 "))
	assert.Equal(t, "20121", ZoneKey("2012199"))
	assert.Equal(t, UnknownZone, ZoneKey(""))
	assert.Equal(t, UnknownZone, ZoneKey("   "))
}

func TestNormalizeCAP(t *testing.T) {
	code, ok := NormalizeCAP(" 00 184")
	assert.True(t, ok)
	assert.Equal(t, "00184", code)

	_, ok = NormalizeCAP("0018")
	assert.False(t, ok)
	_, ok = NormalizeCAP("0018A")
	assert.False(t, ok)
}
