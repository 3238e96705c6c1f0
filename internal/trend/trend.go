package trend

import "github.com/joseph-ayodele/bill-trends/internal/entity"

// ComputeUserTrend compares the recent bill with the old one. Missing amounts count as zero
// for deltas; unit costs stay nil when the kWh quantity is zero.
func ComputeUserTrend(recent, old entity.BillFields) entity.UserTrend {
	t := entity.UserTrend{
		TotalRecent: orZero(recent.TotalDue),
		TotalOld:    orZero(old.TotalDue),
		KWhRecent:   orZero(recent.KWh),
		KWhOld:      orZero(old.KWh),
		SmcRecent:   orZero(recent.Smc),
		SmcOld:      orZero(old.Smc),
	}
	t.DeltaTotal = t.TotalRecent - t.TotalOld
	t.DeltaKWh = t.KWhRecent - t.KWhOld
	t.DeltaSmc = t.SmcRecent - t.SmcOld

	t.EurPerKWhRecent = ratio(t.TotalRecent, t.KWhRecent)
	t.EurPerKWhOld = ratio(t.TotalOld, t.KWhOld)
	if t.EurPerKWhRecent != nil && t.EurPerKWhOld != nil && *t.EurPerKWhOld != 0 {
		pct := (*t.EurPerKWhRecent - *t.EurPerKWhOld) / *t.EurPerKWhOld * 100
		t.EurPerKWhDeltaPct = &pct
	}
	return t
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func ratio(num, den float64) *float64 {
	if den == 0 {
		return nil
	}
	r := num / den
	return &r
}
