package geo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

func TestApproxCoords_KnownCAPs(t *testing.T) {
	l := NewLocator(1)
	lat, lng := l.ApproxCoords("20100")
	assert.Equal(t, 45.46, lat)
	assert.Equal(t, 9.19, lng)

	lat, lng = l.ApproxCoords("")
	assert.Equal(t, 41.9, lat)
	assert.Equal(t, 12.5, lng)
}

func TestApproxCoords_Derived(t *testing.T) {
	l := NewLocator(42)
	for i := 0; i < 50; i++ {
		lat, lng := l.ApproxCoords("00184") // prefix 1
		assert.InDelta(t, 41.5, lat, 0.2+GridSize)
		assert.InDelta(t, 12.5, lng, 0.2+GridSize)
		assert.InDelta(t, 0, math.Abs(lat*100-math.Round(lat*100)), 1e-6, "grid rounded")
	}
}

func TestApproxCoords_NonNumericFallsBack(t *testing.T) {
	lat, lng := NewLocator(3).ApproxCoords("AB123")
	assert.Equal(t, 41.9, lat)
	assert.Equal(t, 12.5, lng)
}

func TestPoint_JitterBounds(t *testing.T) {
	l := NewLocator(7)
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		p := l.Point("80100", "80100", entity.PositionRed, at)
		assert.InDelta(t, 40.84, p.Lat, Jitter+1e-5)
		assert.InDelta(t, 14.25, p.Lng, Jitter+1e-5)
		assert.Equal(t, p.Lat, round5(p.Lat))
		assert.Equal(t, entity.PositionRed, p.Color)
		assert.Equal(t, "80100", p.ZoneKey)
		assert.Equal(t, at, p.CreatedAt)
	}
}

func TestSessionHash(t *testing.T) {
	h := SessionHash("8d1f7a6e-3c55-4e0e-9a43-2b1a7c9d0f11")
	assert.Len(t, h, 16)
	assert.Equal(t, h, SessionHash("8d1f7a6e-3c55-4e0e-9a43-2b1a7c9d0f11"))
	assert.NotEqual(t, h, SessionHash("other"))
}

func TestCoverageOpacity(t *testing.T) {
	tests := []struct {
		count int
		want  float64
	}{
		{0, 0.2},
		{-3, 0.2},
		{25, 0.6},
		{50, 1.0},
		{900, 1.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, CoverageOpacity(tt.count), 1e-9, "count=%d", tt.count)
	}
}
