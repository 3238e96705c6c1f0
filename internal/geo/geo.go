// Package geo turns a CAP into a deliberately coarse, randomized map position.
// It is an anonymization step, not geocoding.
package geo

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

const (
	GridSize = 0.01
	Jitter   = 0.002
	// MaxZonePoints bounds the points returned for one zone.
	MaxZonePoints = 500
	// FullCoverageCount is the point count at which coverage opacity saturates.
	FullCoverageCount = 50

	defaultCAP = "00100"
)

type coords struct{ lat, lng float64 }

var knownCAPs = map[string]coords{
	"00100": {41.9, 12.5},
	"20100": {45.46, 9.19},
	"80100": {40.84, 14.25},
}

// Locator places map points. The zero value is not usable; use NewLocator.
type Locator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewLocator seeds from the clock when seed is zero.
func NewLocator(seed uint64) *Locator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Locator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *Locator) uniform(lo, hi float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo + l.rng.Float64()*(hi-lo)
}

// ApproxCoords maps a CAP to a grid-rounded point near its area.
func (l *Locator) ApproxCoords(code string) (lat, lng float64) {
	code = strings.TrimSpace(code)
	if code == "" {
		code = defaultCAP
	}
	if len(code) > 5 {
		code = code[:5]
	}
	if c, ok := knownCAPs[code]; ok {
		return c.lat, c.lng
	}
	prefix := 0
	if len(code) >= 3 {
		p, err := strconv.Atoi(code[:3])
		if err != nil {
			return knownCAPs[defaultCAP].lat, knownCAPs[defaultCAP].lng
		}
		prefix = p
	}
	lat = 41.0 + float64(prefix%10)*0.5 + l.uniform(-0.2, 0.2)
	lng = 12.0 + float64(prefix%7)*0.5 + l.uniform(-0.2, 0.2)
	return gridRound(lat), gridRound(lng)
}

// Point builds the anonymized marker for a committed analysis.
func (l *Locator) Point(code, zoneKey string, color entity.Position, at time.Time) entity.MapPoint {
	lat, lng := l.ApproxCoords(code)
	lat = round5(lat + l.uniform(-Jitter, Jitter))
	lng = round5(lng + l.uniform(-Jitter, Jitter))
	return entity.MapPoint{ZoneKey: zoneKey, Lat: lat, Lng: lng, Color: color, CreatedAt: at}
}

// SessionHash is the only trace of a session kept alongside a map point.
func SessionHash(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])[:16]
}

// CoverageOpacity grows from 0.2 to 1.0 with the number of points in a zone.
func CoverageOpacity(count int) float64 {
	switch {
	case count <= 0:
		return 0.2
	case count >= FullCoverageCount:
		return 1.0
	}
	return 0.2 + 0.8*float64(count)/FullCoverageCount
}

func gridRound(v float64) float64 {
	return math.Round(v/GridSize) * GridSize
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
