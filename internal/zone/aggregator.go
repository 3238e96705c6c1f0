package zone

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/bill-trends/internal/cache"
	"github.com/joseph-ayodele/bill-trends/internal/entity"
	"github.com/joseph-ayodele/bill-trends/internal/geo"
	"github.com/joseph-ayodele/bill-trends/internal/trend"
)

// Source reads the persisted per-session trends of a zone.
type Source interface {
	ZoneSamples(ctx context.Context, zoneKey string) ([]*float64, error)
	ZonePoints(ctx context.Context, zoneKey string, limit int) ([]entity.MapPoint, error)
}

// Summary is the public view of a zone: aggregate trend plus anonymized points.
type Summary struct {
	ZoneKey  string            `json:"zone_key"`
	Trend    entity.ZoneTrend  `json:"trend"`
	Points   []entity.MapPoint `json:"points"`
	Coverage float64           `json:"coverage_opacity"`
}

// Aggregator computes zone trends on read. Results are cached for ttl; a nil cache disables
// caching. Cache failures are logged and never fail a read.
type Aggregator struct {
	src   Source
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger

	// gen counts invalidations per zone so a compute that overlapped one is not cached.
	mu  sync.Mutex
	gen map[string]uint64
}

func NewAggregator(src Source, c cache.Cache, ttl time.Duration, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{src: src, cache: c, ttl: ttl, log: log, gen: make(map[string]uint64)}
}

func (a *Aggregator) generation(zoneKey string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen[zoneKey]
}

// Trend returns the trimmed-median aggregate for zoneKey. An aggregate computed while the zone
// was invalidated in this process is returned but not left in the cache.
func (a *Aggregator) Trend(ctx context.Context, zoneKey string) (entity.ZoneTrend, error) {
	key := cache.ZoneTrendKey(zoneKey)
	start := a.generation(zoneKey)
	if a.cache != nil && a.ttl > 0 {
		b, ok, err := a.cache.Get(ctx, key)
		switch {
		case err != nil:
			a.log.Warn("zone.cache.get_failed", "zone", zoneKey, "error", err)
		case ok:
			var zt entity.ZoneTrend
			if err := json.Unmarshal(b, &zt); err == nil {
				return zt, nil
			}
			a.log.Warn("zone.cache.corrupt", "zone", zoneKey)
		}
	}

	samples, err := a.src.ZoneSamples(ctx, zoneKey)
	if err != nil {
		return entity.ZoneTrend{}, err
	}
	zt := trend.AggregateZone(samples)
	a.log.Debug("zone.trend.computed", "zone", zoneKey, "samples", len(samples), "count", zt.Count)

	if a.cache != nil && a.ttl > 0 {
		b, _ := json.Marshal(zt)
		if err := a.cache.Set(ctx, key, b, a.ttl); err != nil {
			a.log.Warn("zone.cache.set_failed", "zone", zoneKey, "error", err)
		} else if a.generation(zoneKey) != start {
			a.log.Debug("zone.trend.stale", "zone", zoneKey)
			a.drop(ctx, zoneKey)
		}
	}
	return zt, nil
}

// Invalidate drops the cached aggregate of zoneKey; called after a trend enters the zone.
func (a *Aggregator) Invalidate(ctx context.Context, zoneKey string) {
	a.mu.Lock()
	a.gen[zoneKey]++
	a.mu.Unlock()
	a.drop(ctx, zoneKey)
}

func (a *Aggregator) drop(ctx context.Context, zoneKey string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Delete(ctx, cache.ZoneTrendKey(zoneKey)); err != nil {
		a.log.Warn("zone.cache.invalidate_failed", "zone", zoneKey, "error", err)
	}
}

// Summary returns the aggregate trend and the latest map points of a zone.
func (a *Aggregator) Summary(ctx context.Context, zoneKey string) (*Summary, error) {
	zt, err := a.Trend(ctx, zoneKey)
	if err != nil {
		return nil, err
	}
	points, err := a.src.ZonePoints(ctx, zoneKey, geo.MaxZonePoints)
	if err != nil {
		return nil, err
	}
	if points == nil {
		points = []entity.MapPoint{}
	}
	return &Summary{
		ZoneKey:  zoneKey,
		Trend:    zt,
		Points:   points,
		Coverage: geo.CoverageOpacity(len(points)),
	}, nil
}
