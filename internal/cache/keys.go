package cache

import "fmt"

func ZoneTrendKey(zoneKey string) string {
	return fmt.Sprintf("zone:trend:%s", zoneKey)
}

func RateLimitKey(scope, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, client)
}
