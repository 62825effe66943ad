package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-pooling/internal/models"
)

// TripIndex is a Redis GEO projection of open-trip origins. The consumer
// keeps it current from ride events; the matcher uses it to narrow the
// candidate scan around a pickup point. It is advisory only: capacity and
// status filtering always happen in the store.
type TripIndex struct {
	client *redis.Client
	key    string
}

func NewTripIndex(addr, password, key string) *TripIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &TripIndex{client: c, key: key}
}

// Near returns trip ids whose origin lies within radiusKm of the point,
// closest first.
func (t *TripIndex) Near(ctx context.Context, p models.Coord, radiusKm float64) ([]string, error) {
	return t.client.GeoSearch(ctx, t.key, &redis.GeoSearchQuery{
		Longitude:  p.Lon,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
}

func (t *TripIndex) Close() error { return t.client.Close() }
