package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-pooling/internal/models"
)

// fakeWriter implements TripGeoWriter for tests
type fakeWriter struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
}

func (f *fakeWriter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeWriter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func tripCreatedEvent() models.RideEvent {
	return models.RideEvent{
		Type:   models.EventTripCreated,
		TripID: "trip-1",
		Origin: &models.Coord{Lat: 12.9716, Lon: 77.5946},
		Seats:  1, Luggage: 1,
		At: time.Now().UTC(),
	}
}

func TestIndexTripWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeWriter{failGeo: 1, failH: 1}
	ctx := context.Background()
	start := time.Now()
	if err := indexTripWithRetry(ctx, f, "trips_geo", tripCreatedEvent(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestIndexTripWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeWriter{failGeo: 5, failH: 0}
	ctx := context.Background()
	if err := indexTripWithRetry(ctx, f, "trips_geo", tripCreatedEvent(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
