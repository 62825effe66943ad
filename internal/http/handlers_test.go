package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-pooling/internal/booking"
	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/dispatch"
	"github.com/example/ride-pooling/internal/logging"
	"github.com/example/ride-pooling/internal/matcher"
	"github.com/example/ride-pooling/internal/pricing"
	"github.com/example/ride-pooling/internal/rides"
	"github.com/example/ride-pooling/internal/storage"
)

func newTestServer() (*Server, storage.Store) {
	store := storage.NewMemoryStore()
	cfg := config.MatchingConfig{ProximityThresholdKm: 5.0, MatchRetries: 3, DefaultSeatCap: 4, DefaultLuggageCap: 4}
	svc := &rides.Service{
		Store:   store,
		Finder:  matcher.NewFinder(store, nil, cfg),
		Booking: booking.NewCoordinator(store),
		Pricing: pricing.NewCalculator(config.PricingConfig{BaseFare: 10, PerKmRate: 2, DiscountStep: 0.10, DiscountCap: 0.50}),
		Cfg:     cfg,
	}
	return NewServer(svc, dispatch.NewWSRegistry(), logging.NewLogger("error")), store
}

func ridePayload() map[string]any {
	now := time.Now().UTC()
	return map[string]any{
		"user_id":                  "user_test_1",
		"pickup_lat":               12.9716,
		"pickup_lon":               77.5946,
		"dropoff_lat":              13.1986,
		"dropoff_lon":              77.7066,
		"seats_needed":             1,
		"luggage_count":            0,
		"pickup_time_window_start": now.Format(time.RFC3339),
		"pickup_time_window_end":   now.Add(15 * time.Minute).Format(time.RFC3339),
	}
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestRequestAndFetchRide(t *testing.T) {
	srv, _ := newTestServer()

	if rec := doJSON(t, srv, "POST", "/rides/seed", nil); rec.Code != 200 {
		t.Fatalf("seed failed: %d %s", rec.Code, rec.Body.String())
	}

	rec := doJSON(t, srv, "POST", "/rides/request", ridePayload())
	if rec.Code != 200 {
		t.Fatalf("request failed: %d %s", rec.Code, rec.Body.String())
	}
	var created rideResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Status != "MATCHED" {
		t.Fatalf("expected MATCHED with seeded vehicles, got %s", created.Status)
	}
	if created.EstimatedFare == nil {
		t.Fatal("expected an estimated fare")
	}

	rec = doJSON(t, srv, "GET", "/rides/"+created.ID, nil)
	if rec.Code != 200 {
		t.Fatalf("get failed: %d", rec.Code)
	}
	var fetched rideResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatal(err)
	}
	if fetched.ID != created.ID || fetched.TripID == nil {
		t.Fatalf("fetched record mismatch: %+v", fetched)
	}
}

func TestRideNotFound(t *testing.T) {
	srv, _ := newTestServer()
	if rec := doJSON(t, srv, "GET", "/rides/nope", nil); rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMissingCoordinatesRejected(t *testing.T) {
	srv, _ := newTestServer()
	payload := ridePayload()
	delete(payload, "pickup_lat")
	if rec := doJSON(t, srv, "POST", "/rides/request", payload); rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestZeroCoordinateIsAccepted(t *testing.T) {
	srv, _ := newTestServer()
	doJSON(t, srv, "POST", "/rides/seed", nil)

	payload := ridePayload()
	payload["pickup_lat"] = 0.0
	payload["pickup_lon"] = 0.0
	rec := doJSON(t, srv, "POST", "/rides/request", payload)
	if rec.Code != 200 {
		t.Fatalf("0.0 coordinates must be valid, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCancelFlow(t *testing.T) {
	srv, _ := newTestServer()
	doJSON(t, srv, "POST", "/rides/seed", nil)

	rec := doJSON(t, srv, "POST", "/rides/request", ridePayload())
	var created rideResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	cancelPath := fmt.Sprintf("/rides/%s/cancel", created.ID)
	if rec := doJSON(t, srv, "POST", cancelPath, nil); rec.Code != 200 {
		t.Fatalf("cancel failed: %d %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, srv, "POST", cancelPath, nil); rec.Code != 409 {
		t.Fatalf("second cancel should conflict, got %d", rec.Code)
	}
	if rec := doJSON(t, srv, "POST", "/rides/missing/cancel", nil); rec.Code != 404 {
		t.Fatalf("cancel of unknown ride should 404, got %d", rec.Code)
	}
}
