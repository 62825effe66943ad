package rides

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-pooling/internal/booking"
	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/matcher"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/pricing"
	"github.com/example/ride-pooling/internal/storage"
)

func testMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{ProximityThresholdKm: 5.0, MatchRetries: 3, DefaultSeatCap: 4, DefaultLuggageCap: 4}
}

func newTestService(store storage.Store) *Service {
	cfg := testMatchingConfig()
	return &Service{
		Store:   store,
		Finder:  matcher.NewFinder(store, nil, cfg),
		Booking: booking.NewCoordinator(store),
		Pricing: pricing.NewCalculator(config.PricingConfig{BaseFare: 10, PerKmRate: 2, DiscountStep: 0.10, DiscountCap: 0.50}),
		Cfg:     cfg,
	}
}

func airportCommand(user string) RequestCommand {
	now := time.Now().UTC()
	return RequestCommand{
		UserID:       user,
		Pickup:       models.Coord{Lat: 12.9716, Lon: 77.5946},
		Dropoff:      models.Coord{Lat: 13.1986, Lon: 77.7066},
		SeatsNeeded:  1,
		LuggageCount: 1,
		WindowStart:  now,
		WindowEnd:    now.Add(15 * time.Minute),
	}
}

func seedVehicles(t *testing.T, store storage.Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		v := &models.Vehicle{
			ID: "vehicle-" + string(rune('a'+i)), DriverName: "Driver",
			LicensePlate:  "PLATE-" + string(rune('a'+i)),
			CapacitySeats: 4, CapacityLuggage: 4, Status: models.VehicleAvailable,
		}
		if err := store.CreateVehicle(ctx, v); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRequestCreatesTripWhenNoneExists(t *testing.T) {
	store := storage.NewMemoryStore()
	seedVehicles(t, store, 1)
	svc := newTestService(store)

	req, err := svc.Request(context.Background(), airportCommand("u1"))
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != models.RideMatched {
		t.Fatalf("expected MATCHED, got %s", req.Status)
	}
	if req.TripID == "" {
		t.Fatal("MATCHED request must carry a trip id")
	}
	if req.Fare == nil || *req.Fare <= 10.0 {
		t.Fatalf("expected a solo fare above the base fare, got %v", req.Fare)
	}
	trip, err := store.GetTrip(context.Background(), req.TripID)
	if err != nil {
		t.Fatal(err)
	}
	if trip.SeatLoad != 1 || trip.LuggageLoad != 1 {
		t.Fatalf("trip seeded with wrong load: %+v", trip)
	}
	if trip.Status != models.TripScheduled {
		t.Fatalf("new trip should be SCHEDULED, got %s", trip.Status)
	}
}

func TestNearbyRequestsPoolOntoOneTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	seedVehicles(t, store, 2)
	svc := newTestService(store)
	ctx := context.Background()

	r1, err := svc.Request(ctx, airportCommand("u1"))
	if err != nil {
		t.Fatal(err)
	}
	cmd2 := airportCommand("u2")
	cmd2.Pickup = models.Coord{Lat: 12.9720, Lon: 77.5950} // a few hundred meters away
	r2, err := svc.Request(ctx, cmd2)
	if err != nil {
		t.Fatal(err)
	}
	if r1.TripID == "" || r2.TripID == "" {
		t.Fatalf("both requests should be matched: %q %q", r1.TripID, r2.TripID)
	}
	if r1.TripID != r2.TripID {
		t.Fatalf("expected pooling onto one trip, got %s and %s", r1.TripID, r2.TripID)
	}
	trip, _ := store.GetTrip(ctx, r1.TripID)
	if trip.SeatLoad != 2 || trip.LuggageLoad != 2 {
		t.Fatalf("pooled trip load wrong: %+v", trip)
	}
}

func TestFleetExhaustionLeavesRequestPending(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestService(store)

	req, err := svc.Request(context.Background(), airportCommand("u1"))
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != models.RidePending {
		t.Fatalf("expected PENDING, got %s", req.Status)
	}
	if req.TripID != "" {
		t.Fatalf("pending request must not carry a trip id, got %s", req.TripID)
	}
	stored, err := store.GetRideRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.RidePending || stored.TripID != "" {
		t.Fatalf("persisted state wrong: %+v", stored)
	}
}

// raceStore simulates another booking winning the capacity race for the
// first N reservation attempts.
type raceStore struct {
	storage.Store
	failures int
}

func (r *raceStore) ReserveTripCapacity(ctx context.Context, tripID string, seats, luggage int) (bool, error) {
	if r.failures > 0 {
		r.failures--
		return false, nil
	}
	return r.Store.ReserveTripCapacity(ctx, tripID, seats, luggage)
}

func TestReservationRetriesAfterCapacityRace(t *testing.T) {
	mem := storage.NewMemoryStore()
	seedVehicles(t, mem, 1)
	svc := newTestService(mem)
	ctx := context.Background()

	first, err := svc.Request(ctx, airportCommand("u1"))
	if err != nil {
		t.Fatal(err)
	}

	racy := &raceStore{Store: mem, failures: 1}
	svc2 := newTestService(mem)
	svc2.Booking = booking.NewCoordinator(racy)

	second, err := svc2.Request(ctx, airportCommand("u2"))
	if err != nil {
		t.Fatal(err)
	}
	if second.TripID != first.TripID {
		t.Fatalf("retry should land on the same trip: %s vs %s", second.TripID, first.TripID)
	}
}

func TestRetryExhaustionFallsBackToNewTrip(t *testing.T) {
	mem := storage.NewMemoryStore()
	seedVehicles(t, mem, 2)
	svc := newTestService(mem)
	ctx := context.Background()

	first, err := svc.Request(ctx, airportCommand("u1"))
	if err != nil {
		t.Fatal(err)
	}

	racy := &raceStore{Store: mem, failures: 100} // every reservation loses
	svc2 := newTestService(mem)
	svc2.Booking = booking.NewCoordinator(racy)

	second, err := svc2.Request(ctx, airportCommand("u2"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != models.RideMatched {
		t.Fatalf("expected fallback allocation, got %s", second.Status)
	}
	if second.TripID == first.TripID {
		t.Fatal("fallback should have created a distinct trip")
	}
}

func TestOversizedRequestStaysPending(t *testing.T) {
	store := storage.NewMemoryStore()
	seedVehicles(t, store, 1) // capacity 4/4
	svc := newTestService(store)

	cmd := airportCommand("u1")
	cmd.SeatsNeeded = 5
	req, err := svc.Request(context.Background(), cmd)
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != models.RidePending {
		t.Fatalf("a load no vehicle can carry must stay PENDING, got %s", req.Status)
	}
	if req.TripID != "" {
		t.Fatalf("no trip may be created for it, got %s", req.TripID)
	}
}

func TestCancelMatchedRestoresTripLoad(t *testing.T) {
	store := storage.NewMemoryStore()
	seedVehicles(t, store, 2)
	svc := newTestService(store)
	ctx := context.Background()

	r1, err := svc.Request(ctx, airportCommand("u1"))
	if err != nil {
		t.Fatal(err)
	}
	r2, err := svc.Request(ctx, airportCommand("u2"))
	if err != nil {
		t.Fatal(err)
	}
	if r1.TripID != r2.TripID {
		t.Fatalf("setup expected pooling, got %s vs %s", r1.TripID, r2.TripID)
	}
	before, _ := store.GetTrip(ctx, r1.TripID)

	cancelled, err := svc.Cancel(ctx, r2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != models.RideCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	after, _ := store.GetTrip(ctx, r1.TripID)
	if after.SeatLoad != before.SeatLoad-1 || after.LuggageLoad != before.LuggageLoad-1 {
		t.Fatalf("cancellation did not restore load: before=%+v after=%+v", before, after)
	}
}

func TestConcurrentCancelsReleaseCapacityOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	seedVehicles(t, store, 2)
	svc := newTestService(store)
	ctx := context.Background()

	r1, err := svc.Request(ctx, airportCommand("u1"))
	if err != nil {
		t.Fatal(err)
	}
	r2, err := svc.Request(ctx, airportCommand("u2"))
	if err != nil {
		t.Fatal(err)
	}
	if r1.TripID != r2.TripID {
		t.Fatalf("setup expected pooling, got %s vs %s", r1.TripID, r2.TripID)
	}
	before, _ := store.GetTrip(ctx, r1.TripID)

	const workers = 8
	var wg sync.WaitGroup
	outcomes := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Cancel(ctx, r2.ID)
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	wins := 0
	for err := range outcomes {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrCannotCancel) {
			t.Fatalf("losing cancel should report ErrCannotCancel, got %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning cancellation, got %d", wins)
	}
	after, _ := store.GetTrip(ctx, r1.TripID)
	if after.SeatLoad != before.SeatLoad-1 || after.LuggageLoad != before.LuggageLoad-1 {
		t.Fatalf("capacity must be released exactly once: before=%+v after=%+v", before, after)
	}
}

func TestCancelIsRejectedOnSecondAttempt(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	req, err := svc.Request(ctx, airportCommand("u1")) // no vehicles: stays PENDING
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Cancel(ctx, req.ID); err != nil {
		t.Fatalf("first cancel should succeed: %v", err)
	}
	if _, err := svc.Cancel(ctx, req.ID); !errors.Is(err, ErrCannotCancel) {
		t.Fatalf("second cancel should be rejected, got %v", err)
	}
}

func TestCancelUnknownRequest(t *testing.T) {
	svc := newTestService(storage.NewMemoryStore())
	if _, err := svc.Cancel(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type recordingPublisher struct{ events []models.RideEvent }

func (r *recordingPublisher) Publish(ctx context.Context, ev models.RideEvent) error {
	r.events = append(r.events, ev)
	return nil
}

type recordingNotifier struct{ notices []models.MatchNotice }

func (r *recordingNotifier) Notify(userID string, n models.MatchNotice) error {
	r.notices = append(r.notices, n)
	return nil
}

func TestMatchEmitsEventAndNotice(t *testing.T) {
	store := storage.NewMemoryStore()
	seedVehicles(t, store, 1)
	svc := newTestService(store)
	pub := &recordingPublisher{}
	not := &recordingNotifier{}
	svc.Events = pub
	svc.Notify = not

	req, err := svc.Request(context.Background(), airportCommand("u1"))
	if err != nil {
		t.Fatal(err)
	}

	var types []string
	for _, ev := range pub.events {
		types = append(types, ev.Type)
	}
	want := map[string]bool{
		models.EventRideRequested: false,
		models.EventTripCreated:   false,
		models.EventRideMatched:   false,
	}
	for _, ty := range types {
		if _, ok := want[ty]; ok {
			want[ty] = true
		}
	}
	for ty, seen := range want {
		if !seen {
			t.Fatalf("missing event %s in %v", ty, types)
		}
	}
	if len(not.notices) != 1 || not.notices[0].TripID != req.TripID {
		t.Fatalf("expected one match notice for trip %s, got %+v", req.TripID, not.notices)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	seeded, err := svc.Seed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !seeded {
		t.Fatal("first seed should create data")
	}
	seeded, err = svc.Seed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if seeded {
		t.Fatal("second seed should be a no-op")
	}
}
