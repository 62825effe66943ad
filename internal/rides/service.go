// Package rides sequences pricing, matching, booking, and allocation into
// the end-to-end request-handling and cancellation protocols.
package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-pooling/internal/booking"
	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/events"
	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/matcher"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/observability"
	"github.com/example/ride-pooling/internal/pricing"
	"github.com/example/ride-pooling/internal/storage"
)

// ErrCannotCancel is returned when cancellation targets a request in a
// terminal state. Re-cancellation is rejected, never silently accepted.
var ErrCannotCancel = errors.New("rides: request cannot be cancelled in its current state")

// Notifier pushes match outcomes to connected riders.
type Notifier interface {
	Notify(userID string, notice models.MatchNotice) error
}

// FareHolder places and releases holds on the estimated fare.
type FareHolder interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Cancel(ctx context.Context, paymentIntentID string) error
}

// Service is the request orchestrator. Events, Notify, and Payments are
// optional collaborators; the booking protocol never depends on them.
type Service struct {
	Store    storage.Store
	Finder   *matcher.Finder
	Booking  *booking.Coordinator
	Pricing  *pricing.Calculator
	Events   events.Publisher
	Notify   Notifier
	Payments FareHolder
	Cfg      config.MatchingConfig
	Logger   *slog.Logger
}

// RequestCommand carries a validated ride ask into the engine.
type RequestCommand struct {
	UserID       string
	Pickup       models.Coord
	Dropoff      models.Coord
	SeatsNeeded  int
	LuggageCount int
	WindowStart  time.Time
	WindowEnd    time.Time
}

// Request persists a PENDING request with a solo fare quote, then tries to
// pool it onto an existing trip, retrying a bounded number of times when a
// reservation loses a capacity race. Failing that it allocates a fresh
// vehicle and trip; with the fleet exhausted the request stays PENDING.
func (s *Service) Request(ctx context.Context, cmd RequestCommand) (*models.RideRequest, error) {
	req := &models.RideRequest{
		ID:           uuid.NewString(),
		UserID:       cmd.UserID,
		Pickup:       cmd.Pickup,
		Dropoff:      cmd.Dropoff,
		SeatsNeeded:  cmd.SeatsNeeded,
		LuggageCount: cmd.LuggageCount,
		WindowStart:  cmd.WindowStart,
		WindowEnd:    cmd.WindowEnd,
		RequestTime:  time.Now().UTC(),
		Status:       models.RidePending,
	}

	// Initial quote assumes a solo ride; pooled re-quoting happens out of
	// band once trip membership settles.
	direct := geo.Distance(cmd.Pickup, cmd.Dropoff)
	fare := s.Pricing.Quote(direct, false, 1)
	req.Fare = &fare

	if err := s.Store.CreateRideRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist request: %w", err)
	}
	s.publish(ctx, models.RideEvent{
		Type: models.EventRideRequested, RequestID: req.ID, UserID: req.UserID,
		Seats: req.SeatsNeeded, Luggage: req.LuggageCount,
	})

	tripID, pooled, err := s.bindToTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if tripID == "" {
		// fleet exhausted: observable outcome, not an error
		s.logger().Info("request left pending, no vehicle available", "request_id", req.ID)
		return req, nil
	}

	if err := s.Store.BindRequestToTrip(ctx, req.ID, tripID); err != nil {
		return nil, fmt.Errorf("bind request %s: %w", req.ID, err)
	}
	req.TripID = tripID
	req.Status = models.RideMatched
	if pooled {
		observability.MatchesTotal.Inc()
	}

	s.publish(ctx, models.RideEvent{
		Type: models.EventRideMatched, RequestID: req.ID, TripID: tripID, UserID: req.UserID,
	})
	s.notifyRider(req)
	s.holdFare(ctx, req)

	return req, nil
}

// bindToTrip runs the bounded match/reserve loop and the new-trip
// fallback. It returns the bound trip id ("" when the fleet is
// exhausted) and whether the binding was a pooled match.
func (s *Service) bindToTrip(ctx context.Context, req *models.RideRequest) (string, bool, error) {
	for attempt := 0; attempt < s.Cfg.MatchRetries; attempt++ {
		trip, err := s.Finder.FindBestTrip(ctx, req)
		if err != nil {
			return "", false, fmt.Errorf("find match: %w", err)
		}
		if trip == nil {
			break // nothing to pool onto; go create a trip
		}
		ok, err := s.Booking.Reserve(ctx, req, trip)
		if err != nil {
			return "", false, err
		}
		if ok {
			return trip.ID, true, nil
		}
		// Lost the race: the chosen trip filled up between selection and
		// reservation. Re-query, another trip may have room.
		s.logger().Debug("reservation lost capacity race",
			"request_id", req.ID, "trip_id", trip.ID, "attempt", attempt+1)
	}

	trip, err := s.Booking.AllocateTrip(ctx, req)
	if errors.Is(err, storage.ErrNoVehicle) {
		observability.VehiclesExhausted.Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("allocate trip: %w", err)
	}
	s.publish(ctx, models.RideEvent{
		Type: models.EventTripCreated, RequestID: req.ID, TripID: trip.ID,
		Origin: &trip.Origin, Seats: trip.SeatLoad, Luggage: trip.LuggageLoad,
	})
	return trip.ID, false, nil
}

// Get returns the ride request record.
func (s *Service) Get(ctx context.Context, id string) (*models.RideRequest, error) {
	return s.Store.GetRideRequest(ctx, id)
}

// cancellableStatuses are the states a request may leave via Cancel.
var cancellableStatuses = []models.RideStatus{models.RidePending, models.RideMatched}

// Cancel rejects terminal requests and marks the request CANCELLED via a
// conditional transition, so of two racing cancellations exactly one
// wins. Only the winner reverses a MATCHED request's capacity
// contribution, with the same atomic discipline booking used.
func (s *Service) Cancel(ctx context.Context, id string) (*models.RideRequest, error) {
	req, err := s.Store.GetRideRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, ErrCannotCancel
	}

	won, err := s.Store.TransitionRequestStatus(ctx, req.ID, cancellableStatuses, models.RideCancelled)
	if err != nil {
		return nil, err
	}
	if !won {
		// another cancellation got there first
		return nil, ErrCannotCancel
	}

	if req.Status == models.RideMatched && req.TripID != "" {
		ok, err := s.Booking.Release(ctx, req)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Load predicate failed; the trip record is inconsistent with
			// this request's reservation. Surface it rather than mask it.
			s.logger().Error("capacity release predicate failed",
				"request_id", req.ID, "trip_id", req.TripID)
		}
	}

	req.Status = models.RideCancelled
	observability.CancellationsTotal.Inc()

	s.publish(ctx, models.RideEvent{
		Type: models.EventRideCancelled, RequestID: req.ID, TripID: req.TripID, UserID: req.UserID,
		Seats: req.SeatsNeeded, Luggage: req.LuggageCount,
	})
	s.releaseFare(ctx, req)

	return req, nil
}

// Seed bootstraps two available vehicles and a test user. Idempotent on
// the user's email.
func (s *Service) Seed(ctx context.Context) (bool, error) {
	if _, err := s.Store.GetUserByEmail(ctx, "test@example.com"); err == nil {
		return false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	vehicles := []models.Vehicle{
		{ID: uuid.NewString(), DriverName: "John Doe", LicensePlate: "ABC-123"},
		{ID: uuid.NewString(), DriverName: "Jane Smith", LicensePlate: "XYZ-789"},
	}
	for i := range vehicles {
		vehicles[i].CapacitySeats = s.Cfg.DefaultSeatCap
		vehicles[i].CapacityLuggage = s.Cfg.DefaultLuggageCap
		vehicles[i].Status = models.VehicleAvailable
		if err := s.Store.CreateVehicle(ctx, &vehicles[i]); err != nil {
			return false, err
		}
	}
	u := &models.User{ID: uuid.NewString(), Name: "Test User", Email: "test@example.com", Rating: 5.0}
	if err := s.Store.CreateUser(ctx, u); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) publish(ctx context.Context, ev models.RideEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.logger().Warn("event publish failed", "type", ev.Type, "request_id", ev.RequestID, "error", err)
	}
}

func (s *Service) notifyRider(req *models.RideRequest) {
	if s.Notify == nil {
		return
	}
	// best-effort: the rider may simply not be connected
	_ = s.Notify.Notify(req.UserID, models.MatchNotice{
		RequestID: req.ID, TripID: req.TripID, Fare: req.Fare,
	})
}

func (s *Service) holdFare(ctx context.Context, req *models.RideRequest) {
	if s.Payments == nil || req.Fare == nil {
		return
	}
	cents := int64(math.Round(*req.Fare * 100))
	ref, err := s.Payments.Hold(ctx, cents, "usd", "")
	if err != nil {
		s.logger().Warn("fare hold failed", "request_id", req.ID, "error", err)
		return
	}
	req.PaymentRef = ref
	if err := s.Store.SetRequestPaymentRef(ctx, req.ID, ref); err != nil {
		s.logger().Warn("persisting payment ref failed", "request_id", req.ID, "error", err)
	}
}

func (s *Service) releaseFare(ctx context.Context, req *models.RideRequest) {
	if s.Payments == nil || req.PaymentRef == "" {
		return
	}
	if err := s.Payments.Cancel(ctx, req.PaymentRef); err != nil {
		s.logger().Warn("fare hold release failed", "request_id", req.ID, "error", err)
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
