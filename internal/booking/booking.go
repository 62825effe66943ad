// Package booking commits capacity against trips. Reservation and
// allocation are thin on purpose: all atomicity lives in the store's
// conditional primitives, and retry policy belongs to the orchestrator.
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/observability"
	"github.com/example/ride-pooling/internal/storage"
)

type Coordinator struct {
	store storage.Store
}

func NewCoordinator(store storage.Store) *Coordinator {
	return &Coordinator{store: store}
}

// Reserve attempts to claim the request's seat/luggage load on the trip.
// A false return means the capacity predicate failed, typically because
// another booking won the race since the trip was selected, with no
// partial mutation. The caller decides whether to retry.
func (c *Coordinator) Reserve(ctx context.Context, req *models.RideRequest, trip *models.Trip) (bool, error) {
	ok, err := c.store.ReserveTripCapacity(ctx, trip.ID, req.SeatsNeeded, req.LuggageCount)
	if err != nil {
		return false, fmt.Errorf("reserve trip %s: %w", trip.ID, err)
	}
	if !ok {
		observability.CapacityRaces.Inc()
	}
	return ok, nil
}

// Release undoes a committed reservation, using the same conditional
// discipline so concurrent bookings on the trip are never corrupted.
func (c *Coordinator) Release(ctx context.Context, req *models.RideRequest) (bool, error) {
	ok, err := c.store.ReleaseTripCapacity(ctx, req.TripID, req.SeatsNeeded, req.LuggageCount)
	if err != nil {
		return false, fmt.Errorf("release trip %s: %w", req.TripID, err)
	}
	return ok, nil
}

// AllocateTrip claims an idle vehicle and creates a SCHEDULED trip seeded
// with the request's load, route anchored to its pickup/dropoff. Returns
// storage.ErrNoVehicle on fleet exhaustion.
func (c *Coordinator) AllocateTrip(ctx context.Context, req *models.RideRequest) (*models.Trip, error) {
	trip := &models.Trip{
		ID:          uuid.NewString(),
		Status:      models.TripScheduled,
		SeatLoad:    req.SeatsNeeded,
		LuggageLoad: req.LuggageCount,
		Origin:      req.Pickup,
		Destination: req.Dropoff,
		StartTime:   req.WindowStart,
		CreatedAt:   time.Now().UTC(),
	}
	created, err := c.store.AllocateVehicleTrip(ctx, trip)
	if err != nil {
		return nil, err
	}
	observability.TripsCreatedTotal.Inc()
	return created, nil
}
