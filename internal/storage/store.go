// Package storage defines the persistence contract consumed by the
// matching and booking engine. All capacity mutation goes through atomic
// conditional updates; callers never read-modify-write trip loads.
package storage

import (
	"context"
	"errors"

	"github.com/example/ride-pooling/internal/models"
)

var (
	// ErrNotFound signals an unknown request, trip, or user id.
	ErrNotFound = errors.New("storage: not found")
	// ErrNoVehicle signals vehicle exhaustion at allocation time.
	ErrNoVehicle = errors.New("storage: no vehicle available")
)

// Store is the transactional collaborator behind the engine. Two
// implementations exist: Postgres for production and a mutex-guarded
// in-memory store with identical conditional-update semantics for tests
// and DSN-less local runs.
type Store interface {
	CreateRideRequest(ctx context.Context, r *models.RideRequest) error
	GetRideRequest(ctx context.Context, id string) (*models.RideRequest, error)
	// BindRequestToTrip sets the trip id and flips status to MATCHED in
	// one update, preserving the "MATCHED iff trip set" invariant.
	BindRequestToTrip(ctx context.Context, requestID, tripID string) error
	// TransitionRequestStatus flips the request's status to the target iff
	// its current status is one of from. Returns false without mutation
	// otherwise. Competing cancellations serialize on this update: exactly
	// one wins.
	TransitionRequestStatus(ctx context.Context, requestID string, from []models.RideStatus, to models.RideStatus) (bool, error)
	SetRequestPaymentRef(ctx context.Context, requestID, ref string) error

	// CandidateTrips returns trips in any of the given statuses whose
	// remaining seat and luggage capacity can absorb the request,
	// ordered by creation time.
	CandidateTrips(ctx context.Context, statuses []models.TripStatus, seats, luggage int) ([]models.Trip, error)
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	// ReserveTripCapacity atomically increments the trip's loads iff the
	// result stays within the trip's capacity columns. Returns false
	// without mutation when the predicate fails (capacity race or
	// missing/closed trip).
	ReserveTripCapacity(ctx context.Context, tripID string, seats, luggage int) (bool, error)
	// ReleaseTripCapacity is the atomic inverse, used by cancellation.
	// The predicate refuses decrements that would drive a load negative.
	ReleaseTripCapacity(ctx context.Context, tripID string, seats, luggage int) (bool, error)
	// AllocateVehicleTrip claims one AVAILABLE vehicle (flipping it to
	// BUSY) and inserts the trip as a single atomic operation. Only
	// vehicles whose capacity can absorb the trip's seeded load are
	// claimable. The trip's vehicle id and capacity columns are filled
	// from the claimed vehicle. Returns ErrNoVehicle, with no mutation,
	// when no such vehicle exists.
	AllocateVehicleTrip(ctx context.Context, trip *models.Trip) (*models.Trip, error)

	CreateVehicle(ctx context.Context, v *models.Vehicle) error
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}
