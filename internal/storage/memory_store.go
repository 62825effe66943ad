package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-pooling/internal/models"
)

// MemoryStore keeps everything behind one mutex so the conditional
// updates are indivisible, matching the Postgres semantics.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*models.RideRequest
	trips    map[string]*models.Trip
	vehicles map[string]*models.Vehicle
	users    map[string]*models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*models.RideRequest),
		trips:    make(map[string]*models.Trip),
		vehicles: make(map[string]*models.Vehicle),
		users:    make(map[string]*models.User),
	}
}

func (m *MemoryStore) CreateRideRequest(ctx context.Context, r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRideRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) BindRequestToTrip(ctx context.Context, requestID, tripID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	r.TripID = tripID
	r.Status = models.RideMatched
	return nil
}

func (m *MemoryStore) TransitionRequestStatus(ctx context.Context, requestID string, from []models.RideStatus, to models.RideStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if r.Status == s {
			r.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SetRequestPaymentRef(ctx context.Context, requestID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	r.PaymentRef = ref
	return nil
}

func (m *MemoryStore) CandidateTrips(ctx context.Context, statuses []models.TripStatus, seats, luggage int) ([]models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := make(map[models.TripStatus]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}
	var out []models.Trip
	for _, t := range m.trips {
		if !allowed[t.Status] {
			continue
		}
		if t.SeatLoad+seats > t.CapacitySeats || t.LuggageLoad+luggage > t.CapacityLuggage {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ReserveTripCapacity(ctx context.Context, tripID string, seats, luggage int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return false, nil
	}
	if t.Status != models.TripScheduled && t.Status != models.TripInProgress {
		return false, nil
	}
	if t.SeatLoad+seats > t.CapacitySeats || t.LuggageLoad+luggage > t.CapacityLuggage {
		return false, nil
	}
	t.SeatLoad += seats
	t.LuggageLoad += luggage
	return true, nil
}

func (m *MemoryStore) ReleaseTripCapacity(ctx context.Context, tripID string, seats, luggage int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return false, nil
	}
	if t.SeatLoad < seats || t.LuggageLoad < luggage {
		return false, nil
	}
	t.SeatLoad -= seats
	t.LuggageLoad -= luggage
	return true, nil
}

func (m *MemoryStore) AllocateVehicleTrip(ctx context.Context, trip *models.Trip) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// deterministic claim order, matching ORDER BY id in SQL
	ids := make([]string, 0, len(m.vehicles))
	for id := range m.vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var vehicle *models.Vehicle
	for _, id := range ids {
		v := m.vehicles[id]
		if v.Status != models.VehicleAvailable {
			continue
		}
		// a vehicle that cannot absorb the seeded load counts as unavailable
		if v.CapacitySeats < trip.SeatLoad || v.CapacityLuggage < trip.LuggageLoad {
			continue
		}
		vehicle = v
		break
	}
	if vehicle == nil {
		return nil, ErrNoVehicle
	}

	vehicle.Status = models.VehicleBusy
	cp := *trip
	cp.VehicleID = vehicle.ID
	cp.CapacitySeats = vehicle.CapacitySeats
	cp.CapacityLuggage = vehicle.CapacityLuggage
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.trips[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.vehicles[v.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
