package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RideStatus is the lifecycle state of a ride request.
type RideStatus string

const (
	RidePending   RideStatus = "PENDING"
	RideMatched   RideStatus = "MATCHED"
	RideCompleted RideStatus = "COMPLETED"
	RideCancelled RideStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled
}

type TripStatus string

const (
	TripScheduled  TripStatus = "SCHEDULED"
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
	TripCancelled  TripStatus = "CANCELLED"
)

type VehicleStatus string

const (
	VehicleAvailable VehicleStatus = "AVAILABLE"
	VehicleBusy      VehicleStatus = "BUSY"
)

// RideRequest is a rider's ask for transport. TripID is set exactly when
// Status is MATCHED.
type RideRequest struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Pickup       Coord      `json:"pickup"`
	Dropoff      Coord      `json:"dropoff"`
	SeatsNeeded  int        `json:"seats_needed"`
	LuggageCount int        `json:"luggage_count"`
	WindowStart  time.Time  `json:"pickup_time_window_start"`
	WindowEnd    time.Time  `json:"pickup_time_window_end"`
	RequestTime  time.Time  `json:"request_time"`
	Status       RideStatus `json:"status"`
	TripID       string     `json:"trip_id,omitempty"`
	Fare         *float64   `json:"estimated_fare,omitempty"`
	PaymentRef   string     `json:"-"`
}

type Vehicle struct {
	ID              string        `json:"id"`
	DriverName      string        `json:"driver_name"`
	LicensePlate    string        `json:"license_plate"`
	CapacitySeats   int           `json:"capacity_seats"`
	CapacityLuggage int           `json:"capacity_luggage"`
	Status          VehicleStatus `json:"status"`
}

// Trip is a shared pooling unit. Capacity columns are copied from the
// vehicle at allocation time so load checks never assume a fleet-wide
// constant.
type Trip struct {
	ID              string     `json:"id"`
	VehicleID       string     `json:"vehicle_id"`
	Status          TripStatus `json:"status"`
	SeatLoad        int        `json:"current_seat_load"`
	LuggageLoad     int        `json:"current_luggage_load"`
	CapacitySeats   int        `json:"capacity_seats"`
	CapacityLuggage int        `json:"capacity_luggage"`
	Origin          Coord      `json:"origin"`
	Destination     Coord      `json:"destination"`
	StartTime       time.Time  `json:"start_time"`
	CreatedAt       time.Time  `json:"created_at"`
}

type User struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Email  string  `json:"email"`
	Rating float64 `json:"rating"`
}

// MatchNotice is pushed to a rider's websocket session when their request
// is bound to a trip.
type MatchNotice struct {
	RequestID string   `json:"request_id"`
	TripID    string   `json:"trip_id"`
	Fare      *float64 `json:"estimated_fare,omitempty"`
}

// RideEvent is the lifecycle record published to Kafka for downstream
// projections (trip geo index, analytics).
type RideEvent struct {
	Type      string    `json:"type"` // ride.requested, ride.matched, ride.cancelled, trip.created
	RequestID string    `json:"request_id,omitempty"`
	TripID    string    `json:"trip_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Origin    *Coord    `json:"origin,omitempty"`
	Seats     int       `json:"seats,omitempty"`
	Luggage   int       `json:"luggage,omitempty"`
	At        time.Time `json:"at"`
}

const (
	EventRideRequested = "ride.requested"
	EventRideMatched   = "ride.matched"
	EventRideCancelled = "ride.cancelled"
	EventTripCreated   = "trip.created"
)
