package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-pooling/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle (migration runner, tests).
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateRideRequest(ctx context.Context, r *models.RideRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ride_requests
			(id, user_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
			 seats_needed, luggage_count, window_start, window_end,
			 request_time, status, trip_id, estimated_fare, payment_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14,NULLIF($15,''))`,
		r.ID, r.UserID, r.Pickup.Lat, r.Pickup.Lon, r.Dropoff.Lat, r.Dropoff.Lon,
		r.SeatsNeeded, r.LuggageCount, r.WindowStart, r.WindowEnd,
		r.RequestTime, string(r.Status), r.TripID, nullFloat(r.Fare), r.PaymentRef)
	return err
}

func (p *PostgresStore) GetRideRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
		       seats_needed, luggage_count, window_start, window_end,
		       request_time, status, trip_id, estimated_fare, payment_ref
		FROM ride_requests WHERE id = $1`, id)
	return scanRideRequest(row)
}

func (p *PostgresStore) BindRequestToTrip(ctx context.Context, requestID, tripID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE ride_requests SET trip_id = $1, status = $2 WHERE id = $3`,
		tripID, string(models.RideMatched), requestID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// TransitionRequestStatus leans on the database serializing the
// conditional UPDATE: of two competing transitions out of the same
// state, exactly one sees the predicate hold.
func (p *PostgresStore) TransitionRequestStatus(ctx context.Context, requestID string, from []models.RideStatus, to models.RideStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE ride_requests SET status = $1 WHERE id = $2 AND status = ANY($3)`,
		string(to), requestID, pq.Array(rideStatusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) SetRequestPaymentRef(ctx context.Context, requestID, ref string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE ride_requests SET payment_ref = NULLIF($1,'') WHERE id = $2`, ref, requestID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) CandidateTrips(ctx context.Context, statuses []models.TripStatus, seats, luggage int) ([]models.Trip, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, vehicle_id, status, current_seat_load, current_luggage_load,
		       capacity_seats, capacity_luggage,
		       origin_lat, origin_lon, destination_lat, destination_lon,
		       start_time, created_at
		FROM trips
		WHERE status = ANY($1)
		  AND current_seat_load + $2 <= capacity_seats
		  AND current_luggage_load + $3 <= capacity_luggage
		ORDER BY created_at, id`,
		pq.Array(statusStrings(statuses)), seats, luggage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Trip
	for rows.Next() {
		var t models.Trip
		if err := rows.Scan(&t.ID, &t.VehicleID, &t.Status, &t.SeatLoad, &t.LuggageLoad,
			&t.CapacitySeats, &t.CapacityLuggage,
			&t.Origin.Lat, &t.Origin.Lon, &t.Destination.Lat, &t.Destination.Lon,
			&t.StartTime, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	var t models.Trip
	err := p.db.QueryRowContext(ctx, `
		SELECT id, vehicle_id, status, current_seat_load, current_luggage_load,
		       capacity_seats, capacity_luggage,
		       origin_lat, origin_lon, destination_lat, destination_lon,
		       start_time, created_at
		FROM trips WHERE id = $1`, id).
		Scan(&t.ID, &t.VehicleID, &t.Status, &t.SeatLoad, &t.LuggageLoad,
			&t.CapacitySeats, &t.CapacityLuggage,
			&t.Origin.Lat, &t.Origin.Lon, &t.Destination.Lat, &t.Destination.Lon,
			&t.StartTime, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ReserveTripCapacity relies on the database serializing the conditional
// UPDATE: of two competing reservations that would jointly exceed
// capacity, exactly one sees the predicate hold.
func (p *PostgresStore) ReserveTripCapacity(ctx context.Context, tripID string, seats, luggage int) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trips
		SET current_seat_load = current_seat_load + $2,
		    current_luggage_load = current_luggage_load + $3
		WHERE id = $1
		  AND status IN ('SCHEDULED','IN_PROGRESS')
		  AND current_seat_load + $2 <= capacity_seats
		  AND current_luggage_load + $3 <= capacity_luggage`,
		tripID, seats, luggage)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) ReleaseTripCapacity(ctx context.Context, tripID string, seats, luggage int) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trips
		SET current_seat_load = current_seat_load - $2,
		    current_luggage_load = current_luggage_load - $3
		WHERE id = $1
		  AND current_seat_load >= $2
		  AND current_luggage_load >= $3`,
		tripID, seats, luggage)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AllocateVehicleTrip claims a vehicle and creates the trip inside one
// transaction. SKIP LOCKED keeps concurrent allocations from fighting
// over the same row: each claims a distinct vehicle or sees none left.
// Vehicles too small for the seeded load are never claimed, so the trip
// row always satisfies the schema's load-within-capacity checks.
func (p *PostgresStore) AllocateVehicleTrip(ctx context.Context, trip *models.Trip) (*models.Trip, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var vehicleID string
	var capSeats, capLuggage int
	err = tx.QueryRowContext(ctx, `
		UPDATE vehicles SET status = 'BUSY'
		WHERE id = (
			SELECT id FROM vehicles
			WHERE status = 'AVAILABLE'
			  AND capacity_seats >= $1
			  AND capacity_luggage >= $2
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, capacity_seats, capacity_luggage`,
		trip.SeatLoad, trip.LuggageLoad).
		Scan(&vehicleID, &capSeats, &capLuggage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoVehicle
	}
	if err != nil {
		return nil, err
	}

	cp := *trip
	cp.VehicleID = vehicleID
	cp.CapacitySeats = capSeats
	cp.CapacityLuggage = capLuggage
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trips
			(id, vehicle_id, status, current_seat_load, current_luggage_load,
			 capacity_seats, capacity_luggage,
			 origin_lat, origin_lon, destination_lat, destination_lon,
			 start_time, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		cp.ID, cp.VehicleID, string(cp.Status), cp.SeatLoad, cp.LuggageLoad,
		cp.CapacitySeats, cp.CapacityLuggage,
		cp.Origin.Lat, cp.Origin.Lon, cp.Destination.Lat, cp.Destination.Lon,
		cp.StartTime, cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (p *PostgresStore) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vehicles (id, driver_name, license_plate, capacity_seats, capacity_luggage, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		v.ID, v.DriverName, v.LicensePlate, v.CapacitySeats, v.CapacityLuggage, string(v.Status))
	return err
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, rating) VALUES ($1,$2,$3,$4)`,
		u.ID, u.Name, u.Email, u.Rating)
	return err
}

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, email, rating FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Name, &u.Email, &u.Rating)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanRideRequest(row *sql.Row) (*models.RideRequest, error) {
	var r models.RideRequest
	var tripID, paymentRef sql.NullString
	var fare sql.NullFloat64
	err := row.Scan(&r.ID, &r.UserID, &r.Pickup.Lat, &r.Pickup.Lon,
		&r.Dropoff.Lat, &r.Dropoff.Lon,
		&r.SeatsNeeded, &r.LuggageCount, &r.WindowStart, &r.WindowEnd,
		&r.RequestTime, &r.Status, &tripID, &fare, &paymentRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.TripID = tripID.String
	r.PaymentRef = paymentRef.String
	if fare.Valid {
		f := fare.Float64
		r.Fare = &f
	}
	return &r, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func rideStatusStrings(in []models.RideStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func statusStrings(in []models.TripStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)

// Migrate executes a DDL script against the handle.
func Migrate(db *sql.DB, ddl string) error {
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}
