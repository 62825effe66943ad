package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-pooling/internal/dispatch"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/rides"
	"github.com/example/ride-pooling/internal/storage"
)

type Server struct {
	svc    *rides.Service
	wsreg  *dispatch.WSRegistry
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(svc *rides.Service, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{svc: svc, wsreg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/rides/seed", s.handleSeed).Methods("POST")
	s.mux.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// rideRequestPayload decodes coordinates through pointers so a missing
// field is distinguishable from a legitimate 0.0 latitude/longitude.
type rideRequestPayload struct {
	UserID       string    `json:"user_id"`
	PickupLat    *float64  `json:"pickup_lat"`
	PickupLon    *float64  `json:"pickup_lon"`
	DropoffLat   *float64  `json:"dropoff_lat"`
	DropoffLon   *float64  `json:"dropoff_lon"`
	SeatsNeeded  *int      `json:"seats_needed"`
	LuggageCount *int      `json:"luggage_count"`
	WindowStart  time.Time `json:"pickup_time_window_start"`
	WindowEnd    time.Time `json:"pickup_time_window_end"`
}

func (p *rideRequestPayload) validate() (rides.RequestCommand, error) {
	var cmd rides.RequestCommand
	if p.UserID == "" {
		return cmd, errors.New("user_id is required")
	}
	if p.PickupLat == nil || p.PickupLon == nil || p.DropoffLat == nil || p.DropoffLon == nil {
		return cmd, errors.New("pickup and dropoff coordinates are required")
	}
	seats := 1
	if p.SeatsNeeded != nil {
		seats = *p.SeatsNeeded
	}
	if seats < 1 {
		return cmd, errors.New("seats_needed must be >= 1")
	}
	luggage := 0
	if p.LuggageCount != nil {
		luggage = *p.LuggageCount
	}
	if luggage < 0 {
		return cmd, errors.New("luggage_count must be >= 0")
	}
	if p.WindowStart.IsZero() || p.WindowEnd.IsZero() {
		return cmd, errors.New("pickup time window is required")
	}
	if !p.WindowEnd.After(p.WindowStart) {
		return cmd, errors.New("pickup window end must be after start")
	}
	cmd = rides.RequestCommand{
		UserID:       p.UserID,
		Pickup:       models.Coord{Lat: *p.PickupLat, Lon: *p.PickupLon},
		Dropoff:      models.Coord{Lat: *p.DropoffLat, Lon: *p.DropoffLon},
		SeatsNeeded:  seats,
		LuggageCount: luggage,
		WindowStart:  p.WindowStart,
		WindowEnd:    p.WindowEnd,
	}
	return cmd, nil
}

// rideResponse keeps the flat wire shape the original API exposed.
type rideResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	PickupLat     float64   `json:"pickup_lat"`
	PickupLon     float64   `json:"pickup_lon"`
	DropoffLat    float64   `json:"dropoff_lat"`
	DropoffLon    float64   `json:"dropoff_lon"`
	SeatsNeeded   int       `json:"seats_needed"`
	LuggageCount  int       `json:"luggage_count"`
	WindowStart   time.Time `json:"pickup_time_window_start"`
	WindowEnd     time.Time `json:"pickup_time_window_end"`
	RequestTime   time.Time `json:"request_time"`
	Status        string    `json:"status"`
	TripID        *string   `json:"trip_id"`
	EstimatedFare *float64  `json:"estimated_fare"`
}

func toRideResponse(r *models.RideRequest) rideResponse {
	resp := rideResponse{
		ID:            r.ID,
		UserID:        r.UserID,
		PickupLat:     r.Pickup.Lat,
		PickupLon:     r.Pickup.Lon,
		DropoffLat:    r.Dropoff.Lat,
		DropoffLon:    r.Dropoff.Lon,
		SeatsNeeded:   r.SeatsNeeded,
		LuggageCount:  r.LuggageCount,
		WindowStart:   r.WindowStart,
		WindowEnd:     r.WindowEnd,
		RequestTime:   r.RequestTime,
		Status:        string(r.Status),
		EstimatedFare: r.Fare,
	}
	if r.TripID != "" {
		id := r.TripID
		resp.TripID = &id
	}
	return resp
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var payload rideRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd, err := payload.validate()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.svc.Request(r.Context(), cmd)
	if err != nil {
		s.logger.Error("ride request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, toRideResponse(req))
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.svc.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "ride request not found")
		return
	}
	if err != nil {
		s.logger.Error("ride lookup failed", "ride_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, toRideResponse(req))
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.svc.Cancel(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "ride request not found")
		return
	}
	if errors.Is(err, rides.ErrCannotCancel) {
		s.writeError(w, http.StatusConflict, "ride cannot be cancelled in current state")
		return
	}
	if err != nil {
		s.logger.Error("ride cancel failed", "ride_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, toRideResponse(req))
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	seeded, err := s.svc.Seed(r.Context())
	if err != nil {
		s.logger.Error("seed failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to seed data")
		return
	}
	msg := "Seeded generic data"
	if !seeded {
		msg = "Data already seeded"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response
		s.logger.Warn("ws upgrade failed", "user_id", userID, "error", err)
		return
	}
	s.wsreg.Add(userID, conn)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
