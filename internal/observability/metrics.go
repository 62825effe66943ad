package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "matches_total", Help: "Requests bound to an existing pooled trip"})
	TripsCreatedTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "trips_created_total", Help: "New trips created by vehicle allocation"})
	CapacityRaces      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "capacity_races_total", Help: "Reservations lost to a concurrent booking"})
	VehiclesExhausted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "vehicles_exhausted_total", Help: "Allocation attempts that found no available vehicle"})
	CancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "cancellations_total", Help: "Ride requests cancelled"})

	ProximityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_pooling",
		Name:      "proximity_score_km",
		Help:      "Winning proximity score of pooled matches in km",
		Buckets:   []float64{0.5, 1, 2, 3, 4, 5},
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_pooling", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_pooling",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
