// Package matcher selects the best pooling trip for a ride request using
// a greedy proximity heuristic: requests are matched online, one at a
// time, so no attempt is made at a globally optimal assignment.
package matcher

import (
	"context"

	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/observability"
)

// CandidateSource yields open trips that can absorb the request's load.
type CandidateSource interface {
	CandidateTrips(ctx context.Context, statuses []models.TripStatus, seats, luggage int) ([]models.Trip, error)
}

// TripLocator narrows the scan to trips near a point. Optional; the
// Redis trip index implements it.
type TripLocator interface {
	Near(ctx context.Context, p models.Coord, radiusKm float64) ([]string, error)
}

type Finder struct {
	Store   CandidateSource
	Locator TripLocator // optional geo prefilter
	Cfg     config.MatchingConfig
}

func NewFinder(store CandidateSource, locator TripLocator, cfg config.MatchingConfig) *Finder {
	return &Finder{Store: store, Locator: locator, Cfg: cfg}
}

var openStatuses = []models.TripStatus{models.TripScheduled, models.TripInProgress}

// FindBestTrip returns the eligible trip with the lowest proximity score,
// or nil when none qualifies. The score is the pickup-to-origin distance
// plus the dropoff-to-destination distance; a trip is eligible only when
// the score is strictly below the configured threshold. Ties go to the
// earliest-created trip, which the store's ordering already guarantees.
func (f *Finder) FindBestTrip(ctx context.Context, req *models.RideRequest) (*models.Trip, error) {
	candidates, err := f.Store.CandidateTrips(ctx, openStatuses, req.SeatsNeeded, req.LuggageCount)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if f.Locator != nil {
		candidates = f.prefilter(ctx, req.Pickup, candidates)
	}

	var best *models.Trip
	bestScore := f.Cfg.ProximityThresholdKm
	for i := range candidates {
		t := &candidates[i]
		score := geo.Distance(req.Pickup, t.Origin) + geo.Distance(req.Dropoff, t.Destination)
		if score < bestScore {
			bestScore = score
			best = t
		}
	}
	if best != nil {
		observability.ProximityScore.Observe(bestScore)
	}
	return best, nil
}

// prefilter keeps only candidates whose origin the geo index places near
// the pickup. The index is advisory: on error or an empty index we fall
// back to the full candidate set rather than miss a match.
func (f *Finder) prefilter(ctx context.Context, pickup models.Coord, candidates []models.Trip) []models.Trip {
	ids, err := f.Locator.Near(ctx, pickup, f.Cfg.ProximityThresholdKm)
	if err != nil || len(ids) == 0 {
		return candidates
	}
	near := make(map[string]bool, len(ids))
	for _, id := range ids {
		near[id] = true
	}
	kept := candidates[:0]
	for _, t := range candidates {
		if near[t.ID] {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	return kept
}
