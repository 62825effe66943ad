// Package pricing computes fare quotes from trip distance and pooling
// discount rules.
package pricing

import (
	"math"

	"github.com/example/ride-pooling/internal/config"
)

type Calculator struct {
	cfg config.PricingConfig
}

func NewCalculator(cfg config.PricingConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Quote returns the fare for a ride of the given direct distance.
// Shared rides earn a discount per extra passenger, capped so the price
// never drops below half the solo fare.
func (c *Calculator) Quote(distanceKm float64, shared bool, totalPassengers int) float64 {
	price := c.cfg.BaseFare + distanceKm*c.cfg.PerKmRate
	if shared && totalPassengers > 1 {
		discount := c.cfg.DiscountStep * float64(totalPassengers-1)
		if discount > c.cfg.DiscountCap {
			discount = c.cfg.DiscountCap
		}
		price *= 1 - discount
	}
	return round2(price)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
