package geo

import (
	"math"
	"testing"

	"github.com/example/ride-pooling/internal/models"
)

func TestDistanceZero(t *testing.T) {
	p := models.Coord{Lat: 12.9716, Lon: 77.5946}
	if d := Distance(p, p); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
	origin := models.Coord{}
	if d := Distance(origin, origin); d != 0 {
		t.Fatalf("expected 0 at equator/prime-meridian, got %f", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][2]models.Coord{
		{{Lat: 12.9716, Lon: 77.5946}, {Lat: 13.1986, Lon: 77.7066}},
		{{Lat: 0, Lon: 0}, {Lat: 51.5, Lon: -0.12}},
		{{Lat: -33.87, Lon: 151.21}, {Lat: 35.68, Lon: 139.69}},
	}
	for _, p := range pairs {
		ab := Distance(p[0], p[1])
		ba := Distance(p[1], p[0])
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("asymmetric: %f vs %f", ab, ba)
		}
	}
}

func TestDistanceBangaloreAirportRun(t *testing.T) {
	city := models.Coord{Lat: 12.9716, Lon: 77.5946}
	airport := models.Coord{Lat: 13.1986, Lon: 77.7066}
	d := Distance(city, airport)
	if d < 25 || d > 32 {
		t.Fatalf("expected roughly 28km, got %f", d)
	}
}

func TestEquatorCoordinateIsValid(t *testing.T) {
	// 0.0 latitude must behave as a real point, not a sentinel
	a := models.Coord{Lat: 0, Lon: 77.5946}
	b := models.Coord{Lat: 1, Lon: 77.5946}
	d := Distance(a, b)
	// one degree of latitude is ~111km
	if d < 110 || d > 112 {
		t.Fatalf("expected ~111km per degree latitude, got %f", d)
	}
}
