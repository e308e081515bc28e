// Package trajectory draws a plausible ground track for a pass over an
// observer. The track is cosmetic: it gives a map something to show and has
// no bearing on how passes are ranked.
package trajectory

import (
	"fmt"
	"math/rand/v2"

	"github.com/golang/geo/s2"
)

const (
	// Points is the number of samples along every track.
	Points = 20

	// ArcSpanDegrees bounds how far the track reaches from the observer.
	ArcSpanDegrees = 10.0

	// EarthRadiusKm is the mean Earth radius used for track lengths.
	EarthRadiusKm = 6371.0

	// curvature pulls the midpoint of the arc toward the observer.
	curvature = 0.5
)

// Point is one track sample in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Path is a simulated ground track.
type Path struct {
	Observer        Point   `json:"observer"`
	Points          []Point `json:"points"`
	DurationSeconds int     `json:"duration_seconds"`
	LengthKm        float64 `json:"length_km"`
	Label           string  `json:"label"`
}

// Simulate returns a Points-long arc crossing near (lat, lon) in a random
// direction. A nil rnd uses the global source.
func Simulate(lat, lon float64, durationSeconds int, rnd *rand.Rand) Path {
	uniform := rand.Float64
	if rnd != nil {
		uniform = rnd.Float64
	}
	between := func(lo, hi float64) float64 { return lo + uniform()*(hi-lo) }
	sign := func() float64 {
		if uniform() > 0.5 {
			return 1
		}
		return -1
	}

	latDir, lonDir := sign(), sign()
	half := ArcSpanDegrees / 2
	startLat := lat + latDir*half*between(0.1, 0.4)
	endLat := lat - latDir*half*between(0.1, 0.4)
	startLon := lon + lonDir*half*between(0.4, 0.8)
	endLon := lon - lonDir*half*between(0.4, 0.8)

	lls := make([]s2.LatLng, 0, Points)
	for i := range Points {
		t := float64(i) / float64(Points-1)
		pLat := startLat + t*(endLat-startLat)
		pLon := startLon + t*(endLon-startLon)

		bend := (0.5 - abs(t-0.5)) * curvature
		pLat += (lat - pLat) * bend
		pLon += (lon - pLon) * bend

		lls = append(lls, s2.LatLngFromDegrees(pLat, pLon).Normalized())
	}

	path := Path{
		Observer:        Point{Lat: lat, Lon: lon},
		Points:          make([]Point, len(lls)),
		DurationSeconds: durationSeconds,
		LengthKm:        s2.PolylineFromLatLngs(lls).Length().Radians() * EarthRadiusKm,
		Label:           Label(durationSeconds),
	}
	for i, ll := range lls {
		path.Points[i] = Point{Lat: ll.Lat.Degrees(), Lon: ll.Lng.Degrees()}
	}
	return path
}

// Label describes a simulated pass by its length, e.g. "Simulated pass (5m 7s)".
func Label(durationSeconds int) string {
	return fmt.Sprintf("Simulated pass (%dm %ds)", durationSeconds/60, durationSeconds%60)
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b Point) float64 {
	return s2.LatLngFromDegrees(a.Lat, a.Lon).Distance(s2.LatLngFromDegrees(b.Lat, b.Lon)).Radians() * EarthRadiusKm
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
