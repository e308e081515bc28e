// Package locate decides where the observer is for a ranking request. An
// address wins over explicit coordinates, which win over a gpsd fix, which
// wins over the configured home station.
package locate

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/large-farva/passwatch/internal/geocode"
)

// Origins of a resolved position.
const (
	OriginAddress     = "address"
	OriginCoordinates = "coordinates"
	OriginGPSD        = "gpsd"
	OriginStation     = "station"
)

const (
	gpsdTimeout = 10 * time.Second
	gpsdMaxAge  = 5 * time.Minute
)

// Query is what the caller knows about the observer. Nil coordinates mean
// "not given".
type Query struct {
	Address string
	Lat     *float64
	Lon     *float64
}

// Position is the resolved observer location.
type Position struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
	Origin      string  `json:"origin"`
	Warning     string  `json:"warning,omitempty"`
}

// Geocoder resolves addresses.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geocode.Location, bool)
}

// Station is the configured home location.
type Station struct {
	Lat      float64
	Lon      float64
	UseGPSD  bool
	GPSDHost string
}

// Resolver applies the location precedence. Safe for concurrent use.
type Resolver struct {
	geo     Geocoder
	log     *log.Logger
	fixFunc func(ctx context.Context, addr string, timeout time.Duration) (Fix, error)
	now     func() time.Time

	mu      sync.Mutex
	station Station
	fix     Fix
	fixAt   time.Time
}

// NewResolver returns a resolver for station. geo may be nil when addresses
// are never given.
func NewResolver(station Station, geo Geocoder, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Resolver{
		geo:     geo,
		log:     logger,
		fixFunc: FixFromGPSD,
		now:     time.Now,
		station: station,
	}
}

// SetStation replaces the home station, e.g. after a relocate or reload.
func (r *Resolver) SetStation(s Station) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.station = s
	r.fixAt = time.Time{}
}

// Station returns the current home station.
func (r *Resolver) Station() Station {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.station
}

// Resolve picks the observer position for q. A failed geocode falls through
// to the next source and is reported in Warning.
func (r *Resolver) Resolve(ctx context.Context, q Query) Position {
	var warning string
	if q.Address != "" && r.geo != nil {
		loc, ok := r.geo.Geocode(ctx, q.Address)
		if ok {
			return Position{Lat: loc.Lat, Lon: loc.Lon, DisplayName: loc.DisplayName, Origin: OriginAddress}
		}
		warning = loc.DisplayName
	}

	if q.Lat != nil && q.Lon != nil {
		return Position{
			Lat:         *q.Lat,
			Lon:         *q.Lon,
			DisplayName: fmt.Sprintf("%.4f, %.4f", *q.Lat, *q.Lon),
			Origin:      OriginCoordinates,
			Warning:     warning,
		}
	}

	pos := r.Home(ctx)
	pos.Warning = warning
	return pos
}

// Home returns the gpsd fix when enabled and available, else the station.
func (r *Resolver) Home(ctx context.Context) Position {
	st := r.Station()
	if st.UseGPSD {
		if fix, ok := r.gpsdFix(ctx, st.GPSDHost); ok {
			return Position{
				Lat:         fix.Lat,
				Lon:         fix.Lon,
				DisplayName: fmt.Sprintf("gpsd %.4f, %.4f, %.0fm", fix.Lat, fix.Lon, fix.Alt),
				Origin:      OriginGPSD,
			}
		}
	}
	return Position{
		Lat:         st.Lat,
		Lon:         st.Lon,
		DisplayName: fmt.Sprintf("station %.4f, %.4f", st.Lat, st.Lon),
		Origin:      OriginStation,
	}
}

// gpsdFix returns a recent fix, querying gpsd when the last one is stale.
func (r *Resolver) gpsdFix(ctx context.Context, host string) (Fix, bool) {
	r.mu.Lock()
	if !r.fixAt.IsZero() && r.now().Sub(r.fixAt) < gpsdMaxAge {
		fix := r.fix
		r.mu.Unlock()
		return fix, true
	}
	r.mu.Unlock()

	fix, err := r.fixFunc(ctx, host, gpsdTimeout)
	if err != nil {
		r.log.Printf("locate: gpsd failed (%v), falling back to config", err)
		return Fix{}, false
	}
	r.log.Printf("locate: location from gpsd: %.4f, %.4f, %.0fm", fix.Lat, fix.Lon, fix.Alt)

	r.mu.Lock()
	r.fix, r.fixAt = fix, r.now()
	r.mu.Unlock()
	return fix, true
}
