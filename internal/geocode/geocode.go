// Package geocode turns a free-form address into coordinates using a
// Nominatim search endpoint. Lookups never fail outright: when the address
// cannot be resolved the default location is returned and flagged.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultURL       = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent = "passwatch"
	DefaultTimeout   = 10 * time.Second

	// Paris.
	DefaultLat  = 48.8566
	DefaultLon  = 2.3522
	DefaultName = "Default location (Paris)"
)

// Location is a resolved observer position.
type Location struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"display_name"`
}

// Default returns the fallback location.
func Default() Location {
	return Location{Lat: DefaultLat, Lon: DefaultLon, DisplayName: DefaultName}
}

// Options configures a Client.
type Options struct {
	URL        string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client queries a Nominatim search endpoint.
type Client struct {
	url       string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	log       *log.Logger
}

// New builds a Client, filling unset options with defaults.
func New(opts Options) *Client {
	c := &Client{
		url:       opts.URL,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		client:    opts.HTTPClient,
		log:       opts.Logger,
	}
	if c.url == "" {
		c.url = DefaultURL
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.log == nil {
		c.log = log.New(io.Discard, "", 0)
	}
	return c
}

type searchHit struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode resolves address. An empty address yields the default location
// and true. Any lookup failure yields the default location, a display name
// explaining the failure, and false.
func (c *Client) Geocode(ctx context.Context, address string) (Location, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Default(), true
	}

	ctx, span := otel.Tracer("github.com/large-farva/passwatch/internal/geocode").Start(ctx, "geocode.search")
	defer span.End()

	loc, err := c.search(ctx, address)
	span.SetAttributes(attribute.Bool("geocode.ok", err == nil))
	if err != nil {
		c.log.Printf("geocode: %q: %v, using default location", address, err)
		fallback := Default()
		fallback.DisplayName = fmt.Sprintf("Geocoding failed for %q. %s", address, DefaultName)
		return fallback, false
	}
	return loc, true
}

func (c *Client) search(ctx context.Context, address string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(c.url)
	if err != nil {
		return Location{}, fmt.Errorf("parse geocode url: %w", err)
	}
	q := u.Query()
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Location{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geocoder returned HTTP %d", resp.StatusCode)
	}

	var hits []searchHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return Location{}, fmt.Errorf("decode response: %w", err)
	}
	if len(hits) == 0 {
		return Location{}, errors.New("no match")
	}

	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return Location{}, fmt.Errorf("bad latitude %q", hits[0].Lat)
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return Location{}, fmt.Errorf("bad longitude %q", hits[0].Lon)
	}
	return Location{Lat: lat, Lon: lon, DisplayName: hits[0].DisplayName}, nil
}
