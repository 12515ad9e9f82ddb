// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package enrich

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/detect"
	"github.com/tomtom215/excubitor/internal/metrics"
)

// Location is the geographic origin of an address as resolved by the
// provider. A zero Location means the address could not be placed (private
// range, loopback, or unresolvable).
type Location struct {
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
	ISP         string  `json:"isp,omitempty"`
}

// IsZero reports whether the location carries no placement.
func (l Location) IsZero() bool {
	return l.Country == "" && l.City == ""
}

// ipAPIResponse is the JSON shape returned by ip-api.com style services.
type ipAPIResponse struct {
	Status      string  `json:"status"` // "success" or "fail"
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ISP         string  `json:"isp"`
	Query       string  `json:"query"`
}

// GeoProvider resolves source addresses through an ip-api.com style HTTP
// service, with an LRU cache in front and an outbound rate limit matching the
// service's free-tier allowance. Private and special-purpose addresses short-
// circuit to a zero Location without a lookup.
//
// The provider serves two consumers: the alert enrichment chain (as an
// Enricher) and the detector's geographic rule (as a detect.GeoResolver).
type GeoProvider struct {
	url     string
	client  *http.Client
	cache   *lru.Cache[string, Location]
	limiter *rate.Limiter
}

// NewGeoProvider creates a geolocation provider from config. The timeout
// bounds each outbound lookup.
func NewGeoProvider(cfg config.GeoEnrichConfig, timeout time.Duration) (*GeoProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("geo provider url required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	cache, err := lru.New[string, Location](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("geo cache: %w", err)
	}

	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	return &GeoProvider{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
		limiter: rate.NewLimiter(perSecond, cfg.RequestsPerMinute),
	}, nil
}

// Name identifies the provider in enrichment metadata and metrics.
func (p *GeoProvider) Name() string {
	return "geo"
}

// Enrich geolocates the subject's source address. Subjects without a public
// address contribute nothing.
func (p *GeoProvider) Enrich(ctx context.Context, s Subject) (map[string]interface{}, error) {
	if s.IP == "" {
		return nil, nil
	}

	loc, err := p.Lookup(ctx, s.IP)
	if err != nil {
		return nil, err
	}
	if loc.IsZero() {
		return nil, nil
	}

	result := map[string]interface{}{
		"ip":      s.IP,
		"country": loc.Country,
	}
	if loc.CountryCode != "" {
		result["country_code"] = loc.CountryCode
	}
	if loc.Region != "" {
		result["region"] = loc.Region
	}
	if loc.City != "" {
		result["city"] = loc.City
	}
	if loc.ISP != "" {
		result["isp"] = loc.ISP
	}
	return result, nil
}

// Lookup resolves one address, answering from cache when possible. Addresses
// that cannot carry a public location return a zero Location and no error.
func (p *GeoProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, fmt.Errorf("invalid address %q", ip)
	}
	if isNonPublic(parsed) {
		return Location{}, nil
	}

	if loc, ok := p.cache.Get(ip); ok {
		metrics.EnrichmentCacheHits.WithLabelValues(p.Name()).Inc()
		return loc, nil
	}
	metrics.EnrichmentCacheMisses.WithLabelValues(p.Name()).Inc()

	// Degrade instead of queueing: a burst of novel addresses must not back
	// up behind the outbound allowance.
	if !p.limiter.Allow() {
		return Location{}, fmt.Errorf("lookup rate limit exceeded")
	}

	loc, err := p.query(ctx, ip)
	if err != nil {
		return Location{}, err
	}

	p.cache.Add(ip, loc)
	return loc, nil
}

// Resolve adapts Lookup to the detector's GeoResolver contract.
func (p *GeoProvider) Resolve(ctx context.Context, ip string) (detect.Location, error) {
	loc, err := p.Lookup(ctx, ip)
	if err != nil {
		return detect.Location{}, err
	}
	return detect.Location{Country: loc.Country, City: loc.City}, nil
}

// query performs one HTTP lookup against the configured service.
func (p *GeoProvider) query(ctx context.Context, ip string) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/"+ip, nil)
	if err != nil {
		return Location{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geo lookup %s: status %d", ip, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decode geo response: %w", err)
	}
	if body.Status != "success" {
		return Location{}, fmt.Errorf("geo lookup %s: %s", ip, body.Message)
	}

	return Location{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.RegionName,
		City:        body.City,
		Lat:         body.Lat,
		Lon:         body.Lon,
		ISP:         body.ISP,
	}, nil
}

// isNonPublic reports whether the address cannot have a public geolocation.
func isNonPublic(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
