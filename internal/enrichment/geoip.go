package enrichment

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/oschwald/geoip2-golang"
)

// CityReader is the part of *geoip2.Reader the source needs
type CityReader interface {
	City(ip net.IP) (*geoip2.City, error)
}

// GeoIPSource answers ipinfo lookups from a local MaxMind City database
type GeoIPSource struct {
	reader CityReader
}

// OpenGeoIPSource opens the MMDB file at path. The returned closer releases it.
func OpenGeoIPSource(path string) (*GeoIPSource, func() error, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return NewGeoIPSource(reader), reader.Close, nil
}

// NewGeoIPSource wraps an already opened reader
func NewGeoIPSource(reader CityReader) *GeoIPSource {
	return &GeoIPSource{reader: reader}
}

// geoDocument mirrors the ipinfo fields read back by admin views
type geoDocument struct {
	IP       string `json:"ip"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country,omitempty"`
	Loc      string `json:"loc,omitempty"`
	Postal   string `json:"postal,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Lookup returns an ipinfo-shaped JSON document for ip
func (s *GeoIPSource) Lookup(_ context.Context, ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("invalid IP address %q", ip)
	}

	record, err := s.reader.City(parsed)
	if err != nil {
		return "", fmt.Errorf("geoip lookup failed: %w", err)
	}

	doc := geoDocument{
		IP:       ip,
		City:     record.City.Names["en"],
		Country:  record.Country.IsoCode,
		Postal:   record.Postal.Code,
		Timezone: record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		doc.Region = record.Subdivisions[0].Names["en"]
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		doc.Loc = strconv.FormatFloat(record.Location.Latitude, 'f', 4, 64) + "," +
			strconv.FormatFloat(record.Location.Longitude, 'f', 4, 64)
	}
	if doc.City == "" && doc.Country == "" && doc.Loc == "" {
		return "", fmt.Errorf("no geoip record for %s", ip)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("geoip encode failed: %w", err)
	}
	return string(raw), nil
}
