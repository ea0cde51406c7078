// Package clientinfo extracts client context from inbound HTTP requests.
// All functions are pure: they read headers and never perform I/O.
package clientinfo

import (
	"net/http"
	"net/url"
	"strings"

	"portfolio-analytics/internal/domain"
)

// Platform geo headers injected by the edge in front of the service
const (
	HeaderGeoCity       = "X-Vercel-IP-City"
	HeaderGeoRegion     = "X-Vercel-IP-Country-Region"
	HeaderGeoCountry    = "X-Vercel-IP-Country"
	HeaderGeoTimezone   = "X-Vercel-IP-Timezone"
	HeaderGeoLatitude   = "X-Vercel-IP-Latitude"
	HeaderGeoLongitude  = "X-Vercel-IP-Longitude"
	HeaderGeoPostalCode = "X-Vercel-IP-Postal-Code"
	HeaderGeoASN        = "X-Vercel-IP-ASN"
	HeaderGeoASName     = "X-Vercel-IP-AS-Name"
)

// devHosts are always accepted by the origin gate so local builds can post events
var devHosts = []string{"localhost:5173", "localhost:4173", "localhost:3000"}

// Header returns the first value of a header, matched case-insensitively
func Header(r *http.Request, name string) string {
	return r.Header.Get(name)
}

// Text makes a request-supplied value storable in a Postgres TEXT or JSONB
// column: invalid UTF-8 becomes U+FFFD and NUL bytes are dropped.
func Text(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

// ClientIP returns the first X-Forwarded-For entry, else X-Real-IP, else "".
// RemoteAddr is deliberately ignored: behind the edge it is the proxy's address.
func ClientIP(r *http.Request) string {
	if forwarded := Header(r, "X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(Text(first)); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(Text(Header(r, "X-Real-IP")))
}

// SafeHost returns the lower-cased host[:port] of an absolute URL, or "" when
// the value is empty, relative or malformed.
func SafeHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}

// GeoFromHeaders reads the platform geo snapshot. Nil when no header is set.
func GeoFromHeaders(r *http.Request) *domain.Geo {
	geo := domain.Geo{
		City:       decodeHeader(Header(r, HeaderGeoCity)),
		Region:     decodeHeader(Header(r, HeaderGeoRegion)),
		Country:    decodeHeader(Header(r, HeaderGeoCountry)),
		Timezone:   decodeHeader(Header(r, HeaderGeoTimezone)),
		Latitude:   decodeHeader(Header(r, HeaderGeoLatitude)),
		Longitude:  decodeHeader(Header(r, HeaderGeoLongitude)),
		PostalCode: decodeHeader(Header(r, HeaderGeoPostalCode)),
		ASN:        decodeHeader(Header(r, HeaderGeoASN)),
		ASName:     decodeHeader(Header(r, HeaderGeoASName)),
	}
	if geo.IsEmpty() {
		return nil
	}
	return &geo
}

// decodeHeader percent-decodes a header value, treating '+' as a space.
// Values that fail to decode are returned unchanged.
func decodeHeader(value string) string {
	if value == "" {
		return ""
	}
	decoded, err := url.PathUnescape(strings.ReplaceAll(value, "+", "%20"))
	if err != nil {
		return Text(value)
	}
	return Text(decoded)
}

// AllowedHosts returns the hosts the origin gate accepts for this request:
// the request's own Host, the configured extras and the local dev servers.
func AllowedHosts(r *http.Request, extra []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(extra)+len(devHosts)+1)
	if host := strings.ToLower(strings.TrimSpace(r.Host)); host != "" {
		allowed[host] = struct{}{}
	}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = struct{}{}
		}
	}
	for _, h := range devHosts {
		allowed[h] = struct{}{}
	}
	return allowed
}

// SameSite reports whether the browser or the headers mark the request as first-party.
func SameSite(r *http.Request) bool {
	switch strings.ToLower(Header(r, "Sec-Fetch-Site")) {
	case "same-origin", "same-site", "none":
		return true
	}

	origin := Header(r, "Origin")
	referer := Header(r, "Referer")
	if origin == "" && referer == "" {
		// Non-browser clients; bot scoring handles them instead.
		return true
	}
	if origin == "" {
		refHost := SafeHost(referer)
		return refHost != "" && refHost == strings.ToLower(r.Host)
	}
	return false
}

// OriginAllowed is the ingestion origin gate
func OriginAllowed(r *http.Request, extra []string) bool {
	if SameSite(r) {
		return true
	}

	allowed := AllowedHosts(r, extra)
	if host := SafeHost(Header(r, "Origin")); host != "" {
		if _, ok := allowed[host]; ok {
			return true
		}
	}
	if host := SafeHost(Header(r, "Referer")); host != "" {
		if _, ok := allowed[host]; ok {
			return true
		}
	}
	return false
}
