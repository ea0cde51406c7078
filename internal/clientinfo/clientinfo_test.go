package clientinfo

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-analytics/internal/domain"
)

func newRequest(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "http://portfolio.example/api/collect", nil)
	r.Host = "portfolio.example"
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded list", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1"}, "203.0.113.7"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "198.51.100.2", "X-Real-IP": "10.0.0.9"}, "198.51.100.2"},
		{"real ip fallback", map[string]string{"X-Real-IP": "2001:db8::1"}, "2001:db8::1"},
		{"empty forwarded entry", map[string]string{"X-Forwarded-For": " ,10.0.0.1", "X-Real-IP": "192.0.2.4"}, "192.0.2.4"},
		{"none", nil, ""},
		{"invalid bytes replaced", map[string]string{"X-Forwarded-For": "203.0.113.7\xff"}, "203.0.113.7\uFFFD"},
		{"nul dropped", map[string]string{"X-Real-IP": "192.0.2.4\x00"}, "192.0.2.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClientIP(newRequest(tt.headers)))
		})
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"S\xe3o Paulo", "S\uFFFDo Paulo"},
		{"a\x00b\x00", "ab"},
		{"São Paulo", "São Paulo"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Text(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestHeader_CaseInsensitiveFirstValue(t *testing.T) {
	r := newRequest(nil)
	r.Header["User-Agent"] = []string{"first", "second"}

	assert.Equal(t, "first", Header(r, "user-agent"))
	assert.Equal(t, "", Header(r, "accept-language"))
}

func TestSafeHost(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://Portfolio.Example/about?x=1", "portfolio.example"},
		{"http://localhost:5173/", "localhost:5173"},
		{"/relative/path", ""},
		{"not a url", ""},
		{"http://%zz", ""},
		{"", ""},
		{"null", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeHost(tt.raw))
		})
	}
}

func TestGeoFromHeaders(t *testing.T) {
	t.Run("no headers", func(t *testing.T) {
		assert.Nil(t, GeoFromHeaders(newRequest(nil)))
	})

	t.Run("decodes values", func(t *testing.T) {
		geo := GeoFromHeaders(newRequest(map[string]string{
			HeaderGeoCity:       "S%C3%A3o+Paulo",
			HeaderGeoRegion:     "SP",
			HeaderGeoCountry:    "BR",
			HeaderGeoTimezone:   "America%2FSao_Paulo",
			HeaderGeoLatitude:   "-23.5475",
			HeaderGeoLongitude:  "-46.6361",
			HeaderGeoPostalCode: "01000",
			HeaderGeoASN:        "28573",
			HeaderGeoASName:     "Claro+NXT",
		}))
		require.NotNil(t, geo)
		assert.Equal(t, domain.Geo{
			City:       "São Paulo",
			Region:     "SP",
			Country:    "BR",
			Timezone:   "America/Sao_Paulo",
			Latitude:   "-23.5475",
			Longitude:  "-46.6361",
			PostalCode: "01000",
			ASN:        "28573",
			ASName:     "Claro NXT",
		}, *geo)
	})

	t.Run("decoded bytes are cleaned", func(t *testing.T) {
		geo := GeoFromHeaders(newRequest(map[string]string{
			HeaderGeoCity:   "S%E3o+Paulo",
			HeaderGeoASName: "Claro%00NXT",
		}))
		require.NotNil(t, geo)
		assert.Equal(t, "S\uFFFDo Paulo", geo.City)
		assert.Equal(t, "ClaroNXT", geo.ASName)
	})

	t.Run("malformed encoding passes through", func(t *testing.T) {
		geo := GeoFromHeaders(newRequest(map[string]string{HeaderGeoCity: "100%+Town"}))
		require.NotNil(t, geo)
		assert.Equal(t, "100%+Town", geo.City)
	})
}

func TestOriginAllowed(t *testing.T) {
	extra := []string{"www.portfolio.example"}

	tests := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{"no origin no referer", nil, true},
		{"same-origin fetch metadata", map[string]string{"Sec-Fetch-Site": "same-origin", "Origin": "https://evil.example"}, true},
		{"referer matches host", map[string]string{"Referer": "https://portfolio.example/room"}, true},
		{"origin matches host", map[string]string{"Origin": "https://portfolio.example"}, true},
		{"configured extra host", map[string]string{"Origin": "https://www.portfolio.example", "Sec-Fetch-Site": "cross-site"}, true},
		{"local dev server", map[string]string{"Origin": "http://localhost:5173"}, true},
		{"cross-site origin", map[string]string{"Origin": "https://evil.example", "Sec-Fetch-Site": "cross-site"}, false},
		{"cross-site referer only", map[string]string{"Referer": "https://evil.example/page"}, false},
		{"opaque origin", map[string]string{"Origin": "null"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OriginAllowed(newRequest(tt.headers), extra))
		})
	}
}

func TestAllowedHosts(t *testing.T) {
	hosts := AllowedHosts(newRequest(nil), []string{" Preview.Example ", ""})

	for _, h := range []string{"portfolio.example", "preview.example", "localhost:5173", "localhost:4173", "localhost:3000"} {
		assert.Contains(t, hosts, h)
	}
	assert.Len(t, hosts, 5)
}
