package domain

import (
	"strings"
	"time"
)

// Geo is the platform-provided location snapshot captured from request headers.
// Values are kept as the raw header strings.
type Geo struct {
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	Country    string `json:"country,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Latitude   string `json:"latitude,omitempty"`
	Longitude  string `json:"longitude,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	ASN        string `json:"asn,omitempty"`
	ASName     string `json:"asName,omitempty"`
}

// IsEmpty reports whether no geo header was present
func (g Geo) IsEmpty() bool {
	return g == Geo{}
}

// Location joins city, region and country, skipping blanks
func (g Geo) Location() string {
	return joinNonEmpty(", ", g.City, g.Region, g.Country)
}

// Network joins the ASN and AS name, skipping blanks
func (g Geo) Network() string {
	return joinNonEmpty(" ", g.ASN, g.ASName)
}

// Summary is the terminal behavioral summary a client sends when a session ends.
// Numeric fields are whole seconds or counts; nil means the client omitted them.
type Summary struct {
	ActiveSeconds           *int64
	IdleSeconds             *int64
	SessionSeconds          *int64
	Interactions            *int64
	FirstInteractionSeconds *int64
	Overlays                []byte // raw JSON list of {key, seconds}
	OverlaysUnique          *int64
}

// BotVerdict is the outcome of scoring one ingestion call
type BotVerdict struct {
	Score   int
	Reasons []string
	IsBot   bool
}

// ReasonText renders reasons the way they are stored on the session row
func (v BotVerdict) ReasonText() string {
	return strings.Join(v.Reasons, ", ")
}

// Collect is one normalized ingestion call, ready to be written
type Collect struct {
	VID            string
	SID            string
	IP             *string
	UserAgent      *string
	AcceptLanguage *string
	Referrer       *string
	Page           *string
	IsMobile       *bool
	Orientation    *string
	Geo            *Geo
	StartedAt      time.Time
	Events         []Event
	Summary        *Summary
	Bot            BotVerdict
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
