package domain

import "time"

// RawJSON is a stored JSON document passed through to admin responses untouched
type RawJSON []byte

// MarshalJSON writes the document verbatim, or null when absent
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// Device is the browser/OS summary parsed from a user agent
type Device struct {
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// SessionRow is a sessions row as read by admin queries
type SessionRow struct {
	SID                     string
	VID                     string
	DisplayName             *string
	StartedAt               time.Time
	EndedAt                 *time.Time
	IP                      *string
	PTR                     *string
	UserAgent               *string
	AcceptLanguage          *string
	Referrer                *string
	Page                    *string
	IsMobile                *bool
	Orientation             *string
	Geo                     []byte
	BotScore                *int64
	BotReasons              *string
	IsBot                   *bool
	IPInfo                  []byte
	ActiveSeconds           *int64
	IdleSeconds             *int64
	SessionSeconds          *int64
	Interactions            *int64
	FirstInteractionSeconds *int64
	Overlays                []byte
	OverlaysUnique          *int64
}

// SessionView is one session in admin list and detail responses
type SessionView struct {
	SID                     string     `json:"sid"`
	VID                     string     `json:"vid"`
	DisplayName             string     `json:"display_name,omitempty"`
	StartedAt               time.Time  `json:"started_at"`
	EndedAt                 *time.Time `json:"ended_at"`
	IP                      *string    `json:"ip"`
	PTR                     *string    `json:"ptr"`
	Location                *string    `json:"location"`
	City                    *string    `json:"city"`
	Region                  *string    `json:"region"`
	Country                 *string    `json:"country"`
	Latitude                *string    `json:"latitude"`
	Longitude               *string    `json:"longitude"`
	Org                     *string    `json:"org"`
	Net                     *string    `json:"net"`
	BotScore                *int64     `json:"bot_score"`
	BotReasons              *string    `json:"bot_reasons"`
	IsBot                   bool       `json:"is_bot"`
	IsMobile                *bool      `json:"is_mobile"`
	Orientation             *string    `json:"orientation"`
	UserAgent               *string    `json:"user_agent,omitempty"`
	Device                  *Device    `json:"device,omitempty"`
	Referrer                *string    `json:"referrer"`
	ReferrerHost            *string    `json:"referrer_host"`
	Page                    *string    `json:"page"`
	ActiveSeconds           *int64     `json:"active_seconds"`
	IdleSeconds             *int64     `json:"idle_seconds"`
	SessionSeconds          *int64     `json:"session_seconds"`
	Interactions            *int64     `json:"interactions"`
	FirstInteractionSeconds *int64     `json:"first_interaction_seconds"`
	Overlays                RawJSON    `json:"overlays,omitempty"`
	OverlaysUnique          *int64     `json:"overlays_unique"`
}

// SessionDetail is the admin session endpoint response
type SessionDetail struct {
	Session SessionView   `json:"session"`
	Events  []EventRecord `json:"events"`
}

// VisitorView is one visitor in admin list and detail responses
type VisitorView struct {
	VID         string    `json:"vid"`
	DisplayName string    `json:"display_name"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	FirstIP     *string   `json:"first_ip"`
	LastIP      *string   `json:"last_ip"`
	PTR         *string   `json:"ptr"`
	City        *string   `json:"city"`
	Region      *string   `json:"region"`
	Country     *string   `json:"country"`
	Org         *string   `json:"org"`
	IPInfoError *string   `json:"ipinfo_error,omitempty"`
	PTRError    *string   `json:"ptr_error,omitempty"`
}

// VisitorDetail is the admin visitor endpoint response
type VisitorDetail struct {
	Visitor  VisitorView   `json:"visitor"`
	Sessions []SessionView `json:"sessions"`
}

// ReasonCount is one row of the bot reason histogram
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// UserAgentCount is one row of the bot user-agent histogram
type UserAgentCount struct {
	UserAgent string `json:"user_agent"`
	Count     int64  `json:"count"`
}

// BotSummary is the admin bots endpoint response
type BotSummary struct {
	Days       int              `json:"days"`
	Sessions   []SessionView    `json:"sessions"`
	Reasons    []ReasonCount    `json:"reasons"`
	UserAgents []UserAgentCount `json:"user_agents"`
}

// MapRow is the latest human session of one visitor, as read for the map
type MapRow struct {
	VID         string
	DisplayName *string
	SID         string
	StartedAt   time.Time
	IP          *string
	PTR         *string
	Geo         []byte
	IPInfo      []byte
	Sessions    int64
}

// MapPoint is one plotted visitor
type MapPoint struct {
	VID         string    `json:"vid"`
	DisplayName string    `json:"display_name"`
	SID         string    `json:"sid"`
	StartedAt   time.Time `json:"started_at"`
	IP          *string   `json:"ip"`
	PTR         *string   `json:"ptr"`
	Sessions    int64     `json:"sessions"`
	City        *string   `json:"city"`
	Region      *string   `json:"region"`
	Country     *string   `json:"country"`
	Org         *string   `json:"org"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
}

// Status reports which pieces of configuration are present
type Status struct {
	DBConfigured          bool `json:"db_configured"`
	AdminTokenConfigured  bool `json:"admin_token_configured"`
	IPInfoTokenConfigured bool `json:"ipinfo_token_configured"`
}

// TableCounts is reported by the maintenance CLI
type TableCounts struct {
	Visitors    int64
	Sessions    int64
	Events      int64
	IPInfoCache int64
	PTRCache    int64
}
