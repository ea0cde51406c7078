package domain

import "time"

// Limits applied to client-supplied identifiers and visitor edits
const (
	MaxIDLength          = 128
	MaxDisplayNameLength = 80
)

// Visitor is the long-lived pseudonymous identity keyed by vid
type Visitor struct {
	VID             string
	DisplayName     *string
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	FirstIP         *string
	LastIP          *string
	FirstUserAgent  *string
	LastUserAgent   *string
	FirstReferrer   *string
	LastReferrer    *string
	IPInfo          []byte // raw JSON document, nil until enriched
	IPInfoIP        *string
	IPInfoFetchedAt *time.Time
	IPInfoError     *string
	IPInfoErrorAt   *time.Time
	PTR             *string
	PTRIP           *string
	PTRFetchedAt    *time.Time
	PTRError        *string
	PTRErrorAt      *time.Time
}

// VisitorRename is a validated admin rename. A nil or blank DisplayName clears the name.
type VisitorRename struct {
	VID         string  `validate:"required,max=128"`
	DisplayName *string
}
