package domain

import "time"

// Event types emitted by the room UI. Any other string is stored verbatim.
const (
	EventVisit                 = "visit"
	EventClickTarget           = "click_target"
	EventHoverStart            = "hover_start"
	EventHoverEnd              = "hover_end"
	EventOpenOverlay           = "open_overlay"
	EventCloseOverlay          = "close_overlay"
	EventMobileWarningShown    = "mobile_warning_shown"
	EventRotatePromptShown     = "rotate_prompt_shown"
	EventRotatePromptDismissed = "rotate_prompt_dismissed"
	EventUnknown               = "unknown"
)

// Batch and field limits for a single ingestion call
const (
	MaxEventsPerBatch = 300
	MaxEventTypeLen   = 64
)

// Event is an append-only interaction record. Data is stored without interpretation.
type Event struct {
	Type string
	TS   time.Time
	Seq  *int64
	Data []byte // raw JSON, nil stored as JSON null
}

// EventRecord is an event as read back for the admin session view
type EventRecord struct {
	ID   int64     `json:"id"`
	TS   time.Time `json:"ts"`
	Type string    `json:"type"`
	Seq  *int64    `json:"seq"`
	Data RawJSON   `json:"data"`
}
