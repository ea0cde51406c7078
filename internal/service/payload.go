package service

import (
	"bytes"
	"errors"
	"math"
	"time"

	"github.com/goccy/go-json"

	"portfolio-analytics/internal/bot"
	"portfolio-analytics/internal/clientinfo"
	"portfolio-analytics/internal/domain"
)

// Field limits, in characters
const (
	maxUserAgentLen      = 500
	maxAcceptLanguageLen = 200
	maxReferrerLen       = 1000
	maxPageLen           = 500
	maxOrientationLen    = 40
)

// ErrMissingIdentifiers is returned when vid or sid is absent or blank
var ErrMissingIdentifiers = errors.New("vid and sid are required")

// timestamp layouts accepted for event and session times, most specific first
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// RequestContext carries what the ingestion pipeline reads from the HTTP request itself
type RequestContext struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	Geo            *domain.Geo
}

// Submission is a normalized ingestion call plus the raw behavioral signals for bot scoring
type Submission struct {
	Collect *domain.Collect
	Signals bot.Input
}

// Payload is a decoded /api/collect body. Malformed or non-object input decodes to an empty payload.
type Payload struct {
	raw    []byte
	fields map[string]json.RawMessage
}

// DecodePayload parses a collect body without ever failing
func DecodePayload(raw []byte) Payload {
	p := Payload{raw: raw, fields: map[string]json.RawMessage{}}
	if len(bytes.TrimSpace(raw)) == 0 {
		return p
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return p
	}
	p.fields = fields
	return p
}

// Internal reports whether the body is flagged as internal/self-test traffic
func (p Payload) Internal() bool {
	v, ok := rawBool(p.fields["internal"])
	return ok && v
}

// Normalize validates identifiers and turns the payload into a Submission
func (p Payload) Normalize(rc RequestContext, now time.Time) (*Submission, error) {
	vid := clamp(rawString(p.fields["vid"]), domain.MaxIDLength)
	sid := clamp(rawString(p.fields["sid"]), domain.MaxIDLength)
	if vid == "" || sid == "" {
		return nil, ErrMissingIdentifiers
	}

	in := &domain.Collect{
		VID:            vid,
		SID:            sid,
		IP:             optional(rc.IP, 0),
		UserAgent:      optional(rc.UserAgent, maxUserAgentLen),
		AcceptLanguage: optional(rc.AcceptLanguage, maxAcceptLanguageLen),
		Referrer:       optional(rawString(p.fields["referrer"]), maxReferrerLen),
		Page:           optional(rawString(p.fields["page"]), maxPageLen),
		Orientation:    optional(rawString(p.fields["orientation"]), maxOrientationLen),
		Geo:            rc.Geo,
	}
	if b, ok := rawBool(p.fields["is_mobile"]); ok {
		in.IsMobile = &b
	}

	in.Events = p.events(now)
	in.StartedAt = p.startedAt(in.Events, now)

	signals := bot.Input{
		UserAgent:      derefOr(in.UserAgent),
		AcceptLanguage: derefOr(in.AcceptLanguage),
	}
	if summary, ok := rawObject(p.fields["summary"]); ok {
		in.Summary = decodeSummary(summary)
		if v, ok := rawNumber(summary["active_seconds"]); ok {
			signals.ActiveSeconds = &v
		}
		if v, ok := rawNumber(summary["interactions"]); ok {
			signals.Interactions = &v
		}
	}

	return &Submission{Collect: in, Signals: signals}, nil
}

// events extracts the batch from "events" or the legacy single-event form, capped at MaxEventsPerBatch
func (p Payload) events(now time.Time) []domain.Event {
	var items []map[string]json.RawMessage

	if list, ok := rawArray(p.fields["events"]); ok {
		if len(list) > domain.MaxEventsPerBatch {
			list = list[:domain.MaxEventsPerBatch]
		}
		items = make([]map[string]json.RawMessage, 0, len(list))
		for _, item := range list {
			obj, _ := rawObject(item)
			items = append(items, obj)
		}
	} else if _, ok := rawStringOK(p.fields["event"]); ok {
		items = []map[string]json.RawMessage{{
			"type": p.fields["event"],
			"ts":   p.fields["ts"],
			"seq":  p.fields["seq"],
			"data": json.RawMessage(p.raw),
		}}
	}

	events := make([]domain.Event, 0, len(items))
	for _, item := range items {
		e := domain.Event{
			Type: clamp(rawString(item["type"]), domain.MaxEventTypeLen),
			TS:   parseTimestamp(rawString(item["ts"]), now),
		}
		if e.Type == "" {
			e.Type = domain.EventUnknown
		}
		if v, ok := rawNumber(item["seq"]); ok {
			e.Seq = toInt32Range(v)
		}
		if data := item["data"]; len(data) > 0 && !isNull(data) {
			e.Data = []byte(data)
		}
		events = append(events, e)
	}
	return events
}

// startedAt picks the earliest event time, then the body's started_at or ts, then now
func (p Payload) startedAt(events []domain.Event, now time.Time) time.Time {
	if len(events) > 0 {
		earliest := events[0].TS
		for _, e := range events[1:] {
			if e.TS.Before(earliest) {
				earliest = e.TS
			}
		}
		return earliest
	}
	if s, ok := rawStringOK(p.fields["started_at"]); ok {
		return parseTimestamp(s, now)
	}
	return parseTimestamp(rawString(p.fields["ts"]), now)
}

func decodeSummary(fields map[string]json.RawMessage) *domain.Summary {
	s := &domain.Summary{
		ActiveSeconds:           intField(fields, "active_seconds"),
		IdleSeconds:             intField(fields, "idle_seconds"),
		SessionSeconds:          intField(fields, "session_seconds"),
		Interactions:            intField(fields, "interactions"),
		FirstInteractionSeconds: intField(fields, "first_interaction_seconds"),
		OverlaysUnique:          intField(fields, "overlays_unique"),
	}
	if overlays := fields["overlays"]; len(overlays) > 0 && !isNull(overlays) && !bytes.Equal(bytes.TrimSpace(overlays), []byte("false")) {
		s.Overlays = []byte(overlays)
	}
	return s
}

func intField(fields map[string]json.RawMessage, key string) *int64 {
	v, ok := rawNumber(fields[key])
	if !ok {
		return nil
	}
	return toInt32Range(v)
}

// toInt32Range rounds v for an INTEGER column; out-of-range values are dropped
func toInt32Range(v float64) *int64 {
	r := math.Round(v)
	if math.IsNaN(r) || r > math.MaxInt32 || r < math.MinInt32 {
		return nil
	}
	n := int64(r)
	return &n
}

func parseTimestamp(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return now
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func rawString(raw json.RawMessage) string {
	s, _ := rawStringOK(raw)
	return s
}

func rawStringOK(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func rawNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func rawBool(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 || isNull(raw) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func rawObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return map[string]json.RawMessage{}, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
		return map[string]json.RawMessage{}, false
	}
	return obj, true
}

func rawArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, false
	}
	return list, true
}

// clamp cleans s for storage and truncates it to max characters; max <= 0 means unbounded
func clamp(s string, max int) string {
	s = clientinfo.Text(s)
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max])
	}
	return s
}

// optional clamps s and maps "" to nil
func optional(s string, max int) *string {
	s = clamp(s, max)
	if s == "" {
		return nil
	}
	return &s
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
