package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// EnrichmentKind names one of the IP enrichment caches
type EnrichmentKind string

const (
	EnrichmentIPInfo EnrichmentKind = "ipinfo"
	EnrichmentPTR    EnrichmentKind = "ptr"
)

// EnrichmentResult holds either a successful value or a recorded error.
// Value is the raw ipinfo JSON document or the PTR hostname.
type EnrichmentResult struct {
	Value     string
	Err       string
	FetchedAt *time.Time
	ErrorAt   *time.Time
}

// Empty reports whether nothing has been recorded for the IP yet
func (r EnrichmentResult) Empty() bool {
	return r.Value == "" && r.Err == ""
}

// OK reports whether the result carries a value
func (r EnrichmentResult) OK() bool {
	return r.Value != ""
}

// IPInfo is the subset of the ipinfo document read back by admin views
type IPInfo struct {
	IP       string `json:"ip,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country,omitempty"`
	Loc      string `json:"loc,omitempty"`
	Org      string `json:"org,omitempty"`
	Postal   string `json:"postal,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Bogon    bool   `json:"bogon,omitempty"`
	Company  *struct {
		Name string `json:"name"`
	} `json:"company,omitempty"`
}

// OrgName prefers org and falls back to company.name
func (i IPInfo) OrgName() string {
	if i.Org != "" {
		return i.Org
	}
	if i.Company != nil {
		return i.Company.Name
	}
	return ""
}

// ParseIPInfo decodes a stored ipinfo document; nil or invalid input yields the zero value
func ParseIPInfo(raw []byte) IPInfo {
	var info IPInfo
	if len(raw) == 0 {
		return info
	}
	_ = json.Unmarshal(raw, &info)
	return info
}

// ParseGeo decodes a stored geo snapshot; nil or invalid input yields the zero value
func ParseGeo(raw []byte) Geo {
	var g Geo
	if len(raw) == 0 {
		return g
	}
	_ = json.Unmarshal(raw, &g)
	return g
}
