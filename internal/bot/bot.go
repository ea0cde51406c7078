// Package bot scores ingestion calls for signs of automated traffic.
package bot

import (
	"regexp"
	"strings"

	"portfolio-analytics/internal/domain"
)

// DefaultThreshold is the score at which a session is classified as a bot
const DefaultThreshold = 6

// Reason tags, in evaluation order
const (
	ReasonScreenshot       = "vercel-screenshot"
	ReasonHeadless         = "headless"
	ReasonCrawler          = "crawler-ua"
	ReasonHTTPClient       = "http-client"
	ReasonNoAcceptLanguage = "no-accept-language"
	ReasonNoInteraction    = "0-interaction short session"
)

var (
	screenshotPattern = regexp.MustCompile(`(?i)vercel-screenshot`)
	crawlerPattern    = regexp.MustCompile(`(?i)(bot|crawler|spider)\b`)
	httpClientPattern = regexp.MustCompile(`(?i)^(curl|wget|python-requests|python-urllib|aiohttp|httpx|go-http-client|okhttp|java/|node-fetch|axios|libwww-perl|scrapy|httpie)`)
)

// Input is what the evaluator looks at for one ingestion call.
// Behavioral numbers are nil when the client did not report them.
type Input struct {
	UserAgent      string
	AcceptLanguage string
	ActiveSeconds  *float64
	Interactions   *float64
}

type rule struct {
	reason string
	weight int
	match  func(Input) bool
}

var rules = []rule{
	{ReasonScreenshot, 6, func(in Input) bool { return screenshotPattern.MatchString(in.UserAgent) }},
	{ReasonHeadless, 5, func(in Input) bool { return strings.Contains(strings.ToLower(in.UserAgent), "headless") }},
	{ReasonCrawler, 4, func(in Input) bool { return crawlerPattern.MatchString(in.UserAgent) }},
	{ReasonHTTPClient, 4, func(in Input) bool { return httpClientPattern.MatchString(strings.TrimSpace(in.UserAgent)) }},
	{ReasonNoAcceptLanguage, 1, func(in Input) bool { return strings.TrimSpace(in.AcceptLanguage) == "" }},
	{ReasonNoInteraction, 2, func(in Input) bool {
		return in.ActiveSeconds != nil && in.Interactions != nil && *in.ActiveSeconds <= 1 && *in.Interactions == 0
	}},
}

// Evaluator scores requests against a fixed rule set
type Evaluator struct {
	threshold int
}

// NewEvaluator creates an evaluator; non-positive thresholds fall back to DefaultThreshold
func NewEvaluator(threshold int) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Evaluator{threshold: threshold}
}

// Threshold returns the classification threshold in use
func (e *Evaluator) Threshold() int {
	return e.threshold
}

// Evaluate applies every rule independently and sums the weights of those that fire.
// Reasons are reported in rule order.
func (e *Evaluator) Evaluate(in Input) domain.BotVerdict {
	verdict := domain.BotVerdict{Reasons: []string{}}
	for _, r := range rules {
		if r.match(in) {
			verdict.Score += r.weight
			verdict.Reasons = append(verdict.Reasons, r.reason)
		}
	}
	verdict.IsBot = verdict.Score >= e.threshold
	return verdict
}
