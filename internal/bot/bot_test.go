package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

func TestEvaluate(t *testing.T) {
	eval := NewEvaluator(DefaultThreshold)

	tests := []struct {
		name    string
		in      Input
		score   int
		reasons []string
		isBot   bool
	}{
		{
			name:    "regular browser",
			in:      Input{UserAgent: chromeUA, AcceptLanguage: "en-US,en;q=0.9"},
			score:   0,
			reasons: []string{},
		},
		{
			name:    "curl without accept-language stays below threshold",
			in:      Input{UserAgent: "curl/8.0"},
			score:   5,
			reasons: []string{ReasonHTTPClient, ReasonNoAcceptLanguage},
		},
		{
			name:    "headless scraper announcing itself",
			in:      Input{UserAgent: "Mozilla/5.0 (compatible; headless-scraper; bot)", AcceptLanguage: "en"},
			score:   9,
			reasons: []string{ReasonHeadless, ReasonCrawler},
			isBot:   true,
		},
		{
			name:    "screenshot service",
			in:      Input{UserAgent: chromeUA + " vercel-screenshot/1.0", AcceptLanguage: "en"},
			score:   6,
			reasons: []string{ReasonScreenshot},
			isBot:   true,
		},
		{
			name:    "headless chrome",
			in:      Input{UserAgent: "Mozilla/5.0 HeadlessChrome/120.0", AcceptLanguage: "en"},
			score:   5,
			reasons: []string{ReasonHeadless},
		},
		{
			name:    "search crawler",
			in:      Input{UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"},
			score:   5,
			reasons: []string{ReasonCrawler, ReasonNoAcceptLanguage},
		},
		{
			name:    "crawler word needs a boundary",
			in:      Input{UserAgent: "Mozilla/5.0 Robotic/1.0 botanist", AcceptLanguage: "en"},
			score:   0,
			reasons: []string{},
		},
		{
			name:    "python client",
			in:      Input{UserAgent: "python-requests/2.31", AcceptLanguage: "en"},
			score:   4,
			reasons: []string{ReasonHTTPClient},
		},
		{
			name:    "zero interaction short session",
			in:      Input{UserAgent: chromeUA, AcceptLanguage: "en", ActiveSeconds: f(0.5), Interactions: f(0)},
			score:   2,
			reasons: []string{ReasonNoInteraction},
		},
		{
			name:    "behavioral rule needs both numbers",
			in:      Input{UserAgent: chromeUA, AcceptLanguage: "en", ActiveSeconds: f(0)},
			score:   0,
			reasons: []string{},
		},
		{
			name:    "interacting session",
			in:      Input{UserAgent: chromeUA, AcceptLanguage: "en", ActiveSeconds: f(1), Interactions: f(3)},
			score:   0,
			reasons: []string{},
		},
		{
			name:    "everything fires",
			in:      Input{UserAgent: "wget vercel-screenshot headless spider", ActiveSeconds: f(1), Interactions: f(0)},
			score:   22,
			reasons: []string{ReasonScreenshot, ReasonHeadless, ReasonCrawler, ReasonHTTPClient, ReasonNoAcceptLanguage, ReasonNoInteraction},
			isBot:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eval.Evaluate(tt.in)
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, tt.reasons, got.Reasons)
			assert.Equal(t, tt.isBot, got.IsBot)
		})
	}
}

func TestEvaluator_Threshold(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewEvaluator(0).Threshold())
	assert.Equal(t, 4, NewEvaluator(4).Threshold())

	curl := Input{UserAgent: "curl/8.0"}
	assert.True(t, NewEvaluator(5).Evaluate(curl).IsBot)
	assert.False(t, NewEvaluator(6).Evaluate(curl).IsBot)
}
