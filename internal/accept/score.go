// Package accept implements the candidate acceptance filter: a pure weighted
// score over typed signals with a configurable threshold. No network calls;
// every input comes from the candidate record itself.
package accept

import (
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/intake-cli/internal/fingerprint"
	"github.com/sells-group/intake-cli/internal/model"
)

// Weights holds the contribution of each signal to the final score.
type Weights struct {
	ReviewText  float64 `yaml:"review_text" mapstructure:"review_text"`
	Website     float64 `yaml:"website" mapstructure:"website"`
	Reputation  float64 `yaml:"reputation" mapstructure:"reputation"`
	NameQuality float64 `yaml:"name_quality" mapstructure:"name_quality"`
}

// Config holds filter weights, threshold, and the directory-domain blocklist.
type Config struct {
	Weights            Weights  `yaml:"weights" mapstructure:"weights"`
	Threshold          float64  `yaml:"threshold" mapstructure:"threshold"`
	DirectoryBlocklist []string `yaml:"directory_blocklist" mapstructure:"directory_blocklist"`
}

// DefaultConfig returns the default filter configuration.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			ReviewText:  0.25,
			Website:     0.25,
			Reputation:  0.30,
			NameQuality: 0.20,
		},
		Threshold: 0.45,
		DirectoryBlocklist: []string{
			"yelp.com", "yellowpages.com", "facebook.com", "tripadvisor.com",
		},
	}
}

// Result is the outcome of scoring one candidate.
type Result struct {
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
	Accepted   bool               `json:"accepted"`
	Reason     string             `json:"reason,omitempty"`
}

// Score evaluates a candidate against the filter. Rejection reasons are
// returned on the Result so a run can report why each candidate was dropped.
func Score(c model.Candidate, cfg Config) Result {
	components := map[string]float64{
		"review_text":  scoreReviewText(c.ReviewText),
		"website":      scoreWebsite(c.Website, cfg.DirectoryBlocklist),
		"reputation":   scoreReputation(c.Rating, c.ReviewCount),
		"name_quality": scoreNameQuality(c.Name),
	}

	totalWeight := cfg.Weights.ReviewText + cfg.Weights.Website + cfg.Weights.Reputation + cfg.Weights.NameQuality
	if totalWeight == 0 {
		// Degenerate config: accept nothing rather than everything.
		return Result{Components: components, Reason: "all filter weights are zero"}
	}

	score := (cfg.Weights.ReviewText*components["review_text"] +
		cfg.Weights.Website*components["website"] +
		cfg.Weights.Reputation*components["reputation"] +
		cfg.Weights.NameQuality*components["name_quality"]) / totalWeight

	r := Result{Score: score, Components: components}
	if score >= cfg.Threshold {
		r.Accepted = true
		return r
	}
	r.Reason = fmt.Sprintf("score %.3f below threshold %.3f", score, cfg.Threshold)
	return r
}

// scoreReviewText rewards the presence of substantive review text. Length
// saturates at 200 characters.
func scoreReviewText(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return math.Min(1, float64(len(text))/200)
}

// scoreWebsite rewards a website of the business's own; directory listings
// score zero because they identify the aggregator, not the entity.
func scoreWebsite(website string, blocklist []string) float64 {
	website = strings.ToLower(strings.TrimSpace(website))
	if website == "" {
		return 0
	}
	for _, dir := range blocklist {
		if strings.Contains(website, dir) {
			return 0
		}
	}
	return 1
}

// scoreReputation combines rating with review volume. The volume term uses
// log10 so 100 reviews is not ten times better than 10.
func scoreReputation(rating float64, reviewCount int) float64 {
	if rating <= 0 || reviewCount <= 0 {
		return 0
	}
	ratingScore := math.Min(1, rating/5)
	volumeScore := math.Min(1, math.Log10(float64(reviewCount)+1)/2) // saturates near 100 reviews
	return ratingScore * volumeScore
}

// scoreNameQuality measures name usability for the working language: token
// count and the romanized share of the normalized name.
func scoreNameQuality(name string) float64 {
	norm := fingerprint.Normalize(name)
	if norm == "" {
		return 0
	}
	tokens := strings.Fields(norm)

	tokenScore := math.Min(1, float64(len(tokens))/2)

	latin := 0
	letters := 0
	for _, r := range norm {
		if r == ' ' || (r >= '0' && r <= '9') {
			continue
		}
		letters++
		if r < 0x250 { // Latin, Latin-1 supplement, Latin extended
			latin++
		}
	}
	langScore := 1.0
	if letters > 0 {
		langScore = float64(latin) / float64(letters)
	}

	return tokenScore * langScore
}
