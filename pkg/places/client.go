// Package places wraps the Google Places API (v1) operations used by the
// intake pipeline.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, query string) (*TextSearchResponse, error)
	Details(ctx context.Context, placeID string) (*Place, error)
}

// TextSearchResponse is the response from Places Text Search.
type TextSearchResponse struct {
	Places []Place `json:"places"`
}

// Place represents a place returned by the API.
type Place struct {
	ID               string        `json:"id"`
	DisplayName      DisplayName   `json:"displayName"`
	FormattedAddress string        `json:"formattedAddress"`
	NationalPhone    string        `json:"nationalPhoneNumber"`
	WebsiteURI       string        `json:"websiteUri"`
	Rating           float64       `json:"rating"`
	UserRatingCount  int           `json:"userRatingCount"`
	OpeningHours     *OpeningHours `json:"regularOpeningHours,omitempty"`
	Reviews          []Review      `json:"reviews,omitempty"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// OpeningHours holds the weekly opening hours description.
type OpeningHours struct {
	WeekdayDescriptions []string `json:"weekdayDescriptions"`
}

// Review holds one user review.
type Review struct {
	Text ReviewText `json:"text"`
}

// ReviewText holds the review body.
type ReviewText struct {
	Text string `json:"text"`
}

// HoursText flattens the weekday descriptions to one line.
func (p *Place) HoursText() string {
	if p.OpeningHours == nil {
		return ""
	}
	return strings.Join(p.OpeningHours.WeekdayDescriptions, "; ")
}

// FirstReviewText returns the first review body, if any.
func (p *Place) FirstReviewText() string {
	if len(p.Reviews) == 0 {
		return ""
	}
	return p.Reviews[0].Text.Text
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

const searchFieldMask = "places.id,places.displayName,places.formattedAddress," +
	"places.nationalPhoneNumber,places.websiteUri,places.rating,places.userRatingCount," +
	"places.regularOpeningHours,places.reviews"

const detailsFieldMask = "id,displayName,formattedAddress,nationalPhoneNumber," +
	"websiteUri,rating,userRatingCount,regularOpeningHours,reviews"

type textSearchRequest struct {
	TextQuery string `json:"textQuery"`
}

func (c *httpClient) TextSearch(ctx context.Context, query string) (*TextSearchResponse, error) {
	body, err := json.Marshal(textSearchRequest{TextQuery: query})
	if err != nil {
		return nil, eris.Wrap(err, "places: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", searchFieldMask)

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result TextSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}
	return &result, nil
}

func (c *httpClient) Details(ctx context.Context, placeID string) (*Place, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/places/"+placeID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", detailsFieldMask)

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var place Place
	if err := json.Unmarshal(respBody, &place); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}
	return &place, nil
}

// do sends the request and reads the body. Retryable statuses come back as
// TransientError so callers can distinguish them from quota or auth problems.
func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("places: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	return respBody, nil
}
