package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	warperrors "github.com/mirkobrombin/warp-aqi/v1/errors"
)

// DefaultBaseURL is the public AQICN API endpoint.
const DefaultBaseURL = "https://api.waqi.info"

const maxBodyBytes = 1 << 20

// AQICN is a Provider backed by the World Air Quality Index API.
type AQICN struct {
	baseURL string
	token   string
	client  *http.Client
}

// AQICNOption configures an AQICN client.
type AQICNOption func(*AQICN)

// WithBaseURL points the client at another endpoint, typically a test server.
func WithBaseURL(u string) AQICNOption {
	return func(a *AQICN) { a.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) AQICNOption {
	return func(a *AQICN) { a.client = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) AQICNOption {
	return func(a *AQICN) { a.client = &http.Client{Timeout: d} }
}

// NewAQICN returns a client authenticating with token.
func NewAQICN(token string, opts ...AQICNOption) *AQICN {
	a := &AQICN{
		baseURL: DefaultBaseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	AQI         json.RawMessage `json:"aqi"`
	Attribution []Attribution   `json:"attribution"`
	City        struct {
		Geo  []float64 `json:"geo"`
		Name string    `json:"name"`
	} `json:"city"`
	DominentPol string `json:"dominentpol"`
	IAQI        map[string]struct {
		V float64 `json:"v"`
	} `json:"iaqi"`
	Time struct {
		ISO string `json:"iso"`
	} `json:"time"`
}

// Fetch implements Provider.
func (a *AQICN) Fetch(ctx context.Context, city string) (*Report, error) {
	u := fmt.Sprintf("%s/feed/%s/?token=%s", a.baseURL, url.PathEscape(city), url.QueryEscape(a.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", warperrors.ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", warperrors.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("%w: API responded with status: %d", warperrors.ErrUpstream, resp.StatusCode)
	}

	var feed feedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", warperrors.ErrUpstream, err)
	}
	if feed.Status != "ok" {
		msg := DefaultNotFoundMessage
		var s string
		if err := json.Unmarshal(feed.Data, &s); err == nil && s != "" {
			msg = s
		}
		return nil, &NotFoundError{City: city, Message: msg}
	}

	var data feedData
	if err := json.Unmarshal(feed.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decode data: %w", warperrors.ErrUpstream, err)
	}
	return transform(city, &data)
}

func transform(city string, d *feedData) (*Report, error) {
	aqi, ok := parseAQI(d.AQI)
	if !ok {
		// Stations without a current reading report "-".
		return nil, &NotFoundError{City: city, Message: DefaultNotFoundMessage}
	}
	r := &Report{
		City:              d.City.Name,
		AQI:               aqi,
		AQIInfo:           Classify(aqi),
		DominantPollutant: d.DominentPol,
		Timestamp:         d.Time.ISO,
		Pollutants:        make(map[string]float64, len(d.IAQI)),
		Attribution:       d.Attribution,
	}
	if len(d.City.Geo) >= 2 {
		r.Location = Location{Latitude: d.City.Geo[0], Longitude: d.City.Geo[1]}
	}
	for name, v := range d.IAQI {
		r.Pollutants[name] = v.V
	}
	if r.Attribution == nil {
		r.Attribution = []Attribution{}
	}
	return r, nil
}

func parseAQI(raw json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n = json.Number(s)
	}
	if i, err := n.Int64(); err == nil {
		return int(i), true
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}
