// Package hilltop implements a client for Hilltop-style hydrological data
// servers: raw and check series retrieval, existing quality traces, and
// site/measurement discovery with nearest-name suggestions.
package hilltop

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hydroqc/qc"
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	MaxBody   int64 // response size guard in bytes
	UserAgent string
}

// Client talks to one data server. Safe for concurrent use.
type Client struct {
	baseURL   string
	hc        *http.Client
	retries   int
	maxBody   int64
	userAgent string
}

// NewClient validates the options and builds a client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("hilltop: base URL is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("hilltop: bad base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	maxBody := opts.MaxBody
	if maxBody <= 0 {
		maxBody = 64 << 20
	}
	return &Client{
		baseURL:   strings.TrimRight(base, "/"),
		hc:        &http.Client{Timeout: timeout},
		retries:   retries,
		maxBody:   maxBody,
		userAgent: opts.UserAgent,
	}, nil
}

// GetStandard fetches the raw series for one site/measurement window.
// A no-data response yields an empty series, not an error.
func (c *Client) GetStandard(ctx context.Context, site, measurement string, from, to time.Time) (*qc.Series, error) {
	m, ok, err := c.getData(ctx, site, measurement, from, to, "Standard")
	if err != nil {
		return nil, err
	}
	if !ok {
		return &qc.Series{Site: site, Measurement: measurement}, nil
	}
	return m.toSeries(site, measurement)
}

// GetChecks fetches logger check events for one site/measurement window.
func (c *Client) GetChecks(ctx context.Context, site, measurement string, from, to time.Time) ([]qc.CheckEvent, error) {
	m, ok, err := c.getData(ctx, site, measurement, from, to, "Check")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return m.toChecks()
}

// GetQuality fetches the existing coded trace for one site/measurement
// window.
func (c *Client) GetQuality(ctx context.Context, site, measurement string, from, to time.Time) ([]QualityPoint, error) {
	m, ok, err := c.getData(ctx, site, measurement, from, to, "Quality")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return m.toQuality()
}

// SiteList fetches the server's site names.
func (c *Client) SiteList(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, c.buildURL("SiteList", url.Values{}))
	if err != nil {
		return nil, err
	}
	var resp serverResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("hilltop: parse site list: %w", err)
	}
	if resp.Error != "" {
		return nil, &ServerError{Message: resp.Error}
	}
	names := make([]string, 0, len(resp.Sites))
	for _, s := range resp.Sites {
		if s.Name != "" {
			names = append(names, s.Name)
		}
	}
	return names, nil
}

// MeasurementList fetches the measurement names available at a site.
func (c *Client) MeasurementList(ctx context.Context, site string) ([]string, error) {
	params := url.Values{}
	params.Set("Site", site)
	body, err := c.do(ctx, c.buildURL("MeasurementList", params))
	if err != nil {
		return nil, err
	}
	var resp serverResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("hilltop: parse measurement list: %w", err)
	}
	if resp.Error != "" {
		return nil, &ServerError{Message: resp.Error}
	}
	seen := make(map[string]bool)
	var names []string
	for _, ds := range resp.DataSources {
		for _, m := range ds.Measurements {
			if m.Name == "" || seen[m.Name] {
				continue
			}
			seen[m.Name] = true
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// getData runs one GetData request. The bool result is false when the
// server answered with a benign no-data error.
func (c *Client) getData(ctx context.Context, site, measurement string, from, to time.Time, tstype string) (measurementXML, bool, error) {
	params := url.Values{}
	params.Set("Site", site)
	params.Set("Measurement", measurement)
	params.Set("From", from.UTC().Format(requestLayout))
	params.Set("To", to.UTC().Format(requestLayout))
	params.Set("TSType", tstype)
	body, err := c.do(ctx, c.buildURL("GetData", params))
	if err != nil {
		return measurementXML{}, false, err
	}
	var resp dataResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return measurementXML{}, false, fmt.Errorf("hilltop: parse response: %w", err)
	}
	if resp.Error != "" {
		if isNoData(resp.Error) {
			return measurementXML{}, false, nil
		}
		return measurementXML{}, false, c.classifyError(ctx, resp.Error, site, measurement)
	}
	if len(resp.Measurements) == 0 {
		return measurementXML{}, false, nil
	}
	// Archive files and some servers return every series for the site in
	// one document; prefer the block matching the requested TSType.
	if want, ok := tsTypeElement[tstype]; ok {
		for _, m := range resp.Measurements {
			if m.DataSource.TSType == want {
				return m, true, nil
			}
		}
	}
	return resp.Measurements[0], true, nil
}

// tsTypeElement maps the TSType request parameter to the element value
// the matching DataSource carries.
var tsTypeElement = map[string]string{
	"Standard": "StdSeries",
	"Check":    "CheckSeries",
	"Quality":  "StdQualSeries",
}

// isNoData reports whether a server error just means an empty window.
func isNoData(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "no data")
}

// classifyError turns an inline server error into something actionable:
// unknown-name errors gain nearest-name suggestions from the live lists.
func (c *Client) classifyError(ctx context.Context, msg, site, measurement string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "site"):
		names, err := c.SiteList(ctx)
		if err != nil {
			return &ServerError{Message: msg}
		}
		return &UnknownNameError{Kind: "site", Name: site, Suggestions: nearestNames(site, names, 3)}
	case strings.Contains(lower, "measurement"), strings.Contains(lower, "data source"):
		names, err := c.MeasurementList(ctx, site)
		if err != nil {
			return &ServerError{Message: msg}
		}
		return &UnknownNameError{Kind: "measurement", Name: measurement, Suggestions: nearestNames(measurement, names, 3)}
	default:
		return &ServerError{Message: msg}
	}
}

func (c *Client) buildURL(request string, params url.Values) string {
	params.Set("Service", "Hilltop")
	params.Set("Request", request)
	return c.baseURL + "?" + params.Encode()
}

// do fetches a URL with bounded retries. Server 5xx and transport errors
// retry; everything else fails fast.
func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
		}
		body, retry, err := c.fetch(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode >= 500, fmt.Errorf("hilltop: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, true, err
	}
	if int64(len(body)) > c.maxBody {
		return nil, false, fmt.Errorf("hilltop: response exceeds %d bytes", c.maxBody)
	}
	return body, false, nil
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
