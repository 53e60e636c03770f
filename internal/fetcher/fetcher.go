// Package fetcher reads submissions from a FAExport-compatible upstream API.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"subwatch/internal/model"
)

const (
	userAgent   = "subwatch/1.0"
	maxBodySize = 5 * 1024 * 1024
)

var (
	viewLink  = regexp.MustCompile(`/view/(\d+)`)
	lineBreak = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewSafeHTTPClient returns an http.Client that refuses private, loopback and
// link-local destinations and anything but http(s) on ports 80 and 443.
func NewSafeHTTPClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(cfg).Client
}

// ClassifyStatus maps an upstream HTTP status to the submission source errors.
func ClassifyStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone:
		return model.ErrNotFound
	case code == http.StatusForbidden, code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable:
		return model.ErrUpstreamProtection
	case code >= 520 && code <= 527:
		// Cloudflare origin errors.
		return model.ErrUpstreamProtection
	}
	return fmt.Errorf("unexpected status %d", code)
}

// Client fetches submissions of one site.
type Client struct {
	client  HTTPClient
	baseURL string
	site    string
	text    *bluemonday.Policy
}

// New creates a Client for the API at baseURL.
func New(client HTTPClient, baseURL, site string) *Client {
	return &Client{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		site:    site,
		text:    bluemonday.StrictPolicy(),
	}
}

// Site returns the site code of the submissions this client fetches.
func (c *Client) Site() string { return c.site }

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := ClassifyStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// NewestFromBrowse returns the newest id on the first browse page.
func (c *Client) NewestFromBrowse(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/browse.json?page=1")
	if err != nil {
		return 0, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return 0, fmt.Errorf("decode browse: %w", err)
	}
	var newest int64
	for _, raw := range entries {
		id, err := browseID(raw)
		if err != nil {
			return 0, err
		}
		newest = max(newest, id)
	}
	if newest == 0 {
		return 0, fmt.Errorf("browse: no submissions listed")
	}
	return newest, nil
}

// browseID accepts both the plain id form and the full object form.
func browseID(raw json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var obj struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return 0, fmt.Errorf("decode browse entry: %w", err)
		}
		if err := json.Unmarshal(obj.ID, &s); err != nil {
			s = string(obj.ID)
		}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode browse entry %s: %w", raw, err)
	}
	return id, nil
}

// NewestFromFeed returns the newest id in the browse RSS feed.
func (c *Client) NewestFromFeed(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/browse.rss")
	if err != nil {
		return 0, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse feed: %w", err)
	}
	var newest int64
	for _, item := range feed.Items {
		for _, s := range []string{item.Link, item.GUID} {
			m := viewLink.FindStringSubmatch(s)
			if m == nil {
				continue
			}
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				newest = max(newest, id)
				break
			}
		}
	}
	if newest == 0 {
		return 0, fmt.Errorf("feed: no submission links")
	}
	return newest, nil
}

type submissionJSON struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Name        string   `json:"name"`
	ProfileName string   `json:"profile_name"`
	Rating      string   `json:"rating"`
	Keywords    []string `json:"keywords"`
	Link        string   `json:"link"`
	Download    string   `json:"download"`
}

// Fetch returns the full data of a submission.
func (c *Client) Fetch(ctx context.Context, id model.SubmissionID) (*model.Submission, error) {
	body, err := c.get(ctx, "/submission/"+strconv.FormatInt(id.ID, 10)+".json")
	if err != nil {
		return nil, err
	}

	var raw submissionJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode submission %s: %w", id, err)
	}
	rating, ok := model.ParseRating(raw.Rating)
	if !ok {
		rating = model.RatingGeneral
	}
	return &model.Submission{
		ID:          id,
		Title:       raw.Title,
		Description: c.plainText(raw.Description),
		Keywords:    raw.Keywords,
		Artist:      model.Artist{Name: raw.Name, Profile: raw.ProfileName},
		Rating:      rating,
		Link:        raw.Link,
		DownloadURL: raw.Download,
	}, nil
}

// plainText strips markup from a description, keeping line breaks.
func (c *Client) plainText(s string) string {
	s = lineBreak.ReplaceAllString(s, "\n")
	s = html.UnescapeString(c.text.Sanitize(s))
	return strings.TrimSpace(s)
}
