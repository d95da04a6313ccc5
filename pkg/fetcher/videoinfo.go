package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVideoInfoURL is the YouTube Data API videos endpoint.
const DefaultVideoInfoURL = "https://www.googleapis.com/youtube/v3/videos"

// maxVideoInfoBody caps how much of the metadata response is read.
const maxVideoInfoBody = 1 << 20

// VideoInfo is the subset of YouTube video metadata used before a download is
// accepted.
type VideoInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ChannelTitle string `json:"channel_title,omitempty"`
	Duration     string `json:"duration,omitempty"`
}

// VideoInfoClient looks up video metadata with a bearer token, confirming the
// token can see the video before the download is queued.
type VideoInfoClient struct {
	httpClient *http.Client
	endpoint   string
}

// NewVideoInfoClient creates a client. A nil httpClient uses a client with a
// 15s timeout.
func NewVideoInfoClient(httpClient *http.Client) *VideoInfoClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &VideoInfoClient{httpClient: httpClient, endpoint: DefaultVideoInfoURL}
}

// WithEndpoint overrides the API endpoint. Returns the client for chaining.
func (c *VideoInfoClient) WithEndpoint(endpoint string) *VideoInfoClient {
	c.endpoint = strings.TrimSpace(endpoint)
	return c
}

// Lookup fetches metadata for the YouTube video referenced by rawURL.
func (c *VideoInfoClient) Lookup(ctx context.Context, rawURL, accessToken string) (*VideoInfo, error) {
	id := VideoID(rawURL)
	if id == "" {
		return nil, &Error{Op: "VideoInfo", URL: rawURL, Err: fmt.Errorf("%w: not a YouTube video URL", ErrInvalidURL)}
	}

	q := url.Values{}
	q.Set("id", id)
	q.Set("part", "snippet,contentDetails")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &Error{Op: "VideoInfo", URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: "VideoInfo", URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVideoInfoBody))
	if err != nil {
		return nil, &Error{Op: "VideoInfo", URL: rawURL, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "VideoInfo", URL: rawURL, Err: fmt.Errorf("videos api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var payload struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title        string `json:"title"`
				ChannelTitle string `json:"channelTitle"`
			} `json:"snippet"`
			ContentDetails struct {
				Duration string `json:"duration"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &Error{Op: "VideoInfo", URL: rawURL, Err: fmt.Errorf("parse response: %w", err)}
	}
	if len(payload.Items) == 0 {
		return nil, &Error{Op: "VideoInfo", URL: rawURL, Err: ErrVideoNotFound}
	}

	item := payload.Items[0]
	return &VideoInfo{
		ID:           item.ID,
		Title:        item.Snippet.Title,
		ChannelTitle: item.Snippet.ChannelTitle,
		Duration:     item.ContentDetails.Duration,
	}, nil
}
