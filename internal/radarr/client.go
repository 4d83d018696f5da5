// Package radarr provides a client for the Radarr v3 API.
package radarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"curator/internal/httpkit"
)

// Client is a Radarr REST API client. All calls authenticate with the
// X-Api-Key header against the /api/v3 surface.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Radarr client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v3",
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
	}
}

// Movie is a lookup result or library entry.
type Movie struct {
	ID        int              `json:"id,omitempty"`
	Title     string           `json:"title"`
	Year      int              `json:"year"`
	TmdbID    int              `json:"tmdbId"`
	TitleSlug string           `json:"titleSlug,omitempty"`
	Images    []map[string]any `json:"images,omitempty"`
}

// QueueItem is one entry in the download queue.
type QueueItem struct {
	Title    string `json:"title"`
	Status   string `json:"status"`
	TimeLeft string `json:"timeleft"`
}

type queuePage struct {
	Records []QueueItem `json:"records"`
}

// addResponse is the body Radarr returns from POST /movie. On a
// validation failure the body is instead an array of field errors; see
// Add for how "already exists" is detected.
type addResponse struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type fieldError struct {
	ErrorMessage string `json:"errorMessage"`
}

// ErrExists reports that the movie is already in the library. Callers
// match it with errors.Is.
var ErrExists = fmt.Errorf("movie already exists")

// Lookup searches the movie catalog by term. A tmdb:<id> term resolves
// a specific movie.
func (c *Client) Lookup(ctx context.Context, term string) ([]Movie, error) {
	var movies []Movie
	if err := c.get(ctx, "/movie/lookup?term="+url.QueryEscape(term), &movies); err != nil {
		return nil, err
	}
	return movies, nil
}

// Add adds a movie to the library, monitored, with an immediate search.
// The root folder and quality profile are discovered from the instance
// rather than configured: the first of each is used. Returns ErrExists
// when the movie is already present.
func (c *Client) Add(ctx context.Context, movie Movie) (*Movie, error) {
	rootFolder, err := c.firstRootFolder(ctx)
	if err != nil {
		return nil, err
	}
	profileID, err := c.firstQualityProfile(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"title":            movie.Title,
		"tmdbId":           movie.TmdbID,
		"year":             movie.Year,
		"qualityProfileId": profileID,
		"titleSlug":        movie.TitleSlug,
		"images":           movie.Images,
		"rootFolderPath":   rootFolder,
		"monitored":        true,
		"addOptions": map[string]any{
			"monitor":        "movieOnly",
			"searchForMovie": true,
		},
	}

	body, status, err := c.post(ctx, "/movie", payload)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		var added addResponse
		if err := json.Unmarshal(body, &added); err != nil {
			return nil, fmt.Errorf("decode add response: %w", err)
		}
		return &Movie{ID: added.ID, Title: added.Title, TmdbID: movie.TmdbID}, nil

	case status == http.StatusBadRequest:
		// Validation failures come back as an array of field errors.
		var fields []fieldError
		if err := json.Unmarshal(body, &fields); err == nil {
			for _, f := range fields {
				if strings.Contains(strings.ToLower(f.ErrorMessage), "already exists") {
					return nil, ErrExists
				}
			}
		}
		return nil, fmt.Errorf("API error %d: %s", status, strings.TrimSpace(string(body)))

	default:
		return nil, fmt.Errorf("API error %d: %s", status, strings.TrimSpace(string(body)))
	}
}

// Queue returns the active download queue.
func (c *Client) Queue(ctx context.Context) ([]QueueItem, error) {
	var page queuePage
	if err := c.get(ctx, "/queue", &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}

// Ping checks if the Radarr API is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) firstRootFolder(ctx context.Context) (string, error) {
	var folders []struct {
		Path string `json:"path"`
	}
	if err := c.get(ctx, "/rootfolder", &folders); err != nil {
		return "", err
	}
	if len(folders) == 0 {
		return "", fmt.Errorf("no root folders configured")
	}
	return folders[0].Path, nil
}

func (c *Client) firstQualityProfile(ctx context.Context) (int, error) {
	var profiles []struct {
		ID int `json:"id"`
	}
	if err := c.get(ctx, "/qualityprofile", &profiles); err != nil {
		return 0, err
	}
	if len(profiles) == 0 {
		return 0, fmt.Errorf("no quality profiles configured")
	}
	return profiles[0].ID, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// post returns the raw body and status so the caller can interpret the
// mixed success/field-error shapes the add endpoint produces.
func (c *Client) post(ctx context.Context, path string, data any) ([]byte, int, error) {
	reqBody, err := json.Marshal(data)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body := new(bytes.Buffer)
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body.Bytes(), resp.StatusCode, nil
}
