// Package sonarr provides a client for the Sonarr v3 API.
package sonarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"curator/internal/httpkit"
)

// Client is a Sonarr REST API client using X-Api-Key auth against
// /api/v3.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Sonarr client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v3",
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
	}
}

// Series is a catalog lookup summary.
type Series struct {
	Title  string `json:"title"`
	Year   int    `json:"year"`
	TvdbID int    `json:"tvdbId"`
}

// QueueItem is one entry in the download queue.
type QueueItem struct {
	Series struct {
		Title string `json:"title"`
	} `json:"series"`
	Status   string `json:"status"`
	TimeLeft string `json:"timeleft"`
}

type queuePage struct {
	Records []QueueItem `json:"records"`
}

// Added describes a successfully added series.
type Added struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type fieldError struct {
	ErrorMessage string `json:"errorMessage"`
}

// ErrExists reports that the series is already in the library.
var ErrExists = fmt.Errorf("series already exists")

// SeasonAll is the sentinel meaning "monitor every season".
const SeasonAll = "all"

// Lookup searches the series catalog by term.
func (c *Client) Lookup(ctx context.Context, term string) ([]Series, error) {
	var series []Series
	if err := c.get(ctx, "/series/lookup?term="+url.QueryEscape(term), &series); err != nil {
		return nil, err
	}
	return series, nil
}

// Add adds the series identified by tvdbID, monitoring exactly the
// given seasons. Season 0 is the specials season and is only monitored
// when listed explicitly. When all is true the seasons list is ignored
// and every season is monitored. Root folder and quality/language
// profiles are discovered from the instance (first of each).
//
// The full lookup object is replayed as the add payload because Sonarr
// expects the catalog metadata (images, slugs, season list) back.
func (c *Client) Add(ctx context.Context, tvdbID int, seasons []int, all bool) (*Added, error) {
	var raw []map[string]any
	if err := c.get(ctx, "/series/lookup?term="+url.QueryEscape("tvdb:"+strconv.Itoa(tvdbID)), &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no series found for tvdb id %d", tvdbID)
	}
	payload := raw[0]

	rootFolder, err := c.firstRootFolder(ctx)
	if err != nil {
		return nil, err
	}
	qualityID, err := c.firstProfileID(ctx, "/qualityprofile")
	if err != nil {
		return nil, err
	}
	// Older Sonarr versions require a language profile; newer ones
	// ignore the field.
	languageID, err := c.firstProfileID(ctx, "/languageprofile")
	if err != nil {
		languageID = 1
	}

	payload["rootFolderPath"] = rootFolder
	payload["qualityProfileId"] = qualityID
	payload["languageProfileId"] = languageID
	payload["monitored"] = true
	payload["seasonFolder"] = true
	payload["tags"] = []int{}

	wanted := make(map[int]bool, len(seasons))
	for _, n := range seasons {
		wanted[n] = true
	}
	if seasonList, ok := payload["seasons"].([]any); ok {
		for _, s := range seasonList {
			season, ok := s.(map[string]any)
			if !ok {
				continue
			}
			num, _ := season["seasonNumber"].(float64)
			season["monitored"] = all || wanted[int(num)]
		}
	}

	payload["addOptions"] = map[string]any{
		"monitor":                  "missing",
		"searchForMissingEpisodes": true,
	}

	body, status, err := c.post(ctx, "/series", payload)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		var added Added
		if err := json.Unmarshal(body, &added); err != nil {
			return nil, fmt.Errorf("decode add response: %w", err)
		}
		return &added, nil

	case status == http.StatusBadRequest:
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

// Ping checks if the Sonarr API is reachable and the key is accepted.
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

func (c *Client) firstProfileID(ctx context.Context, path string) (int, error) {
	var profiles []struct {
		ID int `json:"id"`
	}
	if err := c.get(ctx, path, &profiles); err != nil {
		return 0, err
	}
	if len(profiles) == 0 {
		return 0, fmt.Errorf("no profiles at %s", path)
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
