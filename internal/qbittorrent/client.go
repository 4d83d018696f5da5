// Package qbittorrent provides a client for the qBittorrent WebUI API
// (v2). Authentication is a form login that sets an SID session cookie;
// the client keeps the cookie in a jar and logs in again when the
// session expires.
package qbittorrent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"curator/internal/httpkit"
)

// Client is a qBittorrent WebUI client.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu       sync.Mutex
	loggedIn bool
}

// NewClient creates a new qBittorrent client.
func NewClient(baseURL, username, password string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/") + "/api/v2",
		username: username,
		password: password,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithCookieJar(jar),
		),
	}
}

// Torrent is one entry from torrents/info.
type Torrent struct {
	Name     string  `json:"name"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"` // 0..1
	Dlspeed  int64   `json:"dlspeed"`
	Upspeed  int64   `json:"upspeed"`
	Size     int64   `json:"size"`
}

// login authenticates and stores the SID cookie in the jar. The WebUI
// answers 200 with body "Ok." on success and "Fails." on bad
// credentials. Caller must hold c.mu.
func (c *Client) loginLocked(ctx context.Context) error {
	form := url.Values{
		"username": {c.username},
		"password": {c.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	body := httpkit.ReadErrorBody(resp.Body, 64)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || body != "Ok." {
		return fmt.Errorf("login rejected: %d %s", resp.StatusCode, body)
	}
	c.loggedIn = true
	return nil
}

// do performs an authenticated request, logging in first if needed and
// retrying once after a fresh login when the session has expired
// (the WebUI answers 403 for a stale SID).
func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	c.mu.Lock()
	if !c.loggedIn {
		if err := c.loginLocked(ctx); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	c.mu.Unlock()

	resp, err := c.getOnce(ctx, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusForbidden {
		httpkit.DrainAndClose(resp.Body, 512)

		c.mu.Lock()
		c.loggedIn = false
		err := c.loginLocked(ctx)
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return c.getOnce(ctx, path)
	}
	return resp, nil
}

func (c *Client) getOnce(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	return resp, nil
}

// Torrents lists all torrents with their transfer state.
func (c *Client) Torrents(ctx context.Context) ([]Torrent, error) {
	resp, err := c.do(ctx, "/torrents/info")
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var torrents []Torrent
	if err := json.NewDecoder(resp.Body).Decode(&torrents); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return torrents, nil
}

// Version returns the application version, doubling as a health check.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, "/app/version")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d", resp.StatusCode)
	}
	return httpkit.ReadErrorBody(resp.Body, 64), nil
}

// Ping checks if the WebUI is reachable and credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Version(ctx)
	return err
}
