package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"curator/internal/radarr"
	"curator/internal/sonarr"
)

// Result list bounds. Search and queue output goes straight back into
// the model's context, so only the top slice of each list is rendered.
const (
	maxSearchResults = 5
	maxQueueItems    = 5
	maxTorrents      = 10
)

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "search_movie",
		Description: "Search the movie catalog by title. Returns up to 5 matches with title, year and TMDB ID. Always report every result to the user and ask which one they mean before downloading.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Movie title or keywords to search for",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSearchMovie,
	})

	r.Register(&Tool{
		Name:        "download_movie",
		Description: "Add a movie to the library by TMDB ID and start searching for a download. Only call this after the user has confirmed which movie they want.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tmdb_id": map[string]any{
					"type":        "integer",
					"description": "The TMDB ID of the movie, from a previous search_movie result",
				},
			},
			"required": []string{"tmdb_id"},
		},
		Handler: r.handleDownloadMovie,
	})

	r.Register(&Tool{
		Name:        "search_series",
		Description: "Search the TV series catalog by title. Returns up to 5 matches with title, year and TVDB ID. Always report every result to the user and ask which one they mean before downloading.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Series title or keywords to search for",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSearchSeries,
	})

	r.Register(&Tool{
		Name:        "download_series",
		Description: "Add a TV series to the library by TVDB ID and download the given seasons. Only call this after the user has confirmed which series and which seasons they want.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tvdb_id": map[string]any{
					"type":        "integer",
					"description": "The TVDB ID of the series, from a previous search_series result",
				},
				"seasons": map[string]any{
					"description": "Season numbers to download as a list (e.g. [1, 2]), or the string \"all\" for every season. Season 0 is the specials.",
				},
			},
			"required": []string{"tvdb_id", "seasons"},
		},
		Handler: r.handleDownloadSeries,
	})

	r.Register(&Tool{
		Name:        "get_radarr_queue",
		Description: "Show the current movie download queue: what is downloading, its status and time left.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleRadarrQueue,
	})

	r.Register(&Tool{
		Name:        "get_sonarr_queue",
		Description: "Show the current TV series download queue: what is downloading, its status and time left.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleSonarrQueue,
	})

	r.Register(&Tool{
		Name:        "get_torrents",
		Description: "List the torrents in the download client with state and progress.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleTorrents,
	})
}

// Tool handlers. Failures come back as readable result strings, never
// as errors: the model should see what went wrong and explain it, not
// abort the turn.

func (r *Registry) handleSearchMovie(ctx context.Context, args map[string]any) (string, error) {
	if r.radarr == nil {
		return "The movie catalog is not configured.", nil
	}
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	movies, err := r.radarr.Lookup(ctx, query)
	if err != nil {
		return fmt.Sprintf("Error searching for movies: %v", err), nil
	}
	if len(movies) == 0 {
		return fmt.Sprintf("No movies found for '%s'.", query), nil
	}

	var lines []string
	for _, m := range top(movies, maxSearchResults) {
		lines = append(lines, fmt.Sprintf("Movie: %s, Year: %d, TMDB ID: %d", m.Title, m.Year, m.TmdbID))
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Registry) handleDownloadMovie(ctx context.Context, args map[string]any) (string, error) {
	if r.radarr == nil {
		return "The movie catalog is not configured.", nil
	}
	tmdbID, ok := intArg(args, "tmdb_id")
	if !ok {
		return "", fmt.Errorf("tmdb_id is required")
	}

	// Resolve the full catalog record first; the add payload needs it.
	movies, err := r.radarr.Lookup(ctx, "tmdb:"+strconv.Itoa(tmdbID))
	if err != nil {
		return fmt.Sprintf("Error looking up movie %d: %v", tmdbID, err), nil
	}
	if len(movies) == 0 {
		return fmt.Sprintf("No movie found with TMDB ID %d.", tmdbID), nil
	}
	movie := movies[0]

	added, err := r.radarr.Add(ctx, movie)
	if errors.Is(err, radarr.ErrExists) {
		return fmt.Sprintf("The movie '%s' is already in the library.", movie.Title), nil
	}
	if err != nil {
		return fmt.Sprintf("Failed to add movie '%s': %v", movie.Title, err), nil
	}

	r.notifier.DownloadStarted(ctx, added.Title)
	return fmt.Sprintf("Added '%s' to the library and started searching for a download.", added.Title), nil
}

func (r *Registry) handleSearchSeries(ctx context.Context, args map[string]any) (string, error) {
	if r.sonarr == nil {
		return "The TV series catalog is not configured.", nil
	}
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	series, err := r.sonarr.Lookup(ctx, query)
	if err != nil {
		return fmt.Sprintf("Error searching for series: %v", err), nil
	}
	if len(series) == 0 {
		return fmt.Sprintf("No series found for '%s'.", query), nil
	}

	var lines []string
	for _, s := range top(series, maxSearchResults) {
		lines = append(lines, fmt.Sprintf("Series: %s, Year: %d, TVDB ID: %d", s.Title, s.Year, s.TvdbID))
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Registry) handleDownloadSeries(ctx context.Context, args map[string]any) (string, error) {
	if r.sonarr == nil {
		return "The TV series catalog is not configured.", nil
	}
	tvdbID, ok := intArg(args, "tvdb_id")
	if !ok {
		return "", fmt.Errorf("tvdb_id is required")
	}
	seasons, all, err := parseSeasons(args["seasons"])
	if err != nil {
		return "", err
	}

	added, err := r.sonarr.Add(ctx, tvdbID, seasons, all)
	if errors.Is(err, sonarr.ErrExists) {
		return fmt.Sprintf("The series (TVDB ID %d) is already in the library.", tvdbID), nil
	}
	if err != nil {
		return fmt.Sprintf("Failed to add series %d: %v", tvdbID, err), nil
	}

	r.notifier.DownloadStarted(ctx, added.Title)
	if all {
		return fmt.Sprintf("Added '%s' to the library, monitoring all seasons, and started searching for downloads.", added.Title), nil
	}
	return fmt.Sprintf("Added '%s' to the library, monitoring seasons %v, and started searching for downloads.", added.Title, seasons), nil
}

func (r *Registry) handleRadarrQueue(ctx context.Context, args map[string]any) (string, error) {
	if r.radarr == nil {
		return "The movie catalog is not configured.", nil
	}
	queue, err := r.radarr.Queue(ctx)
	if err != nil {
		return fmt.Sprintf("Error fetching the movie queue: %v", err), nil
	}
	if len(queue) == 0 {
		return "The movie download queue is empty.", nil
	}

	var lines []string
	for _, item := range top(queue, maxQueueItems) {
		lines = append(lines, fmt.Sprintf("Movie: %s, Status: %s, Time left: %s",
			item.Title, item.Status, orUnknown(item.TimeLeft)))
	}
	return "Current movie download queue:\n" + strings.Join(lines, "\n"), nil
}

func (r *Registry) handleSonarrQueue(ctx context.Context, args map[string]any) (string, error) {
	if r.sonarr == nil {
		return "The TV series catalog is not configured.", nil
	}
	queue, err := r.sonarr.Queue(ctx)
	if err != nil {
		return fmt.Sprintf("Error fetching the series queue: %v", err), nil
	}
	if len(queue) == 0 {
		return "The series download queue is empty.", nil
	}

	var lines []string
	for _, item := range top(queue, maxQueueItems) {
		lines = append(lines, fmt.Sprintf("Series: %s, Status: %s, Time left: %s",
			item.Series.Title, item.Status, orUnknown(item.TimeLeft)))
	}
	return "Current series download queue:\n" + strings.Join(lines, "\n"), nil
}

func (r *Registry) handleTorrents(ctx context.Context, args map[string]any) (string, error) {
	if r.qbt == nil {
		return "The torrent client is not configured.", nil
	}
	torrents, err := r.qbt.Torrents(ctx)
	if err != nil {
		return fmt.Sprintf("Error fetching torrents: %v", err), nil
	}
	if len(torrents) == 0 {
		return "There are no active torrents.", nil
	}

	var lines []string
	for _, t := range top(torrents, maxTorrents) {
		lines = append(lines, fmt.Sprintf("Torrent: %s, State: %s, Progress: %.2f%%",
			t.Name, t.State, t.Progress*100))
	}
	return "Current torrents:\n" + strings.Join(lines, "\n"), nil
}

// top returns at most n leading elements of s.
func top[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// intArg extracts an integer argument, tolerating the float64 that
// JSON decoding produces and a numeric string some models emit.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// parseSeasons interprets the seasons argument: the string "all", or a
// list of season numbers (0 = specials). A bare number is accepted as
// a single-element list.
func parseSeasons(v any) (seasons []int, all bool, err error) {
	switch val := v.(type) {
	case string:
		if strings.EqualFold(strings.TrimSpace(val), sonarr.SeasonAll) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("seasons must be \"all\" or a list of season numbers")
	case []any:
		for _, e := range val {
			n, ok := e.(float64)
			if !ok {
				return nil, false, fmt.Errorf("seasons list must contain numbers")
			}
			seasons = append(seasons, int(n))
		}
		if len(seasons) == 0 {
			return nil, false, fmt.Errorf("seasons list is empty")
		}
		return seasons, false, nil
	case float64:
		return []int{int(val)}, false, nil
	default:
		return nil, false, fmt.Errorf("seasons is required")
	}
}
