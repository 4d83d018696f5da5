package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"curator/internal/qbittorrent"
	"curator/internal/radarr"
	"curator/internal/sonarr"
)

func TestNotConfiguredResults(t *testing.T) {
	r := NewRegistry(nil, nil, nil, nil)
	tests := []struct {
		tool string
		args string
		want string
	}{
		{"search_movie", `{"query": "x"}`, "The movie catalog is not configured."},
		{"download_movie", `{"tmdb_id": 1}`, "The movie catalog is not configured."},
		{"get_radarr_queue", `{}`, "The movie catalog is not configured."},
		{"search_series", `{"query": "x"}`, "The TV series catalog is not configured."},
		{"download_series", `{"tvdb_id": 1, "seasons": "all"}`, "The TV series catalog is not configured."},
		{"get_sonarr_queue", `{}`, "The TV series catalog is not configured."},
		{"get_torrents", `{}`, "The torrent client is not configured."},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			got, err := r.Execute(context.Background(), tt.tool, tt.args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSearchMovieMissingQuery(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	r := NewRegistry(radarr.NewClient(srv.URL, "k"), nil, nil, nil)

	if _, err := r.Execute(context.Background(), "search_movie", `{}`); err == nil {
		t.Fatal("missing query did not error")
	}
}

func TestSearchMovieTopFive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/v3/movie/lookup" {
			http.NotFound(w, req)
			return
		}
		var movies []radarr.Movie
		for i := 0; i < 8; i++ {
			movies = append(movies, radarr.Movie{
				Title:  fmt.Sprintf("Star Wars %d", i+1),
				Year:   1977 + i,
				TmdbID: 100 + i,
			})
		}
		json.NewEncoder(w).Encode(movies)
	}))
	defer srv.Close()
	r := NewRegistry(radarr.NewClient(srv.URL, "k"), nil, nil, nil)

	got, err := r.Execute(context.Background(), "search_movie", `{"query": "star wars"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	lines := strings.Split(got, "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d result lines, want top 5:\n%s", len(lines), got)
	}
	if lines[0] != "Movie: Star Wars 1, Year: 1977, TMDB ID: 100" {
		t.Errorf("first line = %q", lines[0])
	}
}

func TestSearchMovieEmptyAndFailed(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte("[]"))
		}
	}))
	defer srv.Close()
	r := NewRegistry(radarr.NewClient(srv.URL, "k"), nil, nil, nil)

	status = http.StatusOK
	got, err := r.Execute(context.Background(), "search_movie", `{"query": "nothing"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "No movies found for 'nothing'." {
		t.Errorf("empty result = %q", got)
	}

	// A backend failure is a readable result, never an error: the model
	// has to see it to explain it.
	status = http.StatusBadGateway
	got, err = r.Execute(context.Background(), "search_movie", `{"query": "x"}`)
	if err != nil {
		t.Fatalf("backend failure escaped as error: %v", err)
	}
	if !strings.HasPrefix(got, "Error searching for movies:") {
		t.Errorf("got %q, want an Error-prefixed result", got)
	}
}

func TestDownloadMovieFlow(t *testing.T) {
	var addStatus int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/v3/movie/lookup":
			json.NewEncoder(w).Encode([]radarr.Movie{{Title: "Dune", Year: 2021, TmdbID: 438631}})
		case "/api/v3/rootfolder":
			w.Write([]byte(`[{"path": "/movies"}]`))
		case "/api/v3/qualityprofile":
			w.Write([]byte(`[{"id": 4}]`))
		case "/api/v3/movie":
			w.WriteHeader(addStatus)
			if addStatus == http.StatusCreated {
				w.Write([]byte(`{"id": 9, "title": "Dune"}`))
			} else {
				w.Write([]byte(`[{"errorMessage": "This movie has already been added"}]`))
			}
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()
	r := NewRegistry(radarr.NewClient(srv.URL, "k"), nil, nil, nil)

	addStatus = http.StatusCreated
	got, err := r.Execute(context.Background(), "download_movie", `{"tmdb_id": 438631}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "Added 'Dune' to the library and started searching for a download." {
		t.Errorf("got %q", got)
	}

	addStatus = http.StatusBadRequest
	got, err = r.Execute(context.Background(), "download_movie", `{"tmdb_id": 438631}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "The movie 'Dune' is already in the library." {
		t.Errorf("got %q", got)
	}
}

func TestDownloadSeriesMissingSeasons(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	r := NewRegistry(nil, sonarr.NewClient(srv.URL, "k"), nil, nil)

	if _, err := r.Execute(context.Background(), "download_series", `{"tvdb_id": 5}`); err == nil {
		t.Fatal("missing seasons did not error")
	}
}

func TestRadarrQueueFormatting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/v3/queue" {
			http.NotFound(w, req)
			return
		}
		w.Write([]byte(`{"records": [
			{"title": "Dune", "status": "downloading", "timeleft": "00:12:00"},
			{"title": "Alien", "status": "queued", "timeleft": ""}
		]}`))
	}))
	defer srv.Close()
	r := NewRegistry(radarr.NewClient(srv.URL, "k"), nil, nil, nil)

	got, err := r.Execute(context.Background(), "get_radarr_queue", `{}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "Current movie download queue:\n" +
		"Movie: Dune, Status: downloading, Time left: 00:12:00\n" +
		"Movie: Alien, Status: queued, Time left: unknown"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestSonarrQueueEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"records": []}`))
	}))
	defer srv.Close()
	r := NewRegistry(nil, sonarr.NewClient(srv.URL, "k"), nil, nil)

	got, err := r.Execute(context.Background(), "get_sonarr_queue", `{}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "The series download queue is empty." {
		t.Errorf("got %q", got)
	}
}

func TestTorrentsTopTen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/v2/auth/login":
			w.Write([]byte("Ok."))
		case "/api/v2/torrents/info":
			var torrents []qbittorrent.Torrent
			for i := 0; i < 12; i++ {
				torrents = append(torrents, qbittorrent.Torrent{
					Name:     fmt.Sprintf("torrent-%02d", i),
					State:    "downloading",
					Progress: 0.5,
				})
			}
			json.NewEncoder(w).Encode(torrents)
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()
	r := NewRegistry(nil, nil, qbittorrent.NewClient(srv.URL, "admin", "pw"), nil)

	got, err := r.Execute(context.Background(), "get_torrents", `{}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 11 { // header + top 10
		t.Fatalf("got %d lines, want header plus 10:\n%s", len(lines), got)
	}
	if lines[1] != "Torrent: torrent-00, State: downloading, Progress: 50.00%" {
		t.Errorf("first torrent line = %q", lines[1])
	}
}

func TestIntArg(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   int
		wantOK bool
	}{
		{"json number", float64(42), 42, true},
		{"native int", 7, 7, true},
		{"numeric string", "19", 19, true},
		{"junk string", "nineteen", 0, false},
		{"missing", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{}
			if tt.value != nil {
				args["id"] = tt.value
			}
			got, ok := intArg(args, "id")
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("intArg = %d, %v; want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseSeasons(t *testing.T) {
	tests := []struct {
		name        string
		value       any
		wantSeasons []int
		wantAll     bool
		wantErr     bool
	}{
		{"all keyword", "all", nil, true, false},
		{"all is case-insensitive", " ALL ", nil, true, false},
		{"list", []any{float64(1), float64(2)}, []int{1, 2}, false, false},
		{"specials", []any{float64(0)}, []int{0}, false, false},
		{"bare number", float64(3), []int{3}, false, false},
		{"empty list", []any{}, nil, false, true},
		{"list of junk", []any{"one"}, nil, false, true},
		{"other string", "everything", nil, false, true},
		{"missing", nil, nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seasons, all, err := parseSeasons(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if all != tt.wantAll {
				t.Errorf("all = %v, want %v", all, tt.wantAll)
			}
			if !reflect.DeepEqual(seasons, tt.wantSeasons) {
				t.Errorf("seasons = %v, want %v", seasons, tt.wantSeasons)
			}
		})
	}
}
