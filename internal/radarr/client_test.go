package radarr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookupSendsAPIKey(t *testing.T) {
	var gotKey, gotTerm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotKey = req.Header.Get("X-Api-Key")
		gotTerm = req.URL.Query().Get("term")
		w.Write([]byte(`[{"title": "Blade Runner", "year": 1982, "tmdbId": 78}]`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "secret")

	movies, err := c.Lookup(context.Background(), "blade runner")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("X-Api-Key = %q", gotKey)
	}
	if gotTerm != "blade runner" {
		t.Errorf("term = %q", gotTerm)
	}
	if len(movies) != 1 || movies[0].Title != "Blade Runner" || movies[0].TmdbID != 78 {
		t.Errorf("movies = %#v", movies)
	}
}

func TestLookupErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "bad")

	if _, err := c.Lookup(context.Background(), "x"); err == nil {
		t.Fatal("Lookup with 401 returned nil error")
	}
}

func TestAddDiscoversFolderAndProfile(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/v3/rootfolder":
			w.Write([]byte(`[{"path": "/data/movies"}, {"path": "/data/other"}]`))
		case "/api/v3/qualityprofile":
			w.Write([]byte(`[{"id": 6}, {"id": 1}]`))
		case "/api/v3/movie":
			json.NewDecoder(req.Body).Decode(&payload)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id": 12, "title": "Dune"}`))
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	added, err := c.Add(context.Background(), Movie{Title: "Dune", Year: 2021, TmdbID: 438631, TitleSlug: "dune"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID != 12 || added.Title != "Dune" {
		t.Errorf("added = %#v", added)
	}

	// First root folder and first quality profile win.
	if payload["rootFolderPath"] != "/data/movies" {
		t.Errorf("rootFolderPath = %v", payload["rootFolderPath"])
	}
	if payload["qualityProfileId"] != float64(6) {
		t.Errorf("qualityProfileId = %v", payload["qualityProfileId"])
	}
	if payload["monitored"] != true {
		t.Error("movie not monitored")
	}
	opts, _ := payload["addOptions"].(map[string]any)
	if opts["monitor"] != "movieOnly" || opts["searchForMovie"] != true {
		t.Errorf("addOptions = %v", opts)
	}
}

func TestAddAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/v3/rootfolder":
			w.Write([]byte(`[{"path": "/movies"}]`))
		case "/api/v3/qualityprofile":
			w.Write([]byte(`[{"id": 1}]`))
		case "/api/v3/movie":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`[{"errorMessage": "This movie has already been added"}]`))
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	_, err := c.Add(context.Background(), Movie{Title: "Dune", TmdbID: 438631})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
}

func TestAddOtherValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/v3/rootfolder":
			w.Write([]byte(`[{"path": "/movies"}]`))
		case "/api/v3/qualityprofile":
			w.Write([]byte(`[{"id": 1}]`))
		case "/api/v3/movie":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`[{"errorMessage": "QualityProfileId is invalid"}]`))
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	_, err := c.Add(context.Background(), Movie{Title: "Dune", TmdbID: 438631})
	if err == nil || errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want a plain API error", err)
	}
}

func TestAddNoRootFolder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/api/v3/rootfolder" {
			w.Write([]byte(`[]`))
			return
		}
		http.NotFound(w, req)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	if _, err := c.Add(context.Background(), Movie{Title: "Dune"}); err == nil {
		t.Fatal("Add with no root folders returned nil error")
	}
}

func TestQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/v3/queue" {
			http.NotFound(w, req)
			return
		}
		w.Write([]byte(`{"records": [{"title": "Dune", "status": "downloading", "timeleft": "00:10:00"}]}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	queue, err := c.Queue(context.Background())
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(queue) != 1 || queue[0].Title != "Dune" || queue[0].TimeLeft != "00:10:00" {
		t.Errorf("queue = %#v", queue)
	}
}
