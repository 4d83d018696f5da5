package sonarr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookup(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotKey = req.Header.Get("X-Api-Key")
		w.Write([]byte(`[{"title": "The Expanse", "year": 2015, "tvdbId": 280619}]`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "secret")

	series, err := c.Lookup(context.Background(), "expanse")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("X-Api-Key = %q", gotKey)
	}
	if len(series) != 1 || series[0].TvdbID != 280619 {
		t.Errorf("series = %#v", series)
	}
}

// newAddServer serves the full add flow: lookup replay, discovery
// endpoints and the add POST, capturing the posted payload.
func newAddServer(t *testing.T, payload *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/v3/series/lookup":
			w.Write([]byte(`[{
				"title": "The Expanse",
				"tvdbId": 280619,
				"seasons": [
					{"seasonNumber": 0, "monitored": false},
					{"seasonNumber": 1, "monitored": true},
					{"seasonNumber": 2, "monitored": true},
					{"seasonNumber": 3, "monitored": true}
				]
			}]`))
		case "/api/v3/rootfolder":
			w.Write([]byte(`[{"path": "/data/tv"}]`))
		case "/api/v3/qualityprofile":
			w.Write([]byte(`[{"id": 7}]`))
		case "/api/v3/languageprofile":
			w.Write([]byte(`[{"id": 2}]`))
		case "/api/v3/series":
			json.NewDecoder(req.Body).Decode(payload)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id": 3, "title": "The Expanse"}`))
		default:
			http.NotFound(w, req)
		}
	}))
}

// seasonMonitoring extracts seasonNumber -> monitored from the posted
// payload.
func seasonMonitoring(t *testing.T, payload map[string]any) map[int]bool {
	t.Helper()
	seasons, ok := payload["seasons"].([]any)
	if !ok {
		t.Fatalf("payload has no seasons list: %v", payload)
	}
	got := make(map[int]bool, len(seasons))
	for _, s := range seasons {
		season := s.(map[string]any)
		num := int(season["seasonNumber"].(float64))
		monitored, _ := season["monitored"].(bool)
		got[num] = monitored
	}
	return got
}

func TestAddMonitorsListedSeasonsOnly(t *testing.T) {
	var payload map[string]any
	srv := newAddServer(t, &payload)
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	added, err := c.Add(context.Background(), 280619, []int{1, 3}, false)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID != 3 || added.Title != "The Expanse" {
		t.Errorf("added = %#v", added)
	}

	want := map[int]bool{0: false, 1: true, 2: false, 3: true}
	got := seasonMonitoring(t, payload)
	for num, monitored := range want {
		if got[num] != monitored {
			t.Errorf("season %d monitored = %v, want %v", num, got[num], monitored)
		}
	}

	if payload["rootFolderPath"] != "/data/tv" {
		t.Errorf("rootFolderPath = %v", payload["rootFolderPath"])
	}
	if payload["qualityProfileId"] != float64(7) {
		t.Errorf("qualityProfileId = %v", payload["qualityProfileId"])
	}
	opts, _ := payload["addOptions"].(map[string]any)
	if opts["monitor"] != "missing" || opts["searchForMissingEpisodes"] != true {
		t.Errorf("addOptions = %v", opts)
	}
}

func TestAddAllSeasons(t *testing.T) {
	var payload map[string]any
	srv := newAddServer(t, &payload)
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	if _, err := c.Add(context.Background(), 280619, nil, true); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// "all" monitors every season, the specials included.
	for num, monitored := range seasonMonitoring(t, payload) {
		if !monitored {
			t.Errorf("season %d not monitored under all", num)
		}
	}
}

func TestAddSpecialsOnlyWhenListed(t *testing.T) {
	var payload map[string]any
	srv := newAddServer(t, &payload)
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	if _, err := c.Add(context.Background(), 280619, []int{0}, false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := seasonMonitoring(t, payload)
	if !got[0] {
		t.Error("explicitly listed specials season not monitored")
	}
	if got[1] || got[2] || got[3] {
		t.Errorf("unlisted seasons monitored: %v", got)
	}
}

func TestAddMissingLanguageProfileFallsBack(t *testing.T) {
	var payload map[string]any
	inner := newAddServer(t, &payload)
	defer inner.Close()
	// Same server but the language profile endpoint is gone, as on
	// current Sonarr versions.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/api/v3/languageprofile" {
			http.NotFound(w, req)
			return
		}
		inner.Config.Handler.ServeHTTP(w, req)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	if _, err := c.Add(context.Background(), 280619, nil, true); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if payload["languageProfileId"] != float64(1) {
		t.Errorf("languageProfileId = %v, want fallback 1", payload["languageProfileId"])
	}
}

func TestAddAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/v3/series/lookup":
			w.Write([]byte(`[{"title": "The Expanse", "tvdbId": 280619}]`))
		case "/api/v3/rootfolder":
			w.Write([]byte(`[{"path": "/tv"}]`))
		case "/api/v3/qualityprofile", "/api/v3/languageprofile":
			w.Write([]byte(`[{"id": 1}]`))
		case "/api/v3/series":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`[{"errorMessage": "This series has already been added"}]`))
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	_, err := c.Add(context.Background(), 280619, nil, true)
	if !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
}

func TestAddUnknownSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	if _, err := c.Add(context.Background(), 999999, nil, true); err == nil {
		t.Fatal("Add of unknown series returned nil error")
	}
}

func TestQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/v3/queue" {
			http.NotFound(w, req)
			return
		}
		w.Write([]byte(`{"records": [{"series": {"title": "The Expanse"}, "status": "downloading", "timeleft": "01:00:00"}]}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k")

	queue, err := c.Queue(context.Background())
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(queue) != 1 || queue[0].Series.Title != "The Expanse" {
		t.Errorf("queue = %#v", queue)
	}
}
