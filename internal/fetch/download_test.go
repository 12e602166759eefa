package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const sampleCSV = "name,state,population\nSpringfield,IL,114000\nShelbyville,TN,23000\nOgdenville,ND,8000\nCapital City,IL,675000\n"

func TestDownloadKeepsHeaderFirstRegardlessOfOffset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	downloader := NewDownloader(DownloaderConfig{RequestTimeout: 2 * time.Second}, server.Client(), nil)

	rows, err := downloader.Download(context.Background(), server.URL, 2, 1)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	want := []string{
		"name,state,population",
		"Shelbyville,TN,23000",
		"Ogdenville,ND,8000",
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d: %v", len(want), len(rows), rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("row %d = %q, want %q", i, rows[i], want[i])
		}
	}
}

func TestDownloadClampsOffsetPastEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	downloader := NewDownloader(DownloaderConfig{}, server.Client(), nil)

	rows, err := downloader.Download(context.Background(), server.URL, 5, 400)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected header only, got %v", rows)
	}
	if rows[0] != "name,state,population" {
		t.Fatalf("unexpected header row %q", rows[0])
	}
}

func TestDownloadUsesCacheForRepeatCalls(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	cache := NewRowCache()
	downloader := NewDownloader(DownloaderConfig{}, server.Client(), cache)

	if _, err := downloader.Download(context.Background(), server.URL, 2, 0); err != nil {
		t.Fatalf("first Download returned error: %v", err)
	}
	if _, err := downloader.Download(context.Background(), server.URL, 3, 1); err != nil {
		t.Fatalf("second Download returned error: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}

	rows, ok := cache.Rows(server.URL)
	if !ok || len(rows) != 5 {
		t.Fatalf("expected 5 cached lines, got ok=%v rows=%v", ok, rows)
	}
}

func TestDownloadRefusesDOIURLs(t *testing.T) {
	downloader := NewDownloader(DownloaderConfig{}, nil, nil)

	for _, rawURL := range []string{
		"https://doi.org/10.5063/F1Z899CZ",
		"doi:10.5063/F1Z899CZ",
		"10.5063/F1Z899CZ",
	} {
		_, err := downloader.Download(context.Background(), rawURL, 5, 0)
		if !errors.Is(err, ErrDOIURL) {
			t.Fatalf("expected ErrDOIURL for %q, got %v", rawURL, err)
		}
	}
}

func TestDownloadRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	downloader := NewDownloader(DownloaderConfig{}, server.Client(), nil)

	if _, err := downloader.Download(context.Background(), server.URL, 5, 0); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestIsDOIURL(t *testing.T) {
	cases := map[string]bool{
		"https://doi.org/10.1234/abc":      true,
		"https://dx.doi.org/10.1234/abc":   true,
		"doi:10.1234/abc":                  true,
		"10.1234/abc":                      true,
		"https://example.gov/data.csv":     false,
		"https://doiorg.example.com/fake":  false,
		"http://catalog.data.gov/download": false,
	}
	for rawURL, want := range cases {
		if got := IsDOIURL(rawURL); got != want {
			t.Errorf("IsDOIURL(%q) = %v, want %v", rawURL, got, want)
		}
	}
}
