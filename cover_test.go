package main

import (
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestNormalizeArtURL tests locator normalization for the reference forms
// players actually report
func TestNormalizeArtURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"https URL", "https://example.com/cover.jpg", "https://example.com/cover.jpg"},
		{"http URL", "http://example.com/cover.jpg", "http://example.com/cover.jpg"},
		{"file URI", "file:///home/user/cover.png", "/home/user/cover.png"},
		{"file URI with escapes", "file:///home/user/My%20Music/cover.png", "/home/user/My Music/cover.png"},
		{"bare absolute path", "/home/user/cover.png", "/home/user/cover.png"},
		{"whitespace trimmed", "  /home/user/cover.png  ", "/home/user/cover.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeArtURL(tt.raw)
			assertNoError(t, err)
			assertEqual(t, got, tt.expected, "normalized locator")
		})
	}

	t.Run("empty reference", func(t *testing.T) {
		_, err := normalizeArtURL("")
		assertError(t, err, "empty artwork reference")
	})

	t.Run("relative path becomes absolute", func(t *testing.T) {
		got, err := normalizeArtURL("covers/a.png")
		assertNoError(t, err)
		if !filepath.IsAbs(got) {
			t.Errorf("Expected absolute path, got %q", got)
		}
	})

	t.Run("equal references normalize equal", func(t *testing.T) {
		a, err := normalizeArtURL("file:///tmp/x%20y.png")
		assertNoError(t, err)
		b, err := normalizeArtURL("/tmp/x y.png")
		assertNoError(t, err)
		assertEqual(t, a, b, "normalized forms")
	})
}

func TestCoverCacheEviction(t *testing.T) {
	red := generateTestImage(2, 2, color.RGBA{255, 0, 0, 255})

	t.Run("LRU evicted at capacity", func(t *testing.T) {
		// Capacity 2; insert A, B, C with no intervening gets
		c := NewCoverCache(2)
		c.Insert("A", red)
		c.Insert("B", red)
		c.Insert("C", red)

		assertEqual(t, c.Len(), 2, "cache size")
		assertEqual(t, c.Contains("A"), false, "A evicted")
		assertEqual(t, c.Contains("B"), true, "B retained")
		assertEqual(t, c.Contains("C"), true, "C retained")
	})

	t.Run("get refreshes recency", func(t *testing.T) {
		c := NewCoverCache(2)
		c.Insert("A", red)
		c.Insert("B", red)
		if _, ok := c.Get("A"); !ok {
			t.Fatal("expected cache hit for A")
		}
		c.Insert("C", red)

		assertEqual(t, c.Contains("A"), true, "A refreshed by get")
		assertEqual(t, c.Contains("B"), false, "B evicted as LRU")
	})

	t.Run("contains does not refresh recency", func(t *testing.T) {
		c := NewCoverCache(2)
		c.Insert("A", red)
		c.Insert("B", red)
		c.Contains("A")
		c.Insert("C", red)

		assertEqual(t, c.Contains("A"), false, "A still LRU after contains")
		assertEqual(t, c.Contains("B"), true, "B retained")
	})

	t.Run("reinsert refreshes without growing", func(t *testing.T) {
		c := NewCoverCache(2)
		c.Insert("A", red)
		c.Insert("B", red)
		c.Insert("A", red)
		assertEqual(t, c.Len(), 2, "cache size")
		c.Insert("C", red)

		assertEqual(t, c.Contains("A"), true, "A refreshed by reinsert")
		assertEqual(t, c.Contains("B"), false, "B evicted")
	})

	t.Run("never exceeds capacity", func(t *testing.T) {
		c := NewCoverCache(5)
		for i := 0; i < 100; i++ {
			c.Insert(fmt.Sprintf("cover-%d", i), red)
			if c.Len() > 5 {
				t.Fatalf("cache grew to %d entries after insert %d", c.Len(), i)
			}
		}
		// The five most recent inserts survive
		for i := 95; i < 100; i++ {
			assertEqual(t, c.Contains(fmt.Sprintf("cover-%d", i)), true, "recent entry retained")
		}
	})

	t.Run("clear empties the cache", func(t *testing.T) {
		c := NewCoverCache(3)
		c.Insert("A", red)
		c.Insert("B", red)
		c.Clear()
		assertEqual(t, c.Len(), 0, "cache size after clear")
		assertEqual(t, c.Contains("A"), false, "A gone after clear")
		// Still usable after clear
		c.Insert("C", red)
		assertEqual(t, c.Contains("C"), true, "insert after clear")
	})
}

func TestFetchFromFile(t *testing.T) {
	t.Run("valid cover", func(t *testing.T) {
		f := NewCoverFetcher(defaultMaxFetchBytes)
		path := writeTestCover(t)

		f.Request(path)
		r := waitForResult(t, f)

		assertEqual(t, r.locator, path, "result locator")
		assertNoError(t, r.err)
		if r.img == nil {
			t.Error("Expected decoded image")
		}
	})

	t.Run("file not found", func(t *testing.T) {
		f := NewCoverFetcher(defaultMaxFetchBytes)
		path := filepath.Join(t.TempDir(), "missing.png")

		f.Request(path)
		r := waitForResult(t, f)

		assertError(t, r.err, "file not found")
		if r.img != nil {
			t.Error("Expected no image on failure")
		}
	})

	t.Run("decode failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.png")
		if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
			t.Fatal(err)
		}
		f := NewCoverFetcher(defaultMaxFetchBytes)

		f.Request(path)
		r := waitForResult(t, f)

		assertError(t, r.err, "decode failure")
	})

	t.Run("size limit", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "huge.png")
		if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
			t.Fatal(err)
		}
		f := NewCoverFetcher(1024)

		f.Request(path)
		r := waitForResult(t, f)

		if !errors.Is(r.err, errSizeLimit) {
			t.Errorf("Expected size limit error, got %v", r.err)
		}
	})
}

func TestFetchFromHTTP(t *testing.T) {
	cover := encodeTestPNG(t, generateTestImage(10, 10, color.RGBA{0, 0, 255, 255}))

	t.Run("valid cover", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Write(cover)
		}))
		defer srv.Close()

		f := NewCoverFetcher(defaultMaxFetchBytes)
		f.Request(srv.URL + "/cover.png")
		r := waitForResult(t, f)

		assertNoError(t, r.err)
		if r.img == nil {
			t.Error("Expected decoded image")
		}
	})

	t.Run("non-success status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()

		f := NewCoverFetcher(defaultMaxFetchBytes)
		f.Request(srv.URL + "/cover.png")
		r := waitForResult(t, f)

		assertError(t, r.err, "404 response")
		if !strings.Contains(r.err.Error(), "404") {
			t.Errorf("Expected status in error, got %v", r.err)
		}
	})

	t.Run("size limit aborts transfer", func(t *testing.T) {
		// Body is far larger than the ceiling; the fetch must fail without
		// buffering the whole response
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chunk := make([]byte, 64*1024)
			for i := 0; i < 240; i++ { // 15 MB total
				if _, err := w.Write(chunk); err != nil {
					return
				}
			}
		}))
		defer srv.Close()

		f := NewCoverFetcher(10 * 1024 * 1024)
		f.Request(srv.URL + "/huge.png")
		r := waitForResult(t, f)

		if !errors.Is(r.err, errSizeLimit) {
			t.Errorf("Expected size limit error, got %v", r.err)
		}
	})
}

func TestFetchCoalescing(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	cover := encodeTestPNG(t, generateTestImage(10, 10, color.RGBA{0, 255, 0, 255}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Write(cover)
	}))
	defer srv.Close()

	f := NewCoverFetcher(defaultMaxFetchBytes)
	url := srv.URL + "/cover.png"

	h1 := f.Request(url)
	h2 := f.Request(url)
	if h1 != h2 {
		t.Error("Expected duplicate request to coalesce onto the same handle")
	}

	close(release)
	r := waitForResult(t, f)
	assertNoError(t, r.err)

	// Exactly one background execution and exactly one delivered result
	assertEqual(t, atomic.LoadInt32(&hits), int32(1), "server hits")
	if _, ok := f.TryResult(); ok {
		t.Error("Expected exactly one result for coalesced requests")
	}

	// After the result is consumed, a new request starts a fresh fetch
	f.Done(r.locator)
	h3 := f.Request(url)
	if h3 == h1 {
		t.Error("Expected a fresh handle after the previous fetch completed")
	}
	waitForResult(t, f)
}

func TestFetchCancellation(t *testing.T) {
	release := make(chan struct{})
	cover := encodeTestPNG(t, generateTestImage(10, 10, color.RGBA{0, 255, 0, 255}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write(cover)
	}))
	defer srv.Close()

	f := NewCoverFetcher(defaultMaxFetchBytes)
	h := f.Request(srv.URL + "/cover.png")
	h.Cancel()
	close(release)

	r := waitForResult(t, f)
	assertEqual(t, r.cancelled, true, "cancelled outcome")
	if r.img != nil {
		t.Error("Cancelled fetch must never deliver an image")
	}
}

func TestCancelAll(t *testing.T) {
	f := NewCoverFetcher(defaultMaxFetchBytes)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()

	h1 := f.Request(srv.URL + "/a.png")
	h2 := f.Request(srv.URL + "/b.png")
	f.CancelAll()
	close(release)

	assertEqual(t, h1.cancelled.Load(), true, "first handle cancelled")
	assertEqual(t, h2.cancelled.Load(), true, "second handle cancelled")

	for i := 0; i < 2; i++ {
		r := waitForResult(t, f)
		assertEqual(t, r.cancelled, true, "cancelled outcome")
	}
}

func TestReadLimited(t *testing.T) {
	t.Run("exactly at ceiling", func(t *testing.T) {
		data, err := readLimited(strings.NewReader(strings.Repeat("x", 100)), 100)
		assertNoError(t, err)
		assertEqual(t, len(data), 100, "bytes read")
	})

	t.Run("one byte over", func(t *testing.T) {
		_, err := readLimited(strings.NewReader(strings.Repeat("x", 101)), 100)
		if !errors.Is(err, errSizeLimit) {
			t.Errorf("Expected size limit error, got %v", err)
		}
	})
}

// The fetcher must not wedge when many results complete before any are
// consumed; the channel buffer covers every realistic in-flight count.
func TestManyFetchesComplete(t *testing.T) {
	f := NewCoverFetcher(defaultMaxFetchBytes)
	dir := t.TempDir()
	const n = 8

	for i := 0; i < n; i++ {
		f.Request(filepath.Join(dir, fmt.Sprintf("missing-%d.png", i)))
	}

	seen := make(map[string]bool)
	deadline := time.After(5 * time.Second)
	for len(seen) < n {
		select {
		case r := <-f.results:
			if seen[r.locator] {
				t.Fatalf("duplicate result for %s", r.locator)
			}
			seen[r.locator] = true
			assertError(t, r.err, "missing file")
		case <-deadline:
			t.Fatalf("only %d of %d results arrived", len(seen), n)
		}
	}
}
