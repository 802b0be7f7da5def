package main

import (
	"bytes"
	"container/list"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "golang.org/x/image/webp"
)

// errSizeLimit is returned when an artwork source exceeds the configured
// fetch ceiling. The transfer is aborted as soon as the limit is crossed.
var errSizeLimit = errors.New("size limit exceeded")

// normalizeArtURL converts a player-reported artwork reference into a
// locator usable as a cache key: an absolute file path or an absolute
// http(s) URL. Players report art as file:// URIs (often percent-encoded),
// bare paths, or remote URLs.
func normalizeArtURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty artwork reference")
	}

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if _, err := url.Parse(raw); err != nil {
			return "", fmt.Errorf("invalid artwork URL: %w", err)
		}
		return raw, nil
	}

	path := raw
	if strings.HasPrefix(raw, "file://") {
		path = strings.TrimPrefix(raw, "file://")
		if decoded, err := url.PathUnescape(path); err == nil {
			path = decoded
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid artwork path: %w", err)
	}
	return abs, nil
}

// isRemoteLocator reports whether a normalized locator is fetched over HTTP.
func isRemoteLocator(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

// CoverCache is a bounded in-memory cache of decoded cover art with strict
// least-recently-used eviction. Get and Insert both count as use. It is
// only touched from the Bubble Tea update loop, so it needs no locking;
// background fetches never hold a reference to it.
type CoverCache struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
}

type cacheEntry struct {
	locator string
	img     image.Image
}

func NewCoverCache(capacity int) *CoverCache {
	if capacity < 1 {
		capacity = 1
	}
	return &CoverCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached image for a locator and marks it most recently used.
func (c *CoverCache) Get(locator string) (image.Image, bool) {
	el, ok := c.entries[locator]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).img, true
}

// Insert stores an image, evicting the least recently used entry first if
// the cache is at capacity. Inserting an existing locator replaces the
// image and refreshes its recency.
func (c *CoverCache) Insert(locator string, img image.Image) {
	if el, ok := c.entries[locator]; ok {
		el.Value.(*cacheEntry).img = img
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).locator)
		}
	}
	c.entries[locator] = c.order.PushFront(&cacheEntry{locator: locator, img: img})
}

// Contains reports whether a locator is cached without touching recency.
func (c *CoverCache) Contains(locator string) bool {
	_, ok := c.entries[locator]
	return ok
}

// Clear drops all entries, e.g. when the player disconnects.
func (c *CoverCache) Clear() {
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *CoverCache) Len() int {
	return c.order.Len()
}

// fetchResult is the single outcome delivered for an accepted fetch:
// exactly one of img, err, or cancelled is meaningful.
type fetchResult struct {
	locator   string
	img       image.Image // non-nil on success
	err       error       // non-nil on failure
	cancelled bool
}

// fetchHandle identifies an in-flight fetch and carries its cancellation
// flag. Cancellation is advisory: the background goroutine observes it at
// checkpoints, so callers may still receive a failure that raced the
// cancel, but never a success afterwards.
type fetchHandle struct {
	locator   string
	cancelled atomic.Bool
}

func (h *fetchHandle) Cancel() {
	h.cancelled.Store(true)
}

// CoverFetcher loads cover art from disk or HTTP in background goroutines,
// at most one per distinct locator. Duplicate requests for a locator that
// is already in flight are coalesced onto the existing fetch. Results
// arrive on a buffered channel drained by the update loop; the channel and
// the per-handle cancel flag are the only state shared with the
// background goroutines.
//
// Request and Done must be called from a single goroutine (the update
// loop); the in-flight bookkeeping is deliberately unlocked.
type CoverFetcher struct {
	results  chan fetchResult
	inflight map[string]*fetchHandle
	client   *http.Client
	maxBytes int64
}

func NewCoverFetcher(maxBytes int64) *CoverFetcher {
	if maxBytes <= 0 {
		maxBytes = defaultMaxFetchBytes
	}
	return &CoverFetcher{
		results:  make(chan fetchResult, 32),
		inflight: make(map[string]*fetchHandle),
		client:   &http.Client{},
		maxBytes: maxBytes,
	}
}

// Request starts a background fetch for a locator, or returns the handle
// of the fetch already in flight for it.
func (f *CoverFetcher) Request(locator string) *fetchHandle {
	if h, ok := f.inflight[locator]; ok {
		return h
	}
	h := &fetchHandle{locator: locator}
	f.inflight[locator] = h
	go f.fetch(h)
	return h
}

// Done releases the in-flight slot for a locator. Call it after consuming
// the locator's result; until then duplicate requests keep coalescing onto
// the completed-but-unconsumed fetch.
func (f *CoverFetcher) Done(locator string) {
	delete(f.inflight, locator)
}

// TryResult returns a completed fetch result without blocking.
func (f *CoverFetcher) TryResult() (fetchResult, bool) {
	select {
	case r := <-f.results:
		return r, true
	default:
		return fetchResult{}, false
	}
}

// CancelAll flags every in-flight fetch, e.g. on shutdown.
func (f *CoverFetcher) CancelAll() {
	for _, h := range f.inflight {
		h.Cancel()
	}
}

func (f *CoverFetcher) fetch(h *fetchHandle) {
	data, err := f.load(h)
	if h.cancelled.Load() {
		f.results <- fetchResult{locator: h.locator, cancelled: true}
		return
	}
	if err != nil {
		f.results <- fetchResult{locator: h.locator, err: err}
		return
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		f.results <- fetchResult{locator: h.locator, err: fmt.Errorf("failed to decode image: %w", err)}
		return
	}
	if h.cancelled.Load() {
		f.results <- fetchResult{locator: h.locator, cancelled: true}
		return
	}
	f.results <- fetchResult{locator: h.locator, img: img}
}

func (f *CoverFetcher) load(h *fetchHandle) ([]byte, error) {
	if isRemoteLocator(h.locator) {
		resp, err := f.client.Get(h.locator)
		if err != nil {
			return nil, fmt.Errorf("failed to download artwork: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("artwork download failed with status: %d", resp.StatusCode)
		}
		if h.cancelled.Load() {
			return nil, nil
		}
		return readLimited(resp.Body, f.maxBytes)
	}

	file, err := os.Open(h.locator)
	if err != nil {
		return nil, fmt.Errorf("failed to read artwork file: %w", err)
	}
	defer file.Close()
	return readLimited(file, f.maxBytes)
}

// readLimited reads at most max bytes, returning errSizeLimit if the source
// has more. The extra byte only detects overflow; memory stays bounded by
// the ceiling regardless of how large the source is.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read artwork data: %w", err)
	}
	if int64(len(data)) > max {
		return nil, errSizeLimit
	}
	return data, nil
}
