package feedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	appLog "urconnect/internal/log"
)

var (
	// ErrNoCachedBody is returned when the server answers 304 but nothing
	// was stored for the URL.
	ErrNoCachedBody = errors.New("feedcache: 304 Not Modified but no cached body available")
	// ErrUnexpectedStatus is returned for responses other than 200 and 304.
	ErrUnexpectedStatus = errors.New("feedcache: unexpected status")
)

// Result is the body to parse and whether it came from disk.
type Result struct {
	Body      []byte
	FromCache bool
}

// cacheEntry holds HTTP cache metadata for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Cache stores feed bodies together with their ETag and Last-Modified
// validators, one subdirectory per URL.
//
// A nil *Cache is valid and caches nothing.
type Cache struct {
	dir string
	now func() time.Time
}

// New creates a cache rooted at dir. An empty dir disables caching.
func New(dir string) *Cache {
	if dir == "" {
		return nil
	}
	return &Cache{dir: dir, now: time.Now}
}

// Dir is the cache root.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

// Headers returns the conditional request headers for url, if any.
func (c *Cache) Headers(url string) http.Header {
	h := http.Header{}
	if c == nil {
		return h
	}
	meta, err := c.loadMeta(c.pathFor(url))
	if err != nil {
		return h
	}
	// Only send validators when the body they refer to is still there.
	if _, err := os.Stat(filepath.Join(c.pathFor(url), "body.ics")); err != nil {
		return h
	}
	if meta.ETag != "" {
		h.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		h.Set("If-Modified-Since", meta.LastModified)
	}
	return h
}

// Update applies a response for url. A 200 body is stored and returned, a
// 304 returns the stored body.
func (c *Cache) Update(url string, status int, header http.Header, body []byte) (Result, error) {
	switch status {
	case http.StatusOK:
		if c == nil {
			return Result{Body: body}, nil
		}
		cachePath := c.pathFor(url)
		meta := cacheEntry{
			URL:          url,
			ETag:         header.Get("ETag"),
			LastModified: header.Get("Last-Modified"),
		}
		if err := c.save(cachePath, meta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("feed cache save failed", err, "url", appLog.RedactURL(url))
		}
		return Result{Body: body}, nil

	case http.StatusNotModified:
		if c == nil {
			return Result{}, ErrNoCachedBody
		}
		cached, err := os.ReadFile(filepath.Join(c.pathFor(url), "body.ics"))
		if err != nil || len(cached) == 0 {
			return Result{}, ErrNoCachedBody
		}
		appLog.Info("feed not modified; using cache", "url", appLog.RedactURL(url))
		return Result{Body: cached, FromCache: true}, nil

	default:
		return Result{}, fmt.Errorf("%w %d", ErrUnexpectedStatus, status)
	}
}

func (c *Cache) pathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	// First 16 hex chars name the directory.
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8]))
}

func (c *Cache) loadMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (c *Cache) save(cachePath string, meta cacheEntry, body []byte) error {
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return err
	}

	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = c.now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
