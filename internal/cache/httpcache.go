package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// HTTPEntry is the metadata needed to revalidate a cached page.
type HTTPEntry struct {
	URL          string    `json:"url"`
	ContentType  string    `json:"content_type"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"last_modified"`
	SavedAt      time.Time `json:"saved_at"`
}

// HTTPCache stores GET responses as <sha256(url)>.meta.json plus <key>.body.
// There is no eviction beyond PurgeHTTPByAge.
type HTTPCache struct {
	Dir         string
	StrictPerms bool
}

func (c *HTTPCache) ensure() error {
	if c == nil {
		return fmt.Errorf("nil http cache")
	}
	return ensureDir(c.Dir, c.StrictPerms)
}

func (c *HTTPCache) metaPath(url string) string {
	return filepath.Join(c.Dir, keyOf(url)+".meta.json")
}

func (c *HTTPCache) bodyPath(url string) string {
	return filepath.Join(c.Dir, keyOf(url)+".body")
}

// LoadMeta returns entry metadata if present.
func (c *HTTPCache) LoadMeta(_ context.Context, url string) (*HTTPEntry, error) {
	if err := c.ensure(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(c.metaPath(url))
	if err != nil {
		return nil, err
	}
	var e HTTPEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return &e, nil
}

// LoadBody returns the cached body if present.
func (c *HTTPCache) LoadBody(_ context.Context, url string) ([]byte, error) {
	if err := c.ensure(); err != nil {
		return nil, err
	}
	return os.ReadFile(c.bodyPath(url))
}

// Save writes the body, then atomically replaces the metadata.
func (c *HTTPCache) Save(_ context.Context, url, contentType, etag, lastModified string, body []byte) error {
	if err := c.ensure(); err != nil {
		return err
	}
	mode := fileMode(c.StrictPerms)
	if err := os.WriteFile(c.bodyPath(url), body, mode); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	meta, err := json.Marshal(HTTPEntry{
		URL:          url,
		ContentType:  contentType,
		ETag:         etag,
		LastModified: lastModified,
		SavedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	tmp := c.metaPath(url) + ".tmp"
	if err := os.WriteFile(tmp, meta, mode); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return os.Rename(tmp, c.metaPath(url))
}
