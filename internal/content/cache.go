// Package content serves hierarchical course content offline and manages its
// on-disk footprint. Course trees are stored as opaque snapshots (the server
// already structures them); lessons are projected into indexed rows for cheap
// partial queries; media blobs are downloaded lazily and evicted by age.
package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/formly-app/formly/internal/bus"
	"github.com/formly-app/formly/internal/store"
)

// maxMediaBytes bounds a single media download so a bad URL cannot fill the
// local database.
const maxMediaBytes = 64 << 20

// Cache is the exclusive owner of the formation, lesson and media record
// families.
type Cache struct {
	db     *store.DB
	http   *http.Client
	bus    *bus.Bus
	logger *zap.Logger
}

// NewCache creates a content cache on top of the shared store handle.
func NewCache(db *store.DB, b *bus.Bus, logger *zap.Logger) *Cache {
	return &Cache{
		db:     db,
		http:   &http.Client{Timeout: 30 * time.Second},
		bus:    b,
		logger: logger,
	}
}

// SaveFormation replaces the cached snapshot for a formation and rebuilds its
// lesson projections. fullyDownloaded marks an explicit "download for
// offline" action as opposed to an incidental fetch.
func (c *Cache) SaveFormation(f *store.Formation, lessons []store.Lesson, fullyDownloaded bool) error {
	f.IsFullyDownloaded = fullyDownloaded
	if err := c.db.SaveFormation(f, lessons); err != nil {
		return fmt.Errorf("save formation: %w", err)
	}

	c.bus.Publish(bus.Event{
		Kind:      "formation.saved",
		Timestamp: time.Now(),
		Payload:   map[string]string{"formation_id": f.ID},
	})
	return nil
}

// TouchSync stamps a formation after a re-sync confirmed its snapshot.
func (c *Cache) TouchSync(id string) error {
	return c.db.TouchFormationSync(id)
}

// Formation returns a cached formation, nil on miss. Never touches the network.
func (c *Cache) Formation(id string) (*store.Formation, error) {
	return c.db.GetFormation(id)
}

// Formations returns every cached formation for the offline library view.
func (c *Cache) Formations() ([]store.Formation, error) {
	return c.db.ListFormations()
}

// LessonsByFormation returns the projected lessons of a formation.
func (c *Cache) LessonsByFormation(formationID string) ([]store.Lesson, error) {
	return c.db.LessonsByFormation(formationID)
}

// LessonsByLevel returns the projected lessons of a level.
func (c *Cache) LessonsByLevel(levelID string) ([]store.Lesson, error) {
	return c.db.LessonsByLevel(levelID)
}

// DeleteFormation removes a formation and its lesson projections. Media is
// kept; it lives and dies by age.
func (c *Cache) DeleteFormation(id string) error {
	return c.db.DeleteFormation(id)
}

// DownloadMedia fetches a binary resource once and stores it keyed by URL.
// The cache is URL-addressed, not content-addressed: a resource that changes
// behind the same URL serves stale bytes until age-based eviction. Callers
// that want the cache-hit short circuit check IsMediaDownloaded first; the
// cache does not deduplicate in-flight downloads of the same URL.
func (c *Cache) DownloadMedia(ctx context.Context, url, kind string) (*store.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}

	// Read one byte past the cap so an oversized resource is detected and
	// rejected rather than stored truncated.
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if len(payload) > maxMediaBytes {
		return nil, fmt.Errorf("media %s exceeds %d byte cap", url, maxMediaBytes)
	}

	m := &store.Media{URL: url, Payload: payload, Kind: kind, SizeBytes: int64(len(payload))}
	if err := c.db.PutMedia(m); err != nil {
		return nil, fmt.Errorf("store media: %w", err)
	}

	c.logger.Info("media downloaded", zap.String("url", url), zap.Int("bytes", len(payload)))
	return m, nil
}

// IsMediaDownloaded reports whether a URL is already cached.
func (c *Cache) IsMediaDownloaded(url string) (bool, error) {
	return c.db.HasMedia(url)
}

// Media returns a cached resource without any network access, nil on miss.
func (c *Cache) Media(url string) (*store.Media, error) {
	return c.db.GetMedia(url)
}

// CleanOldMedia evicts media downloaded more than maxAge ago and returns the
// deleted count. Formation and lesson records are never touched.
func (c *Cache) CleanOldMedia(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	return c.db.DeleteMediaOlderThan(cutoff)
}
