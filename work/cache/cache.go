package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"mediabridge/work/database"
	"mediabridge/work/errs"
	"mediabridge/work/logger"
	"mediabridge/work/metrics"
	"mediabridge/work/remote"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// Cache is the hybrid disk cache for remote items. Each remote item maps to
// one append-only file under the cache root; bytes already persisted are
// served from disk, everything past the persisted watermark is read live
// from the remote API. A background filler drains the remainder of an item
// into its cache file so sequential playback converges to pure disk serving.
//
// Entries grow monotonically and are never deleted here; eviction is an
// external housekeeping concern.
type Cache struct {
	root    string
	db      *database.DB
	remote  remote.API
	entries *xsync.MapOf[string, *Entry]
	workers *ants.Pool
}

// Entry tracks one remote item's cache file. BytesPersisted is written by at
// most one background filler and read lock-free by concurrent requests: any
// observed value is a valid lower bound, never an exact count, so a slightly
// stale read costs at most one extra remote fetch.
type Entry struct {
	ItemID    string
	Path      string
	TotalSize int64
	MimeType  string
	FileName  string

	persisted atomic.Int64
	filling   atomic.Bool
}

// BytesPersisted returns the current durable watermark of the cache file.
func (e *Entry) BytesPersisted() int64 {
	return e.persisted.Load()
}

// New creates the hybrid cache over the given cache root. The database is
// optional; without it every entry construction costs a remote metadata
// round-trip and fill progress does not survive restarts.
func New(root string, db *database.DB, api remote.API, workers *ants.Pool) (*Cache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create cache root %s: %w", root, err)
	}
	return &Cache{
		root:    root,
		db:      db,
		remote:  api,
		entries: xsync.NewMapOf[string, *Entry](),
		workers: workers,
	}, nil
}

// filePath derives the deterministic cache file name for an item so repeated
// lookups across restarts land on the same file.
func (c *Cache) filePath(itemID string) string {
	sum := sha256.Sum256([]byte(itemID))
	return filepath.Join(c.root, hex.EncodeToString(sum[:])+".cache")
}

// Entry returns the cache entry for an item, creating it on first access.
// Metadata comes from the cache index when the item is already known,
// otherwise from the remote API (and is then persisted to the index). The
// on-disk file size is the authority for the persisted watermark: an
// oversized or otherwise implausible file is reset rather than trusted.
func (c *Cache) Entry(ctx context.Context, itemID string) (*Entry, error) {
	if e, ok := c.entries.Load(itemID); ok {
		return e, nil
	}

	md, err := c.lookupMetadata(ctx, itemID)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		ItemID:    itemID,
		Path:      c.filePath(itemID),
		TotalSize: md.Size,
		MimeType:  md.MimeType,
		FileName:  md.Name,
	}

	if info, statErr := os.Stat(e.Path); statErr == nil {
		size := info.Size()
		if size > md.Size {
			// cache file larger than the remote object: corrupt, reset it
			logger.Warn("{cache - Entry} Item %s: cache file %d bytes exceeds total %d, resetting", itemID, size, md.Size)
			if rmErr := os.Remove(e.Path); rmErr != nil {
				logger.Error("{cache - Entry} Item %s: failed to reset cache file: %v", itemID, rmErr)
			}
		} else {
			e.persisted.Store(size)
		}
	}

	actual, loaded := c.entries.LoadOrStore(itemID, e)
	if loaded {
		return actual, nil
	}

	logger.Debug("{cache - Entry} Item %s: entry created, total=%d persisted=%d", itemID, e.TotalSize, e.BytesPersisted())
	return e, nil
}

// lookupMetadata resolves item metadata from the cache index, falling back
// to the remote API and recording the answer for next time.
func (c *Cache) lookupMetadata(ctx context.Context, itemID string) (remote.Metadata, error) {
	if c.db != nil {
		rec, err := c.db.GetCacheRecord(itemID)
		if err != nil {
			// index trouble must not block serving, fall through to the API
			logger.Warn("{cache - lookupMetadata} Item %s: cache index read failed: %v", itemID, err)
		} else if rec != nil {
			return remote.Metadata{Size: rec.TotalSize, MimeType: rec.MimeType, Name: rec.FileName}, nil
		}
	}

	md, err := c.remote.FetchMetadata(ctx, itemID)
	if err != nil {
		return remote.Metadata{}, err
	}

	if c.db != nil {
		rec := &database.CacheRecord{
			ItemID:    itemID,
			TotalSize: md.Size,
			MimeType:  md.MimeType,
			FileName:  md.Name,
		}
		if err := c.db.UpsertCacheRecord(rec); err != nil {
			logger.Warn("{cache - lookupMetadata} Item %s: cache index write failed: %v", itemID, err)
		}
	}

	return md, nil
}

// OpenRange performs the hybrid read for [start, end] (inclusive). When the
// range begins below the persisted watermark, the prefix available on disk
// is served and the returned length may be shorter than requested; callers
// must treat that as a complete response for the sub-range. When the range
// begins at or past the watermark, the cache is bypassed for a live remote
// read. Any cache-layer failure falls open to a direct remote read of the
// full original range: a playback stall is worse than a cache miss.
func (c *Cache) OpenRange(ctx context.Context, itemID string, start, end int64) (io.ReadCloser, int64, error) {
	e, err := c.Entry(ctx, itemID)
	if err != nil {
		if errs.Is(err, errs.AccessDenied) {
			return nil, 0, err
		}
		logger.Warn("{cache - OpenRange} Item %s: entry unavailable (%v), falling back to remote", itemID, err)
		return c.openRemote(ctx, itemID, start, end)
	}

	if end >= e.TotalSize {
		end = e.TotalSize - 1
	}
	if start < 0 || start > end {
		return nil, 0, errs.New(errs.NotSatisfiableRange, "range %d-%d outside item %s (%d bytes)", start, end, itemID, e.TotalSize)
	}

	persisted := e.BytesPersisted()
	if start < persisted {
		clamped := end
		if clamped > persisted-1 {
			clamped = persisted - 1
		}
		length := clamped - start + 1

		f, openErr := os.Open(e.Path)
		if openErr != nil {
			// fail open: one retry against the remote for the original span
			logger.Warn("{cache - OpenRange} Item %s: cache file open failed (%v), falling back to remote", itemID, openErr)
			return c.openRemote(ctx, itemID, start, end)
		}

		c.scheduleFill(e)
		metrics.BytesServed.WithLabelValues("cache").Add(float64(length))

		logger.Debug("{cache - OpenRange} Item %s: serving %d-%d from cache (persisted=%d)", itemID, start, clamped, persisted)
		return &fileRangeReader{
			section: io.NewSectionReader(f, start, length),
			file:    f,
		}, length, nil
	}

	c.scheduleFill(e)
	return c.openRemote(ctx, itemID, start, end)
}

// openRemote opens a live remote read for the full span.
func (c *Cache) openRemote(ctx context.Context, itemID string, start, end int64) (io.ReadCloser, int64, error) {
	rc, err := c.remote.OpenRead(ctx, itemID, start, end)
	if err != nil {
		return nil, 0, err
	}
	length := end - start + 1
	metrics.BytesServed.WithLabelValues("remote").Add(float64(length))
	logger.Debug("{cache - openRemote} Item %s: live remote read %d-%d", itemID, start, end)
	return rc, length, nil
}

// fileRangeReader bounds reads to a section of the cache file and closes the
// underlying handle with the stream.
type fileRangeReader struct {
	section *io.SectionReader
	file    *os.File
}

func (r *fileRangeReader) Read(p []byte) (int, error) {
	return r.section.Read(p)
}

func (r *fileRangeReader) Close() error {
	return r.file.Close()
}
