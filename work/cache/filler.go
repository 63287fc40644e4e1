package cache

import (
	"context"
	"io"
	"os"

	"mediabridge/work/logger"
)

// fillChunkSize is the read granularity of the background filler.
const fillChunkSize = 256 * 1024

// fillSyncThreshold is how many appended bytes accumulate before the filler
// fsyncs and advances the persisted watermark. The watermark only ever moves
// after a durable flush, so readers can trust it as a lower bound.
const fillSyncThreshold = int64(4 * 1024 * 1024)

// scheduleFill hands the entry to the worker pool unless a filler is already
// running for it or the file is complete. The filling flag is the single
// in-flight marker per entry.
func (c *Cache) scheduleFill(e *Entry) {
	if c.workers == nil {
		return
	}
	if e.BytesPersisted() >= e.TotalSize {
		return
	}
	if !e.filling.CompareAndSwap(false, true) {
		return
	}

	err := c.workers.Submit(func() {
		defer e.filling.Store(false)
		c.fill(e)
	})
	if err != nil {
		e.filling.Store(false)
		logger.Warn("{cache/filler - scheduleFill} Item %s: worker pool rejected fill: %v", e.ItemID, err)
	}
}

// fill drains the remainder of the remote item into the cache file. The fill
// deliberately runs on a background context: it belongs to the cache, not to
// whichever request happened to trigger it, and keeps going after that
// client disconnects.
func (c *Cache) fill(e *Entry) {
	ctx := context.Background()

	start := e.BytesPersisted()
	if start >= e.TotalSize {
		return
	}

	logger.Debug("{cache/filler - fill} Item %s: filling from %d to %d", e.ItemID, start, e.TotalSize-1)

	rc, err := c.remote.OpenRead(ctx, e.ItemID, start, e.TotalSize-1)
	if err != nil {
		logger.Warn("{cache/filler - fill} Item %s: remote read failed: %v", e.ItemID, err)
		return
	}
	defer rc.Close()

	f, err := os.OpenFile(e.Path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warn("{cache/filler - fill} Item %s: cache file open failed: %v", e.ItemID, err)
		return
	}
	defer f.Close()

	// a fill that died before its flush leaves bytes on disk the watermark
	// never counted; they were never made durable, so drop them and rewrite
	// from the watermark instead of appending past them
	if err := f.Truncate(start); err != nil {
		logger.Warn("{cache/filler - fill} Item %s: truncate to %d failed: %v", e.ItemID, start, err)
		return
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		logger.Warn("{cache/filler - fill} Item %s: seek to %d failed: %v", e.ItemID, start, err)
		return
	}

	buf := make([]byte, fillChunkSize)
	var unsynced int64

	flush := func() bool {
		if unsynced == 0 {
			return true
		}
		if err := f.Sync(); err != nil {
			logger.Warn("{cache/filler - fill} Item %s: fsync failed: %v", e.ItemID, err)
			return false
		}
		persisted := e.persisted.Add(unsynced)
		unsynced = 0
		if c.db != nil {
			if err := c.db.UpdateBytesPersisted(e.ItemID, persisted); err != nil {
				logger.Warn("{cache/filler - fill} Item %s: index update failed: %v", e.ItemID, err)
			}
		}
		return true
	}

	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				logger.Warn("{cache/filler - fill} Item %s: append failed: %v", e.ItemID, writeErr)
				return
			}
			unsynced += int64(n)
			if unsynced >= fillSyncThreshold {
				if !flush() {
					return
				}
			}
		}
		if readErr == io.EOF {
			flush()
			logger.Info("{cache/filler - fill} Item %s: fill complete at %d/%d bytes", e.ItemID, e.BytesPersisted(), e.TotalSize)
			return
		}
		if readErr != nil {
			flush()
			logger.Warn("{cache/filler - fill} Item %s: remote stream ended early at %d: %v", e.ItemID, e.BytesPersisted(), readErr)
			return
		}
	}
}
