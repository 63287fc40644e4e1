package database

import (
	"database/sql"
	"fmt"
)

// CacheRecord is a persisted row of the cache index: the remote metadata we
// already paid for plus how far the on-disk cache file had progressed the
// last time it was updated. bytes_persisted here is advisory, the file on
// disk is the authority at open time.
type CacheRecord struct {
	ItemID         string
	TotalSize      int64
	MimeType       string
	FileName       string
	BytesPersisted int64
}

// GetCacheRecord looks up a cache index row, returning (nil, nil) when the
// item has never been seen.
func (db *DB) GetCacheRecord(itemID string) (*CacheRecord, error) {
	row := db.QueryRow(`
		SELECT item_id, total_size, mime_type, file_name, bytes_persisted
		FROM cache_index WHERE item_id = ?`, itemID)

	var rec CacheRecord
	err := row.Scan(&rec.ItemID, &rec.TotalSize, &rec.MimeType, &rec.FileName, &rec.BytesPersisted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache record for %s: %w", itemID, err)
	}
	return &rec, nil
}

// UpsertCacheRecord inserts or replaces the cache index row for an item.
func (db *DB) UpsertCacheRecord(rec *CacheRecord) error {
	_, err := db.Exec(`
		INSERT INTO cache_index (item_id, total_size, mime_type, file_name, bytes_persisted, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(item_id) DO UPDATE SET
			total_size = excluded.total_size,
			mime_type = excluded.mime_type,
			file_name = excluded.file_name,
			bytes_persisted = excluded.bytes_persisted,
			updated_at = CURRENT_TIMESTAMP`,
		rec.ItemID, rec.TotalSize, rec.MimeType, rec.FileName, rec.BytesPersisted)
	if err != nil {
		return fmt.Errorf("failed to upsert cache record for %s: %w", rec.ItemID, err)
	}
	return nil
}

// UpdateBytesPersisted advances the persisted-byte watermark for an item.
func (db *DB) UpdateBytesPersisted(itemID string, bytes int64) error {
	_, err := db.Exec(`
		UPDATE cache_index SET bytes_persisted = ?, updated_at = CURRENT_TIMESTAMP
		WHERE item_id = ?`, bytes, itemID)
	if err != nil {
		return fmt.Errorf("failed to update persisted bytes for %s: %w", itemID, err)
	}
	return nil
}
