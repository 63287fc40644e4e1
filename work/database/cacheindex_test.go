package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// reopening replays no migrations and keeps the schema usable
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	rec, err := db.GetCacheRecord("remote:abc")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetCacheRecordUnknownItem(t *testing.T) {
	db := openTestDB(t)

	rec, err := db.GetCacheRecord("remote:never-seen")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpsertAndGetCacheRecord(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.UpsertCacheRecord(&CacheRecord{
		ItemID:    "remote:abc",
		TotalSize: 1000,
		MimeType:  "video/mp4",
		FileName:  "movie.mp4",
	}))

	rec, err := db.GetCacheRecord("remote:abc")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "remote:abc", rec.ItemID)
	assert.Equal(t, int64(1000), rec.TotalSize)
	assert.Equal(t, "video/mp4", rec.MimeType)
	assert.Equal(t, "movie.mp4", rec.FileName)
	assert.Equal(t, int64(0), rec.BytesPersisted)

	// upsert replaces the existing row
	require.NoError(t, db.UpsertCacheRecord(&CacheRecord{
		ItemID:         "remote:abc",
		TotalSize:      2000,
		MimeType:       "video/x-matroska",
		FileName:       "movie.mkv",
		BytesPersisted: 512,
	}))

	rec, err = db.GetCacheRecord("remote:abc")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(2000), rec.TotalSize)
	assert.Equal(t, "video/x-matroska", rec.MimeType)
	assert.Equal(t, int64(512), rec.BytesPersisted)
}

func TestUpdateBytesPersisted(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.UpsertCacheRecord(&CacheRecord{
		ItemID:    "remote:abc",
		TotalSize: 1000,
		MimeType:  "video/mp4",
	}))

	require.NoError(t, db.UpdateBytesPersisted("remote:abc", 750))

	rec, err := db.GetCacheRecord("remote:abc")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(750), rec.BytesPersisted)

	// unknown item is a no-op, not an error
	assert.NoError(t, db.UpdateBytesPersisted("remote:missing", 10))
}
