package source

import (
	"context"
	"encoding/base64"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"mediabridge/work/cache"
	"mediabridge/work/errs"
	"mediabridge/work/logger"

	"github.com/grafana/regexp"
)

// Source is the uniform read contract over a logical media item. Both
// variants hide where the bytes actually live: a local file on disk or a
// remote object fronted by the hybrid cache.
//
// OpenRange may return fewer bytes than the requested span when the hybrid
// cache serves a persisted prefix; the returned length is authoritative and
// callers must frame their response around it.
type Source interface {
	Size() int64
	MimeType() string
	OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, int64, error)
	TranscodeInput(ctx context.Context) (string, error)
}

// BridgeURLFunc hands a remote item to the loopback bridge and returns the
// URL a transcoder subprocess can read it from. The extension hint is
// appended to the URL path so format sniffing by the transcoder succeeds.
type BridgeURLFunc func(itemID, ext string) (string, error)

// PathAuthorizer is the collaborator deciding whether a local path may be
// served, returning its canonical form when allowed.
type PathAuthorizer interface {
	Authorize(path string) (string, error)
}

// itemPattern is the only accepted shape for public item identifiers.
var itemPattern = regexp.MustCompile(`^(local|remote):[A-Za-z0-9._~=-]+$`)

// ValidItemID reports whether an identifier matches the expected pattern.
// Anything else is rejected before touching the filesystem or the API.
func ValidItemID(itemID string) bool {
	return itemPattern.MatchString(itemID)
}

// LocalItemID builds the public identifier for a filesystem path.
func LocalItemID(path string) string {
	return "local:" + base64.RawURLEncoding.EncodeToString([]byte(path))
}

// Resolver constructs the right Source variant for an item identifier.
// Construction-time inspection of the prefix selects the variant; there is
// no deeper hierarchy behind the interface.
type Resolver struct {
	Auth   PathAuthorizer
	Cache  *cache.Cache
	Bridge BridgeURLFunc
}

// Resolve builds a Source for the given public item identifier.
func (r *Resolver) Resolve(ctx context.Context, itemID string) (Source, error) {
	if !ValidItemID(itemID) {
		return nil, errs.New(errs.InvalidParameter, "malformed item identifier %q", itemID)
	}

	switch {
	case strings.HasPrefix(itemID, "local:"):
		return r.resolveLocal(itemID)
	case strings.HasPrefix(itemID, "remote:"):
		return r.resolveRemote(ctx, itemID)
	default:
		return nil, errs.New(errs.InvalidParameter, "unknown item scheme in %q", itemID)
	}
}

// resolveLocal decodes the embedded path, authorizes it once, and snapshots
// size and MIME type for the lifetime of the source instance.
func (r *Resolver) resolveLocal(itemID string) (Source, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(itemID, "local:"))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidParameter, err, "undecodable local item %q", itemID)
	}

	canonical, err := r.Auth.Authorize(string(raw))
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return nil, errs.Wrap(errs.SourceUnavailable, err, "stat local item %s", canonical)
	}
	if info.IsDir() {
		return nil, errs.New(errs.InvalidParameter, "local item %s is a directory", canonical)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(canonical))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	logger.Debug("{source - resolveLocal} Path %s: size=%d type=%s", canonical, info.Size(), mimeType)
	return &LocalSource{
		path:     canonical,
		size:     info.Size(),
		mimeType: mimeType,
	}, nil
}

// resolveRemote pulls the cache entry (which memoizes remote metadata) and
// wires the source to the hybrid cache and the loopback bridge.
func (r *Resolver) resolveRemote(ctx context.Context, itemID string) (Source, error) {
	objectID := strings.TrimPrefix(itemID, "remote:")

	entry, err := r.Cache.Entry(ctx, objectID)
	if err != nil {
		return nil, err
	}

	return &RemoteCachedSource{
		itemID:   itemID,
		objectID: objectID,
		entry:    entry,
		cache:    r.Cache,
		bridge:   r.Bridge,
	}, nil
}

// LocalSource serves a filesystem path directly. The authorization check ran
// once at construction and its canonical result is cached here.
type LocalSource struct {
	path     string
	size     int64
	mimeType string
}

func (s *LocalSource) Size() int64 {
	return s.size
}

func (s *LocalSource) MimeType() string {
	return s.mimeType
}

// OpenRange opens the file section [start, end], clamped to the file size.
func (s *LocalSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, int64, error) {
	if end >= s.size {
		end = s.size - 1
	}
	if start < 0 || start > end {
		return nil, 0, errs.New(errs.NotSatisfiableRange, "range %d-%d outside %s (%d bytes)", start, end, s.path, s.size)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, 0, errs.Wrap(errs.SourceUnavailable, err, "open local item %s", s.path)
	}

	length := end - start + 1
	return &localRangeReader{
		section: io.NewSectionReader(f, start, length),
		file:    f,
	}, length, nil
}

// TranscodeInput hands the transcoder the path itself; no bridge needed for
// local files.
func (s *LocalSource) TranscodeInput(ctx context.Context) (string, error) {
	return s.path, nil
}

type localRangeReader struct {
	section *io.SectionReader
	file    *os.File
}

func (r *localRangeReader) Read(p []byte) (int, error) {
	return r.section.Read(p)
}

func (r *localRangeReader) Close() error {
	return r.file.Close()
}

// RemoteCachedSource serves a remote object through the hybrid cache.
// Metadata was fetched once when the cache entry was created and is memoized
// on the entry for the lifetime of this instance.
type RemoteCachedSource struct {
	itemID   string // public identifier, used for bridge URLs
	objectID string // bare remote object id, used against cache and API
	entry    *cache.Entry
	cache    *cache.Cache
	bridge   BridgeURLFunc
}

func (s *RemoteCachedSource) Size() int64 {
	return s.entry.TotalSize
}

func (s *RemoteCachedSource) MimeType() string {
	return s.entry.MimeType
}

// OpenRange delegates to the hybrid cache read path.
func (s *RemoteCachedSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, int64, error) {
	return s.cache.OpenRange(ctx, s.objectID, start, end)
}

// TranscodeInput exposes the item through the loopback bridge, since the
// transcoder can only consume a path or URL. The original file extension is
// carried on the URL so the transcoder's format sniffing has something to
// work with.
func (s *RemoteCachedSource) TranscodeInput(ctx context.Context) (string, error) {
	if s.bridge == nil {
		return "", errs.New(errs.SourceUnavailable, "no loopback bridge configured for remote item %s", s.objectID)
	}
	return s.bridge(s.itemID, s.ext())
}

// ext picks the best extension hint: the remote file name when known,
// otherwise a mapping from the MIME type.
func (s *RemoteCachedSource) ext() string {
	if e := filepath.Ext(s.entry.FileName); e != "" {
		return e
	}
	if exts, err := mime.ExtensionsByType(s.entry.MimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
