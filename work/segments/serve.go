package segments

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"mediabridge/work/logger"
	"mediabridge/work/utils"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"
)

// segmentPattern is the only segment file name shape ever served; anything
// else is treated as not found before touching the filesystem.
var segmentPattern = regexp.MustCompile(`^seg[0-9]{5}\.ts$`)

// ServeManifest serves the session playlist with segment URIs rewritten to
// the public route prefix. A session still initializing answers a retryable
// 503 instead of blocking the request; players poll until ready.
func (m *Manager) ServeManifest(w http.ResponseWriter, r *http.Request, s *Session, publicPrefix string) {
	s.Touch()

	if !s.Ready() {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "session initializing", http.StatusServiceUnavailable)
		return
	}
	if err := s.Err(); err != nil {
		logger.Error("{segments/serve - ServeManifest} Item %s: session failed: %v", s.ItemID, err)
		http.Error(w, "session failed", http.StatusInternalServerError)
		return
	}

	rewritten, err := m.rewriteManifest(s, publicPrefix)
	if err != nil {
		logger.Error("{segments/serve - ServeManifest} Item %s: %v", s.ItemID, err)
		http.Error(w, "manifest unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(rewritten)
}

// rewriteManifest parses the on-disk playlist and points every segment URI
// at the public segment route, so clients never see session-local paths.
func (m *Manager) rewriteManifest(s *Session, publicPrefix string) ([]byte, error) {
	f, err := os.Open(filepath.Join(s.Dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	playlist, listType, err := m3u8.DecodeFrom(f, true)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("unexpected playlist type %d", listType)
	}

	media := playlist.(*m3u8.MediaPlaylist)
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		seg.URI = publicPrefix + "/" + seg.URI
	}

	return media.Encode().Bytes(), nil
}

// ServeSegment serves one numbered segment file out of the session
// directory. Segment requests are pure file reads, never new transcodes.
func (m *Manager) ServeSegment(w http.ResponseWriter, r *http.Request, s *Session, name string) {
	s.Touch()

	name = utils.SanitizeSegmentName(name)
	if !segmentPattern.MatchString(name) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	path := filepath.Join(s.Dir, name)
	if _, err := os.Stat(path); err != nil {
		// the player can ask for a segment the transcoder has not written yet
		w.Header().Set("Retry-After", "1")
		http.Error(w, "segment not ready", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	http.ServeFile(w, r, path)
}
