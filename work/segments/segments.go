package segments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"mediabridge/work/logger"
	"mediabridge/work/metrics"
	"mediabridge/work/source"

	"github.com/puzpuzpuz/xsync/v3"
)

// Segmenter produces an HLS segment set (index.m3u8 plus numbered .ts files)
// under dir. The transcode orchestrator is the production implementation.
type Segmenter interface {
	Segment(ctx context.Context, src source.Source, dir string) error
}

// manifestName is the playlist file the segmenter writes inside a session dir.
const manifestName = "index.m3u8"

// firstSegmentName is what the segmenter names its first output segment.
const firstSegmentName = "seg00000.ts"

// readyPollInterval is how often session initialization checks for the first
// segment on disk.
const readyPollInterval = 100 * time.Millisecond

// readyTimeout bounds how long a session may stay in Initializing before it
// is marked failed.
const readyTimeout = 30 * time.Second

// Session is one on-disk segmented-output session, keyed by media item and
// shared by every request for that item. Lifecycle:
// NoSession -> Initializing -> Ready -> (reaped) -> NoSession.
type Session struct {
	ItemID string
	Dir    string

	ready       chan struct{}
	err         error // written once before ready closes
	lastTouched atomic.Int64
	cancel      context.CancelFunc
}

// Ready reports whether initialization has finished (successfully or not).
func (s *Session) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Err returns the initialization failure, nil while initializing or after
// success.
func (s *Session) Err() error {
	select {
	case <-s.ready:
		return s.err
	default:
		return nil
	}
}

// Done exposes the readiness channel for callers that want to await it.
func (s *Session) Done() <-chan struct{} {
	return s.ready
}

// Touch updates the last-access timestamp consulted by the reaper.
func (s *Session) Touch() {
	s.lastTouched.Store(time.Now().Unix())
}

// Manager maintains one segment session per media item, deduplicating
// concurrent creation for the same key and reaping sessions idle past the
// configured threshold. This is the one component with true shared-mutable
// state: everything else in the pipeline is request-scoped.
type Manager struct {
	root      string
	segmenter Segmenter
	sessions  *xsync.MapOf[string, *Session]
	idle      time.Duration
	interval  time.Duration
	stopChan  chan struct{}
}

// NewManager creates the session manager over the given session root and
// removes any orphaned session directories left behind by a previous run.
func NewManager(root string, segmenter Segmenter, idle, interval time.Duration) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create session root %s: %w", root, err)
	}

	m := &Manager{
		root:      root,
		segmenter: segmenter,
		sessions:  xsync.NewMapOf[string, *Session](),
		idle:      idle,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}

	m.cleanupOrphans()
	return m, nil
}

// cleanupOrphans deletes leftover session directories from previous runs;
// nothing references them anymore.
func (m *Manager) cleanupOrphans() {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		logger.Warn("{segments - cleanupOrphans} Cannot scan session root: %v", err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("{segments - cleanupOrphans} Failed to remove %s: %v", dir, err)
			continue
		}
		logger.Debug("{segments - cleanupOrphans} Removed orphaned session dir %s", dir)
	}
}

// sessionDir derives a deterministic directory name from the item identity.
func (m *Manager) sessionDir(itemID string) string {
	sum := sha256.Sum256([]byte(itemID))
	return filepath.Join(m.root, hex.EncodeToString(sum[:8]))
}

// EnsureSession returns the session for an item, creating it on first use.
// Idempotent: a Ready session is returned as-is; a concurrent caller during
// initialization gets the same in-flight session rather than starting a
// second transcode. A previously failed session is discarded and rebuilt.
func (m *Manager) EnsureSession(ctx context.Context, itemID string, src source.Source) *Session {
	if existing, ok := m.sessions.Load(itemID); ok && existing.Err() != nil {
		logger.Warn("{segments - EnsureSession} Item %s: discarding failed session", itemID)
		m.remove(itemID, existing)
	}

	sess, loaded := m.sessions.LoadOrCompute(itemID, func() *Session {
		dir := m.sessionDir(itemID)
		bgCtx, cancel := context.WithCancel(context.Background())

		s := &Session{
			ItemID: itemID,
			Dir:    dir,
			ready:  make(chan struct{}),
			cancel: cancel,
		}
		s.Touch()

		// initialization continues past this request; the session belongs
		// to the item, not to whichever client asked first
		go m.initialize(bgCtx, s, src)
		return s
	})

	if !loaded {
		metrics.SegmentSessions.Inc()
		logger.Info("{segments - EnsureSession} Item %s: session created at %s", itemID, sess.Dir)
	}

	sess.Touch()
	return sess
}

// Session looks up an existing session without creating one.
func (m *Manager) Session(itemID string) (*Session, bool) {
	return m.sessions.Load(itemID)
}

// initialize drives the segmenter and closes the readiness channel as soon
// as the manifest and the first segment exist on disk. The segmenter keeps
// producing the remaining segments in the background after that.
func (m *Manager) initialize(ctx context.Context, s *Session, src source.Source) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		m.fail(s, fmt.Errorf("create session dir: %w", err))
		return
	}

	segmentDone := make(chan error, 1)
	go func() {
		segmentDone <- m.segmenter.Segment(ctx, src, s.Dir)
	}()

	deadline := time.Now().Add(readyTimeout)
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-segmentDone:
			if err != nil {
				m.fail(s, err)
				return
			}
			// fast inputs can finish before the poll sees the files
			if m.firstSegmentReady(s.Dir) {
				close(s.ready)
				logger.Debug("{segments - initialize} Item %s: segment set complete", s.ItemID)
			} else {
				m.fail(s, fmt.Errorf("segmenter finished without output in %s", s.Dir))
			}
			return
		case <-ticker.C:
			if m.firstSegmentReady(s.Dir) {
				close(s.ready)
				logger.Info("{segments - initialize} Item %s: session ready", s.ItemID)
				// keep draining the segmenter so a late failure is logged
				go func() {
					if err := <-segmentDone; err != nil {
						logger.Error("{segments - initialize} Item %s: segmenter failed after ready: %v", s.ItemID, err)
					}
				}()
				return
			}
			if time.Now().After(deadline) {
				m.fail(s, fmt.Errorf("no segment produced within %s", readyTimeout))
				return
			}
		case <-ctx.Done():
			m.fail(s, ctx.Err())
			return
		}
	}
}

// firstSegmentReady checks that the manifest and first segment exist with
// content, the signal that a player can start consuming the session.
func (m *Manager) firstSegmentReady(dir string) bool {
	manifest, err := os.Stat(filepath.Join(dir, manifestName))
	if err != nil || manifest.Size() == 0 {
		return false
	}
	seg, err := os.Stat(filepath.Join(dir, firstSegmentName))
	return err == nil && seg.Size() > 0
}

// fail records the initialization error and releases waiters.
func (m *Manager) fail(s *Session, err error) {
	s.err = err
	close(s.ready)
	logger.Error("{segments - fail} Item %s: session initialization failed: %v", s.ItemID, err)
}

// remove tears one session down: cancel its transcode, drop it from the
// map, delete its directory.
func (m *Manager) remove(itemID string, s *Session) {
	if _, present := m.sessions.LoadAndDelete(itemID); !present {
		return
	}
	s.cancel()
	if err := os.RemoveAll(s.Dir); err != nil {
		logger.Warn("{segments - remove} Item %s: failed to delete session dir %s: %v", itemID, s.Dir, err)
	}
	metrics.SegmentSessions.Dec()
}

// ReapLoop periodically deletes sessions whose idle time exceeds the
// configured threshold. Run it on its own goroutine; Stop terminates it.
func (m *Manager) ReapLoop() {
	logger.Debug("{segments - ReapLoop} Starting session reaper (interval: %s, idle: %s)", m.interval, m.idle)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			now := time.Now().Unix()
			m.sessions.Range(func(itemID string, s *Session) bool {
				idle := time.Duration(now-s.lastTouched.Load()) * time.Second
				if idle > m.idle {
					logger.Info("{segments - ReapLoop} Item %s: reaping session idle for %s", itemID, idle)
					m.remove(itemID, s)
				}
				return true
			})
		}
	}
}

// Stop terminates the reaper and tears down every live session.
func (m *Manager) Stop() {
	close(m.stopChan)
	m.sessions.Range(func(itemID string, s *Session) bool {
		m.remove(itemID, s)
		return true
	})
}
