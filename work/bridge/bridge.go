package bridge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"

	"mediabridge/work/errs"
	"mediabridge/work/logger"
	"mediabridge/work/source"
	"mediabridge/work/stream"

	"github.com/gorilla/mux"
)

// ResolveFunc maps a public item identifier to a media source. The bridge
// stays ignorant of how resolution works so it can sit below the resolver
// in the dependency order.
type ResolveFunc func(ctx context.Context, itemID string) (source.Source, error)

// Bridge re-exposes any media source at a loopback URL so a transcoder
// subprocess with no awareness of the cache or remote API can read it as an
// ordinary HTTP resource. It listens only on 127.0.0.1, on an ephemeral
// OS-assigned port, and authenticates every request with one random token
// generated for the process lifetime.
//
// The lifecycle is Unstarted -> Listening, guarded by a single
// initialization barrier so concurrent first-use callers cannot race to
// bind two listeners.
type Bridge struct {
	resolve ResolveFunc
	streams *stream.Server

	mu        sync.Mutex
	listening bool
	ln        net.Listener
	srv       *http.Server
	port      int
	token     string
}

// New creates an unstarted bridge. The listener binds lazily on first use.
func New(resolve ResolveFunc, streams *stream.Server) *Bridge {
	return &Bridge{
		resolve: resolve,
		streams: streams,
	}
}

// Start binds the loopback listener if it is not already up. Safe to call
// from concurrent first users; only the first call does any work.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listening {
		return nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("bind loopback bridge: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		ln.Close()
		return fmt.Errorf("generate bridge token: %w", err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/stream/{item}/{name}", b.handleStream).Methods("GET")

	b.ln = ln
	b.port = ln.Addr().(*net.TCPAddr).Port
	b.token = hex.EncodeToString(raw)
	b.srv = &http.Server{Handler: router}
	b.listening = true

	go func() {
		if serveErr := b.srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("{bridge - Start} Loopback bridge stopped: %v", serveErr)
		}
	}()

	logger.Info("{bridge - Start} Loopback bridge listening on 127.0.0.1:%d", b.port)
	return nil
}

// URLFor returns the bridge URL for an item, starting the listener on first
// use. The extension hint rides on the final path element so the subprocess
// sees a file-shaped URL it can sniff.
func (b *Bridge) URLFor(itemID, ext string) (string, error) {
	if err := b.Start(); err != nil {
		return "", err
	}

	b.mu.Lock()
	port, token := b.port, b.token
	b.mu.Unlock()

	return fmt.Sprintf("http://127.0.0.1:%d/stream/%s/source%s?token=%s",
		port, url.PathEscape(itemID), ext, token), nil
}

// Addr returns the bound loopback address, empty when unstarted.
func (b *Bridge) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.listening {
		return ""
	}
	return b.ln.Addr().String()
}

// Token returns the per-process secret, empty when unstarted.
func (b *Bridge) Token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

// Close shuts the listener down.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.listening {
		return nil
	}
	b.listening = false
	return b.srv.Close()
}

// handleStream serves ranged reads to the transcoder subprocess with the
// same semantics as the public stream endpoint. Wrong token is a hard 403;
// an identifier that does not match the item pattern is a 404 before any
// resolution happens.
func (b *Bridge) handleStream(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	token := b.token
	b.mu.Unlock()

	got := r.URL.Query().Get("token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
		logger.Warn("{bridge - handleStream} Rejected request with bad token from %s", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	itemID := mux.Vars(r)["item"]
	if !source.ValidItemID(itemID) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	src, err := b.resolve(r.Context(), itemID)
	if err != nil {
		status := errs.HTTPStatus(err)
		logger.Error("{bridge - handleStream} Resolve %s failed: %v", itemID, err)
		http.Error(w, http.StatusText(status), status)
		return
	}

	b.streams.Serve(w, r, src)
}
