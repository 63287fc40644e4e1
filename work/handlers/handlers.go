package handlers

import (
	"net/http"

	"mediabridge/work/errs"
	"mediabridge/work/gateway"
	"mediabridge/work/logger"
	"mediabridge/work/source"

	"github.com/gorilla/mux"
)

// resolveItem pulls the item identifier out of the route, resolves it to a
// media source, and writes the mapped error response when that fails.
func resolveItem(g *gateway.Gateway, w http.ResponseWriter, r *http.Request) (source.Source, string, bool) {
	itemID := mux.Vars(r)["item"]

	src, err := g.ResolveSource(r.Context(), itemID)
	if err != nil {
		status := errs.HTTPStatus(err)
		logger.Warn("{handlers - resolveItem} Item %s: %v", itemID, err)
		http.Error(w, http.StatusText(status), status)
		return nil, "", false
	}
	return src, itemID, true
}

// HandleMedia serves raw byte-range streaming for an item.
func HandleMedia(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, _, ok := resolveItem(g, w, r)
		if !ok {
			return
		}
		g.Streams.Serve(w, r, src)
	}
}

// HandleTranscode streams a single-shot transcode of an item. The response
// is a chunked, non-seekable mpegts stream with no Content-Length; the
// optional offset query parameter seeks before transcoding starts.
func HandleTranscode(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, itemID, ok := resolveItem(g, w, r)
		if !ok {
			return
		}

		offset := r.URL.Query().Get("offset")

		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Cache-Control", "no-cache")

		if err := g.Transcoder.Stream(r.Context(), w, src, offset); err != nil {
			// only meaningful before the first body byte; afterwards the
			// connection is already gone or dying
			status := errs.HTTPStatus(err)
			logger.Error("{handlers - HandleTranscode} Item %s: %v", itemID, err)
			http.Error(w, http.StatusText(status), status)
		}
	}
}

// HandleManifest ensures a segment session for the item and serves its
// playlist. A session still transcoding its first segment answers 503 with
// Retry-After rather than blocking.
func HandleManifest(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, itemID, ok := resolveItem(g, w, r)
		if !ok {
			return
		}

		sess := g.Sessions.EnsureSession(r.Context(), itemID, src)
		g.Sessions.ServeManifest(w, r, sess, "/media/"+itemID+"/hls")
	}
}

// HandleSegment serves one segment file from an existing session. Segments
// are only addressable once a manifest request created the session.
func HandleSegment(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		itemID := vars["item"]
		segmentName := vars["segment"]

		sess, ok := g.Sessions.Session(itemID)
		if !ok {
			http.Error(w, "no session for item", http.StatusNotFound)
			return
		}

		g.Sessions.ServeSegment(w, r, sess, segmentName)
	}
}
