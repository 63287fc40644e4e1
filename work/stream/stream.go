package stream

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"mediabridge/work/buffer"
	"mediabridge/work/errs"
	"mediabridge/work/logger"
	"mediabridge/work/metrics"
	"mediabridge/work/source"
)

// Server turns an HTTP request plus a media source into a correct
// partial-content response. Full-entity responses are framed as 206 spanning
// [0, total-1] as well, since range support is always advertised and the
// rest of the pipeline expects uniform headers.
type Server struct {
	Buffers *buffer.Pool
}

// NewServer creates a range-streaming server drawing copy buffers from the
// given pool.
func NewServer(pool *buffer.Pool) *Server {
	return &Server{Buffers: pool}
}

// ParseRange interprets a Range header against a total entity size, always
// returning inclusive offsets. An absent header spans the full entity. A
// malformed or unsatisfiable header returns NotSatisfiableRange; that is a
// protocol-level 416, not a retryable condition.
func ParseRange(header string, total int64) (start, end int64, err error) {
	if total <= 0 {
		return 0, 0, errs.New(errs.NotSatisfiableRange, "empty entity has no byte ranges")
	}
	if header == "" {
		return 0, total - 1, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, errs.New(errs.NotSatisfiableRange, "unsupported range unit in %q", header)
	}
	// single range only; multipart ranges are not supported by this pipeline
	if strings.Contains(spec, ",") {
		return 0, 0, errs.New(errs.NotSatisfiableRange, "multipart ranges not supported")
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, errs.New(errs.NotSatisfiableRange, "malformed range %q", header)
	}

	startPart := strings.TrimSpace(spec[:dash])
	endPart := strings.TrimSpace(spec[dash+1:])

	if startPart == "" {
		// suffix form: last N bytes
		n, parseErr := strconv.ParseInt(endPart, 10, 64)
		if parseErr != nil || n <= 0 {
			return 0, 0, errs.New(errs.NotSatisfiableRange, "malformed suffix range %q", header)
		}
		if n > total {
			n = total
		}
		return total - n, total - 1, nil
	}

	start, parseErr := strconv.ParseInt(startPart, 10, 64)
	if parseErr != nil || start < 0 {
		return 0, 0, errs.New(errs.NotSatisfiableRange, "malformed range start in %q", header)
	}
	if start >= total {
		return 0, 0, errs.New(errs.NotSatisfiableRange, "range start %d beyond entity of %d bytes", start, total)
	}

	end = total - 1
	if endPart != "" {
		end, parseErr = strconv.ParseInt(endPart, 10, 64)
		if parseErr != nil {
			return 0, 0, errs.New(errs.NotSatisfiableRange, "malformed range end in %q", header)
		}
		if end >= total {
			end = total - 1
		}
	}

	if start > end {
		return 0, 0, errs.New(errs.NotSatisfiableRange, "inverted range %d-%d", start, end)
	}

	return start, end, nil
}

// Serve streams the requested byte range of src to the client. Response
// headers reflect the span the source actually returned, not the span the
// client asked for: the hybrid cache may legitimately hand back a shorter
// prefix and that is a complete response for the sub-range.
//
// Errors before the first body byte become a status code; errors mid-body
// can only be logged and the connection dropped. Client disconnect cancels
// the request context, which aborts any in-flight remote read.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, src source.Source) {
	total := src.Size()

	start, end, err := ParseRange(r.Header.Get("Range"), total)
	if err != nil {
		metrics.StreamErrors.WithLabelValues("range_not_satisfiable").Inc()
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	rc, length, err := src.OpenRange(r.Context(), start, end)
	if err != nil {
		status := errs.HTTPStatus(err)
		metrics.StreamErrors.WithLabelValues("open_failed").Inc()
		logger.Error("{stream - Serve} Open range %d-%d failed: %v", start, end, err)
		if status == http.StatusRequestedRangeNotSatisfiable {
			// 416 is bodyless on every path
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
			w.WriteHeader(status)
			return
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer rc.Close()

	actualEnd := start + length - 1

	w.Header().Set("Content-Type", src.MimeType())
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, actualEnd, total))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	flusher, _ := w.(http.Flusher)

	buf := s.Buffers.Get()
	defer s.Buffers.Put(buf)

	var written int64
	for written < length {
		select {
		case <-r.Context().Done():
			logger.Debug("{stream - Serve} Client disconnected after %d/%d bytes", written, length)
			return
		default:
		}

		n, readErr := rc.Read(buf.B)
		if n > 0 {
			if _, writeErr := w.Write(buf.B[:n]); writeErr != nil {
				// client went away mid-body; nothing to correct, just stop
				logger.Debug("{stream - Serve} Write failed after %d/%d bytes: %v", written, length, writeErr)
				return
			}
			written += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}

		if readErr != nil {
			if written < length {
				// headers are out, the only valid corrective action is closing
				metrics.StreamErrors.WithLabelValues("source_read").Inc()
				logger.Error("{stream - Serve} Source failed after %d/%d bytes: %v", written, length, readErr)
			}
			return
		}
	}
}
