package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediabridge/work/buffer"
	"mediabridge/work/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves an in-memory byte slice. A non-zero truncateAt mimics
// the hybrid cache handing back only a persisted prefix of the requested
// span.
type fakeSource struct {
	data       []byte
	mimeType   string
	truncateAt int64
	openErr    error
}

func (f *fakeSource) Size() int64 {
	return int64(len(f.data))
}

func (f *fakeSource) MimeType() string {
	if f.mimeType == "" {
		return "video/mp4"
	}
	return f.mimeType
}

func (f *fakeSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, int64, error) {
	if f.openErr != nil {
		return nil, 0, f.openErr
	}
	if end >= f.Size() {
		end = f.Size() - 1
	}
	if f.truncateAt > 0 && start < f.truncateAt && end >= f.truncateAt {
		end = f.truncateAt - 1
	}
	length := end - start + 1
	return io.NopCloser(bytes.NewReader(f.data[start : end+1])), length, nil
}

func (f *fakeSource) TranscodeInput(ctx context.Context) (string, error) {
	return "fake", nil
}

func newTestServer() *Server {
	return NewServer(buffer.NewPool(32 * 1024))
}

func doRange(t *testing.T, srv *Server, src *fakeSource, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/media/test", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	srv.Serve(rec, req, src)
	return rec
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		header     string
		total      int64
		start, end int64
		wantErr    bool
	}{
		{"", 1000, 0, 999, false},
		{"bytes=0-499", 1000, 0, 499, false},
		{"bytes=100-", 1000, 100, 999, false},
		{"bytes=-200", 1000, 800, 999, false},
		{"bytes=0-5000", 1000, 0, 999, false},
		{"bytes=1000-", 1000, 0, 0, true},
		{"bytes=500-100", 1000, 0, 0, true},
		{"bytes=abc-", 1000, 0, 0, true},
		{"chunks=0-10", 1000, 0, 0, true},
		{"bytes=0-100,200-300", 1000, 0, 0, true},
		{"", 0, 0, 0, true},
	}

	for _, tc := range cases {
		start, end, err := ParseRange(tc.header, tc.total)
		if tc.wantErr {
			assert.Error(t, err, "header %q", tc.header)
			assert.True(t, errs.Is(err, errs.NotSatisfiableRange), "header %q", tc.header)
			continue
		}
		require.NoError(t, err, "header %q", tc.header)
		assert.Equal(t, tc.start, start, "header %q", tc.header)
		assert.Equal(t, tc.end, end, "header %q", tc.header)
	}
}

func TestServeValidRanges(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	src := &fakeSource{data: data}
	srv := newTestServer()

	cases := []struct{ start, end int64 }{
		{0, 999},
		{0, 0},
		{100, 499},
		{999, 999},
	}

	for _, tc := range cases {
		rec := doRange(t, srv, src, fmt.Sprintf("bytes=%d-%d", tc.start, tc.end))

		require.Equal(t, http.StatusPartialContent, rec.Code)
		assert.Equal(t, fmt.Sprintf("bytes %d-%d/1000", tc.start, tc.end), rec.Header().Get("Content-Range"))
		assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
		assert.Equal(t, fmt.Sprintf("%d", tc.end-tc.start+1), rec.Header().Get("Content-Length"))
		assert.Equal(t, data[tc.start:tc.end+1], rec.Body.Bytes())
	}
}

func TestServeAbsentRangeIsFullPartialContent(t *testing.T) {
	src := &fakeSource{data: make([]byte, 1000)}
	rec := doRange(t, newTestServer(), src, "")

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, 1000, rec.Body.Len())
}

func TestServeOpenEndedRange(t *testing.T) {
	src := &fakeSource{data: make([]byte, 1000)}
	rec := doRange(t, newTestServer(), src, "bytes=100-")

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 100-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "900", rec.Header().Get("Content-Length"))
	assert.Equal(t, 900, rec.Body.Len())
}

func TestServeUnsatisfiableRange(t *testing.T) {
	src := &fakeSource{data: make([]byte, 1000)}
	rec := doRange(t, newTestServer(), src, "bytes=1000-")

	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, 0, rec.Body.Len())
}

func TestServeTruncatedSourceHeadersReflectActualSpan(t *testing.T) {
	// hybrid cache with 500 persisted bytes answers [0,999] with 500 bytes;
	// headers must describe what was sent, not what was asked
	src := &fakeSource{data: make([]byte, 1000), truncateAt: 500}
	rec := doRange(t, newTestServer(), src, "bytes=0-999")

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-499/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "500", rec.Header().Get("Content-Length"))
	assert.Equal(t, 500, rec.Body.Len())
}

func TestServeOpenRangeUnsatisfiableIsBodyless(t *testing.T) {
	// a source can reject a span the header parse accepted; that 416 must
	// look exactly like the parse-path 416
	src := &fakeSource{
		data:    make([]byte, 1000),
		openErr: errs.New(errs.NotSatisfiableRange, "span outside entity"),
	}
	rec := doRange(t, newTestServer(), src, "bytes=0-499")

	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, 0, rec.Body.Len())
}

func TestServeOpenRangeFailure(t *testing.T) {
	src := &fakeSource{
		data:    make([]byte, 1000),
		openErr: errs.New(errs.SourceUnavailable, "remote offline"),
	}
	rec := doRange(t, newTestServer(), src, "bytes=0-499")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeMimeType(t *testing.T) {
	src := &fakeSource{data: []byte("x"), mimeType: "video/x-matroska"}
	rec := doRange(t, newTestServer(), src, "")
	assert.Equal(t, "video/x-matroska", rec.Header().Get("Content-Type"))
}
