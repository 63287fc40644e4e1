package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"mediabridge/work/buffer"
	"mediabridge/work/source"
	"mediabridge/work/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySource struct {
	data []byte
}

func (m *memorySource) Size() int64      { return int64(len(m.data)) }
func (m *memorySource) MimeType() string { return "video/mp4" }

func (m *memorySource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, int64, error) {
	if end >= m.Size() {
		end = m.Size() - 1
	}
	return io.NopCloser(bytes.NewReader(m.data[start : end+1])), end - start + 1, nil
}

func (m *memorySource) TranscodeInput(ctx context.Context) (string, error) {
	return "memory", nil
}

func newTestBridge(t *testing.T, data []byte) *Bridge {
	t.Helper()
	resolve := func(ctx context.Context, itemID string) (source.Source, error) {
		return &memorySource{data: data}, nil
	}
	b := New(resolve, stream.NewServer(buffer.NewPool(32*1024)))
	t.Cleanup(func() { b.Close() })
	return b
}

func TestURLForStartsListenerLazily(t *testing.T) {
	b := newTestBridge(t, []byte("payload"))
	assert.Empty(t, b.Addr())
	assert.Empty(t, b.Token())

	u, err := b.URLFor("remote:abc", ".mp4")
	require.NoError(t, err)

	require.NotEmpty(t, b.Addr())
	assert.True(t, strings.HasPrefix(b.Addr(), "127.0.0.1:"))
	assert.Len(t, b.Token(), 64)

	assert.Contains(t, u, "/stream/remote:abc/source.mp4")
	assert.Contains(t, u, "token="+b.Token())

	// second call reuses the same listener and token
	u2, err := b.URLFor("remote:abc", ".mp4")
	require.NoError(t, err)
	assert.Equal(t, u, u2)
}

func TestBridgeServesRangedReads(t *testing.T) {
	data := []byte("0123456789")
	b := newTestBridge(t, data)

	u, err := b.URLFor("remote:abc", ".mp4")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, u, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-5")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 2-5/10", resp.Header.Get("Content-Range"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), body)
}

func TestBridgeRejectsBadToken(t *testing.T) {
	b := newTestBridge(t, []byte("payload"))

	_, err := b.URLFor("remote:abc", ".mp4")
	require.NoError(t, err)

	u := fmt.Sprintf("http://%s/stream/remote:abc/source.mp4?token=%s", b.Addr(), strings.Repeat("0", 64))
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// missing token entirely
	resp2, err := http.Get(fmt.Sprintf("http://%s/stream/remote:abc/source.mp4", b.Addr()))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp2.StatusCode)
}

func TestBridgeRejectsMalformedItem(t *testing.T) {
	b := newTestBridge(t, []byte("payload"))

	_, err := b.URLFor("remote:abc", ".mp4")
	require.NoError(t, err)

	u := fmt.Sprintf("http://%s/stream/bogus-item/source.mp4?token=%s", b.Addr(), b.Token())
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
