package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"mediabridge/work/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidItemID(t *testing.T) {
	assert.True(t, ValidItemID("local:dGVzdA"))
	assert.True(t, ValidItemID("remote:obj-123"))
	assert.True(t, ValidItemID("remote:a.b_c~d=e"))

	assert.False(t, ValidItemID(""))
	assert.False(t, ValidItemID("local:"))
	assert.False(t, ValidItemID("ftp:whatever"))
	assert.False(t, ValidItemID("remote:has/slash"))
	assert.False(t, ValidItemID("remote:has space"))
	assert.False(t, ValidItemID("remote:semi;colon"))
}

func TestLocalItemIDRoundTrip(t *testing.T) {
	path := "/media/movies/some movie (2024).mkv"
	id := LocalItemID(path)
	assert.True(t, ValidItemID(id))
}

func TestRootAuthorizer(t *testing.T) {
	root := t.TempDir()
	auth := NewRootAuthorizer([]string{root})

	inside := filepath.Join(root, "movie.mp4")
	canonical, err := auth.Authorize(inside)
	require.NoError(t, err)
	assert.Equal(t, inside, canonical)

	// the root itself is allowed
	_, err = auth.Authorize(root)
	assert.NoError(t, err)

	// traversal out of the root is resolved before the containment check
	_, err = auth.Authorize(filepath.Join(root, "..", "escape.mp4"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AccessDenied))

	_, err = auth.Authorize("/etc/passwd")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AccessDenied))

	// sibling directory sharing the root as a name prefix is still outside
	_, err = auth.Authorize(root + "-sibling/movie.mp4")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AccessDenied))
}

func writeLocalFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestResolveLocal(t *testing.T) {
	root := t.TempDir()
	data := []byte("0123456789abcdef")
	path := writeLocalFile(t, root, "clip.mp4", data)

	r := &Resolver{Auth: NewRootAuthorizer([]string{root})}

	src, err := r.Resolve(context.Background(), LocalItemID(path))
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), src.Size())
	assert.Equal(t, "video/mp4", src.MimeType())

	input, err := src.TranscodeInput(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, input)
}

func TestResolveLocalDenied(t *testing.T) {
	root := t.TempDir()
	r := &Resolver{Auth: NewRootAuthorizer([]string{root})}

	_, err := r.Resolve(context.Background(), LocalItemID("/etc/passwd"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AccessDenied))
}

func TestResolveLocalMissingFile(t *testing.T) {
	root := t.TempDir()
	r := &Resolver{Auth: NewRootAuthorizer([]string{root})}

	_, err := r.Resolve(context.Background(), LocalItemID(filepath.Join(root, "gone.mp4")))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.SourceUnavailable))
}

func TestResolveLocalDirectory(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "season1")
	require.NoError(t, os.Mkdir(sub, 0755))

	r := &Resolver{Auth: NewRootAuthorizer([]string{root})}

	_, err := r.Resolve(context.Background(), LocalItemID(sub))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidParameter))
}

func TestResolveMalformedID(t *testing.T) {
	r := &Resolver{}

	for _, id := range []string{"", "bogus", "ftp:thing", "local:###"} {
		_, err := r.Resolve(context.Background(), id)
		require.Error(t, err, "id %q", id)
		assert.True(t, errs.Is(err, errs.InvalidParameter), "id %q", id)
	}
}

func TestLocalSourceOpenRange(t *testing.T) {
	root := t.TempDir()
	data := []byte("0123456789")
	path := writeLocalFile(t, root, "clip.mp4", data)

	r := &Resolver{Auth: NewRootAuthorizer([]string{root})}
	src, err := r.Resolve(context.Background(), LocalItemID(path))
	require.NoError(t, err)

	rc, length, err := src.OpenRange(context.Background(), 2, 5)
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, int64(4), length)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), got)

	// end past EOF is clamped
	rc2, length, err := src.OpenRange(context.Background(), 5, 100)
	require.NoError(t, err)
	defer rc2.Close()
	assert.Equal(t, int64(5), length)

	// start past EOF is unsatisfiable
	_, _, err = src.OpenRange(context.Background(), 10, 20)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotSatisfiableRange))
}
