package transcode

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/cmd/datasync/store"
	"github.com/lyzr/datasync/common/config"
	dserrors "github.com/lyzr/datasync/common/errors"
	"github.com/lyzr/datasync/common/logger"
	"github.com/lyzr/datasync/common/worker"
)

func newTestTranscoder(t *testing.T) (*Transcoder, *store.Store) {
	t.Helper()
	root := t.TempDir()
	log := logger.Discard()
	st, err := store.New(config.StorageConfig{
		RawDir: filepath.Join(root, "unzipped"),
		ZipDir: filepath.Join(root, "zipped"),
		RawExt: "csv",
		ZipExt: "zip",
	}, log)
	require.NoError(t, err)
	return New(st, worker.NewPool(2, log, nil), log, nil), st
}

func putRaw(t *testing.T, st *store.Store, content []byte) string {
	t.Helper()
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])
	require.NoError(t, st.Put(context.Background(), checksum, models.Raw, bytes.NewReader(content)))
	return checksum
}

func readBlob(t *testing.T, st *store.Store, checksum string, rep models.Representation) []byte {
	t.Helper()
	f, err := st.Open(checksum, rep)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func zipOf(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestCompressDecompress_RoundTrip(t *testing.T) {
	tc, st := newTestTranscoder(t)
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("id,name,amount\n")
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&b, "%d,\"row, %d\",%d.5\n", i, i, i*3)
	}
	content := []byte(b.String())
	checksum := putRaw(t, st, content)

	ok, err := tc.Compress(ctx, checksum)
	require.NoError(t, err)
	require.True(t, ok)

	has, err := st.Has(checksum, models.Compressed)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, st.Delete(checksum, models.Raw))

	ok, err = tc.Decompress(ctx, checksum)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, content, readBlob(t, st, checksum, models.Raw))
}

func TestCompress_ArchiveHasSingleNamedEntry(t *testing.T) {
	tc, st := newTestTranscoder(t)
	checksum := putRaw(t, st, []byte("a\n1\n"))

	ok, err := tc.Compress(context.Background(), checksum)
	require.NoError(t, err)
	require.True(t, ok)

	zipPath, err := st.Path(checksum, models.Compressed)
	require.NoError(t, err)
	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, 1)
	assert.Equal(t, checksum+".csv", zr.File[0].Name)
	assert.Equal(t, zip.Deflate, zr.File[0].Method)
}

func TestCompress_MissingRaw(t *testing.T) {
	tc, _ := newTestTranscoder(t)
	sum := sha256.Sum256([]byte("nothing"))

	ok, err := tc.Compress(context.Background(), hex.EncodeToString(sum[:]))
	assert.False(t, ok)
	assert.True(t, dserrors.Is(err, dserrors.ErrNotFound))
}

func TestDecompress_NoEligibleEntryIsNotUsable(t *testing.T) {
	tc, st := newTestTranscoder(t)
	sum := sha256.Sum256([]byte("x"))
	checksum := hex.EncodeToString(sum[:])

	empty := zipOf(t, nil)
	require.NoError(t, st.Put(context.Background(), checksum, models.Compressed, bytes.NewReader(empty)))

	ok, err := tc.Decompress(context.Background(), checksum)
	require.NoError(t, err)
	assert.False(t, ok)

	other := zipOf(t, map[string][]byte{"readme.txt": []byte("x")})
	require.NoError(t, st.Put(context.Background(), checksum, models.Compressed, bytes.NewReader(other)))

	ok, err = tc.Decompress(context.Background(), checksum)
	require.NoError(t, err)
	assert.False(t, ok)

	has, _ := st.Has(checksum, models.Raw)
	assert.False(t, has)
}

func TestDecompress_ChecksumMismatchIsNotUsable(t *testing.T) {
	tc, st := newTestTranscoder(t)
	sum := sha256.Sum256([]byte("expected"))
	checksum := hex.EncodeToString(sum[:])

	archive := zipOf(t, map[string][]byte{checksum + ".csv": []byte("something else")})
	require.NoError(t, st.Put(context.Background(), checksum, models.Compressed, bytes.NewReader(archive)))

	ok, err := tc.Decompress(context.Background(), checksum)
	require.NoError(t, err)
	assert.False(t, ok)

	has, _ := st.Has(checksum, models.Raw)
	assert.False(t, has)

	rawDir := filepath.Dir(mustPath(t, st, checksum, models.Raw))
	files, err := os.ReadDir(rawDir)
	require.NoError(t, err)
	assert.Empty(t, files, "temp file removed")
}

func TestDecompress_MissingArchive(t *testing.T) {
	tc, _ := newTestTranscoder(t)
	sum := sha256.Sum256([]byte("absent"))

	ok, err := tc.Decompress(context.Background(), hex.EncodeToString(sum[:]))
	assert.False(t, ok)
	assert.True(t, dserrors.Is(err, dserrors.ErrNotFound))
}

func mustPath(t *testing.T, st *store.Store, checksum string, rep models.Representation) string {
	t.Helper()
	p, err := st.Path(checksum, rep)
	require.NoError(t, err)
	return p
}
