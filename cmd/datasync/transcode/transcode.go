package transcode

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/cmd/datasync/store"
	dserrors "github.com/lyzr/datasync/common/errors"
	"github.com/lyzr/datasync/common/logger"
	"github.com/lyzr/datasync/common/telemetry"
	"github.com/lyzr/datasync/common/worker"
)

// Transcoder converts a version between its raw and compressed forms.
// The archive is a zip holding a single deflated entry <checksum>.<rawExt>.
type Transcoder struct {
	store     *store.Store
	pool      *worker.Pool
	log       *logger.Logger
	telemetry *telemetry.Telemetry
}

// New creates a transcoder that runs its work on pool
func New(st *store.Store, pool *worker.Pool, log *logger.Logger, tel *telemetry.Telemetry) *Transcoder {
	return &Transcoder{store: st, pool: pool, log: log, telemetry: tel}
}

// Compress builds the compressed blob from the raw blob. The raw blob must
// exist.
func (t *Transcoder) Compress(ctx context.Context, checksum string) (bool, error) {
	var ok bool
	err := t.pool.Do(ctx, "compress", func() error {
		var err error
		ok, err = t.compress(checksum)
		return err
	})
	return ok, err
}

func (t *Transcoder) compress(checksum string) (bool, error) {
	defer t.telemetry.RecordDuration("transcode.compress", time.Now())

	raw, err := t.store.Open(checksum, models.Raw)
	if err != nil {
		return false, err
	}
	defer raw.Close()

	tmp, err := t.store.CreateTemp(models.Compressed)
	if err != nil {
		return false, err
	}
	tmpPath := tmp.Name()
	fail := func(op string, cause error) (bool, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return false, dserrors.NewTranscodeFailed(op, checksum, cause)
	}

	zw := zip.NewWriter(tmp)
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     checksum + "." + t.store.RawExt(),
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return fail("compress", err)
	}
	if _, err := io.Copy(w, raw); err != nil {
		return fail("compress", err)
	}
	if err := zw.Close(); err != nil {
		return fail("compress", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("compress", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return false, dserrors.NewTranscodeFailed("compress", checksum, err)
	}

	if err := t.store.Commit(tmpPath, checksum, models.Compressed); err != nil {
		return false, err
	}
	t.log.Debug("compressed", "sha256", checksum)
	return true, nil
}

// Decompress restores the raw blob from the compressed blob. An archive
// with no raw entry, or whose entry does not hash to checksum, is not
// usable: Decompress reports false without an error so the caller can
// refetch.
func (t *Transcoder) Decompress(ctx context.Context, checksum string) (bool, error) {
	var ok bool
	err := t.pool.Do(ctx, "decompress", func() error {
		var err error
		ok, err = t.decompress(checksum)
		return err
	})
	return ok, err
}

func (t *Transcoder) decompress(checksum string) (bool, error) {
	defer t.telemetry.RecordDuration("transcode.decompress", time.Now())

	zipPath, err := t.store.Path(checksum, models.Compressed)
	if err != nil {
		return false, err
	}
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, dserrors.NewNotFound(string(models.Compressed)+" blob", checksum)
		}
		t.log.Warn("archive unreadable", "sha256", checksum, "error", err)
		return false, nil
	}
	defer zr.Close()

	entry := t.firstRawEntry(zr.File)
	if entry == nil {
		t.log.Warn("archive has no raw entry", "sha256", checksum, "entries", len(zr.File))
		return false, nil
	}

	src, err := entry.Open()
	if err != nil {
		return false, dserrors.NewTranscodeFailed("decompress", checksum, err)
	}
	defer src.Close()

	tmp, err := t.store.CreateTemp(models.Raw)
	if err != nil {
		return false, err
	}
	tmpPath := tmp.Name()

	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(tmp, h), src)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr == nil {
			copyErr = closeErr
		}
		return false, dserrors.NewTranscodeFailed("decompress", checksum, copyErr)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != checksum {
		os.Remove(tmpPath)
		t.log.Warn("archive content does not match checksum", "sha256", checksum, "actual", got)
		return false, nil
	}

	if err := t.store.Commit(tmpPath, checksum, models.Raw); err != nil {
		return false, err
	}
	t.log.Debug("decompressed", "sha256", checksum)
	return true, nil
}

func (t *Transcoder) firstRawEntry(files []*zip.File) *zip.File {
	suffix := "." + t.store.RawExt()
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), suffix) {
			return f
		}
	}
	return nil
}
