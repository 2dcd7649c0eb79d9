package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/common/config"
	dserrors "github.com/lyzr/datasync/common/errors"
	"github.com/lyzr/datasync/common/logger"
)

const tempPrefix = ".tmp-"

// Store is the filesystem content store. A checksum maps independently to
// a raw blob (<checksum>.<rawExt>) and a compressed blob (<checksum>.<zipExt>).
// Every write goes to a temp file in the target directory and is renamed
// into place, so readers never see a partial blob.
type Store struct {
	rawDir string
	zipDir string
	rawExt string
	zipExt string
	log    *logger.Logger
}

// New creates the store and its directories
func New(cfg config.StorageConfig, log *logger.Logger) (*Store, error) {
	for _, dir := range []string{cfg.RawDir, cfg.ZipDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to ensure store dir %s: %w", dir, err)
		}
	}
	return &Store{
		rawDir: cfg.RawDir,
		zipDir: cfg.ZipDir,
		rawExt: strings.TrimPrefix(cfg.RawExt, "."),
		zipExt: strings.TrimPrefix(cfg.ZipExt, "."),
		log:    log,
	}, nil
}

// RawExt returns the raw file extension without the dot
func (s *Store) RawExt() string {
	return s.rawExt
}

// ValidChecksum reports whether c is a lowercase hex SHA-256 digest
func ValidChecksum(c string) bool {
	if len(c) != sha256.Size*2 || strings.ToLower(c) != c {
		return false
	}
	_, err := hex.DecodeString(c)
	return err == nil
}

// Path returns where the blob for checksum/rep lives
func (s *Store) Path(checksum string, rep models.Representation) (string, error) {
	if !ValidChecksum(checksum) {
		return "", dserrors.NewInvalidRequest(fmt.Sprintf("invalid checksum %q", checksum))
	}
	switch rep {
	case models.Raw:
		return filepath.Join(s.rawDir, checksum+"."+s.rawExt), nil
	case models.Compressed:
		return filepath.Join(s.zipDir, checksum+"."+s.zipExt), nil
	}
	return "", dserrors.NewInvalidRequest(fmt.Sprintf("invalid representation %q", rep))
}

func (s *Store) dir(rep models.Representation) string {
	if rep == models.Compressed {
		return s.zipDir
	}
	return s.rawDir
}

// CreateTemp opens a new temp file in rep's directory. The caller either
// commits it with Commit or removes it.
func (s *Store) CreateTemp(rep models.Representation) (*os.File, error) {
	f, err := os.CreateTemp(s.dir(rep), tempPrefix+"*")
	if err != nil {
		return nil, dserrors.NewIOFailure("create temp file", err)
	}
	return f, nil
}

// Commit atomically moves a closed temp file into place as checksum/rep.
// An existing blob is replaced by the rename.
func (s *Store) Commit(tmpPath, checksum string, rep models.Representation) error {
	dst, err := s.Path(checksum, rep)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return dserrors.NewIOFailure("commit blob", err)
	}
	s.log.Debug("blob committed", "sha256", checksum, "representation", rep)
	return nil
}

// Put writes r as the blob checksum/rep. Putting identical content twice
// leaves one blob and succeeds both times.
func (s *Store) Put(ctx context.Context, checksum string, rep models.Representation, r io.Reader) error {
	if _, err := s.Path(checksum, rep); err != nil {
		return err
	}

	tmp, err := s.CreateTemp(rep)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return dserrors.NewIOFailure("write blob", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return dserrors.NewIOFailure("sync blob", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return dserrors.NewIOFailure("close blob", err)
	}

	return s.Commit(tmpPath, checksum, rep)
}

// Has reports whether the blob exists
func (s *Store) Has(checksum string, rep models.Representation) (bool, error) {
	path, err := s.Path(checksum, rep)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, dserrors.NewIOFailure("stat blob", err)
}

// Open opens the blob for reading. The returned file is seekable so it
// can back byte-range responses.
func (s *Store) Open(checksum string, rep models.Representation) (*os.File, error) {
	path, err := s.Path(checksum, rep)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dserrors.NewNotFound(string(rep)+" blob", checksum)
		}
		return nil, dserrors.NewIOFailure("open blob", err)
	}
	return f, nil
}

// Delete removes the blob
func (s *Store) Delete(checksum string, rep models.Representation) error {
	path, err := s.Path(checksum, rep)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return dserrors.NewNotFound(string(rep)+" blob", checksum)
		}
		return dserrors.NewIOFailure("delete blob", err)
	}
	s.log.Info("blob deleted", "sha256", checksum, "representation", rep)
	return nil
}

// HashFile returns the hex SHA-256 of the file at path
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", dserrors.NewIOFailure("open for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", dserrors.NewIOFailure("hash file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
