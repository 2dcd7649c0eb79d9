package service

import (
	"context"
	"os"

	"github.com/lyzr/datasync/cmd/datasync/catalog"
	"github.com/lyzr/datasync/cmd/datasync/ledger"
	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/cmd/datasync/store"
	"github.com/lyzr/datasync/cmd/datasync/transcode"
	dserrors "github.com/lyzr/datasync/common/errors"
	"github.com/lyzr/datasync/common/logger"
)

// DatasetService backs the REST endpoints: ledger inspection, on-demand
// transcoding and blob removal
type DatasetService struct {
	catalog    *catalog.Catalog
	store      *store.Store
	ledger     *ledger.Ledger
	transcoder *transcode.Transcoder
	log        *logger.Logger
}

// NewDatasetService creates a new dataset service
func NewDatasetService(cat *catalog.Catalog, st *store.Store, lg *ledger.Ledger, tc *transcode.Transcoder, log *logger.Logger) *DatasetService {
	return &DatasetService{
		catalog:    cat,
		store:      st,
		ledger:     lg,
		transcoder: tc,
		log:        log,
	}
}

// DatasetInfo pairs a resolved identity with its ledger entry
type DatasetInfo struct {
	models.Identity
	Versions []models.Version `json:"versions"`
}

// InfoResult is the answer to an info request
type InfoResult struct {
	Datasets []DatasetInfo `json:"datasets"`
	Missing  []string      `json:"missing,omitempty"`
}

// Info resolves names and returns what the ledger knows about each
func (s *DatasetService) Info(ctx context.Context, names []string) (*InfoResult, error) {
	if len(names) == 0 {
		return nil, dserrors.NewInvalidRequest("names are required")
	}
	ids, missing := s.catalog.Resolve(names)

	result := &InfoResult{Datasets: make([]DatasetInfo, 0, len(ids)), Missing: missing}
	for _, id := range ids {
		entry, err := s.ledger.Read(id.ExternalID)
		if err != nil {
			return nil, err
		}
		result.Datasets = append(result.Datasets, DatasetInfo{Identity: id, Versions: entry.Versions})
	}
	return result, nil
}

// Versions returns the ledger entry of rid; an unknown rid is NOT_FOUND
func (s *DatasetService) Versions(ctx context.Context, rid string) (*models.Entry, error) {
	entry, err := s.ledger.Read(rid)
	if err != nil {
		return nil, err
	}
	if len(entry.Versions) == 0 {
		return nil, dserrors.NewNotFound("dataset", rid)
	}
	return entry, nil
}

// List returns every ledger entry
func (s *DatasetService) List(ctx context.Context) ([]models.Entry, error) {
	return s.ledger.List()
}

// version returns the ledger version rid/checksum or NOT_FOUND
func (s *DatasetService) version(rid, checksum string) (*models.Version, error) {
	entry, err := s.ledger.Read(rid)
	if err != nil {
		return nil, err
	}
	i := entry.Find(checksum)
	if i < 0 {
		return nil, dserrors.NewNotFound("version", rid+"/"+checksum)
	}
	return &entry.Versions[i], nil
}

// Zip builds the compressed blob of a version and records it
func (s *DatasetService) Zip(ctx context.Context, rid, checksum string) (*models.Entry, error) {
	if _, err := s.version(rid, checksum); err != nil {
		return nil, err
	}
	ok, err := s.transcoder.Compress(ctx, checksum)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dserrors.NewTranscodeFailed("compress", checksum, nil)
	}
	return s.ledger.SetRepresentation(rid, checksum, models.Compressed, true)
}

// Unzip restores the raw blob of a version and records it
func (s *DatasetService) Unzip(ctx context.Context, rid, checksum string) (*models.Entry, error) {
	if _, err := s.version(rid, checksum); err != nil {
		return nil, err
	}
	ok, err := s.transcoder.Decompress(ctx, checksum)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dserrors.NewTranscodeFailed("decompress", checksum, nil)
	}
	return s.ledger.SetRepresentation(rid, checksum, models.Raw, true)
}

// Delete removes the given representations of a version and clears their
// flags. The version itself stays in the ledger.
func (s *DatasetService) Delete(ctx context.Context, rid, checksum string, reps ...models.Representation) (*models.Entry, error) {
	if _, err := s.version(rid, checksum); err != nil {
		return nil, err
	}

	var entry *models.Entry
	removed := 0
	for _, rep := range reps {
		err := s.store.Delete(checksum, rep)
		if err != nil && !dserrors.Is(err, dserrors.ErrNotFound) {
			return nil, err
		}
		if err == nil {
			removed++
		}
		entry, err = s.ledger.SetRepresentation(rid, checksum, rep, false)
		if err != nil {
			return nil, err
		}
	}
	if removed == 0 {
		return nil, dserrors.NewNotFound("blob", checksum)
	}

	s.log.Info("dataset blobs deleted", "rid", rid, "sha256", checksum, "representations", reps)
	return entry, nil
}

// OpenBlob opens a stored blob for download
func (s *DatasetService) OpenBlob(checksum string, rep models.Representation) (*os.File, error) {
	return s.store.Open(checksum, rep)
}
