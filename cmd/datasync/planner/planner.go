package planner

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lyzr/datasync/cmd/datasync/ledger"
	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/cmd/datasync/remote"
	"github.com/lyzr/datasync/cmd/datasync/store"
	"github.com/lyzr/datasync/cmd/datasync/transcode"
	"github.com/lyzr/datasync/common/config"
	dserrors "github.com/lyzr/datasync/common/errors"
	"github.com/lyzr/datasync/common/logger"
	"github.com/lyzr/datasync/common/metrics"
	"github.com/lyzr/datasync/common/telemetry"
	"github.com/lyzr/datasync/common/worker"
)

// Reporter receives phase transitions of one Ensure call
type Reporter func(phase models.Phase)

// Planner guarantees a raw copy of the best version of a dataset within a
// date window, fetching from the remote when the cache has none.
type Planner struct {
	store      *store.Store
	ledger     *ledger.Ledger
	transcoder *transcode.Transcoder
	pool       *worker.Pool
	fetch      config.FetchConfig
	log        *logger.Logger
	telemetry  *telemetry.Telemetry

	flights singleflight.Group
	phases  *phaseBroker
	now     func() time.Time
}

// Option configures a Planner
type Option func(*Planner)

// WithClock overrides the clock used to date new observations
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		p.now = now
	}
}

// New creates a planner
func New(
	st *store.Store,
	lg *ledger.Ledger,
	tc *transcode.Transcoder,
	pool *worker.Pool,
	fetch config.FetchConfig,
	log *logger.Logger,
	tel *telemetry.Telemetry,
	opts ...Option,
) *Planner {
	p := &Planner{
		store:      st,
		ledger:     lg,
		transcoder: tc,
		pool:       pool,
		fetch:      fetch,
		log:        log,
		telemetry:  tel,
		phases:     newPhaseBroker(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Now returns the planner clock
func (p *Planner) Now() time.Time {
	return p.now().UTC()
}

// Ensure returns the checksum of a version of id observed within w whose
// raw blob is on disk. Concurrent misses for the same rid share one fetch.
func (p *Planner) Ensure(ctx context.Context, id models.Identity, w models.Window, src remote.DataSource, report Reporter) (string, error) {
	if report == nil {
		report = func(models.Phase) {}
	}
	log := p.log.WithDataset(id.Name, id.ExternalID)

	report(models.PhaseResolving)
	checksum, ok, triedArchive, err := p.fromCache(ctx, id, w, report, "")
	if err != nil || ok {
		return checksum, err
	}

	unsubscribe := p.phases.subscribe(id.ExternalID, report)
	defer unsubscribe()

	result, err, shared := p.flights.Do(id.ExternalID, func() (any, error) {
		return p.fetchAndRecord(context.WithoutCancel(ctx), id, w, src, triedArchive)
	})
	if shared {
		log.Debug("joined in-flight fetch")
	}
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// fromCache resolves w against the ledger and makes the raw blob available
// if a matching version exists. ok is false when the dataset must be fetched.
// The archive of skipArchive is never unpacked; tried names the archive this
// call failed to unpack.
func (p *Planner) fromCache(ctx context.Context, id models.Identity, w models.Window, report Reporter, skipArchive string) (checksum string, ok bool, tried string, err error) {
	v, err := p.ledger.Resolve(id.ExternalID, w)
	if err != nil {
		return "", false, "", err
	}
	if v == nil {
		return "", false, "", nil
	}
	log := p.log.WithDataset(id.Name, id.ExternalID).With("sha256", v.Checksum)

	if v.HasRaw {
		has, err := p.store.Has(v.Checksum, models.Raw)
		if err != nil {
			return "", false, "", err
		}
		if has {
			log.Debug("raw copy cached")
			return v.Checksum, true, "", nil
		}
		log.Warn("ledger lists a raw copy that is missing on disk")
	}

	if !v.HasCompressed || v.Checksum == skipArchive {
		return "", false, "", nil
	}
	has, err := p.store.Has(v.Checksum, models.Compressed)
	if err != nil || !has {
		return "", false, "", err
	}

	report(models.PhaseUnzipping)
	unzipped, err := p.transcoder.Decompress(ctx, v.Checksum)
	if err != nil {
		if dserrors.Is(err, dserrors.ErrNotFound) {
			return "", false, v.Checksum, nil
		}
		return "", false, "", err
	}
	if !unzipped {
		log.Warn("compressed copy not usable, refetching")
		return "", false, v.Checksum, nil
	}

	if _, err := p.ledger.SetRepresentation(id.ExternalID, v.Checksum, models.Raw, true); err != nil {
		return "", false, "", err
	}
	log.Info("raw copy restored from archive")
	return v.Checksum, true, "", nil
}

// fetchAndRecord runs once per in-flight rid. It re-resolves first since a
// flight that just finished may already have recorded a matching version;
// the archive the caller already failed to unpack is not tried again.
func (p *Planner) fetchAndRecord(ctx context.Context, id models.Identity, w models.Window, src remote.DataSource, triedArchive string) (string, error) {
	broadcast := func(phase models.Phase) { p.phases.publish(id.ExternalID, phase) }
	log := p.log.WithDataset(id.Name, id.ExternalID)

	checksum, ok, _, err := p.fromCache(ctx, id, w, broadcast, triedArchive)
	if err != nil || ok {
		return checksum, err
	}

	rm := metrics.CaptureStart(ctx)
	broadcast(models.PhaseFetching)
	checksum, err = p.fetchRaw(ctx, id, src)
	if err != nil {
		log.Error("fetch failed", "error", err)
		return "", err
	}
	rm.Sample()

	broadcast(models.PhaseZipping)
	zipped, zipErr := p.transcoder.Compress(ctx, checksum)
	if zipErr != nil {
		log.Error("compression failed", "sha256", checksum, "error", zipErr)
	}

	version := models.Version{
		Checksum:      checksum,
		Dates:         []models.Timestamp{models.NewTimestamp(p.Now())},
		HasRaw:        true,
		HasCompressed: zipped,
	}
	if _, err := p.ledger.AppendVersion(id.ExternalID, id.Name, version); err != nil {
		return "", err
	}

	if zipErr != nil {
		if dserrors.Is(zipErr, dserrors.ErrTranscodeFailed) {
			return "", zipErr
		}
		return "", dserrors.NewTranscodeFailed("compress", checksum, zipErr)
	}

	rm.Finalize(ctx)
	attrs := rm.ToMap()
	attrs["rid"] = id.ExternalID
	attrs["sha256"] = checksum
	p.telemetry.RecordEvent("dataset_fetched", attrs)
	return checksum, nil
}

// fetchRaw pulls every row into one temp CSV file, hashes the finished
// file and commits it under that checksum.
func (p *Planner) fetchRaw(ctx context.Context, id models.Identity, src remote.DataSource) (string, error) {
	defer p.telemetry.RecordDuration("planner.fetch", time.Now())

	tmp, err := p.store.CreateTemp(models.Raw)
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	err = p.pool.Do(ctx, "fetch", func() error {
		return p.download(ctx, id, src, tmp)
	})
	if err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", dserrors.NewIOFailure("close raw file", err)
	}

	var checksum string
	err = p.pool.Do(ctx, "hash", func() error {
		var err error
		checksum, err = store.HashFile(tmpPath)
		return err
	})
	if err != nil {
		return "", err
	}

	committed = true
	if err := p.store.Commit(tmpPath, checksum, models.Raw); err != nil {
		return "", err
	}
	return checksum, nil
}

// download writes the dataset to out. Large datasets with a row key are
// fetched in row key order one batch at a time; only the first batch
// writes the header.
func (p *Planner) download(ctx context.Context, id models.Identity, src remote.DataSource, out io.Writer) error {
	count, err := src.Count(ctx, id)
	if err != nil {
		return dserrors.NewRemoteFetchFailed(id.ExternalID, err)
	}
	if count == 0 {
		return dserrors.NewEmptyDataset(id.ExternalID)
	}

	cols, err := src.Schema(ctx, id)
	if err != nil {
		return dserrors.NewRemoteFetchFailed(id.ExternalID, err)
	}

	w := csv.NewWriter(out)
	log := p.log.WithDataset(id.Name, id.ExternalID)

	key, hasKey := remote.RowKey(cols)
	if hasKey && count > p.fetch.BatchThreshold {
		batches := (count + p.fetch.BatchSize - 1) / p.fetch.BatchSize
		log.Info("fetching in batches", "rows", count, "batches", batches, "row_key", key.Name)

		for i := int64(0); i < batches; i++ {
			stream, err := src.FetchRange(ctx, id, i*p.fetch.BatchSize, p.fetch.BatchSize)
			if err != nil {
				return dserrors.NewRemoteFetchFailed(id.ExternalID, err)
			}
			if err := copyRows(w, stream, i == 0); err != nil {
				return wrapCopyErr(id, err)
			}
			log.Debug("batch written", "batch", i+1, "of", batches)
		}
	} else {
		log.Info("fetching in one call", "rows", count)

		stream, err := src.FetchAll(ctx, id)
		if err != nil {
			return dserrors.NewRemoteFetchFailed(id.ExternalID, err)
		}
		if err := copyRows(w, stream, true); err != nil {
			return wrapCopyErr(id, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return dserrors.NewIOFailure("write raw file", err)
	}
	return nil
}

// writeError marks failures writing the local file, as opposed to
// failures reading the remote stream
type writeError struct {
	err error
}

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func copyRows(w *csv.Writer, stream remote.RowStream, header bool) error {
	defer stream.Close()

	if header {
		if err := w.Write(stream.Header()); err != nil {
			return &writeError{err}
		}
	}
	for {
		row, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := w.Write(row); err != nil {
			return &writeError{err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &writeError{err}
	}
	return nil
}

func wrapCopyErr(id models.Identity, err error) error {
	var we *writeError
	if errors.As(err, &we) {
		return dserrors.NewIOFailure(fmt.Sprintf("write rows of %s", id.ExternalID), we.err)
	}
	return dserrors.NewRemoteFetchFailed(id.ExternalID, err)
}
