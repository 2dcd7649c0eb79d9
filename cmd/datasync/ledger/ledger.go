package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lyzr/datasync/cmd/datasync/models"
	dserrors "github.com/lyzr/datasync/common/errors"
	"github.com/lyzr/datasync/common/logger"
)

const (
	recordExt  = ".json"
	tempPrefix = ".tmp-"
)

// Ledger keeps one JSON record per dataset under metaDir. Every
// read-modify-write for an externalId runs under that id's lock; writers
// for different ids never contend.
type Ledger struct {
	dir   string
	locks *keyedMutex
	log   *logger.Logger
}

// New creates a ledger rooted at dir
func New(dir string, log *logger.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger dir %s: %w", dir, err)
	}
	return &Ledger{dir: dir, locks: newKeyedMutex(), log: log}, nil
}

func validRID(rid string) error {
	if rid == "" || rid == "." || rid == ".." ||
		strings.ContainsAny(rid, `/\`) || strings.HasPrefix(rid, tempPrefix) {
		return dserrors.NewInvalidRequest(fmt.Sprintf("invalid rid %q", rid))
	}
	return nil
}

func (l *Ledger) path(rid string) string {
	return filepath.Join(l.dir, rid+recordExt)
}

// Read returns the record for rid. A missing record is an empty entry,
// not an error; a record that fails to parse is CORRUPT_RECORD.
func (l *Ledger) Read(rid string) (*models.Entry, error) {
	if err := validRID(rid); err != nil {
		return nil, err
	}
	return l.read(rid)
}

func (l *Ledger) read(rid string) (*models.Entry, error) {
	data, err := os.ReadFile(l.path(rid))
	if err != nil {
		if os.IsNotExist(err) {
			return &models.Entry{ExternalID: rid, Versions: []models.Version{}}, nil
		}
		return nil, dserrors.NewIOFailure("read ledger record", err)
	}

	var entry models.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, dserrors.NewCorruptRecord(rid, err)
	}
	if entry.ExternalID == "" {
		entry.ExternalID = rid
	}
	if entry.Versions == nil {
		entry.Versions = []models.Version{}
	}
	return &entry, nil
}

// write replaces the record through a temp file and rename
func (l *Ledger) write(entry *models.Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return dserrors.NewInternal(fmt.Errorf("marshal ledger record: %w", err))
	}

	tmp, err := os.CreateTemp(l.dir, tempPrefix+"*")
	if err != nil {
		return dserrors.NewIOFailure("create ledger temp", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return dserrors.NewIOFailure("write ledger record", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return dserrors.NewIOFailure("sync ledger record", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return dserrors.NewIOFailure("close ledger record", err)
	}
	if err := os.Rename(tmpPath, l.path(entry.ExternalID)); err != nil {
		os.Remove(tmpPath)
		return dserrors.NewIOFailure("replace ledger record", err)
	}
	return nil
}

// AppendVersion records version for rid. If the checksum is already known
// its new dates are merged into the existing version; otherwise the version
// is inserted. Versions stay sorted by latest date, newest first.
func (l *Ledger) AppendVersion(rid, name string, version models.Version) (*models.Entry, error) {
	if err := validRID(rid); err != nil {
		return nil, err
	}
	if len(version.Dates) == 0 {
		return nil, dserrors.NewInvalidRequest("version has no observed dates")
	}

	unlock := l.locks.Lock(rid)
	defer unlock()

	entry, err := l.read(rid)
	if err != nil {
		return nil, err
	}
	if name != "" {
		entry.Name = name
	}

	if i := entry.Find(version.Checksum); i >= 0 {
		existing := &entry.Versions[i]
		existing.Dates = mergeDates(existing.Dates, version.Dates)
		existing.HasRaw = existing.HasRaw || version.HasRaw
		existing.HasCompressed = existing.HasCompressed || version.HasCompressed
	} else {
		version.Dates = mergeDates(nil, version.Dates)
		entry.Versions = append(entry.Versions, version)
	}
	sortVersions(entry.Versions)

	if err := l.write(entry); err != nil {
		return nil, err
	}

	l.log.Info("ledger version recorded",
		"rid", rid,
		"sha256", version.Checksum,
		"versions", len(entry.Versions),
	)
	return entry, nil
}

// SetRepresentation flips the zipped/unzipped flag of one version
func (l *Ledger) SetRepresentation(rid, checksum string, rep models.Representation, present bool) (*models.Entry, error) {
	if err := validRID(rid); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(rid)
	defer unlock()

	entry, err := l.read(rid)
	if err != nil {
		return nil, err
	}
	i := entry.Find(checksum)
	if i < 0 {
		return nil, dserrors.NewNotFound("version", rid+"/"+checksum)
	}

	switch rep {
	case models.Raw:
		entry.Versions[i].HasRaw = present
	case models.Compressed:
		entry.Versions[i].HasCompressed = present
	default:
		return nil, dserrors.NewInvalidRequest(fmt.Sprintf("invalid representation %q", rep))
	}

	if err := l.write(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Resolve returns the first version, in ledger order, observed within w.
// No match returns nil without error.
func (l *Ledger) Resolve(rid string, w models.Window) (*models.Version, error) {
	entry, err := l.Read(rid)
	if err != nil {
		return nil, err
	}
	for i := range entry.Versions {
		if entry.Versions[i].ObservedWithin(w) {
			v := entry.Versions[i]
			return &v, nil
		}
	}
	return nil, nil
}

// List returns every record sorted by rid. Records that fail to parse are
// logged and skipped.
func (l *Ledger) List() ([]models.Entry, error) {
	files, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, dserrors.NewIOFailure("list ledger", err)
	}

	entries := make([]models.Entry, 0, len(files))
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, tempPrefix) {
			continue
		}
		rid := strings.TrimSuffix(name, recordExt)
		entry, err := l.read(rid)
		if err != nil {
			l.log.Warn("skipping unreadable ledger record", "rid", rid, "error", err)
			continue
		}
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ExternalID < entries[j].ExternalID
	})
	return entries, nil
}

// mergeDates appends add to dates, drops exact repeats and sorts ascending
func mergeDates(dates, add []models.Timestamp) []models.Timestamp {
	out := make([]models.Timestamp, 0, len(dates)+len(add))
	seen := make(map[int64]bool, len(dates)+len(add))
	for _, d := range append(append([]models.Timestamp{}, dates...), add...) {
		d = models.NewTimestamp(d.Time)
		key := d.UnixNano()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Before(out[j].Time)
	})
	return out
}

// sortVersions orders by latest observed date, newest first; ties keep order
func sortVersions(versions []models.Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].LastObserved().After(versions[j].LastObserved())
	})
}
