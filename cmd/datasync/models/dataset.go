package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Identity names one remote dataset
type Identity struct {
	// Human label, used in messages only
	Name string `json:"name"`

	// Canonical remote identifier (rid); keys the ledger record
	ExternalID string `json:"rid"`
}

// Representation is one of the two on-disk forms of a version
type Representation string

const (
	Raw        Representation = "raw"
	Compressed Representation = "zip"
)

// ParseRepresentation maps a URL/path token to a Representation
func ParseRepresentation(s string) (Representation, error) {
	switch strings.ToLower(s) {
	case "raw", "csv", "unzipped":
		return Raw, nil
	case "zip", "zipped", "compressed":
		return Compressed, nil
	}
	return "", fmt.Errorf("unknown representation %q", s)
}

// Version is one distinct content snapshot of a dataset.
// Maps to one element of the ledger record's "versions" array.
type Version struct {
	Checksum      string      `json:"sha256"`
	Dates         []Timestamp `json:"dates"`
	HasCompressed bool        `json:"zipped"`
	HasRaw        bool        `json:"unzipped"`
}

// LastObserved returns the most recent observed date
func (v Version) LastObserved() time.Time {
	var last time.Time
	for _, d := range v.Dates {
		if d.Time.After(last) {
			last = d.Time
		}
	}
	return last
}

// ObservedWithin reports whether any observed date falls in w
func (v Version) ObservedWithin(w Window) bool {
	for _, d := range v.Dates {
		if w.Contains(d.Time) {
			return true
		}
	}
	return false
}

// Entry is the ledger record of one dataset.
// Persisted as <metaDir>/<rid>.json.
type Entry struct {
	Name       string    `json:"name"`
	ExternalID string    `json:"rid"`
	Versions   []Version `json:"versions"`
}

// Identity returns the identity of the entry
func (e *Entry) Identity() Identity {
	return Identity{Name: e.Name, ExternalID: e.ExternalID}
}

// Find returns the index of the version with checksum, or -1
func (e *Entry) Find(checksum string) int {
	for i := range e.Versions {
		if e.Versions[i].Checksum == checksum {
			return i
		}
	}
	return -1
}

// Window is an inclusive [Start, End] range of observation times in UTC.
// A zero Start is unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in the window, inclusive at both ends
func (w Window) Contains(t time.Time) bool {
	t = t.UTC()
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	return !t.After(w.End)
}

// String formats the window for messages
func (w Window) String() string {
	start := "-"
	if !w.Start.IsZero() {
		start = w.Start.Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s]", start, w.End.Format(time.RFC3339))
}

// Timestamp is an observed date. It always holds UTC and is written as
// RFC 3339 with nanoseconds. Naive legacy strings are read as UTC.
type Timestamp struct {
	time.Time
}

// NewTimestamp normalizes t to UTC
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// ParseTimestamp parses an ISO-8601 string; strings without an offset are UTC
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// MarshalJSON writes the UTC RFC 3339 form
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts any layout ParseTimestamp accepts
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
