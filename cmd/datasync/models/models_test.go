package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTS(t *testing.T, s string) Timestamp {
	t.Helper()
	ts, err := ParseTimestamp(s)
	require.NoError(t, err)
	return ts
}

func TestParseTimestamp_NormalizesToUTC(t *testing.T) {
	naive := mustTS(t, "2025-06-15 10:30:00")
	assert.Equal(t, time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC), naive.Time)

	pyIso := mustTS(t, "2025-06-15T10:30:00.123456")
	assert.Equal(t, 123456000, pyIso.Nanosecond())
	assert.Equal(t, time.UTC, pyIso.Location())

	offset := mustTS(t, "2025-06-15T12:30:00+02:00")
	assert.Equal(t, time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC), offset.Time)

	dateOnly := mustTS(t, "2025-06-15")
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), dateOnly.Time)

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestTimestamp_JSON(t *testing.T) {
	ts := NewTimestamp(time.Date(2025, 6, 15, 10, 30, 0, 5, time.FixedZone("x", 3600)))
	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2025-06-15T09:30:00.000000005Z"`, string(data))

	var back Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2025-06-15 09:30:00"`), &back))
	assert.Equal(t, time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC), back.Time)

	assert.Error(t, json.Unmarshal([]byte(`42`), &back))
}

func TestParseWindow(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	w, err := ParseWindow("2025-06-10", "2025-06-20", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), w.Start)
	assert.True(t, w.Contains(time.Date(2025, 6, 20, 23, 59, 59, 0, time.UTC)), "date-only end covers the whole day")
	assert.False(t, w.Contains(time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)))
	assert.True(t, w.Contains(w.Start), "start is inclusive")

	open, err := ParseWindow("", "", now)
	require.NoError(t, err)
	assert.True(t, open.Start.IsZero())
	assert.Equal(t, now, open.End)
	assert.True(t, open.Contains(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, err = ParseWindow("2025-06-20", "2025-06-10", now)
	assert.Error(t, err)

	_, err = ParseWindow("nope", "", now)
	assert.Error(t, err)
}

func TestVersion_LastObservedAndWithin(t *testing.T) {
	v := Version{Dates: []Timestamp{mustTS(t, "2025-06-15"), mustTS(t, "2025-06-01")}}
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), v.LastObserved())

	w := Window{Start: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)}
	assert.True(t, v.ObservedWithin(w))
	w.Start = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	w.End = time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)
	assert.False(t, v.ObservedWithin(w))
}

func TestParseRepresentation(t *testing.T) {
	rep, err := ParseRepresentation("raw")
	require.NoError(t, err)
	assert.Equal(t, Raw, rep)

	rep, err = ParseRepresentation("ZIP")
	require.NoError(t, err)
	assert.Equal(t, Compressed, rep)

	_, err = ParseRepresentation("tar")
	assert.Error(t, err)
}

func TestEntry_JSONShape(t *testing.T) {
	raw := `{"name":"Alpha","rid":"alpha-id","versions":[{"sha256":"abc","dates":["2025-06-01 00:00:00"],"zipped":true,"unzipped":false}]}`

	var e Entry
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, Identity{Name: "Alpha", ExternalID: "alpha-id"}, e.Identity())
	require.Len(t, e.Versions, 1)
	assert.True(t, e.Versions[0].HasCompressed)
	assert.False(t, e.Versions[0].HasRaw)
	assert.Equal(t, 0, e.Find("abc"))
	assert.Equal(t, -1, e.Find("def"))
}
