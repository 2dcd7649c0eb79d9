package models

import (
	"fmt"
	"strings"
	"time"
)

// Phase is a per-dataset state of a session
type Phase string

const (
	PhasePending   Phase = "PENDING"
	PhaseResolving Phase = "RESOLVING_VERSION"
	PhaseUnzipping Phase = "UNZIPPING"
	PhaseFetching  Phase = "FETCHING"
	PhaseZipping   Phase = "COMPRESSING"
	PhaseReady     Phase = "READY"
	PhaseFailed    Phase = "FAILED"
)

// Terminal reports whether no further transitions follow p
func (p Phase) Terminal() bool {
	return p == PhaseReady || p == PhaseFailed
}

// SessionRequest is the initial control message of a websocket session
type SessionRequest struct {
	Names  []string `json:"names"`
	FromDT string   `json:"from_dt,omitempty"`
	ToDT   string   `json:"to_dt,omitempty"`
}

// ControlMessage is any inbound message after the session started
type ControlMessage struct {
	Cancel bool `json:"cancel"`
}

// Window converts from_dt/to_dt to a UTC window. A date-only to_dt covers
// the whole day; a missing to_dt means now; a missing from_dt is unbounded.
func (r SessionRequest) Window(now time.Time) (Window, error) {
	return ParseWindow(r.FromDT, r.ToDT, now)
}

// ParseWindow builds a Window from optional start/end strings
func ParseWindow(from, to string, now time.Time) (Window, error) {
	w := Window{End: now.UTC()}

	if strings.TrimSpace(from) != "" {
		start, err := ParseTimestamp(from)
		if err != nil {
			return Window{}, fmt.Errorf("from_dt: %w", err)
		}
		w.Start = start.Time
	}

	if strings.TrimSpace(to) != "" {
		end, err := ParseTimestamp(to)
		if err != nil {
			return Window{}, fmt.Errorf("to_dt: %w", err)
		}
		w.End = end.Time
		if isDateOnly(to) {
			w.End = w.End.Add(24*time.Hour - time.Nanosecond)
		}
	}

	if !w.Start.IsZero() && w.End.Before(w.Start) {
		return Window{}, fmt.Errorf("to_dt %s is before from_dt %s", to, from)
	}
	return w, nil
}

func isDateOnly(s string) bool {
	_, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	return err == nil
}

// DatasetResult is the per-dataset outcome reported in the terminal event
type DatasetResult struct {
	Name     string `json:"name"`
	RID      string `json:"rid"`
	Phase    Phase  `json:"phase"`
	Success  bool   `json:"success"`
	Checksum string `json:"sha256,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}
