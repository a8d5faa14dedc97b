// Package analyzer is the Incremental Analyzer: one shared template
// (validate → fetch → load prior → dedupe → short-circuit → merge →
// alerts → risk score → persist) instantiated three times, one per action.
//
// The Feed Adapter and Snapshot Store are injected as dependencies so the
// template can be exercised without a live database or upstream.
package analyzer

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"chainwatch/internal/feed"
	"chainwatch/internal/models"
	"chainwatch/internal/repository"
)

// ErrInvalidAddress is returned when an entity address fails the 20-byte
// hex-with-0x-prefix syntax check.
var ErrInvalidAddress = errors.New("INVALID_ADDRESS_FORMAT")

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateAddress checks the 20-byte-hex-with-0x-prefix address syntax.
func ValidateAddress(address string) error {
	if !addressPattern.MatchString(address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}

// Deps are the injected collaborators shared by all three analyzer flavors.
type Deps struct {
	Feed  *feed.Adapter
	Store *repository.Repository
}

// Sink is the per-handler logging sink: it records
// {timestamp, level, message} tuples emitted during one Analyzer
// invocation so the Scheduler/Worker can capture them as serviceLog
// entries, rather than the Analyzer writing to the Job Store directly.
type Sink struct {
	entries []models.LogEntry
}

// NewSink returns an empty Sink ready to receive one cycle's log lines.
func NewSink() *Sink {
	return &Sink{}
}

// Log appends one entry, stamping it with the current time so entries
// within a single cycle are monotone non-decreasing.
func (s *Sink) Log(level models.LogLevel, message string) {
	s.entries = append(s.entries, models.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	})
}

// Entries returns the accumulated log lines in append order.
func (s *Sink) Entries() []models.LogEntry {
	return s.entries
}

// dedupeHashes returns the items whose hash is not already in known (the
// prior snapshot's processed-hash list), with their hashes, preserving the
// feed's descending-time order. Items carrying no hash under any of
// hashKeys are dropped.
func dedupeHashes(items []feed.Item, known map[string]struct{}, hashKeys ...string) (fresh []feed.Item, freshHashes []string) {
	for _, it := range items {
		h := getString(it, hashKeys...)
		if h == "" {
			continue
		}
		if _, seen := known[h]; seen {
			continue
		}
		fresh = append(fresh, it)
		freshHashes = append(freshHashes, h)
	}
	return fresh, freshHashes
}

func toSet(hashes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set
}

// appendFIFO appends add to list and truncates from the front so the
// result never exceeds max.
func appendFIFO(list []string, add []string, max int) []string {
	list = append(list, add...)
	if max > 0 && len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

// clampRisk enforces the [1, 10] risk-score invariant.
func clampRisk(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

// alertScoreContribution sums the HIGH x2 / MEDIUM x1 contribution common
// to every kind's risk score formula.
func alertScoreContribution(alerts []models.Alert) int {
	total := 0
	for _, a := range alerts {
		switch a.Severity {
		case models.SeverityHigh:
			total += 2
		case models.SeverityMedium:
			total += 1
		}
	}
	return total
}
