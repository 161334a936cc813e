// Package conflict decides which blocker events collide with a candidate
// interval and flags colliding occurrences in a resolved listing.
//
// Detection compares each candidate's base interval, so a recurring blocker is
// only checked at its first occurrence. Listings are occurrence-aware through
// Flag.
package conflict

import (
	"slices"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Query is a candidate interval checked against a family's blockers.
type Query struct {
	FamilyID     int64
	Start        time.Time
	End          time.Time
	Participants []model.ParticipantRef
	ExcludeID    string
}

// Detect returns every event in events that is a blocker of q.FamilyID,
// is not q.ExcludeID, overlaps [q.Start, q.End) and shares a participant.
// Result order follows events.
func Detect(q Query, events []model.Event) []model.ConflictingEvent {
	var out []model.ConflictingEvent
	for _, ev := range events {
		if ev.FamilyID != q.FamilyID || ev.EventType != model.EventTypeBlocker {
			continue
		}
		if q.ExcludeID != "" && ev.ID == q.ExcludeID {
			continue
		}
		if !Overlaps(q.Start, q.End, ev.StartTime, ev.EndTime) {
			continue
		}
		if !model.ShareParticipant(q.Participants, ev.Participants) {
			continue
		}
		out = append(out, model.ConflictingEvent{
			ID:           ev.ID,
			Title:        ev.Title,
			StartTime:    ev.StartTime,
			EndTime:      ev.EndTime,
			Participants: ev.Participants,
		})
	}
	return out
}

// Flag sets HasConflict on every occurrence that overlaps an occurrence of a
// different event sharing a participant, where at least one of the two is a
// blocker. occs is sorted by start time in place.
func Flag(occs []model.Occurrence) {
	slices.SortStableFunc(occs, func(a, b model.Occurrence) int {
		return a.StartTime.Compare(b.StartTime)
	})

	for i := range occs {
		a := &occs[i]
		for j := i + 1; j < len(occs); j++ {
			b := &occs[j]
			if !b.StartTime.Before(a.EndTime) {
				break
			}
			if a.EventID == b.EventID {
				continue
			}
			if a.EventType != model.EventTypeBlocker && b.EventType != model.EventTypeBlocker {
				continue
			}
			if !Overlaps(a.StartTime, a.EndTime, b.StartTime, b.EndTime) {
				continue
			}
			if model.ShareParticipant(a.Participants, b.Participants) {
				a.HasConflict = true
				b.HasConflict = true
			}
		}
	}
}
