package recurrence

import (
	"iter"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

// maxOccurrences caps a single expansion as a guard against runaway windows.
const maxOccurrences = 10000

// Steps further than this from the base start lie past any end date a Date
// can hold, and are treated as the end of the sequence.
const (
	maxSpanDays   = 10000 * 366
	maxSpanMonths = 10000 * 12
)

// Occurrence is a raw generated occurrence before exceptions are applied.
type Occurrence struct {
	Date  model.Date
	Start time.Time
	End   time.Time
}

// Sequence is the finite, restartable sequence of occurrences of one series.
// Every step is computed from the base start, so monthly series never drift
// after clamping to a short month.
type Sequence struct {
	freq      model.Frequency
	interval  int
	endDate   model.Date
	baseStart time.Time
	duration  time.Duration
}

// NewSequence builds the sequence for a pattern anchored at the base event's
// start and end.
func NewSequence(p model.RecurrencePattern, baseStart, baseEnd time.Time) *Sequence {
	p = p.Normalized()
	if p.Interval < 1 {
		p.Interval = 1
	}
	return &Sequence{
		freq:      p.Frequency,
		interval:  p.Interval,
		endDate:   p.EndDate,
		baseStart: baseStart,
		duration:  baseEnd.Sub(baseStart),
	}
}

// All yields every occurrence from the first through the pattern's end date.
func (s *Sequence) All() iter.Seq[Occurrence] {
	return s.from(0)
}

func (s *Sequence) from(k int) iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		it := &iterator{seq: s, index: k}
		for {
			occ, ok := it.next()
			if !ok || !yield(occ) {
				return
			}
		}
	}
}

// Between returns occurrences whose interval overlaps [rangeStart, rangeEnd).
func (s *Sequence) Between(rangeStart, rangeEnd time.Time) []Occurrence {
	var results []Occurrence
	for occ := range s.from(s.skipTo(rangeStart)) {
		if !occ.Start.Before(rangeEnd) {
			break
		}
		if occ.End.After(rangeStart) {
			results = append(results, occ)
		}
		if len(results) >= maxOccurrences {
			break
		}
	}
	return results
}

// On returns the occurrence generated on the given date, if any.
func (s *Sequence) On(d model.Date) (Occurrence, bool) {
	for occ := range s.from(s.skipTo(d.Time().Add(-s.duration))) {
		if occ.Date == d {
			return occ, true
		}
		if occ.Date.After(d) {
			break
		}
	}
	return Occurrence{}, false
}

// First returns the first occurrence of the series.
func (s *Sequence) First() (Occurrence, bool) {
	for occ := range s.All() {
		return occ, true
	}
	return Occurrence{}, false
}

// skipTo returns a step index that starts at or before the first occurrence
// ending after t. It may undershoot; callers filter.
func (s *Sequence) skipTo(t time.Time) int {
	ahead := t.Sub(s.baseStart.Add(s.duration))
	if ahead <= 0 {
		return 0
	}
	days := int(ahead / (24 * time.Hour))
	var k int
	switch s.freq {
	case model.FrequencyDaily:
		k = days / s.interval
	case model.FrequencyWeekly:
		k = days / 7 / s.interval
	case model.FrequencyMonthly:
		// 31 days is the longest month, so this never skips past the target.
		k = days / 31 / s.interval
	}
	if k > 1 {
		return k - 1
	}
	return 0
}

type iterator struct {
	seq   *Sequence
	index int
	count int
}

func (it *iterator) next() (Occurrence, bool) {
	if it.count >= maxOccurrences {
		return Occurrence{}, false
	}
	start := it.seq.at(it.index)
	if start.IsZero() {
		return Occurrence{}, false
	}
	date := model.DateOf(start)
	if date.After(it.seq.endDate) {
		return Occurrence{}, false
	}
	it.index++
	it.count++
	return Occurrence{Date: date, Start: start, End: start.Add(it.seq.duration)}, true
}

// at returns the start of the k-th occurrence using calendar arithmetic, or
// the zero time once the step leaves the representable span.
func (s *Sequence) at(k int) time.Time {
	b := s.baseStart
	switch s.freq {
	case model.FrequencyDaily:
		if k > maxSpanDays/s.interval {
			return time.Time{}
		}
		return b.AddDate(0, 0, k*s.interval)
	case model.FrequencyWeekly:
		if k > maxSpanDays/7/s.interval {
			return time.Time{}
		}
		return b.AddDate(0, 0, 7*k*s.interval)
	case model.FrequencyMonthly:
		if k > maxSpanMonths/s.interval {
			return time.Time{}
		}
		// Normalize year/month first, then clamp the day to the month's length.
		first := time.Date(b.Year(), b.Month()+time.Month(k*s.interval), 1, 0, 0, 0, 0, b.Location())
		year, month, _ := first.Date()
		day := b.Day()
		if last := daysInMonth(year, month); day > last {
			day = last
		}
		return time.Date(year, month, day, b.Hour(), b.Minute(), b.Second(), b.Nanosecond(), b.Location())
	}
	return time.Time{}
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
