package recurrence

import (
	"sort"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

// Resolve expands ev within [rangeStart, rangeEnd) and applies its exceptions:
// cancelled occurrences are dropped, rescheduled ones report their new
// interval. A non-recurring event passes through as a single occurrence.
func Resolve(ev *model.Event, exceptions []model.EventException, rangeStart, rangeEnd time.Time) []model.Occurrence {
	if !ev.IsRecurring() {
		if overlaps(ev.StartTime, ev.EndTime, rangeStart, rangeEnd) {
			return []model.Occurrence{baseOccurrence(ev, model.DateOf(ev.StartTime), ev.StartTime, ev.EndTime)}
		}
		return nil
	}

	byDate := make(map[model.Date]*model.EventException, len(exceptions))
	for i := range exceptions {
		byDate[exceptions[i].OriginalDate] = &exceptions[i]
	}

	seq := NewSequence(*ev.Recurrence, ev.StartTime, ev.EndTime)
	consumed := make(map[model.Date]bool)
	var out []model.Occurrence

	for _, raw := range seq.Between(rangeStart, rangeEnd) {
		consumed[raw.Date] = true
		occ, visible := apply(ev, raw, byDate[raw.Date])
		if visible && overlaps(occ.StartTime, occ.EndTime, rangeStart, rangeEnd) {
			out = append(out, occ)
		}
	}

	// Occurrences rescheduled into the window from a date outside it.
	for date, x := range byDate {
		if consumed[date] || !x.IsReschedule() {
			continue
		}
		if !overlaps(*x.NewStartTime, *x.NewEndTime, rangeStart, rangeEnd) {
			continue
		}
		raw, ok := seq.On(date)
		if !ok {
			continue
		}
		occ, _ := apply(ev, raw, x)
		out = append(out, occ)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// OccurrenceOn resolves the single occurrence of ev generated on date d.
// ok is false when d is not an occurrence date; cancelled reports a
// cancellation exception.
func OccurrenceOn(ev *model.Event, exceptions []model.EventException, d model.Date) (occ model.Occurrence, cancelled bool, ok bool) {
	if !ev.IsRecurring() {
		if model.DateOf(ev.StartTime) != d {
			return model.Occurrence{}, false, false
		}
		return baseOccurrence(ev, d, ev.StartTime, ev.EndTime), false, true
	}
	raw, found := NewSequence(*ev.Recurrence, ev.StartTime, ev.EndTime).On(d)
	if !found {
		return model.Occurrence{}, false, false
	}
	var x *model.EventException
	for i := range exceptions {
		if exceptions[i].OriginalDate == d {
			x = &exceptions[i]
			break
		}
	}
	occ, visible := apply(ev, raw, x)
	return occ, !visible, true
}

func apply(ev *model.Event, raw Occurrence, x *model.EventException) (model.Occurrence, bool) {
	occ := baseOccurrence(ev, raw.Date, raw.Start, raw.End)
	if x == nil {
		return occ, true
	}
	if x.IsCancelled {
		return occ, false
	}
	if x.IsReschedule() {
		occ.StartTime = *x.NewStartTime
		occ.EndTime = *x.NewEndTime
		occ.IsModified = true
	}
	return occ, true
}

func baseOccurrence(ev *model.Event, date model.Date, start, end time.Time) model.Occurrence {
	return model.Occurrence{
		EventID:      ev.ID,
		FamilyID:     ev.FamilyID,
		Title:        ev.Title,
		StartTime:    start,
		EndTime:      end,
		IsAllDay:     ev.IsAllDay,
		EventType:    ev.EventType,
		IsSynced:     ev.IsSynced,
		IsRecurring:  ev.IsRecurring(),
		OriginalDate: date,
		Participants: ev.Participants,
	}
}

// overlaps is half-open interval intersection.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
