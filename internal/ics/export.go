// Package ics renders a family's stored events as an iCalendar feed. Each
// series becomes one VEVENT with an RRULE; cancelled occurrences become
// EXDATEs and rescheduled ones become RECURRENCE-ID overrides.
package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
)

const (
	productID = "-//famcal//family calendar//EN"
	uidDomain = "famcal"

	utcLayout  = "20060102T150405Z"
	dateLayout = "20060102"

	propEventType    = ical.ComponentProperty("X-FAMCAL-EVENT-TYPE")
	propParticipants = ical.ComponentProperty("X-FAMCAL-PARTICIPANTS")
	propSynced       = ical.ComponentProperty("X-FAMCAL-SYNCED")
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
)

// Export writes series as a VCALENDAR to w. stamp is used for DTSTAMP.
func Export(w io.Writer, name string, series []model.EventDetail, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for i := range series {
		if err := addSeries(cal, &series[i], stamp.UTC()); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	return nil
}

func uid(eventID string) string {
	return eventID + "@" + uidDomain
}

func addSeries(cal *ical.Calendar, d *model.EventDetail, stamp time.Time) error {
	ev := &d.Event
	vev := cal.AddEvent(uid(ev.ID))
	describe(vev, ev, stamp)
	setInterval(vev, ev.IsAllDay, ev.StartTime, ev.EndTime)

	if !ev.IsRecurring() {
		return nil
	}

	rule, err := RRule(*ev.Recurrence, ev.StartTime)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}
	vev.AddProperty(ical.ComponentPropertyRrule, rule.OrigOptions.RRuleString())

	seq := recurrence.NewSequence(*ev.Recurrence, ev.StartTime, ev.EndTime)
	for _, x := range d.Exceptions {
		raw, ok := seq.On(x.OriginalDate)
		if !ok {
			continue
		}
		switch {
		case x.IsCancelled:
			addInstant(vev, ical.ComponentPropertyExdate, ev.IsAllDay, raw.Start)
		case x.IsReschedule():
			override := cal.AddEvent(uid(ev.ID))
			describe(override, ev, stamp)
			addInstant(override, propRecurrenceID, ev.IsAllDay, raw.Start)
			setInterval(override, ev.IsAllDay, *x.NewStartTime, *x.NewEndTime)
		}
	}
	return nil
}

func describe(vev *ical.VEvent, ev *model.Event, stamp time.Time) {
	vev.SetDtStampTime(stamp)
	if !ev.CreatedAt.IsZero() {
		vev.SetCreatedTime(ev.CreatedAt)
	}
	if !ev.UpdatedAt.IsZero() {
		vev.SetModifiedAt(ev.UpdatedAt)
	}
	vev.SetSummary(ev.Title)
	vev.AddProperty(ical.ComponentPropertyCategories, strings.ToUpper(string(ev.EventType)))
	vev.AddProperty(propEventType, string(ev.EventType))
	if len(ev.Participants) > 0 {
		refs := make([]string, len(ev.Participants))
		for i, p := range ev.Participants {
			refs[i] = p.String()
		}
		vev.AddProperty(propParticipants, strings.Join(refs, ","))
	}
	if ev.IsSynced {
		vev.AddProperty(propSynced, "TRUE")
	}
}

func setInterval(vev *ical.VEvent, allDay bool, start, end time.Time) {
	if allDay {
		vev.SetAllDayStartAt(start.UTC())
		vev.SetAllDayEndAt(end.UTC())
		return
	}
	vev.SetStartAt(start.UTC())
	vev.SetEndAt(end.UTC())
}

func addInstant(vev *ical.VEvent, prop ical.ComponentProperty, allDay bool, t time.Time) {
	if allDay {
		vev.AddProperty(prop, t.UTC().Format(dateLayout), ical.WithValue(string(ical.ValueDataTypeDate)))
		return
	}
	vev.AddProperty(prop, t.UTC().Format(utcLayout))
}

// RRule converts a pattern anchored at start into an RFC 5545 rule. Monthly
// series on days 29-31 land on the last day of shorter months, which RRULE
// expresses as the last of BYMONTHDAY=28..day.
func RRule(p model.RecurrencePattern, start time.Time) (*rrule.RRule, error) {
	p = p.Normalized()
	start = start.UTC()

	opt := rrule.ROption{
		Dtstart:  start,
		Interval: p.Interval,
		// The pattern's end date is inclusive.
		Until: p.EndDate.EndTime().Add(-time.Second),
	}
	switch p.Frequency {
	case model.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case model.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
	case model.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		if day := start.Day(); day > 28 {
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	default:
		return nil, fmt.Errorf("unsupported frequency %q", p.Frequency)
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule: %w", err)
	}
	return r, nil
}
