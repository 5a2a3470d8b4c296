package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"timetable/internal/model"
)

const (
	productID     = "-//timetable//weekly card//EN"
	eventDuration = time.Hour
)

// WriteWeek serializes the composition's week as a VCALENDAR. Holidays and
// days whose time is not HH:MM are left out. stamp is used as DTSTAMP.
func WriteWeek(comp model.Composition, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for i, entry := range comp.Entries {
		if entry.IsHoliday {
			continue
		}
		date := comp.WeekDates[i]
		if date.IsZero() {
			continue
		}
		clock, err := time.Parse("15:04", strings.TrimSpace(entry.Time))
		if err != nil {
			continue
		}
		start := time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, date.Location())

		ev := cal.AddEvent(fmt.Sprintf("%s-%d@timetable", date.Format("20060102"), i))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(eventDuration))
		ev.SetSummary(summary(comp.Labels, entry))
		if entry.Description != "" {
			ev.SetDescription(entry.Description)
		}
	}
	return cal.Serialize()
}

func summary(labels model.Labels, entry model.ScheduleEntry) string {
	if entry.Description != "" {
		return entry.Description
	}
	if entry.Day.Valid() && labels.Weekdays[entry.Day] != "" {
		return labels.Weekdays[entry.Day]
	}
	return labels.Title
}
