package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "timetable/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT. Recurrence
// expansion operates on this type.
type ParsedEvent struct {
	Source Source

	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if present
	IsOverride bool       // true if this VEVENT overrides one recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - TZID handling is left to the library's GetStartAt/GetEndAt.
//   - All-day events are detected from the DTSTART value form.
//   - RRULE/EXDATE/RECURRENCE-ID are recorded but not expanded.
//
// Date-only values (all-day DTSTART, EXDATE, RECURRENCE-ID) are placed at
// midnight in loc.
func ParseICS(src Source, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp, loc)
		if perr != nil {
			// Skip this event, keep parsing others.
			appLog.Warn("ics vevent skipped", "id", src.ID, "err", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	if vs, ok := dtStart.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		out.AllDay = true
	}
	if !strings.Contains(dtStart.Value, "T") {
		out.AllDay = true
	}

	if out.AllDay {
		start, err := parseICSTime(dtStart.Value, loc)
		if err != nil {
			return out, err
		}
		out.Start = start
		out.End = start.AddDate(0, 0, 1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := parseICSTime(dtEnd.Value, loc); err == nil && end.After(start) {
				out.End = end
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, err
		}
		out.Start = start
		end, err := ve.GetEndAt()
		if err != nil || !end.After(start) {
			end = start
		}
		out.End = end
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rid != nil {
		if t, err := parseICSTime(rid.Value, loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// parseICSTime parses the basic DATE / DATE-TIME / UTC forms.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
