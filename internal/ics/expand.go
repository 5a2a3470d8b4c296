package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "timetable/internal/log"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// Occurrence is a single concrete instance of an event after recurrence
// expansion, in the display timezone.
type Occurrence struct {
	SourceID string
	UID      string
	Summary  string
	AllDay   bool
	Start    time.Time
	End      time.Time
}

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone all occurrences are converted to.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero uses 5000.
	MaxOccurrencesPerEvent int
}

// ExpandOccurrences expands events into concrete occurrences within the
// configured range. It handles single events, RRULE recurrence, EXDATE and
// RECURRENCE-ID overrides.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	out := make([]Occurrence, 0)
	for uid, bases := range baseByUID {
		for _, ev := range bases {
			occ, hitCap := expandEvent(ev, overridesByUID[uid], cfg)
			if hitCap {
				appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			out = append(out, occ...)
		}
	}
	return out, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	if ev.RawRRule == "" {
		if !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		if o, ok := findOverride(overrides, ev.Start); ok {
			ev = o
		}
		return []Occurrence{makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation)}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Widen the lower bound by the duration so multi-day occurrences that
	// started before the range still count.
	from := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	to := cfg.RangeEnd.In(ev.Start.Location())
	starts := set.Between(from, to, true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		var e time.Time
		if ev.AllDay {
			days := int(dur.Round(24*time.Hour) / (24 * time.Hour))
			if days < 1 {
				days = 1
			}
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			e = s.AddDate(0, 0, days)
		} else {
			e = s.Add(dur)
		}

		base := ev
		if o, ok := findOverride(overrides, s); ok {
			base, s, e = o, o.Start, o.End
		}
		if !overlaps(s, e, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(base, s, e, cfg.DisplayLocation))
	}
	return out, hitCap
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) Occurrence {
	return Occurrence{
		SourceID: ev.Source.ID,
		UID:      ev.UID,
		Summary:  ev.Summary,
		AllDay:   ev.AllDay,
		Start:    start.In(loc),
		End:      end.In(loc),
	}
}

// overlaps reports whether [aStart,aEnd) intersects [bStart,bEnd).
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		aEnd = aStart.Add(time.Nanosecond)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
