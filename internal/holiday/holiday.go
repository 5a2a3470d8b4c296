// Package holiday imports holiday calendars (ICS) into the active week.
package holiday

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"timetable/internal/ics"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/week"
)

// Week is the part of the editor session the syncer needs.
type Week interface {
	WeekDates() [model.DaysPerWeek]time.Time
	Location() *time.Location
	// ApplyHolidays fails with week.ErrWeekChanged when dates is no
	// longer the active week.
	ApplyHolidays(dates [model.DaysPerWeek]time.Time, notes map[model.Day]string) (int, error)
}

// Fetcher downloads ICS feeds.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Result summarizes one sync run.
type Result struct {
	Sources  int       `json:"sources"`
	Events   int       `json:"events"`
	Marked   []int     `json:"marked_days"`
	Changed  int       `json:"changed"`
	Errors   []string  `json:"errors,omitempty"`
	// Stale is set when the result was discarded because the active week
	// changed while the calendars were fetched.
	Stale    bool      `json:"stale,omitempty"`
	SyncedAt time.Time `json:"synced_at"`
}

// Syncer marks days of the active week that carry an all-day event in any
// configured calendar.
type Syncer struct {
	week    Week
	fetcher Fetcher
	sources []ics.Source

	// one sync at a time; cron and the API may overlap
	mu sync.Mutex
}

func NewSyncer(w Week, f Fetcher, sources []ics.Source) *Syncer {
	return &Syncer{week: w, fetcher: f, sources: sources}
}

// Enabled reports whether any calendar is configured.
func (s *Syncer) Enabled() bool { return len(s.sources) > 0 }

// Sync fetches, parses and expands all sources for the active week and
// applies the holidays. Fetch or parse failures of single sources are
// reported in Result.Errors; the remaining sources are still applied.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{Sources: len(s.sources), SyncedAt: time.Now()}
	if len(s.sources) == 0 {
		return res, nil
	}

	loc := s.week.Location()
	dates := s.week.WeekDates()
	rangeStart := dates[0]
	rangeEnd := dates[model.DaysPerWeek-1].AddDate(0, 0, 1)

	fetched, errs := s.fetcher.FetchAll(ctx, s.sources)
	for _, err := range errs {
		res.Errors = append(res.Errors, err.Error())
	}
	if len(fetched) == 0 && len(errs) > 0 {
		return res, errors.Join(errs...)
	}

	var events []ics.ParsedEvent
	for _, f := range fetched {
		evs, err := ics.ParseICS(f.Source, f.Body, loc)
		if err != nil {
			res.Errors = append(res.Errors, f.Source.ID+": "+err.Error())
			continue
		}
		events = append(events, evs...)
	}

	occs, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
	})
	if err != nil {
		return res, err
	}
	res.Events = len(occs)

	notes := MarkDays(occs, dates)
	changed, err := s.week.ApplyHolidays(dates, notes)
	if errors.Is(err, week.ErrWeekChanged) {
		appLog.Warn("holiday sync discarded, week changed during fetch", "week", dates[0].Format(week.DateLayout))
		res.Stale = true
		return res, err
	}
	if err != nil {
		return res, err
	}
	res.Changed = changed
	for d := range notes {
		res.Marked = append(res.Marked, int(d))
	}
	sort.Ints(res.Marked)

	appLog.Info("holiday sync done",
		"sources", res.Sources,
		"occurrences", res.Events,
		"marked", len(res.Marked),
		"changed", res.Changed,
		"errors", len(res.Errors),
	)
	return res, nil
}

// MarkDays maps all-day occurrences onto the week. Every day an occurrence
// covers is marked; the note is the first summary seen for that day, with
// summaries joined by " / " when several events share a day.
func MarkDays(occs []ics.Occurrence, dates [model.DaysPerWeek]time.Time) map[model.Day]string {
	sorted := append([]ics.Occurrence(nil), occs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].UID < sorted[j].UID
	})

	out := make(map[model.Day]string)
	for _, o := range sorted {
		if !o.AllDay {
			continue
		}
		for i, d := range dates {
			next := d.AddDate(0, 0, 1)
			if !(o.Start.Before(next) && o.End.After(d)) {
				continue
			}
			day := model.Day(i)
			summary := strings.TrimSpace(o.Summary)
			switch prev, ok := out[day]; {
			case !ok:
				out[day] = summary
			case summary != "" && !strings.Contains(prev, summary):
				if prev == "" {
					out[day] = summary
				} else {
					out[day] = prev + " / " + summary
				}
			}
		}
	}
	return out
}

// Schedule registers Sync on a cron spec and starts the scheduler. The
// returned stop function waits for a running sync to finish.
func (s *Syncer) Schedule(ctx context.Context, spec string) (stop func(), err error) {
	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		if _, err := s.Sync(ctx); err != nil {
			appLog.Error("scheduled holiday sync failed", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	appLog.Info("holiday sync scheduled", "spec", spec, "sources", len(s.sources))
	return func() { <-c.Stop().Done() }, nil
}
