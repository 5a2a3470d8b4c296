// Package week anchors the displayed week on a Monday and derives its dates.
package week

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"timetable/internal/model"
)

// DateLayout is the wire format of the date picker.
const DateLayout = "2006-01-02"

// ErrNotMonday is the sentinel matched by errors.Is for rejected anchors.
var ErrNotMonday = errors.New("week: anchor must be a Monday")

// ErrWeekChanged is returned when work computed for one week is applied
// after the active week moved on.
var ErrWeekChanged = errors.New("week: active week changed")

// NotMondayError carries the rejected candidate.
type NotMondayError struct {
	Candidate time.Time
}

func (e *NotMondayError) Error() string {
	return fmt.Sprintf("week: %s is a %s, only Mondays can anchor a week",
		e.Candidate.Format(DateLayout), e.Candidate.Weekday())
}

func (e *NotMondayError) Is(target error) bool { return target == ErrNotMonday }

// IsMonday reports whether t falls on a Monday in its own location.
func IsMonday(t time.Time) bool {
	return t.Weekday() == time.Monday
}

// Midnight returns local midnight of t's calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DefaultAnchor returns the Monday of the week containing today, at
// midnight. Sunday belongs to the week that started six days earlier.
func DefaultAnchor(today time.Time) time.Time {
	wd := int(today.Weekday()) // Sunday=0
	diff := 1 - wd
	if wd == 0 {
		diff = -6
	}
	return Midnight(today).AddDate(0, 0, diff)
}

// DeriveWeekDates returns anchor+0..6 days, each at midnight. Steps use
// calendar arithmetic, so month, year and DST boundaries are exact.
func DeriveWeekDates(anchor time.Time) [model.DaysPerWeek]time.Time {
	var out [model.DaysPerWeek]time.Time
	base := Midnight(anchor)
	for i := range out {
		out[i] = base.AddDate(0, 0, i)
	}
	return out
}

// ParseDate parses a YYYY-MM-DD picker value as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("week: invalid date %q: %w", s, err)
	}
	return t, nil
}

// Resolver holds the active anchor and its derived dates.
type Resolver struct {
	mu     sync.RWMutex
	anchor time.Time
	dates  [model.DaysPerWeek]time.Time
}

// NewResolver starts at DefaultAnchor(today).
func NewResolver(today time.Time) *Resolver {
	a := DefaultAnchor(today)
	return &Resolver{anchor: a, dates: DeriveWeekDates(a)}
}

// Anchor returns the active Monday.
func (r *Resolver) Anchor() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.anchor
}

// WeekDates returns the seven dates of the active week.
func (r *Resolver) WeekDates() [model.DaysPerWeek]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dates
}

// SetAnchor makes candidate the active anchor. A non-Monday is rejected with
// a *NotMondayError and the previous anchor stays active.
func (r *Resolver) SetAnchor(candidate time.Time) error {
	if !IsMonday(candidate) {
		return &NotMondayError{Candidate: candidate}
	}
	a := Midnight(candidate)
	dates := DeriveWeekDates(a)

	r.mu.Lock()
	r.anchor = a
	r.dates = dates
	r.mu.Unlock()
	return nil
}
