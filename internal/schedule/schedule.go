// Package schedule owns the seven per-day entries of the weekly card.
//
// Entries is a value array; every mutation returns a new array with exactly
// one element replaced, so the collection never grows, shrinks or reorders.
package schedule

import (
	"fmt"
	"sync"

	"timetable/internal/model"
)

// DefaultTime is the initial time of every entry.
const DefaultTime = "09:00"

// InvalidDayError is returned when a day index is outside [0,6].
type InvalidDayError struct {
	Day model.Day
}

func (e *InvalidDayError) Error() string {
	return fmt.Sprintf("schedule: invalid day %d (want 0..6)", int(e.Day))
}

// Initialize returns the canonical default week: one entry per day, not a
// holiday, DefaultTime, and the given description.
func Initialize(description string) model.Entries {
	var out model.Entries
	for i := range out {
		out[i] = model.ScheduleEntry{
			Day:         model.Day(i),
			IsHoliday:   false,
			Time:        DefaultTime,
			Description: description,
		}
	}
	return out
}

// update replaces the entry for day with fn(entry) and returns the new
// collection. The input is never modified.
func update(e model.Entries, day model.Day, fn func(*model.ScheduleEntry)) (model.Entries, error) {
	if !day.Valid() {
		return e, &InvalidDayError{Day: day}
	}
	entry := e[day]
	fn(&entry)
	e[day] = entry
	return e, nil
}

// SetHoliday sets only the holiday flag of day.
func SetHoliday(e model.Entries, day model.Day, v bool) (model.Entries, error) {
	return update(e, day, func(s *model.ScheduleEntry) { s.IsHoliday = v })
}

// ToggleHoliday flips the holiday flag of day.
func ToggleHoliday(e model.Entries, day model.Day) (model.Entries, error) {
	return update(e, day, func(s *model.ScheduleEntry) { s.IsHoliday = !s.IsHoliday })
}

// SetTime replaces the time of day. The value is stored as given; the
// editor's time input constrains the format.
func SetTime(e model.Entries, day model.Day, v string) (model.Entries, error) {
	return update(e, day, func(s *model.ScheduleEntry) { s.Time = v })
}

// SetDescription replaces the description of day.
func SetDescription(e model.Entries, day model.Day, v string) (model.Entries, error) {
	return update(e, day, func(s *model.ScheduleEntry) { s.Description = v })
}

// Store is the single owner of the entries for one editing session.
// Mutations are synchronous and visible to the next reader.
type Store struct {
	mu      sync.RWMutex
	entries model.Entries
}

// NewStore returns a Store holding Initialize(description).
func NewStore(description string) *Store {
	return &Store{entries: Initialize(description)}
}

// Entries returns a copy of the current collection.
func (s *Store) Entries() model.Entries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries
}

// Entry returns the entry for day.
func (s *Store) Entry(day model.Day) (model.ScheduleEntry, error) {
	if !day.Valid() {
		return model.ScheduleEntry{}, &InvalidDayError{Day: day}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[day], nil
}

// SetHoliday sets the holiday flag of day and returns the updated entry.
func (s *Store) SetHoliday(day model.Day, v bool) (model.ScheduleEntry, error) {
	return s.mutate(day, func(e model.Entries) (model.Entries, error) { return SetHoliday(e, day, v) })
}

// ToggleHoliday flips the holiday flag of day and returns the updated entry.
func (s *Store) ToggleHoliday(day model.Day) (model.ScheduleEntry, error) {
	return s.mutate(day, func(e model.Entries) (model.Entries, error) { return ToggleHoliday(e, day) })
}

// SetTime replaces the time of day and returns the updated entry.
func (s *Store) SetTime(day model.Day, v string) (model.ScheduleEntry, error) {
	return s.mutate(day, func(e model.Entries) (model.Entries, error) { return SetTime(e, day, v) })
}

// SetDescription replaces the description of day and returns the updated entry.
func (s *Store) SetDescription(day model.Day, v string) (model.ScheduleEntry, error) {
	return s.mutate(day, func(e model.Entries) (model.Entries, error) { return SetDescription(e, day, v) })
}

// Replace swaps the whole collection, e.g. after a holiday calendar sync.
// Day indices are reset to the slot positions.
func (s *Store) Replace(e model.Entries) {
	for i := range e {
		e[i].Day = model.Day(i)
	}
	s.mu.Lock()
	s.entries = e
	s.mu.Unlock()
}

func (s *Store) mutate(day model.Day, fn func(model.Entries) (model.Entries, error)) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.entries)
	if err != nil {
		return model.ScheduleEntry{}, err
	}
	s.entries = next
	return next[day], nil
}
