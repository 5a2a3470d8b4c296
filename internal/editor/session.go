// Package editor is the single editing session: it owns the entries, the
// week anchor, the preview scale and the profile image, and hands out
// point-in-time snapshots to the exporter.
package editor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/preview"
	"timetable/internal/schedule"
	"timetable/internal/week"
)

// ErrImageDecode wraps failures to load an uploaded profile image. The
// previous image stays in place.
var ErrImageDecode = errors.New("editor: cannot decode profile image")

// Options configures a Session.
type Options struct {
	Location           *time.Location
	Labels             model.Labels
	Fields             []model.Field
	DefaultDescription string
	// Now is the clock used for the default anchor; nil means time.Now.
	Now func() time.Time
}

// Session serializes every mutation of one editing session.
type Session struct {
	mu sync.Mutex

	loc    *time.Location
	labels model.Labels
	fields []model.Field

	store    *schedule.Store
	resolver *week.Resolver
	scaler   *preview.Scaler
	profile  atomic.Pointer[model.ProfileImage]

	// days marked by a holiday import for the active week
	imported map[model.Day]importMark
}

// importMark records what ApplyHolidays changed on one day so it can be
// undone when the week changes.
type importMark struct {
	note   string
	filled bool
}

// New creates a session anchored on the Monday of the current week.
func New(opts Options) *Session {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	fields := opts.Fields
	if len(fields) == 0 {
		fields = schedule.FieldsFull
	}
	return &Session{
		loc:      loc,
		labels:   opts.Labels,
		fields:   append([]model.Field(nil), fields...),
		store:    schedule.NewStore(opts.DefaultDescription),
		resolver: week.NewResolver(now().In(loc)),
		scaler:   preview.NewScaler(),
		imported: make(map[model.Day]importMark),
	}
}

// Location is the timezone whose midnights anchor weeks.
func (s *Session) Location() *time.Location { return s.loc }

// State is the JSON view of the session used by the editor page.
type State struct {
	Entries       []model.ScheduleEntry `json:"entries"`
	Anchor        string                `json:"anchor"`
	WeekDates     []string              `json:"week_dates"`
	Scale         float64               `json:"scale"`
	PreviewWidth  int                   `json:"preview_width"`
	PreviewHeight int                   `json:"preview_height"`
	HasProfile    bool                  `json:"has_profile"`
	Fields        []model.Field         `json:"fields"`
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.store.Entries()
	dates := s.resolver.WeekDates()
	w, h := s.scaler.Size()

	st := State{
		Entries:       entries[:],
		Anchor:        s.resolver.Anchor().Format(week.DateLayout),
		WeekDates:     make([]string, 0, len(dates)),
		Scale:         s.scaler.Scale(),
		PreviewWidth:  w,
		PreviewHeight: h,
		HasProfile:    s.profile.Load() != nil,
		Fields:        s.fields,
	}
	for _, d := range dates {
		st.WeekDates = append(st.WeekDates, d.Format(week.DateLayout))
	}
	return st
}

func (s *Session) SetHoliday(day model.Day, v bool) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.store.SetHoliday(day, v)
	if err == nil {
		delete(s.imported, day)
	}
	s.logMutation("holiday", day, err)
	return e, err
}

func (s *Session) ToggleHoliday(day model.Day) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.store.ToggleHoliday(day)
	if err == nil {
		delete(s.imported, day)
	}
	s.logMutation("holiday_toggle", day, err)
	return e, err
}

func (s *Session) SetTime(day model.Day, v string) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.store.SetTime(day, v)
	s.logMutation("time", day, err)
	return e, err
}

func (s *Session) SetDescription(day model.Day, v string) (model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.store.SetDescription(day, v)
	s.logMutation("description", day, err)
	return e, err
}

func (s *Session) logMutation(field string, day model.Day, err error) {
	if err != nil {
		appLog.Debug("entry update rejected", "field", field, "day", int(day), "err", err)
		return
	}
	appLog.Debug("entry updated", "field", field, "day", int(day))
}

// SetAnchor parses a YYYY-MM-DD date in the session timezone and makes it
// the anchor. Non-Mondays fail with week.ErrNotMonday and change nothing.
// Moving to another week clears the holidays imported for the old one.
func (s *Session) SetAnchor(date string) (time.Time, error) {
	t, err := week.ParseDate(date, s.loc)
	if err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.resolver.Anchor()
	if err := s.resolver.SetAnchor(t); err != nil {
		return prev, err
	}
	if !s.resolver.Anchor().Equal(prev) {
		s.clearImported()
	}
	appLog.Debug("anchor updated", "anchor", date)
	return s.resolver.Anchor(), nil
}

// clearImported undoes the marks of the last holiday import. Days the user
// edited since keep their edits. Callers hold s.mu.
func (s *Session) clearImported() {
	if len(s.imported) == 0 {
		return
	}
	entries := s.store.Entries()
	for day, m := range s.imported {
		entries[day].IsHoliday = false
		if m.filled && entries[day].Description == m.note {
			entries[day].Description = ""
		}
	}
	s.store.Replace(entries)
	appLog.Debug("imported holidays cleared", "days", len(s.imported))
	s.imported = make(map[model.Day]importMark)
}

// Anchor returns the active Monday.
func (s *Session) Anchor() time.Time {
	return s.resolver.Anchor()
}

// WeekDates returns the seven dates of the active week.
func (s *Session) WeekDates() [model.DaysPerWeek]time.Time {
	return s.resolver.WeekDates()
}

// SetScale changes only the preview zoom and returns the effective value.
func (s *Session) SetScale(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scaler.SetScale(v)
}

// Scale returns the preview zoom.
func (s *Session) Scale() float64 {
	return s.scaler.Scale()
}

// SetProfileImage decodes r and replaces the profile image. On any error
// the previous image is kept.
func (s *Session) SetProfileImage(r io.Reader) (*model.ProfileImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}

	p := &model.ProfileImage{Data: data, Format: format, Image: img}
	s.profile.Store(p)
	appLog.Info("profile image replaced", "format", format, "bytes", len(data),
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return p, nil
}

// ClearProfileImage restores the placeholder.
func (s *Session) ClearProfileImage() {
	s.profile.Store(nil)
}

// ProfileImage returns the current image or nil.
func (s *Session) ProfileImage() *model.ProfileImage {
	return s.profile.Load()
}

// Snapshot captures everything drawn on the card at this instant. The
// result shares no mutable state with the session.
func (s *Session) Snapshot() model.Composition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Composition{
		Entries:   s.store.Entries(),
		Anchor:    s.resolver.Anchor(),
		WeekDates: s.resolver.WeekDates(),
		Profile:   s.profile.Load(),
		Labels:    s.labels,
		Fields:    append([]model.Field(nil), s.fields...),
	}
}

// ApplyHolidays marks the given days of the week starting at dates[0] as
// holidays. A day's description is set to the supplied note only when it is
// empty. If dates is no longer the active week nothing changes and the error
// wraps week.ErrWeekChanged. Returns the number of days that changed.
func (s *Session) ApplyHolidays(dates [model.DaysPerWeek]time.Time, notes map[model.Day]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.resolver.WeekDates()
	if !active[0].Equal(dates[0]) {
		return 0, fmt.Errorf("%w: computed for %s, active is %s", week.ErrWeekChanged,
			dates[0].Format(week.DateLayout), active[0].Format(week.DateLayout))
	}

	entries := s.store.Entries()
	marks := make(map[model.Day]importMark, len(notes))
	changed := 0
	for day, note := range notes {
		if !day.Valid() {
			return 0, &schedule.InvalidDayError{Day: day}
		}
		before := entries[day]
		var err error
		if entries, err = schedule.SetHoliday(entries, day, true); err != nil {
			return 0, err
		}
		filled := before.Description == "" && note != ""
		if filled {
			if entries, err = schedule.SetDescription(entries, day, note); err != nil {
				return 0, err
			}
		}
		if entries[day] != before {
			changed++
			if !before.IsHoliday {
				marks[day] = importMark{note: note, filled: filled}
			}
		}
	}
	s.store.Replace(entries)
	for day, m := range marks {
		s.imported[day] = m
	}
	return changed, nil
}
