package model

import (
	"image"
	"time"
)

// Canonical composition dimensions. Every export is produced at exactly this
// size, independent of the preview scale.
const (
	CanvasWidth  = 1280
	CanvasHeight = 720

	// DaysPerWeek is the fixed cardinality of the entry collection.
	DaysPerWeek = 7
)

// Day is a day-of-week index with Monday=0 ... Sunday=6.
type Day int

const (
	Monday Day = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// Valid reports whether d is within [Monday, Sunday].
func (d Day) Valid() bool {
	return d >= Monday && d <= Sunday
}

// ScheduleEntry is the per-day row of the weekly card.
//
// When IsHoliday is true, Time and Description are kept but not displayed.
type ScheduleEntry struct {
	Day         Day    `json:"day"`
	IsHoliday   bool   `json:"is_holiday"`
	Time        string `json:"time"` // "HH:MM", not enforced
	Description string `json:"description"`
}

// Entries is the fixed-size, Monday-first collection of schedule entries.
// It is a value type: copying it never aliases the caller's data.
type Entries [DaysPerWeek]ScheduleEntry

// ProfileImage is the optional picture shown next to the schedule grid.
type ProfileImage struct {
	// Data is the uploaded file as received.
	Data []byte
	// Format is the decoder name reported by image.Decode ("png", "jpeg", ...).
	Format string
	// Image is the decoded picture.
	Image image.Image
}

// ContentType returns the MIME type of the uploaded file.
func (p *ProfileImage) ContentType() string {
	if p == nil || p.Format == "" {
		return "application/octet-stream"
	}
	return "image/" + p.Format
}

// Labels holds the presentation text drawn on the card.
type Labels struct {
	Weekdays           [DaysPerWeek]string
	Holiday            string
	Title              string
	ProfilePlaceholder string
}

// Composition is a point-in-time snapshot of everything drawn on the card.
// It carries no preview scale.
type Composition struct {
	Entries   Entries
	Anchor    time.Time
	WeekDates [DaysPerWeek]time.Time
	Profile   *ProfileImage
	Labels    Labels
	// Fields lists which entry fields a non-holiday day cell shows.
	Fields []Field
}

// Field names an entry field that a day cell can display.
type Field string

const (
	FieldTime        Field = "time"
	FieldDescription Field = "description"
)
