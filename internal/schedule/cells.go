package schedule

import (
	"fmt"
	"strings"
	"time"

	"timetable/internal/model"
)

// Field sets for the two editor variants. A variant is just the list of
// fields its day cells render.
var (
	FieldsFull     = []model.Field{model.FieldTime, model.FieldDescription}
	FieldsTimeOnly = []model.Field{model.FieldTime}
)

// ParseFields converts config names into a field list. Unknown names are
// reported; an empty input yields FieldsFull.
func ParseFields(names []string) ([]model.Field, error) {
	if len(names) == 0 {
		return append([]model.Field(nil), FieldsFull...), nil
	}
	out := make([]model.Field, 0, len(names))
	for _, n := range names {
		switch f := model.Field(strings.ToLower(strings.TrimSpace(n))); f {
		case model.FieldTime, model.FieldDescription:
			out = append(out, f)
		default:
			return nil, fmt.Errorf("schedule: unknown field %q", n)
		}
	}
	return out, nil
}

// Cell is the display state of one day cell.
type Cell struct {
	Day     model.Day
	Heading string
	Lines   []string
	Holiday bool
}

// Heading formats "<weekday> (<day of month>)".
func Heading(labels model.Labels, day model.Day, date time.Time) string {
	name := ""
	if day.Valid() {
		name = labels.Weekdays[day]
	}
	if date.IsZero() {
		return name
	}
	return fmt.Sprintf("%s (%d)", name, date.Day())
}

// Cells computes the display state for every day. A holiday cell shows only
// the holiday label; its stored time and description are not touched.
func Cells(e model.Entries, dates [model.DaysPerWeek]time.Time, labels model.Labels, fields []model.Field) [model.DaysPerWeek]Cell {
	var out [model.DaysPerWeek]Cell
	for i, entry := range e {
		c := Cell{
			Day:     model.Day(i),
			Heading: Heading(labels, model.Day(i), dates[i]),
			Holiday: entry.IsHoliday,
		}
		if entry.IsHoliday {
			c.Lines = []string{labels.Holiday}
		} else {
			for _, f := range fields {
				switch f {
				case model.FieldTime:
					c.Lines = append(c.Lines, entry.Time)
				case model.FieldDescription:
					c.Lines = append(c.Lines, entry.Description)
				}
			}
		}
		out[i] = c
	}
	return out
}

// RangeLabel formats the title range "Y.M.D - Y.M.D" without zero padding.
func RangeLabel(dates [model.DaysPerWeek]time.Time) string {
	first, last := dates[0], dates[model.DaysPerWeek-1]
	if first.IsZero() || last.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d - %d.%d.%d",
		first.Year(), int(first.Month()), first.Day(),
		last.Year(), int(last.Month()), last.Day())
}
