package web

import (
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	"image/color"
	"net/http"
	"strconv"

	"timetable/internal/model"
	"timetable/internal/preview"
	"timetable/internal/render"
	"timetable/internal/schedule"
)

// canvasTheme holds the palette as CSS values.
type canvasTheme struct {
	Background template.CSS
	Panel      template.CSS
	Cell       template.CSS
	Holiday    template.CSS
	Text       template.CSS
}

type canvasCell struct {
	Day     int
	Heading string
	Lines   []string
	Holiday bool
	Style   template.CSS
}

// canvasView is the template data of the canonical HTML composition. All
// geometry comes from render.Canonical; Scale only adds a transform on the
// root element.
type canvasView struct {
	Width, Height int
	FontSize      float64
	Theme         canvasTheme

	RootStyle    template.CSS
	GridStyle    template.CSS
	ProfileStyle template.CSS
	TitleStyle   template.CSS

	Title       string
	Range       string
	Cells       []canvasCell
	ProfileURI  template.URL
	Placeholder string
}

func cssColor(c color.NRGBA) template.CSS {
	return template.CSS(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}

func boxStyle(r image.Rectangle, angle float64) template.CSS {
	return template.CSS(fmt.Sprintf("left:%dpx;top:%dpx;width:%dpx;height:%dpx;transform:rotate(%sdeg);",
		r.Min.X, r.Min.Y, r.Dx(), r.Dy(), strconv.FormatFloat(angle, 'f', -1, 64)))
}

func gridArea(row, col, span int) template.CSS {
	return template.CSS(fmt.Sprintf("grid-row:%d;grid-column:%d / span %d;", row+1, col+1, span))
}

func buildCanvasView(comp model.Composition, scale float64, fontSize float64, theme render.Theme) canvasView {
	l := render.Canonical
	v := canvasView{
		Width:    model.CanvasWidth,
		Height:   model.CanvasHeight,
		FontSize: fontSize,
		Theme: canvasTheme{
			Background: cssColor(theme.Background),
			Panel:      cssColor(theme.Panel),
			Cell:       cssColor(theme.Cell),
			Holiday:    cssColor(theme.Holiday),
			Text:       cssColor(theme.Text),
		},
		RootStyle: template.CSS("transform:scale(" + strconv.FormatFloat(scale, 'f', -1, 64) + ");"),
		GridStyle: template.CSS(string(boxStyle(l.Grid, l.GridAngle)) +
			fmt.Sprintf("gap:%dpx;", l.GridGap)),
		ProfileStyle: boxStyle(l.Profile, l.ProfileAngle),
		TitleStyle:   gridArea(0, 0, 2),
		Title:        comp.Labels.Title,
		Range:        schedule.RangeLabel(comp.WeekDates),
		Placeholder:  comp.Labels.ProfilePlaceholder,
	}

	fields := comp.Fields
	if len(fields) == 0 {
		fields = schedule.FieldsFull
	}
	for i, c := range schedule.Cells(comp.Entries, comp.WeekDates, comp.Labels, fields) {
		slot := l.DaySlots[i]
		v.Cells = append(v.Cells, canvasCell{
			Day:     int(c.Day),
			Heading: c.Heading,
			Lines:   c.Lines,
			Holiday: c.Holiday,
			Style:   gridArea(slot[0], slot[1], 1),
		})
	}

	if p := comp.Profile; p != nil && len(p.Data) > 0 {
		v.ProfileURI = template.URL("data:" + p.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(p.Data))
	}
	return v
}

// handleCanvas serves the canonical 1280x720 composition.
//
// GET /canvas?scale=0.5           live session, scaled for preview
// GET /canvas?snapshot=<id>       frozen composition published for capture
//
// The scale parameter defaults to 1 (identity) and only adds a transform.
func (s *Server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	scale := 1.0
	if raw := q.Get("scale"); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			scale = preview.Clamp(f)
		}
	}

	var comp model.Composition
	if id := q.Get("snapshot"); id != "" {
		c, ok := s.snapshot(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		comp = c
	} else {
		comp = s.session.Snapshot()
	}

	view := buildCanvasView(comp, scale, s.cfg.Render.FontSize, render.DefaultTheme())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.templates.ExecuteTemplate(w, "canvas.html", view); err != nil {
		s.logTemplateError("canvas.html", err)
	}
}
