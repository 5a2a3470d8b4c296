// Package render rasterizes the canonical weekly card in pure Go.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"

	"timetable/internal/model"
	"timetable/internal/schedule"
)

// Options configures the native renderer.
type Options struct {
	// FontPath is a TTF/OTF file; empty uses Go Regular.
	FontPath string
	// FontSize in pixels; zero uses 26.
	FontSize float64
	Theme    Theme
}

// Native draws a Composition onto a 1280x720 NRGBA canvas. It holds no
// per-render state and is safe for concurrent use.
type Native struct {
	font   *opentype.Font
	size   float64
	theme  Theme
	layout Layout
}

// NewNative parses the configured font once.
func NewNative(opts Options) (*Native, error) {
	f, err := loadFont(opts.FontPath)
	if err != nil {
		return nil, fmt.Errorf("render: load font %q: %w", opts.FontPath, err)
	}
	theme := opts.Theme
	if theme == (Theme{}) {
		theme = DefaultTheme()
	}
	return &Native{font: f, size: opts.FontSize, theme: theme, layout: Canonical}, nil
}

// Name identifies the renderer in logs.
func (n *Native) Name() string { return "native" }

// Render draws comp at canonical size.
func (n *Native) Render(ctx context.Context, comp model.Composition) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// opentype faces cache glyphs and must not be shared between goroutines.
	face, err := newFace(n.font, n.size)
	if err != nil {
		return nil, fmt.Errorf("render: new face: %w", err)
	}
	defer face.Close()

	l := n.layout
	canvas := imaging.New(l.Canvas.Dx(), l.Canvas.Dy(), n.theme.Background)

	// Profile first: the grid overlaps it.
	n.compose(canvas, n.profilePanel(face, comp), l.Profile, l.ProfileAngle)
	n.compose(canvas, n.gridPanel(face, comp), l.Grid, l.GridAngle)

	return canvas, nil
}

// compose rotates panel clockwise by angle around its center and draws it
// over dst so that the center lands on the center of at.
func (n *Native) compose(dst *image.NRGBA, panel *image.NRGBA, at image.Rectangle, angle float64) {
	rotated := panel
	if angle != 0 {
		// imaging rotates counter-clockwise.
		rotated = imaging.Rotate(panel, -angle, color.Transparent)
	}
	size := rotated.Bounds().Size()
	cx := at.Min.X + at.Dx()/2
	cy := at.Min.Y + at.Dy()/2
	origin := image.Pt(cx-size.X/2, cy-size.Y/2)
	draw.Draw(dst, image.Rectangle{Min: origin, Max: origin.Add(size)}, rotated, rotated.Bounds().Min, draw.Over)
}

func (n *Native) gridPanel(face font.Face, comp model.Composition) *image.NRGBA {
	l := n.layout
	panel := imaging.New(l.Grid.Dx(), l.Grid.Dy(), n.theme.Panel)

	fill(panel, l.TitleCell, n.theme.Cell)
	drawLines(panel, face, l.TitleCell, []string{comp.Labels.Title, schedule.RangeLabel(comp.WeekDates)}, n.theme.Text)

	fields := comp.Fields
	if len(fields) == 0 {
		fields = schedule.FieldsFull
	}
	cells := schedule.Cells(comp.Entries, comp.WeekDates, comp.Labels, fields)
	for i, c := range cells {
		r := l.DayCells[i]
		bg := n.theme.Cell
		if c.Holiday {
			bg = n.theme.Holiday
		}
		fill(panel, r, bg)
		drawLines(panel, face, r, append([]string{c.Heading}, c.Lines...), n.theme.Text)
	}
	return panel
}

func (n *Native) profilePanel(face font.Face, comp model.Composition) *image.NRGBA {
	l := n.layout
	w, h := l.Profile.Dx(), l.Profile.Dy()
	panel := imaging.New(w, h, n.theme.Panel)

	if comp.Profile != nil && comp.Profile.Image != nil {
		// object-fit: cover
		cover := imaging.Fill(comp.Profile.Image, w, h, imaging.Center, imaging.Lanczos)
		draw.Draw(panel, panel.Bounds(), cover, cover.Bounds().Min, draw.Over)
		return panel
	}
	drawLines(panel, face, panel.Bounds(), []string{comp.Labels.ProfilePlaceholder}, n.theme.Text)
	return panel
}

func fill(dst *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}
