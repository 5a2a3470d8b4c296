package render

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timetable/internal/model"
	"timetable/internal/schedule"
	"timetable/internal/week"
)

func TestCanonicalLayout(t *testing.T) {
	l := Canonical
	assert.Equal(t, image.Rect(0, 0, 1280, 720), l.Canvas)
	assert.Equal(t, image.Rect(80, 80, 720, 720), l.Grid)
	assert.Equal(t, image.Rect(660, 40, 1200, 760), l.Profile)
	assert.Equal(t, -6.0, l.GridAngle)
	assert.Equal(t, 10.0, l.ProfileAngle)

	assert.Equal(t, image.Rect(0, 0, 423, 207), l.TitleCell)
	assert.Equal(t, image.Rect(433, 0, 640, 207), l.DayCells[model.Monday])
	assert.Equal(t, image.Rect(0, 217, 207, 423), l.DayCells[model.Tuesday])
	assert.Equal(t, image.Rect(433, 433, 640, 640), l.DayCells[model.Sunday])

	want := [7][2]int{{0, 2}, {1, 0}, {1, 1}, {1, 2}, {2, 0}, {2, 1}, {2, 2}}
	assert.Equal(t, want, l.DaySlots)

	grid := image.Rect(0, 0, l.Grid.Dx(), l.Grid.Dy())
	for i, c := range l.DayCells {
		assert.True(t, c.In(grid), "day %d outside grid", i)
		assert.False(t, c.Overlaps(l.TitleCell), "day %d overlaps title", i)
		for j := i + 1; j < len(l.DayCells); j++ {
			assert.False(t, c.Overlaps(l.DayCells[j]), "day %d overlaps day %d", i, j)
		}
	}
}

func testComposition() model.Composition {
	anchor := time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)
	return model.Composition{
		Entries:   schedule.Initialize("Weekly stream with a longer description that wraps"),
		Anchor:    anchor,
		WeekDates: week.DeriveWeekDates(anchor),
		Labels: model.Labels{
			Weekdays:           [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"},
			Holiday:            "Holiday",
			Title:              "TITLE",
			ProfilePlaceholder: "Profile image",
		},
		Fields: schedule.FieldsFull,
	}
}

func newTestRenderer(t *testing.T) *Native {
	t.Helper()
	n, err := NewNative(Options{})
	require.NoError(t, err)
	return n
}

func assertColorNear(t *testing.T, want color.NRGBA, got color.Color) {
	t.Helper()
	g := color.NRGBAModel.Convert(got).(color.NRGBA)
	assert.InDelta(t, want.R, g.R, 3)
	assert.InDelta(t, want.G, g.G, 3)
	assert.InDelta(t, want.B, g.B, 3)
	assert.InDelta(t, want.A, g.A, 3)
}

func TestNativeRenderCanonicalSize(t *testing.T) {
	n := newTestRenderer(t)
	img, err := n.Render(context.Background(), testComposition())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, model.CanvasWidth, model.CanvasHeight), img.Bounds())

	theme := DefaultTheme()
	assertColorNear(t, theme.Background, img.At(5, 5))
	assertColorNear(t, theme.Panel, img.At(930, 100))
}

func TestNativeRenderDeterministic(t *testing.T) {
	n := newTestRenderer(t)
	comp := testComposition()

	a, err := n.Render(context.Background(), comp)
	require.NoError(t, err)
	b, err := n.Render(context.Background(), comp)
	require.NoError(t, err)
	assert.Equal(t, a.(*image.NRGBA).Pix, b.(*image.NRGBA).Pix)

	comp.Entries, _ = schedule.SetHoliday(comp.Entries, model.Wednesday, true)
	c, err := n.Render(context.Background(), comp)
	require.NoError(t, err)
	assert.NotEqual(t, a.(*image.NRGBA).Pix, c.(*image.NRGBA).Pix)
}

func TestNativeRenderProfileCover(t *testing.T) {
	n := newTestRenderer(t)
	red := color.NRGBA{R: 0xff, A: 0xff}
	comp := testComposition()
	comp.Profile = &model.ProfileImage{Format: "png", Image: imaging.New(300, 900, red)}

	img, err := n.Render(context.Background(), comp)
	require.NoError(t, err)
	assertColorNear(t, red, img.At(930, 400))
	assertColorNear(t, red, img.At(930, 100))
}

func TestNativeRenderCanceled(t *testing.T) {
	n := newTestRenderer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := n.Render(ctx, testComposition())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewNativeBadFont(t *testing.T) {
	_, err := NewNative(Options{FontPath: "/nonexistent/font.ttf"})
	assert.Error(t, err)
}

func TestWrap(t *testing.T) {
	n := newTestRenderer(t)
	face, err := newFace(n.font, 26)
	require.NoError(t, err)
	defer face.Close()

	lines := wrap(face, "one two three four five six seven eight nine ten", 120)
	assert.Greater(t, len(lines), 1)
	for _, l := range lines {
		assert.NotEmpty(t, l)
	}
	assert.Equal(t, []string{"short"}, wrap(face, "short", 500))
}
