package render

import (
	"image"
	"image/color"
	"math"

	"timetable/internal/model"
)

// Layout is the canonical geometry of the card, in canvas pixels. It is
// computed once for 1280x720 and shared by the native renderer and the
// /canvas HTML page; no preview scale ever feeds into it.
type Layout struct {
	Canvas image.Rectangle

	// Grid is the 3x3 schedule panel. GridAngle is the clockwise rotation in
	// degrees applied around its center (CSS rotate semantics).
	Grid      image.Rectangle
	GridAngle float64
	GridGap   int

	// TitleCell and DayCells are relative to Grid.Min.
	TitleCell image.Rectangle
	DayCells  [model.DaysPerWeek]image.Rectangle
	// DaySlots holds the (row, col) of each day cell in the 3x3 grid.
	DaySlots [model.DaysPerWeek][2]int

	Profile      image.Rectangle
	ProfileAngle float64
}

// Theme is the fill palette of the card.
type Theme struct {
	Background color.NRGBA
	Panel      color.NRGBA
	Cell       color.NRGBA
	Holiday    color.NRGBA
	Text       color.NRGBA
}

// DefaultTheme is the stock card palette.
func DefaultTheme() Theme {
	return Theme{
		Background: color.NRGBA{R: 0x58, G: 0x68, B: 0xa2, A: 0xff},
		Panel:      color.NRGBA{R: 0x4a, G: 0x58, B: 0x89, A: 0xff},
		Cell:       color.NRGBA{R: 0x3a, G: 0x46, B: 0x6e, A: 0xff},
		Holiday:    color.NRGBA{R: 0x8a, G: 0x37, B: 0x47, A: 0xff},
		Text:       color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	}
}

const (
	gridSize    = 640
	gridOffset  = 80
	gridGap     = 10
	gridColumns = 3

	profileWidth  = 540
	profileHeight = 720
	profileRight  = 80
	profileTop    = 40
)

// Canonical is the layout used for every render and export.
var Canonical = computeLayout()

func computeLayout() Layout {
	l := Layout{
		Canvas:       image.Rect(0, 0, model.CanvasWidth, model.CanvasHeight),
		Grid:         image.Rect(gridOffset, gridOffset, gridOffset+gridSize, gridOffset+gridSize),
		GridAngle:    -6,
		GridGap:      gridGap,
		ProfileAngle: 10,
	}
	px := model.CanvasWidth - profileRight - profileWidth
	l.Profile = image.Rect(px, profileTop, px+profileWidth, profileTop+profileHeight)

	// Track edges are spread over size+gap so the last track ends flush
	// with the panel.
	edge := func(i int) int {
		return int(math.Round(float64(i) * float64(gridSize+gridGap) / gridColumns))
	}
	cell := func(row, col, span int) image.Rectangle {
		return image.Rect(edge(col), edge(row), edge(col+span)-gridGap, edge(row+1)-gridGap)
	}

	l.TitleCell = cell(0, 0, 2)

	// The title takes the first two slots; days fill the rest row-major.
	slot := 0
	for row := 0; row < gridColumns; row++ {
		for col := 0; col < gridColumns; col++ {
			if row == 0 && col < 2 {
				continue
			}
			l.DaySlots[slot] = [2]int{row, col}
			l.DayCells[slot] = cell(row, col, 1)
			slot++
		}
	}
	return l
}
