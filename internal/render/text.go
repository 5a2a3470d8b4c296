package render

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"strings"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	defaultFontSize = 26
	fontDPI         = 72
	cellPadding     = 12
	lineSpacing     = 6
)

// loadFont parses the TTF/OTF at path, or Go Regular when path is empty.
// Go Regular has no Hangul glyphs; Korean labels need a font_path.
func loadFont(path string) (*opentype.Font, error) {
	data := goregular.TTF
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return opentype.Parse(data)
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	if size <= 0 {
		size = defaultFontSize
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     fontDPI,
		Hinting: font.HintingFull,
	})
}

// wrap breaks s into lines no wider than maxWidth. Words are kept whole when
// they fit; longer runs (e.g. Hangul without spaces) break between runes.
func wrap(face font.Face, s string, maxWidth int) []string {
	if s == "" {
		return []string{""}
	}
	limit := fixed.I(maxWidth)
	var (
		lines []string
		cur   string
	)
	fits := func(t string) bool { return font.MeasureString(face, t) <= limit }

	for _, word := range strings.FieldsFunc(s, unicode.IsSpace) {
		candidate := word
		if cur != "" {
			candidate = cur + " " + word
		}
		if fits(candidate) {
			cur = candidate
			continue
		}
		if cur != "" {
			lines = append(lines, cur)
			cur = ""
		}
		for _, r := range word {
			if cur != "" && !fits(cur+string(r)) {
				lines = append(lines, cur)
				cur = ""
			}
			cur += string(r)
		}
	}
	if cur != "" || len(lines) == 0 {
		lines = append(lines, cur)
	}
	return lines
}

// drawLines draws lines centered horizontally and vertically inside r.
// Drawing is clipped to r.
func drawLines(dst *image.NRGBA, face font.Face, r image.Rectangle, lines []string, col color.Color) {
	clip, ok := dst.SubImage(r).(draw.Image)
	if !ok {
		return
	}

	var wrapped []string
	for _, l := range lines {
		wrapped = append(wrapped, wrap(face, l, r.Dx()-2*cellPadding)...)
	}

	m := face.Metrics()
	lineHeight := m.Height.Ceil()
	total := len(wrapped)*lineHeight + (len(wrapped)-1)*lineSpacing
	y := r.Min.Y + (r.Dy()-total)/2 + m.Ascent.Ceil()

	d := &font.Drawer{Dst: clip, Src: image.NewUniform(col), Face: face}
	for _, l := range wrapped {
		w := d.MeasureString(l).Ceil()
		d.Dot = fixed.P(r.Min.X+(r.Dx()-w)/2, y)
		d.DrawString(l)
		y += lineHeight + lineSpacing
	}
}
