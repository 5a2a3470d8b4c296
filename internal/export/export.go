// Package export turns a Composition snapshot into the downloadable PNG.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	appLog "timetable/internal/log"
	"timetable/internal/model"
)

// Filename is the fixed name of every downloaded artifact.
const Filename = "weekly-timetable.png"

var (
	// ErrExportInFlight is returned when Export is called while another
	// export has not finished yet.
	ErrExportInFlight = errors.New("export: another export is in progress")

	// ErrTargetMissing means the renderer could not locate the canonical
	// composition root. Callers log it and skip the export.
	ErrTargetMissing = errors.New("export: canonical composition not found")

	// ErrBadDimensions is returned when a renderer produced anything but
	// the canonical size.
	ErrBadDimensions = errors.New("export: rendered image has non-canonical size")

	// ErrRateLimited is returned when exports are triggered faster than the
	// configured rate.
	ErrRateLimited = errors.New("export: too many exports, retry later")
)

// Renderer draws a Composition at canonical size.
type Renderer interface {
	Name() string
	Render(ctx context.Context, comp model.Composition) (image.Image, error)
}

// Artifact is a finished export. It is not retained after delivery.
type Artifact struct {
	ID          string
	Filename    string
	ContentType string
	Width       int
	Height      int
	Data        []byte
}

// Exporter renders and encodes snapshots, one at a time.
type Exporter struct {
	renderer Renderer
	limiter  *rate.Limiter
	busy     atomic.Bool
}

// Option customizes an Exporter.
type Option func(*Exporter)

// WithRatePerMinute limits how often exports may start. Zero disables the
// limit.
func WithRatePerMinute(n int) Option {
	return func(e *Exporter) {
		if n <= 0 {
			e.limiter = nil
			return
		}
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
}

// New returns an Exporter using r.
func New(r Renderer, opts ...Option) *Exporter {
	e := &Exporter{renderer: r}
	for _, o := range opts {
		o(e)
	}
	return e
}

// InFlight reports whether an export is running. The editor uses it to
// disable the export trigger.
func (e *Exporter) InFlight() bool {
	return e.busy.Load()
}

// Export renders comp and encodes it as PNG. comp is a value snapshot, so
// later edits never reach an export already in progress.
func (e *Exporter) Export(ctx context.Context, comp model.Composition) (*Artifact, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrExportInFlight
	}
	defer e.busy.Store(false)

	if e.limiter != nil && !e.limiter.Allow() {
		return nil, ErrRateLimited
	}

	id := uuid.NewString()
	started := time.Now()
	appLog.Debug("export start", "id", id, "renderer", e.renderer.Name())

	img, err := e.renderer.Render(ctx, comp)
	if err != nil {
		if errors.Is(err, ErrTargetMissing) {
			appLog.Error("export skipped: canonical composition missing", err, "id", id, "renderer", e.renderer.Name())
		} else {
			appLog.Error("export render failed", err, "id", id, "renderer", e.renderer.Name())
		}
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() != model.CanvasWidth || b.Dy() != model.CanvasHeight {
		err := fmt.Errorf("%w: got %dx%d, want %dx%d", ErrBadDimensions, b.Dx(), b.Dy(), model.CanvasWidth, model.CanvasHeight)
		appLog.Error("export rejected", err, "id", id, "renderer", e.renderer.Name())
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		appLog.Error("export encode failed", err, "id", id)
		return nil, fmt.Errorf("export: encode png: %w", err)
	}

	appLog.Info("export done",
		"id", id,
		"renderer", e.renderer.Name(),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)

	return &Artifact{
		ID:          id,
		Filename:    Filename,
		ContentType: "image/png",
		Width:       b.Dx(),
		Height:      b.Dy(),
		Data:        buf.Bytes(),
	}, nil
}
