package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/disintegration/imaging"

	"timetable/internal/export"
	appLog "timetable/internal/log"
	"timetable/internal/model"
)

// Capture parameters for the weekly card. They must match the /canvas page.
const (
	DefaultTimeoutSec = 30

	// RootSelector is the canonical composition root on /canvas.
	RootSelector = `#timetable`
	// ReadySelector matches the root once fonts and images have loaded.
	ReadySelector = `#timetable[data-ready="true"]`
)

// Publisher exposes a frozen Composition over HTTP for the duration of one
// capture. release must be called once the capture is done.
type Publisher interface {
	Publish(comp model.Composition) (url string, release func())
}

// Options defines parameters for Chromium-based capture.
type Options struct {
	// ExecPath points at a Chromium/Chrome binary; empty lets chromedp
	// search the usual locations.
	ExecPath string

	// Timeout bounds one capture. If zero, DefaultTimeoutSec is used.
	Timeout time.Duration
}

// Chromium renders a Composition by loading /canvas in headless Chromium
// with the preview transform neutralized (scale=1) and screenshotting the
// canonical root element at 1280x720.
type Chromium struct {
	pub  Publisher
	opts Options
}

func NewChromium(pub Publisher, opts Options) *Chromium {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return &Chromium{pub: pub, opts: opts}
}

// Name identifies the renderer in logs.
func (c *Chromium) Name() string { return "chromium" }

// Render implements export.Renderer.
//
// Rendering-complete condition:
//   - The /canvas root element exposes data-ready="true" once its images
//     have decoded.
//   - If the root element is absent the capture fails with
//     export.ErrTargetMissing and no image is returned.
func (c *Chromium) Render(parentCtx context.Context, comp model.Composition) (image.Image, error) {
	url, release := c.pub.Publish(comp)
	defer release()

	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer timeoutCancel()

	var roots []*cdp.Node
	load := chromedp.Tasks{
		chromedp.EmulateViewport(model.CanvasWidth, model.CanvasHeight, chromedp.EmulateScale(1)),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Nodes(RootSelector, &roots, chromedp.ByQuery, chromedp.AtLeast(0)),
	}
	if err := chromedp.Run(ctx, load); err != nil {
		return nil, fmt.Errorf("capture: chromedp load failed: %w", err)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: %s not present at %s", export.ErrTargetMissing, RootSelector, url)
	}

	var png []byte
	shot := chromedp.Tasks{
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.Screenshot(RootSelector, &png, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, shot); err != nil {
		return nil, fmt.Errorf("capture: chromedp screenshot failed: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("capture: decode screenshot: %w", err)
	}
	appLog.Debug("chromium capture done", "url", url, "bytes", len(png))
	return img, nil
}
