package display

import (
	"image"

	"github.com/go-logr/logr"
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/sarchlab/corevm/devices/vga"
)

// Source provides frames to draw. *vga.Adapter satisfies it.
type Source interface {
	Snapshot() vga.Snapshot
}

// Viewer shows a Source in a window, redrawing every frame.
type Viewer struct {
	source Source
	title  string
	scale  int
	logger logr.Logger

	// onFrame runs once per tick before drawing. A non-nil error closes
	// the window.
	onFrame func() error

	frame  *image.RGBA
	window *ebiten.Image
	err    error
}

// ViewerOption configures a Viewer.
type ViewerOption func(*Viewer)

// WithTitle sets the window title.
func WithTitle(title string) ViewerOption {
	return func(v *Viewer) {
		v.title = title
	}
}

// WithScale sets the initial window scale factor.
func WithScale(scale int) ViewerOption {
	return func(v *Viewer) {
		if scale > 0 {
			v.scale = scale
		}
	}
}

// WithFrameHook runs fn on the window's update loop, once per tick.
func WithFrameHook(fn func() error) ViewerOption {
	return func(v *Viewer) {
		v.onFrame = fn
	}
}

// WithViewerLogger sets the logger.
func WithViewerLogger(logger logr.Logger) ViewerOption {
	return func(v *Viewer) {
		v.logger = logger
	}
}

// NewViewer creates a viewer for source.
func NewViewer(source Source, opts ...ViewerOption) *Viewer {
	v := &Viewer{
		source: source,
		title:  "corevm",
		scale:  1,
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.capture()
	return v
}

// Run opens the window and blocks until it is closed or the frame hook
// fails. The hook's error is returned.
func (v *Viewer) Run() error {
	b := v.frame.Bounds()
	ebiten.SetWindowSize(b.Dx()*v.scale, b.Dy()*v.scale)
	ebiten.SetWindowTitle(v.title)
	ebiten.SetWindowResizable(true)
	ebiten.SetWindowClosingHandled(true)
	ebiten.SetRunnableOnUnfocused(true)

	if err := ebiten.RunGame(v); err != nil {
		return err
	}
	return v.err
}

func (v *Viewer) capture() {
	s := v.source.Snapshot()
	v.frame = Render(&s)
}

// Update implements ebiten.Game.
func (v *Viewer) Update() error {
	if ebiten.IsWindowBeingClosed() {
		return ebiten.Termination
	}

	if v.onFrame != nil {
		if err := v.onFrame(); err != nil {
			v.logger.Info("stopping display", "reason", err.Error())
			v.err = err
			return ebiten.Termination
		}
	}

	v.capture()
	return nil
}

// Draw implements ebiten.Game.
func (v *Viewer) Draw(screen *ebiten.Image) {
	b := v.frame.Bounds()
	if v.window == nil || v.window.Bounds() != b {
		if v.window != nil {
			v.window.Deallocate()
		}
		v.logger.V(1).Info("display resized", "width", b.Dx(), "height", b.Dy())
		v.window = ebiten.NewImage(b.Dx(), b.Dy())
	}

	v.window.WritePixels(v.frame.Pix)
	screen.DrawImage(v.window, nil)
}

// Layout implements ebiten.Game. The logical screen follows the current
// display mode.
func (v *Viewer) Layout(_, _ int) (int, int) {
	b := v.frame.Bounds()
	return b.Dx(), b.Dy()
}
