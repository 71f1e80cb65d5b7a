package wltoy

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/mattn/go-runewidth"
)

const (
	tooltipCellWidth  = 8
	tooltipLineHeight = 16
	tooltipPadding    = 6
	// Distance below the pointer so the tooltip does not sit under the cursor
	tooltipOffsetY = 20
)

var tooltipBackground = color.RGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xe0}

// TooltipPainter draws tooltip text into bounds. The background is already filled.
type TooltipPainter func(c Canvas, bounds image.Rectangle, text string)

// SetTooltipPainter installs the text renderer for tooltips. Without one tooltips
// show as an empty box.
func (d *Display) SetTooltipPainter(p TooltipPainter) {
	d.tooltipPaint = p
}

// Tooltip is a delayed popup attached to a widget. It lives in a desynchronized
// subsurface of the widget's window once the delay expires.
type Tooltip struct {
	parent *Widget
	widget *Widget
	timer  *Timer
	text   string
	x, y   float64
}

// Text returns the tooltip text.
func (t *Tooltip) Text() string { return t.text }

// Visible reports whether the delay expired and the tooltip is shown.
func (t *Tooltip) Visible() bool { return t.widget != nil }

// Tooltip returns the widget's tooltip, nil if none is pending or shown.
func (w *Widget) Tooltip() *Tooltip { return w.tooltip }

// SetTooltip shows text near (x, y) after the configured delay. Calling it again,
// typically from a motion handler, moves the anchor and restarts the delay.
func (w *Widget) SetTooltip(text string, x, y float64) error {
	w.tooltipCount++
	if t := w.tooltip; t != nil {
		t.x, t.y = x, y
		if t.widget != nil {
			t.place()
		}
		t.resetTimer()
		return nil
	}
	// Motion can arrive again before the first call returned
	if w.tooltipCount > 1 {
		return nil
	}

	t := &Tooltip{parent: w, text: text, x: x, y: y}
	timer, err := w.window.display.loop.NewTimer(t.show)
	if err != nil {
		w.tooltipCount = 0
		return err
	}
	t.timer = timer
	w.tooltip = t
	t.resetTimer()
	return nil
}

// DestroyTooltip hides and drops the widget's tooltip.
func (w *Widget) DestroyTooltip() {
	t := w.tooltip
	w.tooltip = nil
	w.tooltipCount = 0
	if t == nil {
		return
	}
	if t.widget != nil {
		t.widget.Destroy()
		t.widget = nil
	}
	_ = t.timer.Close()
}

func (t *Tooltip) resetTimer() {
	delay := t.parent.window.display.cfg.Tooltip.Delay.D()
	if err := t.timer.Arm(delay, 0); err != nil {
		t.parent.window.display.logger.Debug("failed to arm tooltip timer", "error", err)
	}
}

func (t *Tooltip) show() {
	if t.widget != nil || t.parent.destroyed {
		return
	}
	win := t.parent.window
	widget, err := win.AddSubsurface(SubsurfaceDesynchronized)
	if err != nil {
		win.display.logger.Debug("cannot show tooltip", "window", win.id, "error", err)
		return
	}
	widget.SetInteractive(false)
	widget.SetTransparent(true)
	widget.Handlers.Redraw = t.redraw
	if err := widget.surface.SetInputRegion(Rectangle{}); err != nil {
		win.display.logger.Debug("tooltip input region", "error", err)
	}
	t.widget = widget
	t.place()
}

// size estimates the text extent from its cell width.
func (t *Tooltip) size() (int32, int32) {
	width := runewidth.StringWidth(t.text)*tooltipCellWidth + 2*tooltipPadding
	height := tooltipLineHeight + 2*tooltipPadding
	return int32(width), int32(height)
}

func (t *Tooltip) place() {
	width, height := t.size()
	t.widget.SetAllocation(int32(t.x), int32(t.y)+tooltipOffsetY, width, height)
	t.widget.ScheduleRedraw()
}

func (t *Tooltip) redraw(w *Widget, c Canvas) {
	if c == nil {
		return
	}
	bounds := c.Bounds()
	draw.Draw(c, bounds, image.NewUniform(tooltipBackground), image.Point{}, draw.Src)
	if paint := w.window.display.tooltipPaint; paint != nil {
		paint(c, bounds.Inset(tooltipPadding), t.text)
	}
}
