package wltoy

import (
	"image"
	"testing"
	"time"

	"github.com/bnema/wltoy/internal/config"
)

func newTooltipDisplay(t *testing.T) *testCompositor {
	cfg := config.DefaultConfig()
	cfg.Tooltip.Delay = config.Duration(time.Millisecond)
	return newTestDisplay(t, cfg)
}

func TestTooltipShowsAfterDelay(t *testing.T) {
	c := newTooltipDisplay(t)
	_, root := c.newMappedWindow(200, 100)
	button := root.AddWidget()
	button.SetAllocation(10, 10, 80, 30)

	var painted string
	var area image.Rectangle
	c.d.SetTooltipPainter(func(_ Canvas, bounds image.Rectangle, text string) {
		painted, area = text, bounds
	})

	if err := button.SetTooltip("Save", 30, 15); err != nil {
		t.Fatal(err)
	}
	tip := button.Tooltip()
	if tip == nil || tip.Visible() {
		t.Fatal("tooltip must be pending until the delay expires")
	}
	c.dispatchUntil(tip.Visible)
	c.d.loop.drain()

	// "Save": 4 cells plus padding on each side
	want := Rectangle{X: 30, Y: 35, Width: 4*tooltipCellWidth + 2*tooltipPadding, Height: tooltipLineHeight + 2*tooltipPadding}
	if got := tip.widget.Allocation(); got != want {
		t.Errorf("allocation = %+v, want %+v", got, want)
	}
	if painted != "Save" {
		t.Errorf("painter got %q", painted)
	}
	if area.Dx() != int(want.Width)-2*tooltipPadding {
		t.Errorf("text area = %v", area)
	}
	if tip.widget.interactive {
		t.Error("tooltip takes part in hit-testing")
	}

	// Motion moves the visible tooltip
	if err := button.SetTooltip("Save", 50, 20); err != nil {
		t.Fatal(err)
	}
	if got := tip.widget.Allocation(); got.X != 50 || got.Y != 40 {
		t.Errorf("moved allocation = %+v", got)
	}
	if button.Tooltip() != tip {
		t.Error("second SetTooltip replaced the tooltip")
	}

	sub := tip.widget
	button.DestroyTooltip()
	if button.Tooltip() != nil || !sub.destroyed {
		t.Error("DestroyTooltip left the tooltip up")
	}
}

func TestTooltipWidthFollowsCells(t *testing.T) {
	tip := &Tooltip{text: "保存"}
	w, h := tip.size()
	if w != 4*tooltipCellWidth+2*tooltipPadding || h != tooltipLineHeight+2*tooltipPadding {
		t.Errorf("size = %dx%d, want wide runes counted as two cells", w, h)
	}
}

func TestTooltipHiddenOnPointerLeave(t *testing.T) {
	c := newTooltipDisplay(t)
	w, root := c.newMappedWindow(200, 100)
	in := c.addSeat(SeatCapabilityPointer)
	c.pointerEnter(in, w, 20, 20)

	if err := root.SetTooltip("Hint", 20, 20); err != nil {
		t.Fatal(err)
	}
	tip := root.Tooltip()
	c.dispatchUntil(tip.Visible)

	// The tooltip sits under the pointer but does not take focus
	c.pointerMotion(in, 25, 45)
	if in.FocusWidget() != root {
		t.Fatalf("focus = %v, want root", in.FocusWidget())
	}

	c.event(in.pointer.ID(), 1, c.nextSerial(), w.mainSurface.wl.ID()) // leave
	if root.Tooltip() != nil {
		t.Error("tooltip survived pointer leave")
	}
}

func TestTooltipCancelledBeforeDelay(t *testing.T) {
	c := newTestDisplay(t, nil)
	_, root := c.newMappedWindow(100, 100)
	if err := root.SetTooltip("Later", 0, 0); err != nil {
		t.Fatal(err)
	}
	tip := root.Tooltip()
	root.DestroyTooltip()
	if err := c.d.loop.dispatch(0); err != nil {
		t.Fatal(err)
	}
	if tip.Visible() {
		t.Error("cancelled tooltip shown")
	}
	if err := root.SetTooltip("Again", 0, 0); err != nil || root.Tooltip() == nil {
		t.Errorf("SetTooltip after destroy = %v", err)
	}
}
