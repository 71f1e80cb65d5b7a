package wltoy

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bnema/wltoy/internal/config"
	"github.com/bnema/wltoy/wire"
)

const btnLeft = 0x110

// pointerEnter moves the seat's pointer onto w's main surface at (x, y).
func (c *testCompositor) pointerEnter(in *Input, w *Window, x, y float64) {
	c.t.Helper()
	c.event(in.pointer.ID(), 0, c.nextSerial(), w.mainSurface.wl.ID(), fixed(x), fixed(y))
}

func (c *testCompositor) pointerMotion(in *Input, x, y float64) {
	c.t.Helper()
	c.event(in.pointer.ID(), 2, uint32(0), fixed(x), fixed(y))
}

func (c *testCompositor) pointerButton(in *Input, button uint32, state ButtonState) {
	c.t.Helper()
	c.event(in.pointer.ID(), 3, c.nextSerial(), uint32(0), button, uint32(state))
}

type widgetLog struct {
	enters, leaves, motions, buttons int
}

func (l *widgetLog) watch(w *Widget) {
	w.Handlers.Enter = func(*Widget, *Input, float64, float64) Cursor { l.enters++; return CursorHand }
	w.Handlers.Leave = func(*Widget, *Input) { l.leaves++ }
	w.Handlers.Motion = func(*Widget, *Input, uint32, float64, float64) Cursor { l.motions++; return CursorHand }
	w.Handlers.Button = func(*Widget, *Input, uint32, uint32, ButtonState) { l.buttons++ }
}

func TestPointerFocusFollowsMotion(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, root := c.newMappedWindow(100, 100)
	a := root.AddWidget()
	a.SetAllocation(0, 0, 50, 50)
	in := c.addSeat(SeatCapabilityPointer)

	var rootLog, aLog widgetLog
	rootLog.watch(root)
	aLog.watch(a)

	c.pointerEnter(in, w, 10, 10)
	if in.PointerFocus() != w || in.FocusWidget() != a {
		t.Fatalf("focus = %v/%v after enter", in.PointerFocus(), in.FocusWidget())
	}
	c.pointerMotion(in, 80, 80)
	if in.FocusWidget() != root {
		t.Fatalf("focus = %v, want root", in.FocusWidget())
	}
	if aLog.leaves != 1 || rootLog.enters != 1 || rootLog.motions != 1 {
		t.Errorf("a=%+v root=%+v", aLog, rootLog)
	}
	if x, y := in.Position(); x != 80 || y != 80 {
		t.Errorf("position = %v,%v", x, y)
	}

	// Outside the allocation, e.g. right after a shrink: ignored
	c.pointerMotion(in, 150, 150)
	if in.FocusWidget() != root || rootLog.motions != 1 {
		t.Errorf("motion outside the window reached widgets")
	}

	c.event(in.pointer.ID(), 1, c.nextSerial(), w.mainSurface.wl.ID())
	if in.PointerFocus() != nil || in.FocusWidget() != nil || rootLog.leaves != 1 {
		t.Errorf("leave did not clear focus: root=%+v", rootLog)
	}
}

func TestImplicitGrabRoutesMotionUntilRelease(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, root := c.newMappedWindow(100, 100)
	a := root.AddWidget()
	a.SetAllocation(0, 0, 50, 50)
	in := c.addSeat(SeatCapabilityPointer)

	var rootLog, aLog widgetLog
	rootLog.watch(root)
	aLog.watch(a)

	c.pointerEnter(in, w, 10, 10)
	c.pointerButton(in, btnLeft, ButtonPressed)
	if in.GrabWidget() != a {
		t.Fatalf("grab = %v, want the pressed widget", in.GrabWidget())
	}

	c.pointerMotion(in, 80, 80)
	c.pointerMotion(in, 150, 150) // outside the window still reaches the grab
	if aLog.motions != 2 || rootLog.motions != 0 {
		t.Errorf("motions a=%d root=%d, want 2/0", aLog.motions, rootLog.motions)
	}
	if in.FocusWidget() != a {
		t.Errorf("focus moved during the grab")
	}

	// Other buttons do not end it
	c.pointerButton(in, btnLeft+1, ButtonPressed)
	c.pointerButton(in, btnLeft+1, ButtonReleased)
	if in.GrabWidget() != a {
		t.Fatal("grab ended by another button")
	}

	c.pointerMotion(in, 80, 80)
	c.pointerButton(in, btnLeft, ButtonReleased)
	if in.GrabWidget() != nil {
		t.Fatal("grab survived the release")
	}
	if in.FocusWidget() != root {
		t.Errorf("focus after release = %v, want root", in.FocusWidget())
	}
	if aLog.buttons != 4 {
		t.Errorf("grab widget saw %d button events, want 4", aLog.buttons)
	}
}

func TestAxisGoesToFocus(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, root := c.newMappedWindow(100, 100)
	in := c.addSeat(SeatCapabilityPointer)

	var got float64
	root.Handlers.Axis = func(_ *Widget, _ *Input, _ uint32, axis uint32, v float64) { got = v }
	c.pointerEnter(in, w, 10, 10)
	c.event(in.pointer.ID(), 4, uint32(0), uint32(0), fixed(7.5))
	if got != 7.5 {
		t.Errorf("axis value = %v", got)
	}
}

func TestCursorUpdates(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, root := c.newMappedWindow(100, 100)
	in := c.addSeat(SeatCapabilityPointer)

	type shown struct {
		cursor Cursor
		serial uint32
	}
	var calls []shown
	c.d.SetCursorHandler(func(_ *Input, cur Cursor, serial uint32) {
		calls = append(calls, shown{cur, serial})
	})
	root.SetDefaultCursor(CursorText)

	c.pointerEnter(in, w, 10, 10)
	c.pointerMotion(in, 20, 20) // same cursor, nothing to do
	if len(calls) != 1 || calls[0].cursor != CursorText || calls[0].serial != in.pointerEnterSerial {
		t.Fatalf("calls = %+v", calls)
	}

	// A fresh enter sets it again even though it did not change
	c.event(in.pointer.ID(), 1, c.nextSerial(), w.mainSurface.wl.ID())
	c.pointerEnter(in, w, 10, 10)
	if len(calls) != 2 {
		t.Fatalf("calls after re-enter = %+v", calls)
	}

	c.requests()
	in.SetPointerImage(CursorBlank)
	if in.Cursor() != CursorBlank {
		t.Errorf("cursor = %v", in.Cursor())
	}
	if n := count(c.requests(), in.pointer.ID(), 0); n != 1 {
		t.Errorf("set_cursor sent %d times for a blank cursor", n)
	}
	if len(calls) != 2 {
		t.Error("blank cursor went through the handler")
	}
}

func TestSubsurfacePointerCoordinates(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, _ := c.newMappedWindow(200, 200)
	sub, err := w.AddSubsurface(SubsurfaceSynchronized)
	if err != nil {
		t.Fatal(err)
	}
	sub.SetAllocation(50, 60, 40, 40)
	sub.ScheduleRedraw()
	c.d.loop.drain()
	in := c.addSeat(SeatCapabilityPointer)

	var x, y float64
	sub.Handlers.Enter = func(_ *Widget, _ *Input, ex, ey float64) Cursor {
		x, y = ex, ey
		return CursorLeftPtr
	}
	c.event(in.pointer.ID(), 0, c.nextSerial(), sub.Surface().wl.ID(), fixed(5), fixed(5))
	if in.FocusWidget() != sub {
		t.Fatalf("focus = %v, want subsurface widget", in.FocusWidget())
	}
	if x != 55 || y != 65 {
		t.Errorf("enter at %v,%v, want window coordinates 55,65", x, y)
	}
}

// writeKeymap returns a memfd holding a minimal xkb keymap.
func writeKeymap(t *testing.T, text string) (int, uint32) {
	t.Helper()
	fd, err := unix.MemfdCreate("keymap", unix.MFD_CLOEXEC)
	if err != nil {
		t.Fatal(err)
	}
	data := append([]byte(text), 0)
	if _, err := unix.Write(fd, data); err != nil {
		t.Fatal(err)
	}
	return fd, uint32(len(data))
}

const testKeymap = `xkb_keymap {
	xkb_compatibility "complete" {
		modifier_map Control { <LCTL> };
		modifier_map Mod1 { <LALT>, <META> };
		modifier_map Mod4 { <LWIN> };
	};
};`

// focusedKeyboard sets up a seat whose keyboard is focused on a mapped window.
func focusedKeyboard(t *testing.T, c *testCompositor) (*Window, *Input) {
	t.Helper()
	w, _ := c.newMappedWindow(100, 100)
	in := c.addSeat(SeatCapabilityKeyboard)
	fd, size := writeKeymap(t, testKeymap)
	c.event(in.keyboard.ID(), 0, uint32(keymapFormatXKBv1), wire.FD(fd), size)
	if in.keymap == nil {
		t.Fatal("keymap not loaded")
	}
	c.event(in.keyboard.ID(), 1, c.nextSerial(), w.mainSurface.wl.ID(), []byte{})
	return w, in
}

func (c *testCompositor) key(in *Input, key uint32, state KeyState) {
	c.t.Helper()
	c.event(in.keyboard.ID(), 3, c.nextSerial(), uint32(1234), key, uint32(state))
}

func TestKeyEvents(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, in := focusedKeyboard(t, c)

	var syms []Keysym
	w.Handlers.Key = func(_ *Window, _ *Input, _ uint32, _ uint32, sym Keysym, state KeyState) {
		if state == KeyPressed {
			syms = append(syms, sym)
		}
	}

	c.key(in, 30, KeyPressed) // a
	c.key(in, 30, KeyReleased)
	c.key(in, 42, KeyPressed) // shift
	c.key(in, 30, KeyPressed)
	c.key(in, 30, KeyReleased)
	c.key(in, 42, KeyReleased)

	want := []Keysym{'a', KeyShiftL, 'A'}
	if len(syms) != len(want) {
		t.Fatalf("syms = %v, want %v", syms, want)
	}
	for i := range want {
		if syms[i] != want[i] {
			t.Errorf("sym %d = %#x, want %#x", i, syms[i], want[i])
		}
	}
	if in.Modifiers() != 0 {
		t.Errorf("modifiers after release = %v", in.Modifiers())
	}
}

func TestKeyboardShortcuts(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, in := focusedKeyboard(t, c)

	keys, fullscreen, closed := 0, 0, 0
	w.Handlers.Key = func(*Window, *Input, uint32, uint32, Keysym, KeyState) { keys++ }
	w.Handlers.Fullscreen = func(*Window) { fullscreen++ }
	w.Handlers.Close = func(*Window) { closed++ }

	c.key(in, 87, KeyPressed) // F11
	c.key(in, 87, KeyReleased)
	if fullscreen != 1 {
		t.Errorf("fullscreen handler ran %d times", fullscreen)
	}

	c.key(in, 56, KeyPressed) // alt
	if in.Modifiers() != ModAlt {
		t.Fatalf("modifiers = %v, want alt", in.Modifiers())
	}
	c.requests()
	c.key(in, 63, KeyPressed) // F5
	c.key(in, 63, KeyReleased)
	if n := count(c.requests(), w.toplevel.ID(), 9); n != 1 {
		t.Errorf("set_maximized sent %d times", n)
	}
	c.key(in, 62, KeyPressed) // F4
	c.key(in, 62, KeyReleased)
	c.key(in, 56, KeyReleased)
	if closed != 1 {
		t.Errorf("close handler ran %d times", closed)
	}
	// Only the alt presses and releases reached the window
	if keys != 2 {
		t.Errorf("key handler saw %d events, want 2", keys)
	}
}

func TestModifiersEvent(t *testing.T) {
	c := newTestDisplay(t, nil)
	_, in := focusedKeyboard(t, c)

	// Control and Mod4 depressed
	c.event(in.keyboard.ID(), 4, c.nextSerial(), uint32(1<<2|1<<6), uint32(0), uint32(0), uint32(0))
	if got := in.Modifiers(); got != ModControl|ModSuper {
		t.Errorf("modifiers = %v, want control|super", got)
	}
}

func TestKeyRepeat(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Keyboard.RepeatDelay = config.Duration(time.Millisecond)
	c := newTestDisplay(t, cfg)
	w, in := focusedKeyboard(t, c)
	c.event(in.keyboard.ID(), 5, int32(1000), int32(500)) // repeat_info

	presses := 0
	w.Handlers.Key = func(_ *Window, _ *Input, _ uint32, key uint32, _ Keysym, state KeyState) {
		if key == 30 && state == KeyPressed {
			presses++
		}
	}
	c.key(in, 30, KeyPressed)
	if !in.repeatTimer.Armed() {
		t.Fatal("repeat not armed")
	}

	deadline := time.Now().Add(5 * time.Second)
	for presses < 3 && time.Now().Before(deadline) {
		if err := c.d.loop.dispatch(100); err != nil {
			t.Fatal(err)
		}
	}
	if presses < 3 {
		t.Fatalf("presses = %d, want repeats", presses)
	}

	c.key(in, 30, KeyReleased)
	if in.repeatTimer.Armed() {
		t.Error("repeat still armed after release")
	}

	// Modifiers never repeat
	c.key(in, 42, KeyPressed)
	if in.repeatTimer.Armed() {
		t.Error("shift armed the repeat timer")
	}
}

func TestRepeatParams(t *testing.T) {
	tests := []struct {
		name      string
		rate      int
		delay     time.Duration
		wantRate  int32
		wantDelay time.Duration
	}{
		{"compositor values", 0, 0, 30, 200 * time.Millisecond},
		{"config rate", 50, 0, 50, 200 * time.Millisecond},
		{"config delay", 0, time.Second, 30, time.Second},
		{"disabled", -1, time.Second, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Keyboard.RepeatRate = tt.rate
			cfg.Keyboard.RepeatDelay = config.Duration(tt.delay)
			c := newTestDisplay(t, cfg)
			in := c.addSeat(SeatCapabilityKeyboard)
			c.event(in.keyboard.ID(), 5, int32(30), int32(200))

			rate, delay := in.repeatParams()
			if rate != tt.wantRate || delay != tt.wantDelay {
				t.Errorf("repeatParams = %d, %v; want %d, %v", rate, delay, tt.wantRate, tt.wantDelay)
			}
		})
	}

	if got := repeatInterval(25); got != 40*time.Millisecond {
		t.Errorf("repeatInterval(25) = %v", got)
	}
}

func TestKeyboardLeaveStopsRepeat(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, in := focusedKeyboard(t, c)

	var focus []bool
	w.Handlers.KeyboardFocus = func(_ *Window, in *Input) { focus = append(focus, in != nil) }
	c.key(in, 30, KeyPressed)
	c.event(in.keyboard.ID(), 2, c.nextSerial(), w.mainSurface.wl.ID())

	if in.KeyboardFocus() != nil || in.repeatTimer.Armed() {
		t.Error("leave left focus or repeat behind")
	}
	if len(focus) != 1 || focus[0] {
		t.Errorf("focus handler calls = %v", focus)
	}
}

func TestCapabilitiesRemoval(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, _ := c.newMappedWindow(100, 100)
	in := c.addSeat(SeatCapabilityPointer | SeatCapabilityKeyboard | SeatCapabilityTouch)
	if in.pointer == nil || in.keyboard == nil || in.touch == nil {
		t.Fatal("devices not created")
	}
	c.pointerEnter(in, w, 5, 5)

	c.event(in.seat.ID(), 0, uint32(SeatCapabilityKeyboard))
	if in.pointer != nil || in.touch != nil || in.keyboard == nil {
		t.Error("capabilities not applied")
	}
	if in.PointerFocus() != nil {
		t.Error("pointer focus survived losing the pointer")
	}
	if in.Capabilities() != SeatCapabilityKeyboard {
		t.Errorf("capabilities = %d", in.Capabilities())
	}

	c.event(in.seat.ID(), 1, "seat0")
	if in.Name() != "seat0" {
		t.Errorf("name = %q", in.Name())
	}
}
