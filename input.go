package wltoy

import (
	"fmt"
	"time"

	"github.com/bnema/wltoy/internal/config"
	"github.com/bnema/wltoy/wire"
)

// CursorHandler shows the image for a cursor. serial is the pointer enter serial
// wl_pointer.set_cursor has to quote.
type CursorHandler func(in *Input, c Cursor, serial uint32)

// Input is one seat. Pointer, keyboard and touch focus are tracked independently and
// only by ID, so a destroyed window or widget is never reached through a seat.
type Input struct {
	display *Display
	name    uint32
	version uint32
	caps    uint32

	seat     *seat
	pointer  *pointer
	keyboard *keyboard
	touch    *touch
	seatName string

	pointerFocus   WindowID
	pointerSurface uint32
	focusWidget    WidgetID
	grab           WidgetID
	grabButton     uint32
	sx, sy         float64

	currentCursor      Cursor
	pointerEnterSerial uint32
	cursorSerial       uint32

	keyboardFocus WindowID
	keymap        *Keymap
	modifiers     Modifiers
	repeatTimer   *Timer
	repeatRate    int32 // compositor values, keys per second
	repeatDelay   time.Duration
	repeatSym     Keysym
	repeatKey     uint32
	repeatTime    uint32

	touchFocus   WindowID
	touchPoints  []*TouchPoint
	touchGrab    WidgetID
	touchGrabID  int32
	touchUpdated []WidgetID

	dataDevice      *dataDevice
	dragOffer       *DataOffer
	selectionOffer  *DataOffer
	dragFocus       WindowID
	dragSurface     uint32
	dragX, dragY    float64
	dragEnterSerial uint32
}

func (d *Display) addInput(name, version uint32) error {
	in := &Input{
		display:       d,
		name:          name,
		version:       version,
		currentCursor: CursorUnset,
		repeatRate:    config.DefaultRepeatRate,
		repeatDelay:   config.DefaultRepeatDelay,
	}
	timer, err := d.loop.NewTimer(in.repeatKeyFire)
	if err != nil {
		return fmt.Errorf("failed to create repeat timer: %w", err)
	}
	in.repeatTimer = timer

	in.seat = &seat{
		capabilities: in.handleCapabilities,
		name:         func(n string) { in.seatName = n },
	}
	if err := d.registry.bind(name, "wl_seat", version, in.seat); err != nil {
		_ = timer.Close()
		return err
	}
	d.inputs = append(d.inputs, in)
	if d.dataDeviceManager != nil {
		in.createDataDevice()
	}
	return nil
}

// destroyInput tears a seat down, telling focused windows they lost it.
func (d *Display) destroyInput(in *Input) {
	in.removeKeyboardFocus()
	in.setFocusWidget(nil, 0, 0)
	in.cancelTouch()

	if in.dragOffer != nil {
		in.dragOffer.destroy()
		in.dragOffer = nil
	}
	if in.selectionOffer != nil {
		in.selectionOffer.destroy()
		in.selectionOffer = nil
	}
	in.releaseDataDevice()

	if in.pointer != nil {
		in.pointer.release(in.version)
		in.pointer = nil
	}
	if in.keyboard != nil {
		in.keyboard.release(in.version)
		in.keyboard = nil
	}
	if in.touch != nil {
		in.touch.release(in.version)
		in.touch = nil
	}
	in.seat.release(in.version)
	in.seat = nil
	_ = in.repeatTimer.Close()

	for i, x := range d.inputs {
		if x == in {
			d.inputs = append(d.inputs[:i], d.inputs[i+1:]...)
			break
		}
	}
	d.logger.Debug("seat removed", "seat", in.seatName, "name", in.name)
}

// SetCursorHandler installs the function that shows cursor images. Without one only
// CursorBlank has an effect.
func (d *Display) SetCursorHandler(h CursorHandler) {
	d.cursorHandler = h
}

func (in *Input) handleCapabilities(caps uint32) {
	in.caps = caps

	if caps&SeatCapabilityPointer != 0 && in.pointer == nil {
		p := &pointer{
			enter:  in.pointerEnter,
			leave:  in.pointerLeave,
			motion: in.pointerMotion,
			button: in.pointerButton,
			axis:   in.pointerAxis,
		}
		if err := in.seat.getPointer(p); err == nil {
			in.pointer = p
		}
	} else if caps&SeatCapabilityPointer == 0 && in.pointer != nil {
		in.removePointerFocus()
		in.pointer.release(in.version)
		in.pointer = nil
	}

	if caps&SeatCapabilityKeyboard != 0 && in.keyboard == nil {
		k := &keyboard{
			keymap:     in.keyboardKeymap,
			enter:      in.keyboardEnter,
			leave:      in.keyboardLeave,
			key:        in.keyboardKey,
			modifiers:  in.keyboardModifiers,
			repeatInfo: in.keyboardRepeatInfo,
		}
		if err := in.seat.getKeyboard(k); err == nil {
			in.keyboard = k
		}
	} else if caps&SeatCapabilityKeyboard == 0 && in.keyboard != nil {
		in.removeKeyboardFocus()
		in.keyboard.release(in.version)
		in.keyboard = nil
	}

	if caps&SeatCapabilityTouch != 0 && in.touch == nil {
		t := &touch{
			down:   in.touchDown,
			up:     in.touchUp,
			motion: in.touchMotion,
			frame:  in.touchFrame,
			cancel: in.cancelTouch,
		}
		if err := in.seat.getTouch(t); err == nil {
			in.touch = t
		}
	} else if caps&SeatCapabilityTouch == 0 && in.touch != nil {
		in.cancelTouch()
		in.touch.release(in.version)
		in.touch = nil
	}
}

// Name returns the seat name the compositor announced.
func (in *Input) Name() string { return in.seatName }

// Display returns the display the seat belongs to.
func (in *Input) Display() *Display { return in.display }

// Capabilities returns the SeatCapability* bits the seat currently has.
func (in *Input) Capabilities() uint32 { return in.caps }

// Modifiers returns the active modifiers.
func (in *Input) Modifiers() Modifiers { return in.modifiers }

// Position returns the last pointer position in window coordinates.
func (in *Input) Position() (x, y float64) { return in.sx, in.sy }

// PointerFocus returns the window under the pointer, if any.
func (in *Input) PointerFocus() *Window { return in.display.window(in.pointerFocus) }

// KeyboardFocus returns the window with keyboard focus, if any.
func (in *Input) KeyboardFocus() *Window { return in.display.window(in.keyboardFocus) }

// FocusWidget returns the widget under the pointer, if any.
func (in *Input) FocusWidget() *Widget { return in.display.widget(in.focusWidget) }

// GrabWidget returns the widget holding the pointer grab, if any.
func (in *Input) GrabWidget() *Widget { return in.display.widget(in.grab) }

// toWindow converts surface-local coordinates to window coordinates. Subsurfaces are
// offset by their root widget's position.
func (in *Input) toWindow(surfaceID uint32, fx, fy wire.Fixed) (float64, float64) {
	x, y := fx.Float64(), fy.Float64()
	if s := in.display.surfaceByProxyID(surfaceID); s != nil && s.sub != nil {
		x += float64(s.allocation.X)
		y += float64(s.allocation.Y)
	}
	return x, y
}

func (in *Input) pointerEnter(serial, surfaceID uint32, fx, fy wire.Fixed) {
	d := in.display
	d.serial = serial
	in.pointerEnterSerial = serial

	s := d.surfaceByProxyID(surfaceID)
	if s == nil {
		// Destroyed by us already, or not one of ours
		return
	}
	in.pointerFocus = s.window.id
	in.pointerSurface = surfaceID
	in.sx, in.sy = in.toWindow(surfaceID, fx, fy)
	in.setFocusWidget(s.window.findWidget(in.sx, in.sy), in.sx, in.sy)
}

func (in *Input) pointerLeave(serial, _ uint32) {
	in.display.serial = serial
	in.removePointerFocus()
}

func (in *Input) removePointerFocus() {
	if in.pointerFocus == 0 {
		return
	}
	in.setFocusWidget(nil, 0, 0)
	in.pointerFocus = 0
	in.pointerSurface = 0
	in.currentCursor = CursorUnset
}

func (in *Input) pointerMotion(time uint32, fx, fy wire.Fixed) {
	w := in.display.window(in.pointerFocus)
	if w == nil {
		return
	}
	x, y := in.toWindow(in.pointerSurface, fx, fy)
	in.sx, in.sy = x, y

	// After shrinking, the compositor may still deliver motion picked against the old
	// size. Grabs expect input from outside the window.
	alloc := w.mainSurface.allocation
	if in.grab == 0 && (x < float64(alloc.X) || y < float64(alloc.Y) ||
		x > float64(alloc.X+alloc.Width) || y > float64(alloc.Y+alloc.Height)) {
		return
	}

	if in.grab == 0 || in.grabButton == 0 {
		in.setFocusWidget(w.findWidget(x, y), x, y)
	}

	target := in.GrabWidget()
	if target == nil {
		target = in.FocusWidget()
	}
	cursor := CursorLeftPtr
	if target != nil {
		cursor = target.defaultCursor
		if target.Handlers.Motion != nil {
			cursor = target.Handlers.Motion(target, in, time, x, y)
		}
	}
	in.setPointerImage(cursor)
}

// setFocusWidget moves pointer focus, sending leave and enter. While grabbed the
// grab widget receives them.
func (in *Input) setFocusWidget(focus *Widget, x, y float64) {
	old := in.FocusWidget()
	if focus == old {
		return
	}
	if old != nil {
		target := old
		if g := in.GrabWidget(); g != nil {
			target = g
		}
		in.focusWidget = 0
		if target.Handlers.Leave != nil {
			target.Handlers.Leave(target, in)
		}
		if old.tooltip != nil {
			old.DestroyTooltip()
		}
	}
	if focus != nil && !focus.destroyed {
		target := focus
		if g := in.GrabWidget(); g != nil {
			target = g
		}
		in.focusWidget = focus.id
		cursor := target.defaultCursor
		if target.Handlers.Enter != nil {
			cursor = target.Handlers.Enter(target, in, x, y)
		}
		in.setPointerImage(cursor)
	}
}

// Grab sends all pointer events to w until button is released. Button 0 holds the
// grab until Ungrab and also keeps key events from the focused window.
func (in *Input) Grab(w *Widget, button uint32) {
	if w == nil || w.destroyed {
		return
	}
	in.grab = w.id
	in.grabButton = button
	in.setFocusWidget(w, in.sx, in.sy)
}

// Ungrab ends the grab and lets hit-testing pick the focus again.
func (in *Input) Ungrab() {
	in.grab = 0
	in.grabButton = 0
	if w := in.display.window(in.pointerFocus); w != nil {
		in.setFocusWidget(w.findWidget(in.sx, in.sy), in.sx, in.sy)
	}
}

func (in *Input) pointerButton(serial, time, button, state uint32) {
	in.display.serial = serial
	st := ButtonState(state)

	if focus := in.FocusWidget(); focus != nil && in.grab == 0 && st == ButtonPressed {
		in.Grab(focus, button)
	}
	if g := in.GrabWidget(); g != nil && g.Handlers.Button != nil {
		g.Handlers.Button(g, in, time, button, st)
	}
	if in.grab != 0 && in.grabButton == button && st == ButtonReleased {
		in.Ungrab()
	}
}

func (in *Input) pointerAxis(time, axis uint32, value wire.Fixed) {
	target := in.GrabWidget()
	if target == nil {
		target = in.FocusWidget()
	}
	if target != nil && target.Handlers.Axis != nil {
		target.Handlers.Axis(target, in, time, axis, value.Float64())
	}
}

// SetPointerImage shows cursor c while the pointer is over one of our surfaces.
func (in *Input) SetPointerImage(c Cursor) {
	in.setPointerImage(c)
}

func (in *Input) setPointerImage(c Cursor) {
	if in.pointer == nil || in.pointerFocus == 0 {
		return
	}
	// A new enter needs the cursor set again even if it did not change
	force := in.pointerEnterSerial > in.cursorSerial
	if !force && c == in.currentCursor {
		return
	}
	in.currentCursor = c
	in.cursorSerial = in.pointerEnterSerial

	if c == CursorBlank {
		_ = in.pointer.setCursor(in.pointerEnterSerial, nil, 0, 0)
		return
	}
	if h := in.display.cursorHandler; h != nil {
		h(in, c, in.pointerEnterSerial)
	}
}

// Cursor returns the cursor last shown for this seat.
func (in *Input) Cursor() Cursor { return in.currentCursor }

func (in *Input) keyboardKeymap(format uint32, fd int, size uint32) {
	km, err := readKeymap(format, fd, size)
	if err != nil {
		in.display.logger.Warn("failed to load keymap", "seat", in.seatName, "error", err)
		return
	}
	in.keymap = km
	in.modifiers = 0
}

func (in *Input) keyboardEnter(serial, surfaceID uint32, _ []byte) {
	d := in.display
	d.serial = serial
	s := d.surfaceByProxyID(surfaceID)
	if s == nil {
		return
	}
	w := s.window
	in.keyboardFocus = w.id
	if w.Handlers.KeyboardFocus != nil {
		w.Handlers.KeyboardFocus(w, in)
	}
}

func (in *Input) keyboardLeave(serial, _ uint32) {
	in.display.serial = serial
	in.removeKeyboardFocus()
}

func (in *Input) removeKeyboardFocus() {
	_ = in.repeatTimer.Disarm()
	w := in.display.window(in.keyboardFocus)
	in.keyboardFocus = 0
	if w != nil && w.Handlers.KeyboardFocus != nil {
		w.Handlers.KeyboardFocus(w, nil)
	}
}

func (in *Input) keyboardKey(serial, time, key, state uint32) {
	d := in.display
	d.serial = serial
	w := d.window(in.keyboardFocus)
	if w == nil || in.keymap == nil {
		return
	}
	// A button-less grab (window move from a menu, say) swallows keys
	if in.grab != 0 && in.grabButton == 0 {
		return
	}

	pressed := KeyState(state) == KeyPressed
	in.keymap.UpdateKey(key, pressed)
	in.modifiers = in.keymap.Modifiers()
	sym := in.keymap.Keysym(key)

	switch {
	case sym == KeyF5 && in.modifiers == ModAlt:
		if pressed {
			w.SetMaximized(!w.maximized)
		}
	case sym == KeyF11 && w.Handlers.Fullscreen != nil:
		if pressed {
			w.Handlers.Fullscreen(w)
		}
	case sym == KeyF4 && in.modifiers == ModAlt:
		if pressed {
			w.Close()
		}
	case w.Handlers.Key != nil:
		w.Handlers.Key(w, in, time, key, sym, KeyState(state))
	}

	if !pressed && key == in.repeatKey {
		_ = in.repeatTimer.Disarm()
		return
	}
	if pressed && in.keyboardFocus != 0 && in.keymap.KeyRepeats(key) {
		in.repeatSym = sym
		in.repeatKey = key
		in.repeatTime = time
		rate, delay := in.repeatParams()
		if rate <= 0 {
			return
		}
		if err := in.repeatTimer.Arm(delay, repeatInterval(rate)); err != nil {
			d.logger.Warn("failed to arm key repeat", "error", err)
		}
	}
}

// repeatInterval converts a rate in keys per second to the time between repeats.
func repeatInterval(rate int32) time.Duration {
	return time.Second / time.Duration(rate)
}

func (in *Input) repeatKeyFire() {
	w := in.display.window(in.keyboardFocus)
	if w == nil || in.repeatKey == 0 {
		_ = in.repeatTimer.Disarm()
		return
	}
	if w.Handlers.Key != nil {
		w.Handlers.Key(w, in, in.repeatTime, in.repeatKey, in.repeatSym, KeyPressed)
	}
}

func (in *Input) keyboardModifiers(serial, depressed, latched, locked, group uint32) {
	if in.keymap == nil {
		return
	}
	in.keymap.UpdateMask(depressed, latched, locked, group)
	in.modifiers = in.keymap.Modifiers()
}

func (in *Input) keyboardRepeatInfo(rate, delay int32) {
	in.repeatRate = rate
	in.repeatDelay = time.Duration(delay) * time.Millisecond
	in.updateRepeat()
}

// repeatParams merges the compositor's repeat settings with the config. A negative
// configured rate turns repeat off, zero values defer to the compositor.
func (in *Input) repeatParams() (int32, time.Duration) {
	kb := in.display.cfg.Keyboard
	rate, delay := in.repeatRate, in.repeatDelay
	if kb.RepeatRate < 0 {
		return 0, 0
	}
	if kb.RepeatRate > 0 {
		rate = int32(kb.RepeatRate)
	}
	if kb.RepeatDelay > 0 {
		delay = kb.RepeatDelay.D()
	}
	return rate, delay
}

// updateRepeat stops a running repeat that the current settings no longer allow.
func (in *Input) updateRepeat() {
	if rate, _ := in.repeatParams(); rate <= 0 {
		_ = in.repeatTimer.Disarm()
	}
}

// forgetWindow drops every reference the seat holds to w.
func (in *Input) forgetWindow(w *Window) {
	if in.pointerFocus == w.id {
		in.pointerFocus = 0
		in.pointerSurface = 0
		in.currentCursor = CursorUnset
	}
	if in.keyboardFocus == w.id {
		in.keyboardFocus = 0
		_ = in.repeatTimer.Disarm()
	}
	if in.touchFocus == w.id {
		in.touchFocus = 0
	}
	if in.dragFocus == w.id {
		in.dragFocus = 0
	}
	if f := in.FocusWidget(); f != nil && f.window == w {
		in.focusWidget = 0
	}
	if g := in.GrabWidget(); g != nil && g.window == w {
		in.grab = 0
		in.grabButton = 0
	}
}

// forgetWidget drops every reference the seat holds to w. No handlers run for it.
func (in *Input) forgetWidget(w *Widget) {
	if in.focusWidget == w.id {
		in.focusWidget = 0
	}
	if in.grab == w.id {
		in.grab = 0
		in.grabButton = 0
	}
	if in.touchGrab == w.id {
		in.touchGrab = 0
	}
	kept := in.touchPoints[:0]
	for _, tp := range in.touchPoints {
		if tp.widget != w.id {
			kept = append(kept, tp)
		}
	}
	clear(in.touchPoints[len(kept):])
	in.touchPoints = kept
	for i, id := range in.touchUpdated {
		if id == w.id {
			in.touchUpdated = append(in.touchUpdated[:i], in.touchUpdated[i+1:]...)
			break
		}
	}
}
