package wltoy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/bnema/wltoy/internal/config"
	"github.com/bnema/wltoy/internal/portal"
	"github.com/bnema/wltoy/wire"
)

// Options configures Connect. The zero value connects to $WAYLAND_DISPLAY with the
// user's config file and the default logger.
type Options struct {
	// Name of the compositor socket; empty means $WAYLAND_DISPLAY.
	Name string

	Logger *slog.Logger

	// ConfigPath overrides $XDG_CONFIG_HOME/wltoy/config.toml.
	ConfigPath string
	// WatchConfig reloads the config file when it changes.
	WatchConfig bool

	// RenderContext enables the hardware buffer backend. Nil means software only.
	RenderContext RenderContext

	// HandleSignals makes SIGINT and SIGTERM stop Run the same way Exit does.
	HandleSignals bool

	// DesktopSettings looks up the cursor theme through the desktop portal when the
	// config file does not set one.
	DesktopSettings bool

	GlobalHandler       GlobalHandler
	GlobalRemoveHandler GlobalHandler
}

// Display is the connection to the compositor and the root of all toolkit state.
// It is not safe for concurrent use; everything runs on the goroutine calling Run,
// other goroutines reach it through Post.
type Display struct {
	conn       *wire.Conn
	loop       *EventLoop
	logger     *slog.Logger
	cfg        *config.Config
	connTask   *Task
	connEvents uint32
	closed     bool

	objects map[uint32]dispatcher
	zombies map[uint32]zombie
	freeIDs []uint32
	nextID  uint32

	registry          *registry
	compositor        *compositor
	subcompositor     *subcompositor
	shm               *shm
	wmBase            *xdgWmBase
	dataDeviceManager *dataDeviceManager

	globals             []Global
	globalHandler       GlobalHandler
	globalRemoveHandler GlobalHandler

	shmFormats []uint32
	hasRGB565  bool

	windows      []*Window
	windowIDs    map[WindowID]*Window
	nextWindowID WindowID
	widgets      map[WidgetID]*Widget
	nextWidgetID WidgetID
	inputs       []*Input
	outputs      []*Output

	outputConfigureHandler func(*Output)

	renderer     RenderContext
	warnedNoHW   bool
	serial       uint32
	cursorTheme  string
	cursorSize   int
	tooltipPaint TooltipPainter

	cursorHandler CursorHandler

	stopSignals func()
	watcher     *config.Watcher

	// now is replaced in tests.
	now func() time.Time
}

// Connect opens a connection to the compositor, binds the core globals and waits for
// the initial state (shm formats, seat capabilities, outputs) to arrive.
func Connect(opts Options) (*Display, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	conn, err := wire.Dial(opts.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to display: %w", err)
	}
	d, err := newDisplay(conn, cfg, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := d.init(opts); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// newDisplay builds the client state over conn and requests the registry. Nothing is
// flushed until the first roundtrip or loop iteration.
func newDisplay(conn *wire.Conn, cfg *config.Config, opts Options) (*Display, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	loop, err := NewEventLoop(logger)
	if err != nil {
		return nil, err
	}
	d := &Display{
		conn:                conn,
		loop:                loop,
		logger:              logger,
		cfg:                 cfg,
		objects:             make(map[uint32]dispatcher),
		zombies:             make(map[uint32]zombie),
		nextID:              displayObjectID + 1,
		windowIDs:           make(map[WindowID]*Window),
		widgets:             make(map[WidgetID]*Widget),
		renderer:            opts.RenderContext,
		globalHandler:       opts.GlobalHandler,
		globalRemoveHandler: opts.GlobalRemoveHandler,
		cursorTheme:         cfg.Cursor.Theme,
		cursorSize:          cfg.Cursor.Size,
		now:                 time.Now,
	}
	loop.beforeWait = d.flush

	d.registry = &registry{}
	d.registry.global = d.handleGlobal
	d.registry.globalRemove = d.handleGlobalRemove
	id := d.register(d.registry)
	if err := conn.Send(displayObjectID, 1, wire.NewID(id)); err != nil { // get_registry
		_ = loop.Close()
		return nil, err
	}
	return d, nil
}

func (d *Display) init(opts Options) error {
	// Globals, then the events sent in reply to binding them
	if err := d.Roundtrip(); err != nil {
		return err
	}
	if err := d.Roundtrip(); err != nil {
		return err
	}
	if err := d.checkGlobals(); err != nil {
		return err
	}

	d.connEvents = EventReadable
	d.connTask = NewTask(d.handleConn)
	if err := d.loop.Watch(d.conn.FD(), d.connEvents, d.connTask); err != nil {
		return err
	}

	if opts.HandleSignals {
		d.stopSignals = d.loop.StopOnSignal(d.Exit, os.Interrupt, syscall.SIGTERM)
	}
	if opts.WatchConfig {
		w, err := config.NewWatcher(opts.ConfigPath, d.logger, func(cfg *config.Config) {
			d.loop.Post(func() { d.applyConfig(cfg) })
		})
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		if err := w.Start(); err != nil {
			d.logger.Warn("config watcher disabled", "error", err)
		} else {
			d.watcher = w
		}
	}
	if opts.DesktopSettings && d.cursorTheme == "" {
		theme, size, err := portal.CursorSettings()
		if err != nil {
			d.logger.Debug("desktop cursor settings unavailable", "error", err)
		} else {
			d.cursorTheme, d.cursorSize = theme, size
		}
	}

	d.logger.Info("display connected",
		"globals", len(d.globals),
		"outputs", len(d.outputs),
		"seats", len(d.inputs),
		"hardware", d.renderer != nil,
	)
	return nil
}

func (d *Display) checkGlobals() error {
	switch {
	case d.compositor == nil:
		return fmt.Errorf("%w: wl_compositor", ErrMissingGlobal)
	case d.shm == nil:
		return fmt.Errorf("%w: wl_shm", ErrMissingGlobal)
	case d.wmBase == nil:
		return fmt.Errorf("%w: xdg_wm_base", ErrMissingGlobal)
	}
	return nil
}

// applyConfig installs a reloaded config. Running windows pick it up on their next
// redraw, seats on their next key press.
func (d *Display) applyConfig(cfg *config.Config) {
	d.cfg = cfg
	if cfg.Cursor.Theme != "" {
		d.cursorTheme = cfg.Cursor.Theme
	}
	if cfg.Cursor.Size != 0 {
		d.cursorSize = cfg.Cursor.Size
	}
	for _, in := range d.inputs {
		in.updateRepeat()
	}
	d.logger.Info("config applied", "backend", cfg.Render.Backend, "resize_throttle", cfg.Redraw.ResizeThrottle)
}

func (d *Display) handleDisplayEvent(m *wire.Message) error {
	switch m.Opcode {
	case 0: // error
		objectID, code, msg := m.Uint32(), m.Uint32(), m.String()
		err := &ProtocolError{
			ObjectID:  objectID,
			Interface: d.interfaceOf(objectID),
			Code:      code,
			Message:   msg,
		}
		d.logger.Error("protocol error", "object", objectID, "interface", err.Interface, "code", code, "message", msg)
		return err
	case 1: // delete_id
		d.deleteID(m.Uint32())
	}
	return nil
}

func (d *Display) interfaceOf(id uint32) string {
	if id == displayObjectID {
		return "wl_display"
	}
	obj, ok := d.objects[id]
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%T", obj)
}

func closeFD(fd int) {
	_ = unix.Close(fd)
}

// readEvents reads what the socket has and dispatches every complete message.
// Messages that arrived before a hang-up are dispatched first, so a final
// wl_display.error still surfaces as a *ProtocolError.
func (d *Display) readEvents() error {
	_, err := d.conn.Fill()
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if derr := d.dispatchPending(); derr != nil {
		return derr
	}
	if err != nil {
		return fmt.Errorf("%w: compositor hung up", ErrClosed)
	}
	return nil
}

func (d *Display) dispatchPending() error {
	for {
		m, err := d.conn.Next()
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		if err := d.dispatchMessage(m); err != nil {
			return err
		}
	}
}

func (d *Display) handleConn(events uint32) {
	if events&EventReadable != 0 {
		if err := d.readEvents(); err != nil {
			d.loop.Fail(err)
			return
		}
	} else if events&EventHangup != 0 {
		d.loop.Fail(fmt.Errorf("%w: connection hung up", ErrClosed))
		return
	}
	if events&EventWritable != 0 {
		if err := d.flush(); err != nil {
			d.loop.Fail(err)
		}
	}
}

// flush writes queued requests. When the socket is full it asks the loop for
// writability and finishes from handleConn.
func (d *Display) flush() error {
	err := d.conn.Flush()
	if errors.Is(err, wire.ErrWouldBlock) {
		if d.connEvents&EventWritable == 0 && d.connTask != nil {
			d.connEvents = EventReadable | EventWritable
			return d.loop.Modify(d.conn.FD(), d.connEvents)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if d.connEvents&EventWritable != 0 {
		d.connEvents = EventReadable
		return d.loop.Modify(d.conn.FD(), d.connEvents)
	}
	return nil
}

// Roundtrip blocks until the compositor has processed every request sent so far,
// dispatching events as they arrive.
func (d *Display) Roundtrip() error {
	if d.closed {
		return ErrClosed
	}
	done := false
	cb := &callback{done: func(uint32) { done = true }}
	id := d.register(cb)
	if err := d.conn.Send(displayObjectID, 0, wire.NewID(id)); err != nil { // sync
		d.forget(cb, nil)
		return err
	}
	for !done {
		for {
			err := d.conn.Flush()
			if err == nil {
				break
			}
			if !errors.Is(err, wire.ErrWouldBlock) {
				return err
			}
			if err := d.conn.Wait(unix.POLLOUT, -1); err != nil {
				return err
			}
		}
		if err := d.conn.Wait(unix.POLLIN, -1); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: compositor hung up", ErrClosed)
			}
			return err
		}
		if err := d.readEvents(); err != nil {
			return err
		}
	}
	return nil
}

// Run dispatches events until Exit is called or the connection fails.
func (d *Display) Run() error {
	if d.closed {
		return ErrClosed
	}
	return d.loop.Run()
}

// Exit makes Run return once the current iteration finishes.
func (d *Display) Exit() {
	d.loop.Stop()
}

// Post runs fn on the display goroutine. Safe to call from any goroutine.
func (d *Display) Post(fn func()) {
	d.loop.Post(fn)
}

// Loop exposes the event loop for watching application descriptors.
func (d *Display) Loop() *EventLoop {
	return d.loop
}

// Serial returns the most recent input serial, as needed by move and resize requests.
func (d *Display) Serial() uint32 {
	return d.serial
}

// Logger returns the display's logger.
func (d *Display) Logger() *slog.Logger {
	return d.logger
}

// HasRGB565 reports whether the compositor advertised the 16-bit shm format.
func (d *Display) HasRGB565() bool {
	return d.hasRGB565
}

// ShmFormats returns the shm pixel formats the compositor advertised.
func (d *Display) ShmFormats() []uint32 {
	return append([]uint32(nil), d.shmFormats...)
}

// Config returns the configuration in effect.
func (d *Display) Config() *config.Config {
	return d.cfg
}

// Windows returns the live windows in creation order.
func (d *Display) Windows() []*Window {
	return append([]*Window(nil), d.windows...)
}

// Inputs returns the seats in announcement order.
func (d *Display) Inputs() []*Input {
	return append([]*Input(nil), d.inputs...)
}

// Outputs returns the outputs in announcement order.
func (d *Display) Outputs() []*Output {
	return append([]*Output(nil), d.outputs...)
}

// CursorTheme returns the configured pointer theme and size.
func (d *Display) CursorTheme() (string, int) {
	return d.cursorTheme, d.cursorSize
}

// Close tears everything down: windows, seats, outputs, then the connection.
func (d *Display) Close() error {
	if d.closed {
		return nil
	}
	if d.stopSignals != nil {
		d.stopSignals()
	}
	if d.watcher != nil {
		_ = d.watcher.Stop()
	}

	for len(d.windows) > 0 {
		d.windows[len(d.windows)-1].Destroy()
	}
	for len(d.inputs) > 0 {
		d.destroyInput(d.inputs[len(d.inputs)-1])
	}
	for len(d.outputs) > 0 {
		d.destroyOutput(d.outputs[len(d.outputs)-1])
	}
	if d.wmBase != nil {
		d.wmBase.destroy()
	}
	if d.subcompositor != nil {
		d.subcompositor.destroy()
	}
	if d.dataDeviceManager != nil {
		d.forget(d.dataDeviceManager, nil)
	}
	d.closed = true

	if err := d.conn.Flush(); err != nil && !errors.Is(err, wire.ErrClosed) {
		d.logger.Debug("final flush failed", "error", err, "pending", humanize.Bytes(uint64(d.conn.Buffered())))
	}
	err := d.loop.Close()
	if cerr := d.conn.Close(); err == nil {
		err = cerr
	}
	d.logger.Debug("display closed")
	return err
}
