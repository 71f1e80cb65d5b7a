package wltoy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// Readiness flags passed to a Task watching a descriptor.
const (
	EventReadable = unix.EPOLLIN
	EventWritable = unix.EPOLLOUT
	EventHangup   = unix.EPOLLHUP | unix.EPOLLERR
)

// Task is a unit of work run by the EventLoop, either because the descriptor it
// watches became ready or because it was deferred. A deferred task runs with events 0.
type Task struct {
	run      func(events uint32)
	deferred bool
}

// NewTask wraps fn in a Task.
func NewTask(fn func(events uint32)) *Task {
	return &Task{run: fn}
}

// EventLoop multiplexes descriptors and deferred tasks on one goroutine. All methods
// except Post must be called from that goroutine.
type EventLoop struct {
	epfd     int
	wakefd   int
	sources  map[int]*Task
	deferred []*Task
	events   []unix.EpollEvent

	running bool
	err     error

	// beforeWait runs after deferred tasks drain, right before blocking.
	beforeWait func() error

	mu     sync.Mutex
	posted []func()

	logger *slog.Logger
}

// NewEventLoop creates an event loop backed by epoll with an eventfd for wakeups.
func NewEventLoop(logger *slog.Logger) (*EventLoop, error) {
	if logger == nil {
		logger = slog.Default()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	l := &EventLoop{
		epfd:    epfd,
		wakefd:  wakefd,
		sources: make(map[int]*Task),
		events:  make([]unix.EpollEvent, 16),
		logger:  logger,
	}
	if err := l.Watch(wakefd, EventReadable, NewTask(l.runPosted)); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return l, nil
}

// Watch registers fd. t runs whenever any of events is ready.
func (l *EventLoop) Watch(fd int, events uint32, t *Task) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("watch fd %d: %w", fd, err)
	}
	l.sources[fd] = t
	return nil
}

// Modify changes the events a watched fd is registered for.
func (l *EventLoop) Modify(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("modify fd %d: %w", fd, err)
	}
	return nil
}

// Unwatch removes fd. Pending readiness already collected for it is discarded.
func (l *EventLoop) Unwatch(fd int) {
	if _, ok := l.sources[fd]; !ok {
		return
	}
	delete(l.sources, fd)
	_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Defer queues t to run before the loop next blocks. Deferring a queued task is a no-op.
func (l *EventLoop) Defer(t *Task) {
	if t.deferred {
		return
	}
	t.deferred = true
	l.deferred = append(l.deferred, t)
}

// Cancel removes t from the deferred queue.
func (l *EventLoop) Cancel(t *Task) {
	if !t.deferred {
		return
	}
	t.deferred = false
	for i, q := range l.deferred {
		if q == t {
			l.deferred = append(l.deferred[:i], l.deferred[i+1:]...)
			return
		}
	}
}

// Post schedules fn on the loop goroutine. It is the only method safe to call from
// other goroutines.
func (l *EventLoop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()

	var one [8]byte
	one[0] = 1
	if _, err := unix.Write(l.wakefd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		l.logger.Warn("failed to wake event loop", "error", err)
	}
}

func (l *EventLoop) runPosted(uint32) {
	var buf [8]byte
	_, _ = unix.Read(l.wakefd, buf[:])

	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, fn := range posted {
		fn()
	}
}

// drain runs deferred tasks until none are left, including ones queued while draining.
func (l *EventLoop) drain() {
	for len(l.deferred) > 0 {
		t := l.deferred[0]
		l.deferred = l.deferred[1:]
		t.deferred = false
		t.run(0)
	}
}

// dispatch blocks for at most timeoutMs (-1 forever) and runs the tasks of every
// ready descriptor from a single epoll_wait.
func (l *EventLoop) dispatch(timeoutMs int) error {
	n, err := unix.EpollWait(l.epfd, l.events, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := l.events[i]
		// An earlier task in this batch may have unwatched it
		t, ok := l.sources[int(ev.Fd)]
		if !ok {
			continue
		}
		t.run(ev.Events)
	}
	return nil
}

// Run processes events until Stop or Fail is called. Each iteration drains every
// deferred task, runs beforeWait, then sleeps until a descriptor is ready.
func (l *EventLoop) Run() error {
	l.running = true
	l.err = nil
	for {
		l.drain()
		if !l.running {
			break
		}
		if l.beforeWait != nil {
			if err := l.beforeWait(); err != nil {
				l.Fail(err)
				break
			}
		}
		if err := l.dispatch(-1); err != nil {
			l.Fail(err)
			break
		}
		if !l.running {
			break
		}
	}
	return l.err
}

// Stop makes Run return after the current iteration.
func (l *EventLoop) Stop() {
	l.running = false
}

// Fail stops the loop and makes Run return err.
func (l *EventLoop) Fail(err error) {
	if l.err == nil {
		l.err = err
	}
	l.running = false
}

// StopOnSignal stops the loop when any of sigs arrives. The returned function
// undoes the registration.
func (l *EventLoop) StopOnSignal(stop func(), sigs ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sigs...)
	go func() {
		for {
			select {
			case sig := <-ch:
				l.logger.Info("received signal, stopping", "signal", sig.String())
				l.Post(stop)
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

// Close releases the loop's descriptors. Watched descriptors are not closed.
func (l *EventLoop) Close() error {
	l.sources = nil
	l.deferred = nil
	err := unix.Close(l.wakefd)
	if cerr := unix.Close(l.epfd); err == nil {
		err = cerr
	}
	return err
}
