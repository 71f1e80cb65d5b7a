package wltoy

import (
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) *EventLoop {
	t.Helper()
	l, err := NewEventLoop(nil)
	if err != nil {
		t.Fatalf("NewEventLoop: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestDeferRunsOnceAndDrainsNestedTasks(t *testing.T) {
	l := newTestLoop(t)

	var order []string
	var b *Task
	a := NewTask(func(uint32) {
		order = append(order, "a")
		l.Defer(b)
	})
	b = NewTask(func(uint32) { order = append(order, "b") })

	l.Defer(a)
	l.Defer(a) // already queued
	l.drain()

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v, want [a b]", order)
	}
	if len(l.deferred) != 0 {
		t.Errorf("%d tasks left after drain", len(l.deferred))
	}
}

func TestCancelDeferred(t *testing.T) {
	l := newTestLoop(t)
	ran := false
	task := NewTask(func(uint32) { ran = true })

	l.Defer(task)
	l.Cancel(task)
	l.Cancel(task) // not queued any more
	l.drain()
	if ran {
		t.Error("cancelled task ran")
	}

	// A cancelled task can be queued again
	l.Defer(task)
	l.drain()
	if !ran {
		t.Error("requeued task did not run")
	}
}

func TestPostFromOtherGoroutines(t *testing.T) {
	l := newTestLoop(t)

	const n = 20
	got := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Post(func() {
				got++
				if got == n {
					l.Stop()
				}
			})
		}()
	}
	wg.Wait()

	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	if got != n {
		t.Errorf("ran %d posted functions, want %d", got, n)
	}
}

func TestWatchDescriptor(t *testing.T) {
	l := newTestLoop(t)
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		t.Fatal(err)
	}
	defer closeFD(p[0])
	defer closeFD(p[1])

	var events uint32
	if err := l.Watch(p[0], EventReadable, NewTask(func(ev uint32) { events = ev })); err != nil {
		t.Fatal(err)
	}
	if _, err := unix.Write(p[1], []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := l.dispatch(1000); err != nil {
		t.Fatal(err)
	}
	if events&EventReadable == 0 {
		t.Errorf("events = %#x, want readable", events)
	}

	l.Unwatch(p[0])
	events = 0
	if err := l.dispatch(10); err != nil {
		t.Fatal(err)
	}
	if events != 0 {
		t.Error("unwatched fd still dispatched")
	}
}

func TestRunStopsOnFail(t *testing.T) {
	l := newTestLoop(t)
	boom := unix.EIO
	l.Defer(NewTask(func(uint32) { l.Fail(boom) }))
	if err := l.Run(); err != boom {
		t.Errorf("Run = %v, want %v", err, boom)
	}
}

func TestRunFlushesBeforeWaiting(t *testing.T) {
	l := newTestLoop(t)
	var steps []string
	l.Defer(NewTask(func(uint32) { steps = append(steps, "task") }))
	l.beforeWait = func() error {
		steps = append(steps, "flush")
		l.Stop()
		return nil
	}
	// Wake the dispatch right away
	l.Post(func() {})
	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0] != "task" || steps[1] != "flush" {
		t.Errorf("steps = %v, want [task flush]", steps)
	}
}

func TestTimerFires(t *testing.T) {
	l := newTestLoop(t)
	fired := 0
	timer, err := l.NewTimer(func() { fired++ })
	if err != nil {
		t.Fatal(err)
	}
	defer timer.Close()

	if err := timer.Arm(time.Millisecond, 0); err != nil {
		t.Fatal(err)
	}
	if !timer.Armed() {
		t.Error("armed timer reports disarmed")
	}
	deadline := time.Now().Add(5 * time.Second)
	for fired == 0 && time.Now().Before(deadline) {
		if err := l.dispatch(100); err != nil {
			t.Fatal(err)
		}
	}
	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}
	if timer.Armed() {
		t.Error("one-shot timer still armed after firing")
	}
}

func TestTimerDisarmDropsPendingExpiry(t *testing.T) {
	l := newTestLoop(t)
	fired := false
	timer, err := l.NewTimer(func() { fired = true })
	if err != nil {
		t.Fatal(err)
	}
	defer timer.Close()

	if err := timer.Arm(time.Millisecond, 0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	// Expired but not yet dispatched; disarming must swallow it
	if err := timer.Disarm(); err != nil {
		t.Fatal(err)
	}
	timer.expire(EventReadable)
	if fired {
		t.Error("disarmed timer ran its callback")
	}
}

func TestTimerClose(t *testing.T) {
	l := newTestLoop(t)
	timer, err := l.NewTimer(func() {})
	if err != nil {
		t.Fatal(err)
	}
	fd := timer.fd
	if err := timer.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.sources[fd]; ok {
		t.Error("closed timer still watched")
	}
	if err := timer.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStopOnSignal(t *testing.T) {
	l := newTestLoop(t)
	stopped := false
	undo := l.StopOnSignal(func() {
		stopped = true
		l.Stop()
	}, unix.SIGUSR1)
	defer undo()

	guard, err := l.NewTimer(func() { l.Fail(errors.New("signal never stopped the loop")) })
	if err != nil {
		t.Fatal(err)
	}
	defer guard.Close()
	if err := guard.Arm(5*time.Second, 0); err != nil {
		t.Fatal(err)
	}

	l.Defer(NewTask(func(uint32) {
		if err := unix.Kill(unix.Getpid(), unix.SIGUSR1); err != nil {
			t.Error(err)
		}
	}))
	if err := l.Run(); err != nil {
		t.Fatal(err)
	}
	if !stopped {
		t.Error("stop function not called")
	}
}
