package wltoy

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer is a monotonic timerfd watched by an EventLoop.
//
// Disarming resets the expiration count, so a fire that was already reported by epoll
// in the same batch reads EAGAIN and is dropped instead of reaching the callback.
type Timer struct {
	loop     *EventLoop
	fd       int
	fn       func()
	armed    bool
	interval time.Duration
}

// NewTimer creates a disarmed timer that calls fn on the loop goroutine.
func (l *EventLoop) NewTimer(fn func()) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("timerfd_create: %w", err)
	}
	t := &Timer{loop: l, fd: fd, fn: fn}
	if err := l.Watch(fd, EventReadable, NewTask(t.expire)); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return t, nil
}

// Arm starts the timer. A zero interval fires once.
func (t *Timer) Arm(value, interval time.Duration) error {
	if value <= 0 {
		// A zero it_value would disarm the timerfd
		value = time.Nanosecond
	}
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(int64(value)),
		Interval: unix.NsecToTimespec(int64(interval)),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerfd_settime: %w", err)
	}
	t.armed = true
	t.interval = interval
	return nil
}

// Disarm stops the timer.
func (t *Timer) Disarm() error {
	t.armed = false
	var spec unix.ItimerSpec
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerfd_settime: %w", err)
	}
	return nil
}

// Armed reports whether the timer will fire.
func (t *Timer) Armed() bool {
	return t.armed
}

func (t *Timer) expire(uint32) {
	var buf [8]byte
	if _, err := unix.Read(t.fd, buf[:]); err != nil {
		if !errors.Is(err, unix.EAGAIN) {
			t.loop.logger.Warn("timer read failed", "error", err)
		}
		return
	}
	if t.interval == 0 {
		t.armed = false
	}
	t.fn()
}

// Close disarms the timer and releases its descriptor.
func (t *Timer) Close() error {
	if t.fd < 0 {
		return nil
	}
	t.armed = false
	t.loop.Unwatch(t.fd)
	err := unix.Close(t.fd)
	t.fd = -1
	return err
}
