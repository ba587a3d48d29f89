package piolib

import (
	"errors"
	"runtime"
	"time"
)

var (
	errTimeout = errors.New("piolib: timeout waiting for TX FIFO")
	errBusy    = errors.New("piolib: refreshed faster than max refresh rate")
)

func gosched() {
	runtime.Gosched()
}

// deadline bounds how long a write may block on a full FIFO.
// The zero value never expires.
type deadline struct {
	t time.Time
}

func newDeadline(timeout time.Duration) deadline {
	if timeout <= 0 {
		return deadline{}
	}
	return deadline{t: time.Now().Add(timeout)}
}

func (dl deadline) expired() bool {
	if dl.t.IsZero() {
		return false
	}
	return time.Since(dl.t) > 0
}
