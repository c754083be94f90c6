package remind

import "time"

// Timer is a cancelable one-shot timer handle.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall-clock time and one-shot timers so tests can drive
// scheduling with a fake clock instead of waiting on real delays.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock returns a Clock backed by the runtime timers.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
