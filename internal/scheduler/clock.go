package scheduler

import (
	"math/rand"
	"sync"
	"time"
)

// Clock is the loop's source of time. Tests swap it for one that never sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Backoff grows the wait after consecutive failed passes: base doubling per failure,
// capped at max, with jitter over the upper half of the window.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBackoff(base, max time.Duration, seed int64) *Backoff {
	return &Backoff{Base: base, Max: max, rnd: rand.New(rand.NewSource(seed))}
}

// Delay returns the wait after the n-th consecutive failure, n >= 1.
func (b *Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	shift := n - 1
	if shift > 10 {
		shift = 10
	}
	d := b.Base << shift
	if d > b.Max || d <= 0 {
		d = b.Max
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(b.rnd.Int63n(int64(half)+1))
}
