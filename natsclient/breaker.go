package natsclient

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBreakerThreshold = 5
	breakerBaseInterval     = time.Second
)

// breaker counts consecutive failures. Once threshold is reached it trips
// and reports how long the circuit stays open; each trip without an
// intervening success doubles that interval up to maxOpen.
type breaker struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	total       int64
	lastFailure time.Time
	interval    *backoff.ExponentialBackOff
}

func newBreaker(threshold int, maxOpen time.Duration) *breaker {
	if threshold < 1 {
		threshold = defaultBreakerThreshold
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = breakerBaseInterval
	b.MaxInterval = maxOpen
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &breaker{threshold: threshold, interval: b}
}

// failure records one failure. tripped is true when this failure opened
// the circuit, in which case openFor is how long it stays open.
func (b *breaker) failure() (tripped bool, openFor time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	b.lastFailure = time.Now()
	b.consecutive++
	if b.consecutive < b.threshold {
		return false, 0
	}
	b.consecutive = 0
	return true, b.interval.NextBackOff()
}

// success clears the failure streak and the open interval
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.interval.Reset()
}

func (b *breaker) failures() (total int64, last time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, b.lastFailure
}
