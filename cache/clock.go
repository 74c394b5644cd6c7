package cache

import "time"

// TimeProvider abstracts time so reputation decay, TTL checks, and cleanup
// sweeps are deterministically testable, mirroring dht.TimeProvider.
type TimeProvider interface {
	Now() time.Time
}

type systemTimeProvider struct{}

func (systemTimeProvider) Now() time.Time { return time.Now() }
