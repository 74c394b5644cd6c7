package dht

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// refreshLoop periodically issues a find_node for a random ID inside every
// bucket whose oldest entry has gone stale, per the bucket-refresh
// maintenance duty in §4.1/§4.2.
func (e *Engine) refreshLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.BucketRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.refreshStaleBuckets()
		}
	}
}

func (e *Engine) refreshStaleBuckets() {
	stale := e.routing.NeedingRefresh(e.config.BucketRefreshInterval, e.tp.Now())
	for _, idx := range stale {
		target := e.routing.RandomIDInBucket(idx, func(b []byte) { _, _ = rand.Read(b) })

		ctx, cancel := context.WithTimeout(e.ctx, e.config.PingTimeout*time.Duration(e.config.MaxRetries+1))
		_, err := e.FindNode(ctx, target)
		cancel()

		if err != nil {
			e.log.WithError(err).WithField("bucket", idx).Debug("bucket refresh lookup failed")
		}
	}
}

// republishLoop periodically re-replicates locally held values to the
// network and drops any that have aged past ExpireInterval.
func (e *Engine) republishLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.RepublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.republishValues()
		}
	}
}

func (e *Engine) republishValues() {
	due := e.store.dueForRepublish(e.config.ExpireInterval, e.tp.Now())

	for key, value := range due {
		ctx, cancel := context.WithTimeout(e.ctx, e.config.PingTimeout)
		e.Store(ctx, key, value)
		cancel()
	}
}

// timeoutSweepLoop periodically drops pending-request entries older than
// twice PingTimeout — a belt-and-braces sweep behind the per-request timer
// in Engine.request, which is what fails a waiter with ErrTimeout. The
// sweep only removes map entries; it does not complete their waiters.
func (e *Engine) timeoutSweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.PingTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.sweepExpiredRequests()
		}
	}
}

func (e *Engine) sweepExpiredRequests() {
	now := e.tp.Now()
	var expired []uint64

	e.pendingMu.Lock()
	for id, waiter := range e.pending {
		if now.Sub(waiter.sent) > e.config.PingTimeout*2 {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(e.pending, id)
	}
	e.pendingMu.Unlock()

	for range expired {
		logrus.WithField("component", "dht").Debug("swept expired pending request")
	}
}
