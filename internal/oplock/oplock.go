// Package oplock provides the single process-wide operation gate shared by
// the importer and the write coordinator. The gate refuses rather than
// queues: a caller that finds it held gets ErrBusy immediately and must
// retry later. It provides no cross-process exclusion; the re-read-before-
// write protocol in the callers is the actual safety net between instances.
package oplock

import "errors"

// ErrBusy is returned when another mutation or sync is in flight.
var ErrBusy = errors.New("operation already in progress")

// Gate is a non-blocking binary semaphore.
type Gate struct {
	ch chan struct{}
}

func New() *Gate {
	return &Gate{ch: make(chan struct{}, 1)}
}

// TryAcquire takes the gate or fails fast with ErrBusy. The returned
// release function is idempotent and must be called on every exit path.
func (g *Gate) TryAcquire() (release func(), err error) {
	select {
	case g.ch <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-g.ch
	}, nil
}

// Held reports whether the gate is currently taken.
func (g *Gate) Held() bool {
	return len(g.ch) == 1
}
