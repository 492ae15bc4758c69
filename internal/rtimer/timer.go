// Package rtimer is the single-shot timer collaborator the peer engine
// uses to schedule its service tick. Arming always replaces any previously
// pending arming, matching the §6 collaborator contract.
package rtimer

import "time"

// Timer arms a single callback after a duration, replacing any pending
// arming, and can cancel it before it fires.
type Timer interface {
	// Arm schedules fn to run after d, discarding any previously armed
	// callback that has not yet fired.
	Arm(d time.Duration, fn func())
	// Cancel stops a pending arming, if any.
	Cancel()
}

// StdTimer implements Timer on top of time.AfterFunc. It is not
// goroutine-safe against concurrent Arm/Cancel calls from multiple
// goroutines; the protocol engine only ever touches it from its owning
// event loop, per §5.
type StdTimer struct {
	t *time.Timer
}

func (s *StdTimer) Arm(d time.Duration, fn func()) {
	s.Cancel()
	s.t = time.AfterFunc(d, fn)
}

func (s *StdTimer) Cancel() {
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
}

// Loop wraps a Timer so its callback is handed to submit instead of
// running on the timer's own goroutine. time.AfterFunc fires callbacks on
// a new goroutine per call; without this indirection the peer's Tick
// would run concurrently with the owning Client/Server event-loop
// goroutine that also calls Ingress/Send, breaking the single-owner,
// lock-free model spec.md §5 requires. submit is expected to enqueue fn
// onto the owner's event loop (or drop it if the owner has shut down).
type Loop struct {
	Timer
	Submit func(fn func())
}

func (l *Loop) Arm(d time.Duration, fn func()) {
	l.Timer.Arm(d, func() { l.Submit(fn) })
}
