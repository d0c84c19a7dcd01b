package conn

import (
	"container/heap"
	"time"
)

// DelayScheduler re-times already-decoded events to a constant delay
// relative to receipt. Arrival jitter inside the delay window disappears:
// the consumer observes a steady stream at a fixed interpolation latency.
//
// Entries sit in a min-heap keyed by delivery instant; one timer is armed
// for the earliest entry. Ties are broken by insertion order, so events
// pushed within the same tick are never reordered.
type DelayScheduler struct {
	delay time.Duration
	queue schedQueue
	seq   uint64

	timer *time.Timer
	armed bool
}

// NewDelayScheduler creates a scheduler with the given constant delay.
// The timer starts unarmed; C returns nil until the first push.
func NewDelayScheduler(delay time.Duration) *DelayScheduler {
	return &DelayScheduler{delay: delay}
}

// SetDelay changes the delay applied to subsequent pushes. Entries
// already queued keep their original delivery instant.
func (s *DelayScheduler) SetDelay(d time.Duration) {
	s.delay = d
}

// Push schedules ev for delivery at now plus the configured delay and
// re-arms the timer if the entry became the new earliest.
func (s *DelayScheduler) Push(ev Event, now time.Time) {
	at := now.Add(s.delay)
	s.seq++
	heap.Push(&s.queue, scheduled{at: at, seq: s.seq, ev: ev})

	if s.queue[0].at.Equal(at) && s.queue[0].seq == s.seq {
		s.arm(now)
	}
}

// C returns the timer channel to select on, or nil while nothing is
// scheduled. A nil channel blocks forever in a select, which is exactly
// the idle behavior the connection loop wants.
func (s *DelayScheduler) C() <-chan time.Time {
	if !s.armed {
		return nil
	}
	return s.timer.C
}

// Advance pops every entry due at or before now, in scheduled order, and
// re-arms the timer for the next earliest entry or goes idle.
func (s *DelayScheduler) Advance(now time.Time) []Event {
	var out []Event
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		entry := heap.Pop(&s.queue).(scheduled)
		out = append(out, entry.ev)
	}

	s.armed = false
	if s.queue.Len() > 0 {
		s.arm(now)
	}
	return out
}

// Len returns the number of scheduled entries.
func (s *DelayScheduler) Len() int {
	return s.queue.Len()
}

// Stop cancels the armed timer and discards unsent entries. Safe to call
// on an idle or already-stopped scheduler.
func (s *DelayScheduler) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.armed = false
	s.queue = nil
}

func (s *DelayScheduler) arm(now time.Time) {
	d := s.queue[0].at.Sub(now)
	if d < 0 {
		d = 0
	}
	if s.timer == nil {
		s.timer = time.NewTimer(d)
	} else {
		if !s.timer.Stop() {
			select {
			case <-s.timer.C:
			default:
			}
		}
		s.timer.Reset(d)
	}
	s.armed = true
}

type scheduled struct {
	at  time.Time
	seq uint64
	ev  Event
}

type schedQueue []scheduled

func (q schedQueue) Len() int { return len(q) }

func (q schedQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q schedQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *schedQueue) Push(x any) {
	*q = append(*q, x.(scheduled))
}

func (q *schedQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	*q = old[:n-1]
	return entry
}
