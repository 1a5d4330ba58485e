// Package scheduler runs a one-shot, time-ordered queue of actions.
//
// A Scheduler accepts actions until Run is called. Run then executes them
// in fire time order on the calling goroutine, sleeping until each one is
// due, and returns once the queue is empty. Actions with equal fire times
// run in the order they were scheduled.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"time"

	appLog "caltimer/internal/log"
)

// Action is one side effect executed at its fire time.
type Action interface {
	Execute(ctx context.Context) error
	String() string
}

type State int

const (
	Accepting State = iota
	Draining
	Idle
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "accepting"
	case Draining:
		return "draining"
	case Idle:
		return "idle"
	}
	return "unknown"
}

// ErrNotAccepting is returned by Schedule and Run once Run has started.
var ErrNotAccepting = errors.New("scheduler: no longer accepting actions")

// Clock abstracts the wall clock so tests can run without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

// WallClock returns the real clock.
func WallClock() Clock { return wallClock{} }

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entry is a scheduled action.
type Entry struct {
	At     time.Time
	Action Action
	seq    uint64
}

type queue []*Entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].At.Equal(q[j].At) {
		return q[i].seq < q[j].seq
	}
	return q[i].At.Before(q[j].At)
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(*Entry)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// Scheduler is not safe for concurrent use; one goroutine fills it and
// then drains it.
type Scheduler struct {
	clock Clock
	q     queue
	seq   uint64
	state State
}

// Result summarizes a drained queue.
type Result struct {
	Executed int
	Failed   int
	// Abandoned counts actions left in the queue when ctx was canceled.
	Abandoned int
}

func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = WallClock()
	}
	return &Scheduler{clock: clock}
}

// Schedule enqueues a to run at at.
func (s *Scheduler) Schedule(at time.Time, a Action) error {
	if s.state != Accepting {
		return ErrNotAccepting
	}
	heap.Push(&s.q, &Entry{At: at, Action: a, seq: s.seq})
	s.seq++
	return nil
}

func (s *Scheduler) Len() int { return len(s.q) }

func (s *Scheduler) State() State { return s.state }

// Entries returns the queued entries in execution order without removing
// them.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.q))
	for _, e := range s.q {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].seq < out[j].seq
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Run drains the queue. Failing actions are logged and counted; they do not
// stop the drain. Run returns early only when ctx is done, leaving the
// remaining actions unexecuted.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	var res Result
	if s.state != Accepting {
		return res, ErrNotAccepting
	}
	s.state = Draining
	defer func() { s.state = Idle }()

	lg := appLog.Ctx(ctx)
	for s.q.Len() > 0 {
		e := heap.Pop(&s.q).(*Entry)

		if wait := e.At.Sub(s.clock.Now()); wait > 0 {
			lg.Debug("waiting for next action", "action", e.Action.String(), "at", e.At, "wait", wait)
			if err := s.clock.Sleep(ctx, wait); err != nil {
				res.Abandoned = s.q.Len() + 1
				s.q = nil
				return res, err
			}
		}

		if err := e.Action.Execute(ctx); err != nil {
			res.Failed++
			lg.Error("action failed", err, "action", e.Action.String(), "at", e.At)
			continue
		}
		res.Executed++
		lg.Info("action executed", "action", e.Action.String(), "at", e.At)
	}
	return res, nil
}
