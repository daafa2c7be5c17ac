package game

import (
	"sync"
	"time"
)

type task int

const (
	taskCountdown task = iota
	taskDeadline
	taskReveal
	taskNextRound
)

type firing struct {
	gen  uint64
	task task
}

// scheduler runs one-shot delayed tasks on the engine loop. Reset cancels
// everything pending; a task that already fired but was not yet consumed
// carries a stale generation and is ignored by the loop.
type scheduler interface {
	After(d time.Duration, t task)
	Reset()
	Live(gen uint64) bool
}

type timerScheduler struct {
	mu     sync.Mutex
	gen    uint64
	nextID uint64
	timers map[uint64]*time.Timer
	out    chan<- firing
	done   <-chan struct{}
}

func newTimerScheduler(out chan<- firing, done <-chan struct{}) *timerScheduler {
	return &timerScheduler{
		timers: make(map[uint64]*time.Timer),
		out:    out,
		done:   done,
	}
}

func (s *timerScheduler) After(d time.Duration, t task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	f := firing{gen: s.gen, task: t}
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		select {
		case s.out <- f:
		case <-s.done:
		}
	})
}

func (s *timerScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.gen++
}

func (s *timerScheduler) Live(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

func (s *timerScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
