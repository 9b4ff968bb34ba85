package loop

import "time"

// TimerWatcher is a single armed timer (spec §4.1 "timer"), kept in the
// reactor's deadline heap. Stop cancels it; a canceled timer is lazily
// dropped out of the heap the next time the reactor looks at it.
type TimerWatcher struct {
	deadline time.Time
	repeat   time.Duration
	cb       func()
	canceled bool
	index    int
}

// Stop cancels the timer. Reactor-thread only — the same goroutine that
// armed it.
func (t *TimerWatcher) Stop() { t.canceled = true }

// timerHeap is a container/heap ordered by deadline, giving the reactor
// O(log n) access to the next timer to fire.
type timerHeap []*TimerWatcher

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*TimerWatcher)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
