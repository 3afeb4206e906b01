package stream

import (
	"sync"
	"sync/atomic"
)

// lifecycle carries the state machine shared by all transports.
type lifecycle struct {
	h        Handler
	state    atomic.Int32
	closing  atomic.Bool
	doneOnce sync.Once
	done     chan struct{}
}

func (l *lifecycle) init(h Handler) {
	if h == nil {
		h = HandlerFuncs{}
	}
	l.h = h
	l.done = make(chan struct{})
	l.state.Store(int32(StateConnecting))
}

func (l *lifecycle) State() State { return State(l.state.Load()) }

func (l *lifecycle) Done() <-chan struct{} { return l.done }

// requestClose reports true only for the first caller.
func (l *lifecycle) requestClose() bool {
	return l.closing.CompareAndSwap(false, true)
}

func (l *lifecycle) closeRequested() bool { return l.closing.Load() }

func (l *lifecycle) markOpen() {
	if l.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		l.h.OnOpen()
	}
}

// finish emits OnClose once and moves to StateClosed.
func (l *lifecycle) finish(code int) {
	l.doneOnce.Do(func() {
		l.state.Store(int32(StateClosed))
		l.h.OnClose(code)
		close(l.done)
	})
}
