package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/streamchat/internal/stream"
	"github.com/suPer8Hu/streamchat/internal/transcript"
)

type fakeConn struct {
	prompt     string
	h          stream.Handler
	closeCalls atomic.Int32
	done       chan struct{}
}

func (c *fakeConn) State() stream.State {
	select {
	case <-c.done:
		return stream.StateClosed
	default:
		return stream.StateOpen
	}
}

func (c *fakeConn) Close() { c.closeCalls.Add(1) }

func (c *fakeConn) Done() <-chan struct{} { return c.done }

// finish plays the transport's side of a close.
func (c *fakeConn) finish(code int) {
	c.h.OnClose(code)
	close(c.done)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Open(_ context.Context, prompt string, h stream.Handler) stream.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeConn{prompt: prompt, h: h, done: make(chan struct{})}
	d.conns = append(d.conns, c)
	return c
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Greater(t, len(d.conns), i)
	return d.conns[i]
}

func user(s string) transcript.Message {
	return transcript.Message{Role: transcript.RoleUser, Content: s}
}

func assistant(s string) transcript.Message {
	return transcript.Message{Role: transcript.RoleAssistant, Content: s}
}

func TestSend_StreamsReplyIntoTranscript(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d)

	gen, err := m.Send("hi")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
	assert.True(t, m.State().Loading)

	c := d.conn(t, 0)
	assert.Equal(t, "hi", c.prompt)
	c.h.OnOpen()
	c.h.OnToken("Hel")
	c.h.OnToken("lo")
	c.finish(stream.CloseNormal)

	st := m.State()
	assert.Equal(t, []transcript.Message{user("hi"), assistant("Hello")}, st.Messages)
	assert.False(t, st.Loading)
	assert.NotEmpty(t, st.ConversationID)
}

func TestSend_ConcatenatesEveryToken(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d)
	_, err := m.Send("count")
	require.NoError(t, err)

	c := d.conn(t, 0)
	want := ""
	for _, tok := range []string{"1", " ", "2", "", " 3", "\n", "четыре"} {
		c.h.OnToken(tok)
		want += tok
	}

	st := m.State()
	last := st.Messages[len(st.Messages)-1]
	assert.Equal(t, transcript.RoleAssistant, last.Role)
	assert.Equal(t, want, last.Content)
	assert.True(t, st.Loading)
}

func TestSend_SupersedesInFlightStream(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d)

	_, err := m.Send("a")
	require.NoError(t, err)
	g2, err := m.Send("b")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), g2)

	first := d.conn(t, 0)
	second := d.conn(t, 1)
	assert.Equal(t, int32(1), first.closeCalls.Load())
	assert.Equal(t, int32(0), second.closeCalls.Load())

	st := m.State()
	assert.Equal(t, []transcript.Message{user("a"), user("b")}, st.Messages)
	assert.Equal(t, uint64(2), st.ActiveGeneration)
	assert.True(t, st.Loading)

	// late events from the retired generation change nothing
	first.h.OnOpen()
	first.h.OnToken("stale")
	first.h.OnError(errors.New("late failure"))
	first.finish(stream.CloseNormal)

	st = m.State()
	assert.Equal(t, []transcript.Message{user("a"), user("b")}, st.Messages)
	assert.True(t, st.Loading)

	second.h.OnToken("fresh")
	second.finish(stream.CloseNormal)

	st = m.State()
	assert.Equal(t, []transcript.Message{user("a"), user("b"), assistant("fresh")}, st.Messages)
	assert.False(t, st.Loading)
}

func TestSend_SupersededPartialReplyIsKept(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d)

	_, err := m.Send("a")
	require.NoError(t, err)
	d.conn(t, 0).h.OnToken("part")

	_, err = m.Send("b")
	require.NoError(t, err)
	d.conn(t, 0).h.OnToken("ial")
	d.conn(t, 1).h.OnToken("new")

	assert.Equal(t, []transcript.Message{
		user("a"), assistant("part"), user("b"), assistant("new"),
	}, m.State().Messages)
}

func TestSend_ErrorThenCloseClearsLoading(t *testing.T) {
	var events []Event
	d := &fakeDialer{}
	m := NewManager(d, WithObserver(func(ev Event) { events = append(events, ev) }))

	_, err := m.Send("hi")
	require.NoError(t, err)
	c := d.conn(t, 0)

	c.h.OnError(errors.New("connection reset"))
	assert.True(t, m.State().Loading, "error alone does not end loading")

	c.finish(stream.CloseAbnormal)
	st := m.State()
	assert.False(t, st.Loading)
	assert.Equal(t, []transcript.Message{user("hi")}, st.Messages)

	kinds := make([]EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventUserMessage, EventError, EventClose}, kinds)
	assert.Equal(t, stream.CloseAbnormal, events[2].Code)
}

func TestSend_ObserverSeesActiveGenerationOnly(t *testing.T) {
	var events []Event
	d := &fakeDialer{}
	m := NewManager(d, WithObserver(func(ev Event) { events = append(events, ev) }))

	_, err := m.Send("a")
	require.NoError(t, err)
	_, err = m.Send("b")
	require.NoError(t, err)

	d.conn(t, 0).h.OnToken("stale")
	d.conn(t, 1).h.OnOpen()
	d.conn(t, 1).h.OnToken("He")
	d.conn(t, 1).h.OnToken("y")
	d.conn(t, 0).finish(stream.CloseNormal)
	d.conn(t, 1).finish(stream.CloseNormal)

	require.Len(t, events, 6)
	assert.Equal(t, EventUserMessage, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].Generation)
	assert.Equal(t, EventUserMessage, events[1].Kind)
	assert.Equal(t, EventOpen, events[2].Kind)
	assert.Equal(t, "He", events[3].Token)
	assert.Equal(t, assistant("Hey"), events[4].Message)
	assert.Equal(t, EventClose, events[5].Kind)
	assert.False(t, events[5].Loading)
	for _, ev := range events[1:] {
		assert.Equal(t, uint64(2), ev.Generation)
	}
}

func TestClose_RetiresActiveStream(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d)

	_, err := m.Send("hi")
	require.NoError(t, err)
	c := d.conn(t, 0)

	m.Close()
	m.Close()
	assert.Equal(t, int32(1), c.closeCalls.Load())
	assert.False(t, m.State().Loading)

	c.h.OnToken("late")
	c.finish(stream.CloseNormal)
	assert.Equal(t, []transcript.Message{user("hi")}, m.State().Messages)

	_, err = m.Send("again")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_CancelsConnectionContext(t *testing.T) {
	var seen context.Context
	d := dialerFunc(func(ctx context.Context, prompt string, h stream.Handler) stream.Conn {
		seen = ctx
		return &fakeConn{h: h, done: make(chan struct{})}
	})
	m := NewManager(d)
	_, err := m.Send("hi")
	require.NoError(t, err)
	require.NoError(t, seen.Err())

	m.Close()
	assert.ErrorIs(t, seen.Err(), context.Canceled)
}

type dialerFunc func(ctx context.Context, prompt string, h stream.Handler) stream.Conn

func (f dialerFunc) Open(ctx context.Context, prompt string, h stream.Handler) stream.Conn {
	return f(ctx, prompt, h)
}

// slowCloseConn blocks in Close until released, like a peer that never
// drains the close frame.
type slowCloseConn struct {
	fakeConn
	entered chan struct{}
	release chan struct{}
}

func (c *slowCloseConn) Close() {
	close(c.entered)
	<-c.release
}

func TestSend_ClosesSupersededConnOutsideLock(t *testing.T) {
	slow := &slowCloseConn{
		fakeConn: fakeConn{done: make(chan struct{})},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	var opened int
	d := dialerFunc(func(ctx context.Context, prompt string, h stream.Handler) stream.Conn {
		opened++
		if opened == 1 {
			slow.h = h
			return slow
		}
		return &fakeConn{prompt: prompt, h: h, done: make(chan struct{})}
	})
	m := NewManager(d)

	_, err := m.Send("first")
	require.NoError(t, err)

	sent := make(chan uint64, 1)
	go func() {
		gen, _ := m.Send("second")
		sent <- gen
	}()

	select {
	case <-slow.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded connection was not closed")
	}

	// the manager stays usable while the old connection is still closing
	state := make(chan State, 1)
	go func() { state <- m.State() }()
	select {
	case st := <-state:
		assert.Equal(t, uint64(2), st.ActiveGeneration)
		assert.True(t, st.Loading)
	case <-time.After(2 * time.Second):
		t.Fatal("State blocked behind a closing connection")
	}

	close(slow.release)
	assert.Equal(t, uint64(2), <-sent)
}
