// Package session coordinates streamed replies for a single conversation.
//
// Every Send retires the previous connection by bumping the active
// generation. Each connection's events carry the generation it was opened
// with; anything that does not match the active generation is dropped.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/streamchat/internal/stream"
	"github.com/suPer8Hu/streamchat/internal/transcript"
)

var ErrClosed = errors.New("session: manager closed")

type Manager struct {
	dialer   stream.Dialer
	baseCtx  context.Context
	cancel   context.CancelFunc
	observer Observer
	convID   string
	log      zerolog.Logger

	mu        sync.Mutex
	store     *transcript.Store
	active    stream.Conn
	activeGen uint64
	loading   bool
	closed    bool
}

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithContext sets the parent context of every connection the manager opens.
func WithContext(ctx context.Context) Option {
	return func(m *Manager) { m.baseCtx = ctx }
}

func NewManager(dialer stream.Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:  dialer,
		baseCtx: context.Background(),
		convID:  uuid.NewString(),
		log:     log.Logger,
		store:   transcript.NewStore(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.baseCtx, m.cancel = context.WithCancel(m.baseCtx)
	m.log = m.log.With().Str("component", "session").Str("conv_id", m.convID).Logger()
	return m
}

// Send records prompt as a user message, supersedes any in-flight reply and
// opens a new stream for it. It returns as soon as the stream is started.
func (m *Manager) Send(prompt string) (uint64, error) {
	gen, retired, err := m.begin(prompt)
	if retired != nil {
		// generation already bumped; its close arrives later and is ignored
		retired.Close()
	}
	return gen, err
}

// begin runs the locked part of Send and hands back the superseded
// connection, which is closed after the lock is released.
func (m *Manager) begin(prompt string) (uint64, stream.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, nil, ErrClosed
	}

	// 1) user message
	userMsg := transcript.Message{Role: transcript.RoleUser, Content: prompt}
	if err := m.store.Append(userMsg); err != nil {
		return 0, nil, err
	}

	// 2) retire the previous generation
	retired := m.active
	if retired != nil {
		m.log.Debug().Uint64("generation", m.activeGen).Msg("superseding in-flight stream")
		m.active = nil
	}

	// 3) new generation
	m.activeGen++
	gen := m.activeGen
	m.loading = true
	m.notify(Event{Kind: EventUserMessage, Generation: gen, Loading: true, Message: userMsg})

	// 4) open; the dialer never calls back synchronously
	m.active = m.dialer.Open(m.baseCtx, prompt, &generationHandler{m: m, gen: gen})
	m.log.Info().Uint64("generation", gen).Int("prompt_len", len(prompt)).Msg("stream requested")
	return gen, retired, nil
}

// State returns a snapshot of the transcript and loading state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		ConversationID:   m.convID,
		ActiveGeneration: m.activeGen,
		Loading:          m.loading,
		Messages:         m.store.Messages(),
	}
}

// Close retires the active stream and refuses further sends.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	retired := m.active
	if retired != nil {
		m.activeGen++
		m.active = nil
	}
	m.loading = false
	m.mu.Unlock()

	if retired != nil {
		retired.Close()
	}
	m.cancel()
	m.log.Debug().Msg("session closed")
}

func (m *Manager) notify(ev Event) {
	if m.observer != nil {
		m.observer(ev)
	}
}

// current must be called with m.mu held.
func (m *Manager) current(gen uint64) bool {
	return gen == m.activeGen && m.active != nil
}

type generationHandler struct {
	m   *Manager
	gen uint64
}

func (h *generationHandler) OnOpen() {
	m := h.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(h.gen) {
		return
	}
	m.log.Debug().Uint64("generation", h.gen).Msg("stream open")
	m.notify(Event{Kind: EventOpen, Generation: h.gen, Loading: m.loading})
}

func (h *generationHandler) OnToken(token string) {
	m := h.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(h.gen) {
		m.log.Debug().Uint64("generation", h.gen).Msg("dropping superseded token")
		return
	}
	m.store.MergeToken(token)
	last, _ := m.store.Last()
	m.notify(Event{Kind: EventToken, Generation: h.gen, Token: token, Loading: m.loading, Message: last})
}

func (h *generationHandler) OnError(err error) {
	m := h.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(h.gen) {
		m.log.Debug().Err(err).Uint64("generation", h.gen).Msg("superseded stream error")
		return
	}
	// no retry; OnClose follows and clears loading
	m.log.Warn().Err(err).Uint64("generation", h.gen).Msg("stream error")
	m.notify(Event{Kind: EventError, Generation: h.gen, Err: err, Loading: m.loading})
}

func (h *generationHandler) OnClose(code int) {
	m := h.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(h.gen) {
		m.log.Debug().Uint64("generation", h.gen).Int("code", code).Msg("superseded stream closed")
		return
	}
	m.active = nil
	m.loading = false
	m.log.Info().Uint64("generation", h.gen).Int("code", code).Msg("stream closed")
	m.notify(Event{Kind: EventClose, Generation: h.gen, Code: code, Loading: false})
}
