package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/streamchat/internal/ai"
)

const (
	defaultCacheTTL    = time.Hour
	defaultReplayDelay = 20 * time.Millisecond
	defaultDemoDelay   = 50 * time.Millisecond
)

type Service struct {
	provider    ai.Provider
	cache       Cache
	cacheTTL    time.Duration
	replayDelay time.Duration
	demoDelay   time.Duration
	log         zerolog.Logger
}

type Option func(*Service)

// WithCache enables reply caching. A nil cache disables it.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithDelays sets the pause between replayed cached tokens and between demo
// tokens.
func WithDelays(replay, demo time.Duration) Option {
	return func(s *Service) {
		s.replayDelay = replay
		s.demoDelay = demo
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(provider ai.Provider, opts ...Option) *Service {
	s := &Service{
		provider:    provider,
		cacheTTL:    defaultCacheTTL,
		replayDelay: defaultReplayDelay,
		demoDelay:   defaultDemoDelay,
		log:         log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "chat").Logger()
	return s
}

// Generate returns a complete reply, from cache when possible. Provider
// failures degrade to the demo reply; only a cancelled ctx is an error.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	key := responseKey(prompt)
	if v, ok := s.cacheGet(ctx, key); ok {
		s.log.Debug().Msg("cache hit: returning cached response")
		return v, nil
	}

	reply, err := s.provider.Chat(ctx, ai.UserPrompt(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.log.Error().Err(err).Msg("provider chat failed, serving demo response")
		return ai.DemoReply(prompt, err), nil
	}

	s.log.Debug().Int("reply_len", len(reply)).Msg("generated response")
	s.cacheSet(ctx, key, reply)
	return reply, nil
}

// Stream emits the reply token by token. It returns immediately with two
// channels; both are closed when streaming ends. The error channel only
// carries ctx cancellation: provider failures fall back to demo tokens.
func (s *Service) Stream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		if err := s.stream(ctx, prompt, out); err != nil {
			errs <- err
		}
	}()

	return out, errs
}

func (s *Service) stream(ctx context.Context, prompt string, out chan<- string) error {
	key := streamKey(prompt)

	// 1) cached token list
	if raw, ok := s.cacheGet(ctx, key); ok {
		var tokens []string
		if err := json.Unmarshal([]byte(raw), &tokens); err == nil {
			s.log.Debug().Int("tokens", len(tokens)).Msg("cache hit: streaming cached tokens")
			return s.replay(ctx, out, tokens, s.replayDelay)
		}
		s.log.Warn().Str("key", key).Msg("ignoring undecodable cached token list")
	}

	// 2) provider stream, collecting tokens for the cache
	pChunks, pErrs := ai.AsStream(s.provider).StreamChat(ctx, ai.UserPrompt(prompt))

	var tokens []string
	for c := range pChunks {
		tokens = append(tokens, c)
		if !send(ctx, out, c) {
			return ctx.Err()
		}
	}

	if err, ok := <-pErrs; ok && err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// 3) demo fallback
		s.log.Error().Err(err).Int("streamed", len(tokens)).Msg("provider stream failed, streaming demo response")
		return s.replay(ctx, out, ai.DemoTokens(prompt, err), s.demoDelay)
	}

	if len(tokens) > 0 {
		if b, err := json.Marshal(tokens); err == nil {
			s.cacheSet(ctx, key, string(b))
		}
	}
	s.log.Debug().Int("tokens", len(tokens)).Msg("stream completed")
	return nil
}

func (s *Service) replay(ctx context.Context, out chan<- string, tokens []string, delay time.Duration) error {
	for _, tok := range tokens {
		if !send(ctx, out, tok) {
			return ctx.Err()
		}
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
	return nil
}

func (s *Service) cacheGet(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	v, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Msg("cache get failed")
		return "", false
	}
	return v, ok
}

func (s *Service) cacheSet(ctx context.Context, key, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("cache set failed")
	}
}

func send(ctx context.Context, out chan<- string, tok string) bool {
	select {
	case out <- tok:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
