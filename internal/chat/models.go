package chat

import (
	"context"
	"time"
)

// Cache stores replies keyed by prompt. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

const (
	responseKeyPrefix = "chat_response:"
	streamKeyPrefix   = "chat_stream:"
)

// full replies served by POST /chat
func responseKey(prompt string) string { return responseKeyPrefix + prompt }

// JSON token lists replayed by the streaming endpoints
func streamKey(prompt string) string { return streamKeyPrefix + prompt }
