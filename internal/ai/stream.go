package ai

import "context"

// StreamProvider is an optional interface. Providers may implement streaming chat.
// Both channels are closed when streaming ends; at most one error is sent.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

// AsStream returns p itself when it streams, otherwise an adapter that emits
// the complete reply as a single chunk.
func AsStream(p Provider) StreamProvider {
	if sp, ok := p.(StreamProvider); ok {
		return sp
	}
	return wholeReply{p}
}

type wholeReply struct {
	Provider
}

func (w wholeReply) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		reply, err := w.Chat(ctx, messages)
		if err != nil {
			errs <- err
			return
		}
		if reply != "" {
			chunks <- reply
		}
	}()
	return chunks, errs
}
