package session

import "github.com/suPer8Hu/streamchat/internal/transcript"

type EventKind int

const (
	EventUserMessage EventKind = iota
	EventOpen
	EventToken
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventUserMessage:
		return "user_message"
	case EventOpen:
		return "open"
	case EventToken:
		return "token"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event describes a change made on behalf of the active generation.
type Event struct {
	Kind       EventKind
	Generation uint64
	Token      string
	Code       int
	Err        error
	Loading    bool
	// Message is the transcript entry the event touched, if any.
	Message transcript.Message
}

// Observer is called under the manager lock, in event order. It must not call
// back into the Manager.
type Observer func(Event)

// State is a read-only snapshot of the session.
type State struct {
	ConversationID   string
	ActiveGeneration uint64
	Loading          bool
	Messages         []transcript.Message
}
