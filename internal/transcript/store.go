package transcript

import "fmt"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store is the ordered conversation history. History only grows.
// It is not safe for concurrent use; the owner serializes access.
type Store struct {
	msgs []Message
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Append(m Message) error {
	if !m.Role.Valid() {
		return fmt.Errorf("transcript: invalid role %q", m.Role)
	}
	s.msgs = append(s.msgs, m)
	return nil
}

// ExtendsLast reports whether a streamed token belongs to the last message
// of msgs instead of starting a new assistant message.
func ExtendsLast(msgs []Message) bool {
	if len(msgs) == 0 {
		return false
	}
	return msgs[len(msgs)-1].Role == RoleAssistant
}

// MergeToken concatenates token onto the trailing assistant message, or
// starts a new assistant message when the last one is not an assistant's.
func (s *Store) MergeToken(token string) {
	if ExtendsLast(s.msgs) {
		s.msgs[len(s.msgs)-1].Content += token
		return
	}
	s.msgs = append(s.msgs, Message{Role: RoleAssistant, Content: token})
}

func (s *Store) Len() int { return len(s.msgs) }

func (s *Store) Last() (Message, bool) {
	if len(s.msgs) == 0 {
		return Message{}, false
	}
	return s.msgs[len(s.msgs)-1], true
}

// Messages returns a copy of the history in insertion order.
func (s *Store) Messages() []Message {
	return append([]Message(nil), s.msgs...)
}
