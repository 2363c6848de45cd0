package model

import (
	"time"
)

// ChatMessage is one message within a chat session. Messages are immutable
// once created and are read back in creation-time order.
type ChatMessage struct {
	ID        string
	SessionID string
	Role      string // "user" | "assistant"
	Content   string
	Tokens    int
	CreatedAt time.Time
}

// ChatSession groups messages for one conversation. The only session field
// that mutates after creation is QuestionCount, which increments once per
// completed user question.
type ChatSession struct {
	ID            string
	FieldID       string // optional domain context for system prompts
	QuestionCount int
	Messages      []ChatMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewChatSession(id, fieldID string) *ChatSession {
	return &ChatSession{
		ID:        id,
		FieldID:   fieldID,
		Messages:  make([]ChatMessage, 0, 8),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (s *ChatSession) AddMessage(id, role, content string, tokens int) *ChatMessage {
	s.Messages = append(s.Messages, ChatMessage{
		ID:        id,
		SessionID: s.ID,
		Role:      role,
		Content:   content,
		Tokens:    tokens,
		CreatedAt: time.Now(),
	})
	s.UpdatedAt = time.Now()
	return &s.Messages[len(s.Messages)-1]
}

// RecentMessages returns up to the last n messages in creation order.
func (s *ChatSession) RecentMessages(n int) []ChatMessage {
	if n <= 0 || len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
