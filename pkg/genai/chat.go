package genai

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ChatSession is a multi-turn conversation. History lives in memory only.
type ChatSession struct {
	a *Assistant

	mu      sync.Mutex
	history []Message
}

// NewChat starts an empty conversation.
func (a *Assistant) NewChat() *ChatSession {
	return &ChatSession{a: a}
}

// Welcome is the greeting shown before the first message.
func (s *ChatSession) Welcome() string {
	return ChatWelcome
}

// SendMessage sends text and returns the reply. Failures return a fallback
// reply and leave the history unchanged.
func (s *ChatSession) SendMessage(ctx context.Context, text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]Message, len(s.history))
	copy(history, s.history)

	reply, err := call(func() (string, error) {
		return s.a.provider.Chat(ctx, ChatRequest{
			Model:   s.a.cfg.ChatModel,
			System:  s.a.cfg.ChatSystemPrompt,
			History: history,
			Message: text,
		})
	})
	if err != nil {
		s.a.logger.Ctx(ctx).Error("chat request failed", zap.Int("turns", len(history)), zap.Error(err))
		return ChatOffline
	}
	if reply == "" {
		return ChatEmpty
	}

	s.history = append(s.history,
		Message{Role: RoleUser, Text: text},
		Message{Role: RoleModel, Text: reply},
	)
	return reply
}

// History returns a copy of the conversation so far.
func (s *ChatSession) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}
