package portal

import (
	"context"

	"github.com/khgapparov/flipApp/internal/api"
	"github.com/khgapparov/flipApp/internal/poll"
	"github.com/khgapparov/flipApp/internal/querycache"
)

// ChatService manages a project's chat. Sending and marking read are silent on success.
type ChatService struct {
	p *Portal
}

func chatPath(projectID string) string { return projectPath(projectID) + "/chat" }

// Messages returns a project's chat history.
func (s *ChatService) Messages(ctx context.Context, projectID string, filters api.Params) ([]ChatMessage, error) {
	var out []ChatMessage
	if err := s.p.client.Get(ctx, chatPath(projectID), filters, &out); err != nil {
		return nil, err
	}
	s.p.cache.Set(querycache.WithQuery(querycache.ChatKey(projectID), filters.Encode()), out)
	return out, nil
}

// Send posts a message stamped with the client's current time.
func (s *ChatService) Send(ctx context.Context, projectID string, in MessageInput) (*ChatMessage, error) {
	in.CreatedAt = s.p.timestamp()
	var out ChatMessage
	if err := s.p.client.Post(ctx, chatPath(projectID), in, &out); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to send message")
	}
	s.p.cache.Invalidate(querycache.ChatKey(projectID))
	return &out, nil
}

// Edit changes a message's text.
func (s *ChatService) Edit(ctx context.Context, projectID, messageID string, in MessageInput) (*ChatMessage, error) {
	var out ChatMessage
	if err := s.p.client.Put(ctx, itemPath(chatPath(projectID), messageID), nil, in, &out); err != nil {
		return nil, s.p.fail(ctx, err, "Failed to edit message")
	}
	s.p.cache.Invalidate(querycache.ChatKey(projectID))
	s.p.succeed(ctx, "Message edited successfully")
	return &out, nil
}

// Delete removes a message.
func (s *ChatService) Delete(ctx context.Context, projectID, messageID string) error {
	if err := s.p.client.Delete(ctx, itemPath(chatPath(projectID), messageID), nil); err != nil {
		return s.p.fail(ctx, err, "Failed to delete message")
	}
	s.p.cache.Invalidate(querycache.ChatKey(projectID))
	s.p.succeed(ctx, "Message deleted successfully")
	return nil
}

// MarkRead marks messages as read.
func (s *ChatService) MarkRead(ctx context.Context, projectID string, messageIDs []string) error {
	body := map[string][]string{"messageIds": messageIDs}
	if err := s.p.client.Post(ctx, chatPath(projectID)+"/mark-read", body, nil); err != nil {
		return s.p.fail(ctx, err, "Failed to mark messages as read")
	}
	return nil
}

// Subscribe polls the project's chat and passes every full history to fn.
func (s *ChatService) Subscribe(ctx context.Context, projectID string, fn func([]ChatMessage)) *poll.Subscription {
	return poll.Subscribe(ctx, s.p.polls, querycache.ChatKey(projectID), s.p.intervals.Chat,
		func(ctx context.Context) ([]ChatMessage, error) { return s.Messages(ctx, projectID, nil) },
		fn)
}
