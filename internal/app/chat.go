package app

import (
	"fmt"

	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
)

// ChatLog is the append-only transcript. Render order equals arrival
// order; timestamps are display metadata only, so clock skew between
// participants never reorders the transcript.
type ChatLog struct {
	msgs []*domain.ChatMessage
	byID map[string]*domain.ChatMessage
}

func NewChatLog() *ChatLog {
	return &ChatLog{byID: make(map[string]*domain.ChatMessage)}
}

func (l *ChatLog) Append(m *domain.ChatMessage) {
	l.msgs = append(l.msgs, m)
	l.byID[m.ID] = m
}

func (l *ChatLog) MarkSent(id string) {
	if m, ok := l.byID[id]; ok {
		m.Delivery = domain.DeliverySent
	}
}

func (l *ChatLog) Snapshot() []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(l.msgs))
	for _, m := range l.msgs {
		out = append(out, *m)
	}
	return out
}

func (l *ChatLog) Len() int { return len(l.msgs) }

// SendChatMessage appends a text message optimistically and puts it on
// the wire. On a closed channel the message stays in the sending state
// and the error surfaces for a user-visible retry.
func (c *Coordinator) SendChatMessage(content string) (*domain.ChatMessage, error) {
	return c.sendChat(content, domain.MessageText, nil)
}

// SendFileMessage announces an uploaded file in the transcript. The
// upload itself is the excluded collaborator's concern; only the
// metadata travels the channel.
func (c *Coordinator) SendFileMessage(content, name string, size int64, url string) (*domain.ChatMessage, error) {
	return c.sendChat(content, domain.MessageFile, func(m *domain.ChatMessage) {
		m.FileName = name
		m.FileSize = size
		m.FileURL = url
	})
}

func (c *Coordinator) sendChat(content string, t domain.MessageType, decorate func(*domain.ChatMessage)) (*domain.ChatMessage, error) {
	var msg *domain.ChatMessage
	err := c.callErr(func() error {
		var err error
		msg, err = c.doSendChat(content, t, decorate)
		return err
	})
	return msg, err
}

func (c *Coordinator) doSendChat(content string, t domain.MessageType, decorate func(*domain.ChatMessage)) (*domain.ChatMessage, error) {
	if !c.session.ChatEnabled {
		return nil, fmt.Errorf("chat: %w", ErrFeatureDisabled)
	}
	if c.session.Status.Terminal() {
		return nil, fmt.Errorf("chat: %w", core.ErrInvalidTransition)
	}
	msg, err := domain.NewChatMessage(c.self.ID, c.self.Role, content, t)
	if err != nil {
		return nil, err
	}
	if decorate != nil {
		decorate(msg)
	}
	c.chat.Append(msg)
	env, err := core.NewEnvelope(core.EnvelopeChatMessage, c.self.ID, "", msg)
	if err != nil {
		return msg, err
	}
	if err := c.channel.Send(env); err != nil {
		// Kept in the sending state; the caller retries explicitly.
		return msg, fmt.Errorf("send chat: %w", err)
	}
	// The channel has no application-level ack.
	c.chat.MarkSent(msg.ID)
	c.emit(Event{Kind: EventChatMessage, Message: msg})
	return msg, nil
}

// appendSystem records a lifecycle note in the transcript the way the
// counterpart UIs render them.
func (c *Coordinator) appendSystem(about domain.ParticipantID, role domain.Role, content string) {
	msg, err := domain.NewChatMessage(about, role, content, domain.MessageSystem)
	if err != nil {
		return
	}
	msg.Delivery = domain.DeliverySent
	c.chat.Append(msg)
	c.emit(Event{Kind: EventChatMessage, Message: msg})
}

// Transcript returns a copy of the ordered transcript.
func (c *Coordinator) Transcript() []domain.ChatMessage {
	res := make(chan []domain.ChatMessage, 1)
	if err := c.callErr(func() error { res <- c.chat.Snapshot(); return nil }); err != nil {
		return nil
	}
	return <-res
}
