package feature

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/DoyleJ11/livesync/internal/reconcile"
	"github.com/DoyleJ11/livesync/pkg/types"
)

var (
	ErrChatClosed   = errors.New("chat is closed for this scope")
	ErrEmptyMessage = errors.New("message is empty")
)

type ChatSnapshot struct {
	Status   Status
	Open     bool
	Messages []types.ChatMessage
}

// Chat is a scope's message stream, newest first.
type Chat struct {
	base

	mu       sync.RWMutex
	messages []types.ChatMessage
}

func NewChat(ch Channel, opts Options) *Chat {
	c := &Chat{}
	c.init("chat", ch, opts)
	c.on(types.EvtChatMessage, c.onMessage)
	// Settings broadcasts can open or close chat; the session applies
	// them, we only need to tell watchers.
	c.on(types.EvtScopeSettings, func(types.Envelope) { c.changed() })
	return c
}

func (c *Chat) Snapshot() ChatSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ChatSnapshot{
		Status:   statusOf(c.ch),
		Open:     c.ch.Settings().ChatOpen,
		Messages: slices.Clone(c.messages),
	}
}

// Send posts text. It is refused locally while the scope's chat is closed.
func (c *Chat) Send(ctx context.Context, text string) (types.ChatMessage, error) {
	if c.isClosed() {
		return types.ChatMessage{}, ErrFeatureClosed
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.ChatMessage{}, ErrEmptyMessage
	}
	if !c.ch.Settings().ChatOpen {
		return types.ChatMessage{}, ErrChatClosed
	}

	reply, err := c.ch.Call(ctx, types.EvtChatSend, types.ChatMessage{SenderID: c.opts.UserID, Text: text}, c.opts.CallTimeout)
	if err != nil {
		return types.ChatMessage{}, err
	}
	msg, err := replyData[types.ChatMessage](reply)
	if err != nil {
		return types.ChatMessage{}, fmt.Errorf("%s reply: %w", types.EvtChatSend, err)
	}
	if reconcile.ValidateChat(msg) == nil {
		c.apply(msg)
	}
	return msg, nil
}

func (c *Chat) Close() { c.close() }

func (c *Chat) onMessage(env types.Envelope) {
	msg, ok := decode[types.ChatMessage](&c.base, env)
	if !ok {
		return
	}
	if err := reconcile.ValidateChat(msg); err != nil {
		c.drop(env, err)
		return
	}
	c.apply(msg)
}

func (c *Chat) apply(msg types.ChatMessage) {
	c.mu.Lock()
	c.messages = reconcile.Upsert(c.messages, msg, reconcile.ChatID, c.opts.ListLimit)
	c.mu.Unlock()
	c.changed()
}
