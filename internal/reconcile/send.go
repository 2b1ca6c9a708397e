// ABOUTME: Sending seller messages from the compose buffer with optimistic append
// ABOUTME: A failed send puts the text back in the compose buffer

package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/marketdesk/internal/api"
)

// Send sends the compose buffer to the active session.
func (r *Reconciler) Send(ctx context.Context) error {
	return r.SendMessage(ctx, r.Compose())
}

// SendMessage sends content to the active session.
//
// The chat id comes from the session, or from the first message on the
// timeline. Without one nothing is sent and ErrNoChatID is returned. On
// success a seller message is appended to the timeline right away; on
// failure content is restored to the compose buffer.
func (r *Reconciler) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	r.mu.Lock()
	if r.activeID == "" {
		r.mu.Unlock()
		r.notify(Notice{Level: LevelWarn, Message: "select a session before sending"})
		return ErrNoSession
	}
	session := r.active
	chatID := session.ChatID
	if chatID == "" {
		if tl := r.timelineLocked(); len(tl) > 0 {
			chatID = tl[0].ChatID
		}
	}
	if chatID == "" {
		r.mu.Unlock()
		r.notify(Notice{Level: LevelWarn, Message: "cannot send yet", Err: ErrNoChatID})
		return ErrNoChatID
	}
	accountID, gen := r.accountID, r.generation
	if strings.TrimSpace(r.compose) == content {
		r.compose = ""
	}
	r.mu.Unlock()

	_, err := r.backend.SendMessage(ctx, accountID, session.BuyerID, api.SendRequest{
		Message:     content,
		MessageType: api.MessageText,
		ChatID:      chatID,
		ItemID:      session.ItemID,
	})
	if err != nil {
		r.mu.Lock()
		r.compose = content
		r.mu.Unlock()
		r.notify(Notice{Level: LevelError, Message: "sending message failed", Err: err})
		return fmt.Errorf("sending message: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation || r.activeID != session.ID {
		// Sent, but the operator has moved on; the next history load shows it.
		return nil
	}

	now := r.now()
	r.appendLiveLocked(api.Message{
		ID:          r.nextLocalID(now),
		CookieID:    accountID,
		ChatID:      chatID,
		BuyerID:     session.BuyerID,
		ItemID:      session.ItemID,
		SenderType:  api.SenderSeller,
		MessageType: api.MessageText,
		Content:     content,
		IsRead:      true,
		CreatedAt:   api.Time{Time: now},
	})
	if r.active.ChatID == "" {
		r.active.ChatID = chatID
	}
	if i := r.indexLocked(session.ID); i >= 0 {
		r.sessions[i].LastMessage = content
		r.sessions[i].LastMessageTime = api.Time{Time: now}
		if r.sessions[i].ChatID == "" {
			r.sessions[i].ChatID = chatID
		}
		r.active = r.sessions[i]
	}
	return nil
}
