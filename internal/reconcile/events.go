// ABOUTME: Merging live feed events into the session list and active timeline
// ABOUTME: The list stays most-recently-active first with one session per (buyer, item)

package reconcile

import (
	"github.com/2389/marketdesk/internal/api"
	"github.com/2389/marketdesk/internal/dedupe"
	"github.com/2389/marketdesk/internal/feed"
)

// OnInboundEvent merges a live event. Only new_message events change state;
// events for another account and repeated frames are ignored. It reports
// whether the event was applied.
func (r *Reconciler) OnInboundEvent(ev feed.Event) bool {
	if ev.Type != feed.TypeNewMessage {
		return false
	}
	if ev.BuyerID == "" {
		r.logger.Warn("dropping new_message without buyer_id", "cookie_id", ev.CookieID)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.CookieID != "" && r.accountID != "" && ev.CookieID != r.accountID {
		return false
	}
	// A stamp coarser than a second cannot tell two identical messages apart.
	if r.frames != nil && hasSubsecond(ev.Timestamp) {
		key := dedupe.Fingerprint(ev.CookieID, ev.ChatID, ev.BuyerID, ev.ItemID, ev.MessageType, ev.Message, ev.Timestamp)
		if r.frames.Seen(key) {
			r.logger.Debug("dropping duplicate frame", "buyer_id", ev.BuyerID, "item_id", ev.ItemID)
			return false
		}
	}

	msg := r.messageFromEvent(ev)
	isActive := r.activeID != "" && r.active.BuyerID == ev.BuyerID && r.active.ItemID == ev.ItemID
	if isActive {
		r.appendLiveLocked(msg)
	}

	id := api.SessionKey(ev.BuyerID, ev.ItemID)
	var s api.Session
	if i := r.indexLocked(id); i >= 0 {
		s = r.sessions[i]
		r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
		if !isActive {
			s.UnreadCount++
		}
		if s.BuyerName == "" {
			s.BuyerName = ev.BuyerName
		}
		if s.BuyerAvatar == "" {
			s.BuyerAvatar = ev.BuyerAvatar
		}
		if s.ChatID == "" {
			s.ChatID = ev.ChatID
		}
	} else {
		s = api.Session{
			ID:          id,
			CookieID:    msg.CookieID,
			BuyerID:     ev.BuyerID,
			BuyerName:   ev.BuyerName,
			BuyerAvatar: ev.BuyerAvatar,
			ItemID:      ev.ItemID,
			ChatID:      ev.ChatID,
		}
		if !isActive {
			s.UnreadCount = 1
		}
	}
	if ev.Message != "" {
		s.LastMessage = ev.Message
	}
	if ev.Timestamp != "" || s.LastMessageTime.IsZero() {
		s.LastMessageTime = msg.CreatedAt
	}

	r.sessions = append([]api.Session{s}, r.sessions...)
	if isActive {
		r.active = s
	}
	return true
}

func hasSubsecond(ts string) bool {
	if ts == "" {
		return false
	}
	t, err := api.ParseTime(ts)
	return err == nil && t.Nanosecond() != 0
}

// messageFromEvent builds a buyer message from a live frame, stamped with the
// frame's timestamp or the current time.
func (r *Reconciler) messageFromEvent(ev feed.Event) api.Message {
	now := r.now()
	created := now
	if ev.Timestamp != "" {
		if t, err := api.ParseTime(ev.Timestamp); err == nil {
			created = t
		}
	}
	msgType := ev.MessageType
	if msgType == "" {
		msgType = api.MessageText
	}
	cookieID := ev.CookieID
	if cookieID == "" {
		cookieID = r.accountID
	}

	m := api.Message{
		ID:          r.nextLocalID(now),
		CookieID:    cookieID,
		ChatID:      ev.ChatID,
		BuyerID:     ev.BuyerID,
		ItemID:      ev.ItemID,
		SenderType:  api.SenderBuyer,
		MessageType: msgType,
		Content:     ev.Message,
		CreatedAt:   api.Time{Time: created},
	}
	if msgType == api.MessageImage {
		m.ImageURL = ev.Message
	}
	return m
}
