// ABOUTME: Active session timeline: history loads, live merging, and mark-read
// ABOUTME: Live messages survive a history page that lands after them

package reconcile

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/2389/marketdesk/internal/api"
)

// liveMatchWindow is how far apart a live message and a history row may be
// stamped and still count as the same message.
const liveMatchWindow = time.Second

// LoadMessages replaces the base timeline with the newest history page for
// session, keeping only rows for the session's item. Messages appended live
// since the session was selected are merged back in unless the page already
// contains them. If the session has unread messages they are marked read.
//
// The result is dropped with ErrStale if the account or the active session
// changed while the page was loading.
func (r *Reconciler) LoadMessages(ctx context.Context, accountID string, session api.Session) error {
	r.mu.Lock()
	if accountID != r.accountID {
		r.mu.Unlock()
		return ErrStale
	}
	gen := r.generation
	r.mu.Unlock()

	page, err := r.backend.ListMessages(ctx, accountID, session.BuyerID, api.PageParams{PageSize: r.pageSize})
	if err != nil {
		r.notify(Notice{Level: LevelError, Message: "loading messages failed", Err: err})
		return fmt.Errorf("loading messages: %w", err)
	}

	base := make([]api.Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		if m.ItemID == session.ItemID {
			base = append(base, m)
		}
	}
	slices.SortStableFunc(base, func(a, b api.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt.Time)
	})

	r.mu.Lock()
	if gen != r.generation || r.activeID != session.ID {
		r.mu.Unlock()
		r.logger.Debug("discarding stale history page", "account_id", accountID, "session_id", session.ID)
		return ErrStale
	}
	r.base = base
	r.live = withoutMatches(r.live, base)

	unread := session.UnreadCount
	if i := r.indexLocked(session.ID); i >= 0 {
		unread = r.sessions[i].UnreadCount
	}
	r.mu.Unlock()

	if unread == 0 {
		return nil
	}
	return r.markRead(ctx, accountID, session.ID, session.BuyerID, gen)
}

// MarkRead marks the active session's messages read.
func (r *Reconciler) MarkRead(ctx context.Context) error {
	r.mu.Lock()
	if r.activeID == "" {
		r.mu.Unlock()
		return ErrNoSession
	}
	accountID, sessionID, buyerID, gen := r.accountID, r.activeID, r.active.BuyerID, r.generation
	r.mu.Unlock()

	return r.markRead(ctx, accountID, sessionID, buyerID, gen)
}

func (r *Reconciler) markRead(ctx context.Context, accountID, sessionID, buyerID string, gen uint64) error {
	if _, err := r.backend.MarkRead(ctx, accountID, buyerID); err != nil {
		r.notify(Notice{Level: LevelWarn, Message: "marking messages read failed", Err: err})
		return fmt.Errorf("marking messages read: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return ErrStale
	}
	if i := r.indexLocked(sessionID); i >= 0 {
		r.sessions[i].UnreadCount = 0
	}
	if r.activeID == sessionID {
		r.active.UnreadCount = 0
		markBuyerRead(r.base)
		markBuyerRead(r.live)
	}
	return nil
}

func markBuyerRead(msgs []api.Message) {
	for i := range msgs {
		if msgs[i].SenderType == api.SenderBuyer {
			msgs[i].IsRead = true
		}
	}
}

// appendLiveLocked records a message that arrived outside a history load.
func (r *Reconciler) appendLiveLocked(m api.Message) {
	r.live = append(r.live, m)
}

// timelineLocked merges base and live into one list in creation order. Live
// messages keep their arrival order among themselves.
func (r *Reconciler) timelineLocked() []api.Message {
	out := make([]api.Message, 0, len(r.base)+len(r.live))
	out = append(out, r.base...)
	for _, m := range r.live {
		// Insert after every message stamped at or before m.
		i := len(out)
		for i > 0 && out[i-1].CreatedAt.After(m.CreatedAt.Time) {
			i--
		}
		out = slices.Insert(out, i, m)
	}
	return out
}

// withoutMatches drops live messages that the history page already holds.
func withoutMatches(live, base []api.Message) []api.Message {
	if len(live) == 0 {
		return live
	}
	used := make([]bool, len(base))
	out := live[:0]
	for _, m := range live {
		if j := findMatch(m, base, used); j >= 0 {
			used[j] = true
			continue
		}
		out = append(out, m)
	}
	return out
}

func findMatch(m api.Message, base []api.Message, used []bool) int {
	for j, b := range base {
		if used[j] {
			continue
		}
		if b.SenderType != m.SenderType || b.MessageType != m.MessageType || b.Content != m.Content {
			continue
		}
		d := b.CreatedAt.Sub(m.CreatedAt.Time)
		if d < 0 {
			d = -d
		}
		if d <= liveMatchWindow {
			return j
		}
	}
	return -1
}
