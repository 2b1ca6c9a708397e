// ABOUTME: Session list loading, filtering, deep-link selection, and explicit selection

package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/marketdesk/internal/api"
)

// LoadSessions replaces the session list with the backend snapshot for
// accountID, keeping only sessions that match filter. Switching to a new
// accountID resets the selection first.
//
// If a deep link is pending and its session is in the snapshot, that session
// becomes active and is returned; the caller should then LoadMessages for it.
// Otherwise the selection is left unchanged and the returned session is nil.
//
// On failure the previous list is kept.
func (r *Reconciler) LoadSessions(ctx context.Context, accountID, filter string) (*api.Session, error) {
	r.mu.Lock()
	r.setAccountLocked(accountID)
	gen := r.generation
	r.sessionsSeq++
	seq := r.sessionsSeq
	r.mu.Unlock()

	list, err := r.backend.ListSessions(ctx, accountID)
	if err != nil {
		r.notify(Notice{Level: LevelError, Message: "loading sessions failed", Err: err})
		return nil, fmt.Errorf("loading sessions: %w", err)
	}

	r.mu.Lock()
	if gen != r.generation || seq != r.sessionsSeq {
		r.mu.Unlock()
		r.logger.Debug("discarding stale session snapshot", "account_id", accountID)
		return nil, ErrStale
	}

	sessions := normalizeSessions(accountID, list.Sessions)
	sessions = filterSessions(sessions, filter)
	r.sessions = sessions

	if i := r.indexLocked(r.activeID); i >= 0 {
		// The active session is being read; a snapshot cannot make it unread.
		r.sessions[i].UnreadCount = 0
		r.active = r.sessions[i]
	}

	var selected *api.Session
	if dl := r.deepLink; dl != nil {
		if i := r.indexLocked(api.SessionKey(dl.BuyerID, dl.ItemID)); i >= 0 {
			r.selectLocked(r.sessions[i])
			r.deepLink = nil
			s := r.active
			selected = &s
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Debug("sessions loaded", "account_id", accountID, "count", count, "filter", filter)
	return selected, nil
}

// Select makes the session with the given id active. Selecting a different
// session clears the timeline; the caller loads history with LoadMessages.
func (r *Reconciler) Select(sessionID string) (api.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(sessionID)
	if i < 0 {
		return api.Session{}, fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}
	r.selectLocked(r.sessions[i])
	return r.active, nil
}

func (r *Reconciler) selectLocked(s api.Session) {
	if s.ID != r.activeID {
		r.base = nil
		r.live = nil
	}
	r.activeID = s.ID
	r.active = s
}

// normalizeSessions keys every session by (buyer, item) and keeps the first
// row for each pair, so the list never holds two sessions for one pair.
func normalizeSessions(accountID string, in []api.Session) []api.Session {
	seen := make(map[string]bool, len(in))
	out := make([]api.Session, 0, len(in))
	for _, s := range in {
		s.ID = api.SessionKey(s.BuyerID, s.ItemID)
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		if s.CookieID == "" {
			s.CookieID = accountID
		}
		if s.UnreadCount < 0 {
			s.UnreadCount = 0
		}
		out = append(out, s)
	}
	return out
}

// filterSessions keeps sessions whose buyer name, buyer id or item title
// contains filter, ignoring case.
func filterSessions(in []api.Session, filter string) []api.Session {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return in
	}
	out := in[:0]
	for _, s := range in {
		if strings.Contains(strings.ToLower(s.BuyerName), filter) ||
			strings.Contains(strings.ToLower(s.BuyerID), filter) ||
			strings.Contains(strings.ToLower(s.ItemTitle), filter) {
			out = append(out, s)
		}
	}
	return out
}
