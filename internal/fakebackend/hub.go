// ABOUTME: Live feed fan-out for the fake backend
// ABOUTME: Frames for an account reach that account's subscribers and every global subscriber

package fakebackend

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the per-subscriber frame buffer. A subscriber that
// falls this far behind is treated as dead and dropped.
const subscriberBufferSize = 64

// globalKey holds subscribers that watch every account.
const globalKey = ""

// Hub tracks feed subscribers by account. Subscribing with an empty account
// id watches all accounts.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]chan []byte // cookieID -> subID -> ch
	closed bool
	logger *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[string]chan []byte),
		logger: logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber for cookieID and returns its frame channel
// and id. The channel is closed when the subscriber is removed; that happens
// when ctx ends, when it falls behind, or on Kick or Close.
func (h *Hub) Subscribe(ctx context.Context, cookieID string) (<-chan []byte, string) {
	subID := uuid.NewString()
	ch := make(chan []byte, subscriberBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := h.subs[cookieID]; !ok {
		h.subs[cookieID] = make(map[string]chan []byte)
	}
	h.subs[cookieID][subID] = ch
	count := len(h.subs[cookieID])
	h.mu.Unlock()

	h.logger.Info("feed subscriber added", "cookie_id", cookieID, "sub_id", subID, "count", count)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(cookieID, subID)
	}()

	return ch, subID
}

// Publish delivers frame to cookieID's subscribers and to global subscribers.
// It returns how many subscribers received it. Subscribers whose buffer is
// full are dropped.
func (h *Hub) Publish(cookieID string, frame []byte) int {
	keys := []string{globalKey}
	if cookieID != globalKey {
		keys = append(keys, cookieID)
	}
	return h.send(keys, frame)
}

// Broadcast delivers frame to every subscriber.
func (h *Hub) Broadcast(frame []byte) int {
	h.mu.RLock()
	keys := make([]string, 0, len(h.subs))
	for k := range h.subs {
		keys = append(keys, k)
	}
	h.mu.RUnlock()
	return h.send(keys, frame)
}

func (h *Hub) send(keys []string, frame []byte) int {
	type dead struct{ key, id string }
	var (
		delivered int
		drop      []dead
	)

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block.
	h.mu.RLock()
	for _, key := range keys {
		for id, ch := range h.subs[key] {
			select {
			case ch <- frame:
				delivered++
			default:
				drop = append(drop, dead{key, id})
			}
		}
	}
	h.mu.RUnlock()

	for _, d := range drop {
		h.logger.Warn("dropping slow feed subscriber", "cookie_id", d.key, "sub_id", d.id)
		h.Unsubscribe(d.key, d.id)
	}
	return delivered
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(cookieID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[cookieID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subs, cookieID)
	}

	h.logger.Info("feed subscriber removed", "cookie_id", cookieID, "sub_id", subID)
}

// Kick drops every subscriber of cookieID, or of the global feed when
// cookieID is empty. Their connections close and clients reconnect.
func (h *Hub) Kick(cookieID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[cookieID]
	for _, ch := range subs {
		close(ch)
	}
	delete(h.subs, cookieID)
	return len(subs)
}

// Count returns the number of subscribers for cookieID, or the total across
// all accounts and the global feed when cookieID is empty.
func (h *Hub) Count(cookieID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if cookieID != globalKey {
		return len(h.subs[cookieID])
	}
	total := 0
	for _, subs := range h.subs {
		total += len(subs)
	}
	return total
}

// Accounts lists account ids with at least one subscriber.
func (h *Hub) Accounts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.subs))
	for k := range h.subs {
		if k != globalKey {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Close removes every subscriber. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, subs := range h.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(h.subs, key)
	}
	h.closed = true
	h.logger.Debug("hub closed")
}
