// ABOUTME: End-to-end workbench tests against the in-memory fake backend

package workbench

import (
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/marketdesk/internal/api"
	"github.com/2389/marketdesk/internal/config"
	"github.com/2389/marketdesk/internal/fakebackend"
	"github.com/2389/marketdesk/internal/feed"
	"github.com/2389/marketdesk/internal/reconcile"
)

const waitFor = 2 * time.Second

type harness struct {
	backend *fakebackend.Server
	wb      *Workbench

	mu      sync.Mutex
	notices []reconcile.Notice
	events  []feed.Event
}

func (h *harness) noticeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.notices)
}

func (h *harness) eventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func newHarness(t *testing.T, workbenchYAML string) *harness {
	t.Helper()

	store := fakebackend.NewStore()
	fakebackend.Seed(store, time.Now())
	backend := fakebackend.New(fakebackend.Options{Store: store})
	ts := httptest.NewServer(backend.Handler())

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
backend:
  base_url: %q
feed:
  reconnect_delay: "50ms"
  heartbeat_interval: "1s"
workbench:
%s
`, ts.URL, workbenchYAML)), false)
	require.NoError(t, err)

	h := &harness{backend: backend}
	wb, err := New(cfg, Deps{
		Token: "test-token",
		Notifier: func(n reconcile.Notice) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.notices = append(h.notices, n)
		},
		OnEvent: func(ev feed.Event, applied bool) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, ev)
		},
	})
	require.NoError(t, err)
	h.wb = wb

	t.Cleanup(func() {
		wb.Close()
		backend.Close()
		ts.Close()
	})
	return h
}

func (h *harness) waitForFeed(t *testing.T, accountID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.backend.Hub().Count(accountID) == 1 && h.wb.Status().Feed == feed.StateConnected
	}, waitFor, 5*time.Millisecond)
}

func sessionIDs(sessions []api.Session) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

func TestStartLoadsFirstAccount(t *testing.T) {
	h := newHarness(t, "  page_size: 50")

	require.NoError(t, h.wb.Start(t.Context()))
	h.waitForFeed(t, "shop-main")

	st := h.wb.Status()
	assert.Equal(t, "shop-main", st.AccountID)
	assert.Equal(t, 3, st.Sessions)
	assert.Equal(t, 3, st.Unread)
	assert.Empty(t, st.Active)

	assert.Len(t, h.wb.Accounts(), 2)
	assert.Len(t, h.wb.QuickReplies(), 3)
	assert.Equal(t, []string{"general", "shipping"}, h.wb.QuickReplyCategories())
}

func TestStartAppliesDeepLink(t *testing.T) {
	h := newHarness(t, `  account_id: "shop-main"
  deep_link_buyer_id: "buyer-alice"
  deep_link_item_id: "item-200"`)

	require.NoError(t, h.wb.Start(t.Context()))

	active, ok := h.wb.Active()
	require.True(t, ok)
	assert.Equal(t, "buyer-alice_item-200", active.ID)
	assert.Zero(t, active.UnreadCount)

	timeline := h.wb.Timeline()
	require.Len(t, timeline, 1, "history is narrowed to the session's item")
	assert.Equal(t, "Which switches does it use?", timeline[0].Content)

	for _, s := range h.backend.Store().Sessions("shop-main") {
		if s.BuyerID == "buyer-alice" {
			assert.Zero(t, s.UnreadCount, "mark-read reached the backend")
		}
	}
}

func TestStartRejectsUnknownAccount(t *testing.T) {
	h := newHarness(t, `  account_id: "shop-gone"`)
	err := h.wb.Start(t.Context())
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestStartFailsWhenBackendDown(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	cfg, err := config.Parse([]byte(fmt.Sprintf("backend:\n  base_url: %q\n  request_timeout: \"500ms\"\n", url)), false)
	require.NoError(t, err)
	wb, err := New(cfg, Deps{Token: "t"})
	require.NoError(t, err)
	defer wb.Close()

	err = wb.Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading accounts")
}

func TestLiveEventsUpdateSessions(t *testing.T) {
	h := newHarness(t, "")
	ctx := t.Context()
	require.NoError(t, h.wb.Start(ctx))
	h.waitForFeed(t, "shop-main")

	require.NoError(t, h.wb.SelectSession(ctx, "buyer-alice_item-100"))
	require.Len(t, h.wb.Timeline(), 3)

	// A message for another session bumps it to the front as unread.
	_, _, err := h.backend.InjectBuyerMessage(t.Context(), fakebackend.BuyerMessage{
		CookieID: "shop-main", ChatID: "chat-a2", BuyerID: "buyer-alice", BuyerName: "Alice", ItemID: "item-200", Content: "still there?",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s := h.wb.Sessions()
		return len(s) > 0 && s[0].ID == "buyer-alice_item-200" && s[0].UnreadCount == 2
	}, waitFor, 5*time.Millisecond)

	// A message for the active session lands on the timeline, still read.
	_, _, err = h.backend.InjectBuyerMessage(t.Context(), fakebackend.BuyerMessage{
		CookieID: "shop-main", ChatID: "chat-a1", BuyerID: "buyer-alice", BuyerName: "Alice", ItemID: "item-100", Content: "hello?",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		tl := h.wb.Timeline()
		return len(tl) == 4 && tl[3].Content == "hello?"
	}, waitFor, 5*time.Millisecond)

	sessions := h.wb.Sessions()
	assert.Equal(t, []string{"buyer-alice_item-100", "buyer-alice_item-200", "buyer-bob_item-200"}, sessionIDs(sessions))
	assert.Zero(t, sessions[0].UnreadCount)

	// A brand new buyer shows up as a new session.
	_, _, err = h.backend.InjectBuyerMessage(t.Context(), fakebackend.BuyerMessage{
		CookieID: "shop-main", ChatID: "chat-e1", BuyerID: "buyer-erin", BuyerName: "Erin", ItemID: "item-100", Content: "hi",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s := h.wb.Sessions()
		return len(s) == 4 && s[0].ID == "buyer-erin_item-100" && s[0].UnreadCount == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, 3, h.eventCount())
}

func TestSelectAccountRescopesFeed(t *testing.T) {
	h := newHarness(t, "")
	ctx := t.Context()
	require.NoError(t, h.wb.Start(ctx))
	h.waitForFeed(t, "shop-main")
	require.NoError(t, h.wb.SelectSession(ctx, "buyer-bob_item-200"))

	require.NoError(t, h.wb.SelectAccount(ctx, "shop-outlet"))
	h.waitForFeed(t, "shop-outlet")
	assert.Eventually(t, func() bool { return h.backend.Hub().Count("shop-main") == 0 }, waitFor, 5*time.Millisecond)

	_, ok := h.wb.Active()
	assert.False(t, ok, "account switch clears the selection")
	assert.Empty(t, h.wb.Timeline())
	assert.Equal(t, []string{"buyer-carol_item-300"}, sessionIDs(h.wb.Sessions()))

	assert.ErrorIs(t, h.wb.SelectAccount(ctx, "nope"), ErrUnknownAccount)
}

func TestSearchFiltersSessions(t *testing.T) {
	h := newHarness(t, "")
	ctx := t.Context()
	require.NoError(t, h.wb.Start(ctx))

	require.NoError(t, h.wb.Search(ctx, "KEYBOARD"))
	assert.Equal(t, []string{"buyer-bob_item-200", "buyer-alice_item-200"}, sessionIDs(h.wb.Sessions()))
	assert.Equal(t, "KEYBOARD", h.wb.Status().Filter)

	require.NoError(t, h.wb.Search(ctx, "bob"))
	assert.Equal(t, []string{"buyer-bob_item-200"}, sessionIDs(h.wb.Sessions()))

	require.NoError(t, h.wb.Search(ctx, ""))
	assert.Len(t, h.wb.Sessions(), 3)
}

func TestSendAppendsAndReachesBackend(t *testing.T) {
	h := newHarness(t, "")
	ctx := t.Context()
	require.NoError(t, h.wb.Start(ctx))

	assert.ErrorIs(t, h.wb.Send(ctx, "nobody selected"), reconcile.ErrNoSession)

	require.NoError(t, h.wb.SelectSession(ctx, "buyer-alice_item-100"))
	require.NoError(t, h.wb.Send(ctx, "Yes, the cap is included"))

	tl := h.wb.Timeline()
	last := tl[len(tl)-1]
	assert.Equal(t, api.SenderSeller, last.SenderType)
	assert.Equal(t, "Yes, the cap is included", last.Content)
	assert.Empty(t, h.wb.Compose())

	page := h.backend.Store().Messages("shop-main", "buyer-alice", api.PageParams{PageSize: 20})
	stored := page.Messages[len(page.Messages)-1]
	assert.Equal(t, "Yes, the cap is included", stored.Content)
	assert.Equal(t, "chat-a1", stored.ChatID)
	assert.Equal(t, "item-100", stored.ItemID)
}

func TestSendFailureRestoresCompose(t *testing.T) {
	h := newHarness(t, "")
	ctx := t.Context()
	require.NoError(t, h.wb.Start(ctx))
	require.NoError(t, h.wb.SelectSession(ctx, "buyer-bob_item-200"))
	before := len(h.wb.Timeline())

	h.backend.FailSends("account offline")
	err := h.wb.Send(ctx, "are you there?")
	require.Error(t, err)

	assert.Equal(t, "are you there?", h.wb.Compose())
	assert.Len(t, h.wb.Timeline(), before)
	assert.Positive(t, h.noticeCount())

	h.backend.FailSends("")
	require.NoError(t, h.wb.Send(ctx, ""), "empty text sends the compose buffer")
	assert.Empty(t, h.wb.Compose())
	assert.Len(t, h.wb.Timeline(), before+1)
}

func TestQuickReplies(t *testing.T) {
	h := newHarness(t, "")
	ctx := t.Context()
	require.NoError(t, h.wb.Start(ctx))

	replies := h.wb.QuickReplies()
	require.NotEmpty(t, replies)

	got, err := h.wb.UseQuickReply(replies[1].ID)
	require.NoError(t, err)
	assert.Equal(t, replies[1].Content, got.Content)
	assert.Equal(t, replies[1].Content, h.wb.Compose())

	_, err = h.wb.UseQuickReply(-1)
	assert.ErrorIs(t, err, ErrUnknownQuickReply)
}

func TestReloadHistoryNeedsSession(t *testing.T) {
	h := newHarness(t, "")
	ctx := t.Context()
	require.NoError(t, h.wb.Start(ctx))

	assert.ErrorIs(t, h.wb.ReloadHistory(ctx), reconcile.ErrNoSession)

	require.NoError(t, h.wb.SelectSession(ctx, "buyer-bob_item-200"))
	require.NoError(t, h.wb.ReloadHistory(ctx))
	tl := h.wb.Timeline()
	require.Len(t, tl, 1)
	assert.Equal(t, api.MessageImage, tl[0].MessageType)
}

func TestPickAccount(t *testing.T) {
	accounts := []api.Account{{ID: "a", Enabled: false}, {ID: "b", Enabled: true}}

	id, err := pickAccount(accounts, "")
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	id, err = pickAccount(accounts, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	id, err = pickAccount([]api.Account{{ID: "x"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "x", id)

	_, err = pickAccount(nil, "")
	assert.ErrorIs(t, err, ErrNoAccounts)
}
