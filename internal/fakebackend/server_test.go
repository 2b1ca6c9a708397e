// ABOUTME: End-to-end tests driving the fake backend with the real REST and feed clients

package fakebackend

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/marketdesk/internal/api"
	"github.com/2389/marketdesk/internal/feed"
)

type testEnv struct {
	server *Server
	http   *httptest.Server
	client *api.Client
}

func newTestEnv(t *testing.T, sellerAuth *SellerAuth, token string) *testEnv {
	t.Helper()

	store := NewStore()
	store.now = func() time.Time { return seedTime }
	Seed(store, seedTime)

	srv := New(Options{Store: store, Auth: sellerAuth})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	client, err := api.New(api.Options{BaseURL: ts.URL, Token: token, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return &testEnv{server: srv, http: ts, client: client}
}

func (e *testEnv) feedURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http")
}

func TestServerChatEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, "")
	ctx := t.Context()

	accounts, err := env.client.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "shop-main", accounts[0].ID)

	sessions, err := env.client.ListSessions(ctx, "shop-main")
	require.NoError(t, err)
	assert.Equal(t, 3, sessions.Total)
	assert.Equal(t, "buyer-alice_item-100", sessions.Sessions[0].ID)
	assert.True(t, sessions.Sessions[0].LastMessageTime.Equal(seedTime.Add(-20*time.Minute)))

	page, err := env.client.ListMessages(ctx, "shop-main", "buyer-alice", api.PageParams{PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total, "history spans both of alice's items")
	assert.False(t, page.HasMore)

	_, err = env.client.SendMessage(ctx, "shop-main", "buyer-alice", api.SendRequest{
		Message: "Lens cap included", ChatID: "chat-a1", ItemID: "item-100",
	})
	require.NoError(t, err)

	marked, err := env.client.MarkRead(ctx, "shop-main", "buyer-alice")
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	sessions, err = env.client.ListSessions(ctx, "shop-main")
	require.NoError(t, err)
	assert.Equal(t, "Lens cap included", sessions.Sessions[0].LastMessage)
	assert.Zero(t, sessions.Sessions[0].UnreadCount)
}

func TestServerSendFailureIsAPIError(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.server.FailSends("account offline")

	_, err := env.client.SendMessage(t.Context(), "shop-main", "buyer-alice", api.SendRequest{Message: "hi"})
	require.Error(t, err)

	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "account offline", apiErr.Message)
	assert.Equal(t, http.StatusOK, apiErr.Status)
}

func TestServerDirectoryEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, "")
	ctx := t.Context()

	buyers, err := env.client.ListBuyers(ctx, api.BuyerQuery{CookieID: "shop-main"})
	require.NoError(t, err)
	assert.Equal(t, 2, buyers.Total)

	notes := "repeat customer"
	require.NoError(t, env.client.UpdateBuyer(ctx, "shop-main", "buyer-bob", api.BuyerUpdate{Tags: []string{"vip"}, Notes: &notes}))
	bob, err := env.client.GetBuyer(ctx, "shop-main", "buyer-bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, bob.Tags)

	_, err = env.client.GetBuyer(ctx, "shop-main", "ghost")
	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	categories, err := env.client.ListQuickReplyCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"general", "shipping"}, categories)

	id, err := env.client.CreateQuickReply(ctx, api.QuickReplyInput{Title: "Bye", Content: "Have a nice day", Category: "closing"})
	require.NoError(t, err)
	require.NoError(t, env.client.UpdateQuickReply(ctx, id, api.QuickReplyInput{Content: "Have a great day"}))
	closing, err := env.client.ListQuickReplies(ctx, "closing")
	require.NoError(t, err)
	require.Len(t, closing, 1)
	assert.Equal(t, "Have a great day", closing[0].Content)
	require.NoError(t, env.client.DeleteQuickReply(ctx, id))

	bindingID, err := env.client.CreateBinding(ctx, "shop-main", "item-200", api.BindingInput{CardID: 3})
	require.NoError(t, err)
	binding, err := env.client.GetBinding(ctx, bindingID)
	require.NoError(t, err)
	assert.Equal(t, "item-200", binding.ItemID)
	itemBindings, err := env.client.ListItemBindings(ctx, "shop-main", "item-200")
	require.NoError(t, err)
	assert.Len(t, itemBindings, 1)
	require.NoError(t, env.client.DeleteBinding(ctx, bindingID))

	rules, err := env.client.ListDeliveryRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	result, err := env.client.TestDelivery(ctx, api.TestDeliveryRequest{CookieID: "shop-main", OrderID: "o-1", TestMessage: "camera order"})
	require.NoError(t, err)
	assert.True(t, result.Triggered)
	require.NotNil(t, result.OrderInfo)
	assert.Equal(t, "o-1", result.OrderInfo.OrderID)
}

func TestServerRequiresTokenWhenAuthSet(t *testing.T) {
	sellerAuth := NewSellerAuth([]byte("test-secret-at-least-32-bytes-long!"))
	token, err := sellerAuth.Issue("seller-1", time.Hour)
	require.NoError(t, err)

	env := newTestEnv(t, sellerAuth, token)
	_, err = env.client.ListAccounts(t.Context())
	require.NoError(t, err)

	anon, err := api.New(api.Options{BaseURL: env.http.URL})
	require.NoError(t, err)
	_, err = anon.ListAccounts(t.Context())
	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	resp, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerFeedDeliversInjectedMessages(t *testing.T) {
	env := newTestEnv(t, nil, "")

	events := make(chan feed.Event, 8)
	c := feed.New(feed.Options{
		BaseURL:           env.feedURL(),
		HeartbeatInterval: 20 * time.Millisecond,
		ReconnectDelay:    20 * time.Millisecond,
	}, func(ev feed.Event) { events <- ev })
	defer c.Close()

	c.Connect("shop-main")
	require.Eventually(t, func() bool { return env.server.Hub().Count("shop-main") == 1 }, 2*time.Second, 5*time.Millisecond)

	// Other accounts' traffic does not reach an account-scoped connection.
	_, delivered, err := env.server.InjectBuyerMessage(t.Context(), BuyerMessage{CookieID: "shop-outlet", BuyerID: "buyer-carol", ItemID: "item-300", Content: "ignored"})
	require.NoError(t, err)
	assert.Zero(t, delivered)

	_, delivered, err = env.server.InjectBuyerMessage(t.Context(), BuyerMessage{
		CookieID: "shop-main", ChatID: "chat-d1", BuyerID: "buyer-dave", BuyerName: "Dave", ItemID: "item-100", Content: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	select {
	case ev := <-events:
		assert.Equal(t, feed.TypeNewMessage, ev.Type)
		assert.Equal(t, "buyer-dave", ev.BuyerID)
		assert.Equal(t, "Dave", ev.BuyerName)
		assert.Equal(t, "chat-d1", ev.ChatID)
		assert.Equal(t, "hello", ev.Message)
		assert.Equal(t, api.MessageText, ev.MessageType)
		ts, err := api.ParseTime(ev.Timestamp)
		require.NoError(t, err)
		assert.True(t, ts.Equal(seedTime))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for new_message")
	}

	// Pongs answer the heartbeat but never reach the handler.
	time.Sleep(60 * time.Millisecond)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %q", ev.Type)
	default:
	}
	assert.True(t, c.Connected())
}

func TestServerFeedReconnectsAfterKick(t *testing.T) {
	env := newTestEnv(t, nil, "")

	events := make(chan feed.Event, 8)
	c := feed.New(feed.Options{
		BaseURL:        env.feedURL(),
		ReconnectDelay: 30 * time.Millisecond,
	}, func(ev feed.Event) { events <- ev })
	defer c.Close()

	c.Connect("")
	require.Eventually(t, func() bool { return env.server.Hub().Count("") == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, env.server.Hub().Kick(""))
	require.Eventually(t, func() bool {
		return c.Connected() && env.server.Hub().Count("") == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, _, err := env.server.InjectBuyerMessage(t.Context(), BuyerMessage{CookieID: "shop-outlet", BuyerID: "buyer-carol", ItemID: "item-300", Content: "back"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "shop-outlet", ev.CookieID, "global feed sees every account")
		assert.Equal(t, "back", ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame after reconnect")
	}
	assert.Empty(t, c.LastError(), "going-away closure is not an error")
}
