// ABOUTME: Tests for the backend REST client against an httptest server
// ABOUTME: Covers paths, query params, auth and request id headers, and error mapping

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   map[string]any
}

// newTestClient serves every request with reply and records what it saw.
func newTestClient(t *testing.T, status int, reply string) (*Client, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  map[string]string{},
			Header: r.Header.Clone(),
		}
		for k := range r.URL.Query() {
			rec.Query[k] = r.URL.Query().Get(k)
		}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.Body)
		}
		seen = append(seen, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL + "/", Token: "tok-1", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c, &seen
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestListAccounts_BareArray(t *testing.T) {
	c, seen := newTestClient(t, http.StatusOK, `[{"id":"acct-1","remark":"main","enabled":true},{"id":"acct-2","enabled":false}]`)

	accounts, err := c.ListAccounts(t.Context())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "acct-1", accounts[0].ID)
	assert.True(t, accounts[0].Enabled)

	req := (*seen)[0]
	assert.Equal(t, "/accounts", req.Path)
	assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
	_, err = uuid.Parse(req.Header.Get(RequestIDHeader))
	assert.NoError(t, err, "request id should be a uuid")
}

func TestListSessions(t *testing.T) {
	c, seen := newTestClient(t, http.StatusOK, `{"success":true,"total":1,"sessions":[
		{"id":"b1_","cookie_id":"acct-1","buyer_id":"b1","buyer_name":"Alice","item_id":null,
		 "chat_id":"c1","last_message":"hi","last_message_time":"2024-05-01 10:00:00","unread_count":3}]}`)

	list, err := c.ListSessions(t.Context(), "acct-1")
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)

	s := list.Sessions[0]
	assert.Equal(t, "", s.ItemID, "null item id decodes empty")
	assert.Equal(t, 3, s.UnreadCount)
	assert.True(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local).Equal(s.LastMessageTime.Time))
	assert.Equal(t, "/chat/sessions/acct-1", (*seen)[0].Path)
}

func TestListMessages_QueryParams(t *testing.T) {
	c, seen := newTestClient(t, http.StatusOK, `{"success":true,"total":2,"has_more":true,"messages":[
		{"id":10,"buyer_id":"b1","item_id":"i1","sender_type":"buyer","message_type":"text","content":"a","created_at":"2024-05-01T10:00:00Z"},
		{"id":11,"buyer_id":"b1","item_id":null,"sender_type":"seller","message_type":"text","content":"b","created_at":"2024-05-01T10:00:05.123456"}]}`)

	page, err := c.ListMessages(t.Context(), "acct-1", "b1", PageParams{PageSize: 100, BeforeID: 99})
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, int64(11), page.Messages[1].ID)
	assert.Equal(t, "", page.Messages[1].ItemID)

	req := (*seen)[0]
	assert.Equal(t, "/chat/acct-1/b1/messages", req.Path)
	assert.Equal(t, map[string]string{"page_size": "100", "before_id": "99"}, req.Query)
}

func TestSendMessage(t *testing.T) {
	c, seen := newTestClient(t, http.StatusOK, `{"success":true,"message":"sent"}`)

	msg, err := c.SendMessage(t.Context(), "acct-1", "b1", SendRequest{Message: "hello", ChatID: "c1", ItemID: "i1"})
	require.NoError(t, err)
	assert.Equal(t, "sent", msg)

	req := (*seen)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/chat/acct-1/b1/send", req.Path)
	assert.Equal(t, "hello", req.Body["message"])
	assert.Equal(t, "text", req.Body["message_type"], "message type defaults to text")
	assert.Equal(t, "c1", req.Body["chat_id"])
	assert.NotContains(t, req.Body, "image_url")
}

func TestSendMessage_SuccessFalse(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, `{"success":false,"message":"account offline"}`)

	_, err := c.SendMessage(t.Context(), "acct-1", "b1", SendRequest{Message: "hello"})
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusOK, apiErr.Status)
	assert.Equal(t, "account offline", apiErr.Message)
	assert.Contains(t, err.Error(), "sending message")
}

func TestHTTPErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"detail field", http.StatusNotFound, `{"detail":"session not found"}`, "session not found"},
		{"message field", http.StatusBadRequest, `{"success":false,"message":"bad page"}`, "bad page"},
		{"plain text", http.StatusBadGateway, `upstream down`, "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.status, tt.body)
			_, err := c.MarkRead(t.Context(), "acct-1", "b1")

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
		})
	}
}

func TestMarkRead(t *testing.T) {
	c, seen := newTestClient(t, http.StatusOK, `{"success":true,"marked_count":4}`)

	n, err := c.MarkRead(t.Context(), "acct-1", "b1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "/chat/acct-1/b1/read", (*seen)[0].Path)
}

func TestQuickReplies(t *testing.T) {
	c, seen := newTestClient(t, http.StatusOK, `{"success":true,"data":[{"id":1,"category":"greeting","title":"Hi","content":"Hello there","sort_order":1}]}`)

	replies, err := c.ListQuickReplies(t.Context(), "greeting")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "Hello there", replies[0].Content)
	assert.Equal(t, "greeting", (*seen)[0].Query["category"])
}

func TestBuyers(t *testing.T) {
	c, seen := newTestClient(t, http.StatusOK, `{"success":true,"buyers":[{"buyer_id":"b1","tags":["vip"]}],"total":1,"page":2,"page_size":20}`)

	list, err := c.ListBuyers(t.Context(), BuyerQuery{CookieID: "acct-1", Search: "ali", Page: 2, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, list.Buyers[0].Tags)
	assert.Equal(t, map[string]string{"cookie_id": "acct-1", "search": "ali", "page": "2", "page_size": "20"}, (*seen)[0].Query)
}

func TestBindingsAndDelivery(t *testing.T) {
	c, seen := newTestClient(t, http.StatusOK, `{"success":true,"id":7}`)

	enabled := true
	id, err := c.CreateBinding(t.Context(), "acct-1", "i1", BindingInput{CardID: 3, Enabled: &enabled, Priority: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "/items/acct-1/i1/bindings", (*seen)[0].Path)
	assert.Equal(t, float64(3), (*seen)[0].Body["card_id"])

	require.NoError(t, c.DeleteDeliveryRule(t.Context(), 12))
	assert.Equal(t, http.MethodDelete, (*seen)[1].Method)
	assert.Equal(t, "/delivery-rules/12", (*seen)[1].Path)
}

func TestListDeliveryRules_BareArray(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, `[{"id":1,"keyword":"vip","card_id":2,"enabled":true}]`)

	rules, err := c.ListDeliveryRules(t.Context())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "vip", rules[0].Keyword)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.ListAccounts(t.Context())
	require.Error(t, err)
	var apiErr *Error
	assert.False(t, errors.As(err, &apiErr), "timeouts are transport errors")
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2024-05-01T10:00:00Z", "2024-05-01T10:00:00+08:00", "2024-05-01 10:00:00", "2024-05-01T10:00:00.5"} {
		_, err := ParseTime(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseTime("yesterday")
	assert.Error(t, err)
}

// inZone runs the rest of the test with time.Local set to loc.
func inZone(t *testing.T, loc *time.Location) {
	t.Helper()
	prev := time.Local
	time.Local = loc
	t.Cleanup(func() { time.Local = prev })
}

func TestParseTime_NaiveValuesAreLocal(t *testing.T) {
	shanghai := time.FixedZone("UTC+8", 8*60*60)
	inZone(t, shanghai)

	got, err := ParseTime("2026-10-18T12:00:05.000000")
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 10, 18, 12, 0, 5, 0, shanghai).Equal(got))
	assert.Equal(t, 4, got.UTC().Hour())

	got, err = ParseTime("2026-10-18 12:00:05")
	require.NoError(t, err)
	assert.Equal(t, 4, got.UTC().Hour())

	got, err = ParseTime("2026-10-18T12:00:05Z")
	require.NoError(t, err)
	assert.Equal(t, 12, got.UTC().Hour(), "an explicit zone wins over the local one")
}

func TestMalformedEnvelopeIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"success":false,"message":`)
	}))
	t.Cleanup(srv.Close)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, err := New(Options{BaseURL: srv.URL, Logger: logger})
	require.NoError(t, err)

	_, err = c.ListAccounts(t.Context())
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, logs.String(), "response envelope did not decode")
	assert.Contains(t, logs.String(), "component=api")
}
