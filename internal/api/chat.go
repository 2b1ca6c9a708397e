// ABOUTME: Chat endpoints: accounts, sessions, history pages, sending, and mark-read
// ABOUTME: History is buyer-scoped upstream; callers filter by item themselves

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// ListAccounts returns every seller account. The endpoint replies with a bare
// JSON array.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.do(ctx, "listing accounts", http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListSessions returns the (buyer, item) sessions of an account in server order.
func (c *Client) ListSessions(ctx context.Context, cookieID string) (*SessionList, error) {
	var out SessionList
	err := c.do(ctx, "listing sessions", http.MethodGet, "/chat/sessions/{cookie_id}", func(r *resty.Request) {
		r.SetPathParam("cookie_id", cookieID)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages returns one page of a buyer's history across all items.
func (c *Client) ListMessages(ctx context.Context, cookieID, buyerID string, page PageParams) (*MessagePage, error) {
	var out MessagePage
	err := c.do(ctx, "listing messages", http.MethodGet, "/chat/{cookie_id}/{buyer_id}/messages", func(r *resty.Request) {
		r.SetPathParams(map[string]string{"cookie_id": cookieID, "buyer_id": buyerID})
		if page.Page > 0 {
			r.SetQueryParam("page", strconv.Itoa(page.Page))
		}
		if page.PageSize > 0 {
			r.SetQueryParam("page_size", strconv.Itoa(page.PageSize))
		}
		if page.BeforeID > 0 {
			r.SetQueryParam("before_id", strconv.FormatInt(page.BeforeID, 10))
		}
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage sends a seller message to a buyer. A success=false reply comes
// back as *Error carrying the backend's message.
func (c *Client) SendMessage(ctx context.Context, cookieID, buyerID string, req SendRequest) (string, error) {
	if req.MessageType == "" {
		req.MessageType = MessageText
	}
	var out statusResult
	err := c.do(ctx, "sending message", http.MethodPost, "/chat/{cookie_id}/{buyer_id}/send", func(r *resty.Request) {
		r.SetPathParams(map[string]string{"cookie_id": cookieID, "buyer_id": buyerID}).SetBody(req)
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Message, nil
}

// MarkRead marks all of a buyer's messages read and returns how many changed.
func (c *Client) MarkRead(ctx context.Context, cookieID, buyerID string) (int, error) {
	var out struct {
		MarkedCount int `json:"marked_count"`
	}
	err := c.do(ctx, "marking messages read", http.MethodPost, "/chat/{cookie_id}/{buyer_id}/read", func(r *resty.Request) {
		r.SetPathParams(map[string]string{"cookie_id": cookieID, "buyer_id": buyerID}).SetBody(map[string]any{})
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.MarkedCount, nil
}
