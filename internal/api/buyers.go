// ABOUTME: Buyer directory endpoints: paged search, detail, and tag/notes updates

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// ListBuyers returns a page of buyers matching q.
func (c *Client) ListBuyers(ctx context.Context, q BuyerQuery) (*BuyerList, error) {
	var out BuyerList
	err := c.do(ctx, "listing buyers", http.MethodGet, "/buyers", func(r *resty.Request) {
		if q.CookieID != "" {
			r.SetQueryParam("cookie_id", q.CookieID)
		}
		if q.Search != "" {
			r.SetQueryParam("search", q.Search)
		}
		if q.Page > 0 {
			r.SetQueryParam("page", strconv.Itoa(q.Page))
		}
		if q.PageSize > 0 {
			r.SetQueryParam("page_size", strconv.Itoa(q.PageSize))
		}
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBuyer returns one buyer of an account.
func (c *Client) GetBuyer(ctx context.Context, cookieID, buyerID string) (*Buyer, error) {
	var out dataEnvelope[Buyer]
	err := c.do(ctx, "getting buyer", http.MethodGet, "/buyers/{cookie_id}/{buyer_id}", func(r *resty.Request) {
		r.SetPathParams(map[string]string{"cookie_id": cookieID, "buyer_id": buyerID})
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// UpdateBuyer replaces a buyer's tags and notes.
func (c *Client) UpdateBuyer(ctx context.Context, cookieID, buyerID string, update BuyerUpdate) error {
	return c.do(ctx, "updating buyer", http.MethodPut, "/buyers/{cookie_id}/{buyer_id}", func(r *resty.Request) {
		r.SetPathParams(map[string]string{"cookie_id": cookieID, "buyer_id": buyerID}).SetBody(update)
	}, nil)
}
