// ABOUTME: Item-to-card binding endpoints used by automatic delivery

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// ListBindings returns all bindings, optionally for one account.
func (c *Client) ListBindings(ctx context.Context, cookieID string) ([]Binding, error) {
	var out dataEnvelope[[]Binding]
	err := c.do(ctx, "listing bindings", http.MethodGet, "/bindings", func(r *resty.Request) {
		if cookieID != "" {
			r.SetQueryParam("cookie_id", cookieID)
		}
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListItemBindings returns the bindings of one item.
func (c *Client) ListItemBindings(ctx context.Context, cookieID, itemID string) ([]Binding, error) {
	var out dataEnvelope[[]Binding]
	err := c.do(ctx, "listing item bindings", http.MethodGet, "/items/{cookie_id}/{item_id}/bindings", func(r *resty.Request) {
		r.SetPathParams(map[string]string{"cookie_id": cookieID, "item_id": itemID})
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateBinding binds a card to an item and returns the binding id.
func (c *Client) CreateBinding(ctx context.Context, cookieID, itemID string, in BindingInput) (int64, error) {
	var out createdResult
	err := c.do(ctx, "creating binding", http.MethodPost, "/items/{cookie_id}/{item_id}/bindings", func(r *resty.Request) {
		r.SetPathParams(map[string]string{"cookie_id": cookieID, "item_id": itemID}).SetBody(in)
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.ID, nil
}

// GetBinding returns one binding.
func (c *Client) GetBinding(ctx context.Context, id int64) (*Binding, error) {
	var out dataEnvelope[Binding]
	err := c.do(ctx, "getting binding", http.MethodGet, "/bindings/{id}", func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(id, 10))
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// UpdateBinding changes the non-zero fields of a binding.
func (c *Client) UpdateBinding(ctx context.Context, id int64, in BindingInput) error {
	return c.do(ctx, "updating binding", http.MethodPut, "/bindings/{id}", func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(id, 10)).SetBody(in)
	}, nil)
}

// DeleteBinding removes a binding.
func (c *Client) DeleteBinding(ctx context.Context, id int64) error {
	return c.do(ctx, "deleting binding", http.MethodDelete, "/bindings/{id}", func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(id, 10))
	}, nil)
}
