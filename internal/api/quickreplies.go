// ABOUTME: Quick reply template endpoints

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// ListQuickReplies returns templates, optionally restricted to one category.
func (c *Client) ListQuickReplies(ctx context.Context, category string) ([]QuickReply, error) {
	var out dataEnvelope[[]QuickReply]
	err := c.do(ctx, "listing quick replies", http.MethodGet, "/quick-replies", func(r *resty.Request) {
		if category != "" {
			r.SetQueryParam("category", category)
		}
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListQuickReplyCategories returns the distinct template categories.
func (c *Client) ListQuickReplyCategories(ctx context.Context) ([]string, error) {
	var out dataEnvelope[[]string]
	if err := c.do(ctx, "listing quick reply categories", http.MethodGet, "/quick-replies/categories", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateQuickReply stores a new template and returns its id.
func (c *Client) CreateQuickReply(ctx context.Context, in QuickReplyInput) (int64, error) {
	var out createdResult
	err := c.do(ctx, "creating quick reply", http.MethodPost, "/quick-replies", func(r *resty.Request) {
		r.SetBody(in)
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.ID, nil
}

// UpdateQuickReply changes the non-zero fields of a template.
func (c *Client) UpdateQuickReply(ctx context.Context, id int64, in QuickReplyInput) error {
	return c.do(ctx, "updating quick reply", http.MethodPut, "/quick-replies/{id}", func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(id, 10)).SetBody(in)
	}, nil)
}

// DeleteQuickReply removes a template.
func (c *Client) DeleteQuickReply(ctx context.Context, id int64) error {
	return c.do(ctx, "deleting quick reply", http.MethodDelete, "/quick-replies/{id}", func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(id, 10))
	}, nil)
}
