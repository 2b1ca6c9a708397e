// ABOUTME: Delivery rule endpoints and the test-delivery dry run

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// ListDeliveryRules returns every rule. The endpoint replies with a bare array.
func (c *Client) ListDeliveryRules(ctx context.Context) ([]DeliveryRule, error) {
	var rules []DeliveryRule
	if err := c.do(ctx, "listing delivery rules", http.MethodGet, "/delivery-rules", nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// CreateDeliveryRule stores a rule and returns its id.
func (c *Client) CreateDeliveryRule(ctx context.Context, in DeliveryRuleInput) (int64, error) {
	var out createdResult
	err := c.do(ctx, "creating delivery rule", http.MethodPost, "/delivery-rules", func(r *resty.Request) {
		r.SetBody(in)
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.ID, nil
}

// UpdateDeliveryRule changes the non-zero fields of a rule.
func (c *Client) UpdateDeliveryRule(ctx context.Context, id int64, in DeliveryRuleInput) error {
	return c.do(ctx, "updating delivery rule", http.MethodPut, "/delivery-rules/{id}", func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(id, 10)).SetBody(in)
	}, nil)
}

// DeleteDeliveryRule removes a rule.
func (c *Client) DeleteDeliveryRule(ctx context.Context, id int64) error {
	return c.do(ctx, "deleting delivery rule", http.MethodDelete, "/delivery-rules/{id}", func(r *resty.Request) {
		r.SetPathParam("id", strconv.FormatInt(id, 10))
	}, nil)
}

// TestDelivery asks the backend whether an order would trigger delivery.
func (c *Client) TestDelivery(ctx context.Context, req TestDeliveryRequest) (*TestDeliveryResult, error) {
	var out TestDeliveryResult
	err := c.do(ctx, "testing delivery", http.MethodPost, "/api/test-delivery", func(r *resty.Request) {
		r.SetBody(req)
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
