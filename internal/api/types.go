// ABOUTME: Wire types for the seller backend REST API
// ABOUTME: Accounts, sessions, messages, buyers, quick replies, bindings, and delivery rules

package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Sender roles for a chat message.
const (
	SenderBuyer  = "buyer"
	SenderSeller = "seller"
)

// Message content types.
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageCard  = "card"
	MessageOrder = "order"
)

// Time decodes the timestamp formats the backend emits. It accepts RFC 3339
// as well as naive "2006-01-02 15:04:05" values, which are read as local time.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// ParseTime parses a backend timestamp string. Values without a zone are
// taken to be in the local zone, the same zone the workbench stamps its own
// messages in.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON accepts null, empty strings, and any supported layout.
func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decoding timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON emits RFC 3339, or null for the zero time.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Account is a seller account (the upstream cookie_id).
type Account struct {
	ID      string `json:"id"`
	Remark  string `json:"remark,omitempty"`
	Enabled bool   `json:"enabled"`
}

// Session is a conversation grouped by buyer and item. Nullable text fields
// decode to "".
type Session struct {
	ID              string `json:"id"`
	CookieID        string `json:"cookie_id"`
	BuyerID         string `json:"buyer_id"`
	BuyerName       string `json:"buyer_name"`
	BuyerAvatar     string `json:"buyer_avatar"`
	ItemID          string `json:"item_id"`
	ItemTitle       string `json:"item_title"`
	ItemImage       string `json:"item_image"`
	ChatID          string `json:"chat_id"`
	LastMessage     string `json:"last_message"`
	LastMessageTime Time   `json:"last_message_time"`
	UnreadCount     int    `json:"unread_count"`
}

// SessionKey returns the identity of a (buyer, item) conversation.
func SessionKey(buyerID, itemID string) string {
	return buyerID + "_" + itemID
}

// Message is a single chat turn.
type Message struct {
	ID          int64  `json:"id"`
	CookieID    string `json:"cookie_id"`
	ChatID      string `json:"chat_id"`
	BuyerID     string `json:"buyer_id"`
	ItemID      string `json:"item_id"`
	SenderType  string `json:"sender_type"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	ImageURL    string `json:"image_url"`
	IsRead      bool   `json:"is_read"`
	CreatedAt   Time   `json:"created_at"`
}

// Buyer is the backend's record of a buyer for one account.
type Buyer struct {
	ID              int64    `json:"id"`
	CookieID        string   `json:"cookie_id"`
	BuyerID         string   `json:"buyer_id"`
	BuyerName       string   `json:"buyer_name"`
	BuyerAvatar     string   `json:"buyer_avatar"`
	LastMessage     string   `json:"last_message"`
	LastMessageTime Time     `json:"last_message_time"`
	UnreadCount     int      `json:"unread_count"`
	TotalOrders     int      `json:"total_orders"`
	Tags            []string `json:"tags"`
	Notes           string   `json:"notes"`
	CreatedAt       Time     `json:"created_at"`
	UpdatedAt       Time     `json:"updated_at"`
}

// QuickReply is a reusable reply template.
type QuickReply struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Category  string `json:"category"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	SortOrder int    `json:"sort_order"`
	CreatedAt Time   `json:"created_at"`
}

// Binding attaches a delivery card to an item, optionally per spec variant.
type Binding struct {
	ID        int64  `json:"id"`
	CookieID  string `json:"cookie_id"`
	ItemID    string `json:"item_id"`
	CardID    int64  `json:"card_id"`
	CardName  string `json:"card_name"`
	CardType  string `json:"card_type"`
	SpecName  string `json:"spec_name"`
	SpecValue string `json:"spec_value"`
	Enabled   bool   `json:"enabled"`
	Priority  int    `json:"priority"`
}

// DeliveryRule maps a keyword to a card for automatic delivery.
type DeliveryRule struct {
	ID          int64  `json:"id"`
	Keyword     string `json:"keyword"`
	CardID      int64  `json:"card_id"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// SessionList is the response of ListSessions.
type SessionList struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
}

// MessagePage is one page of a buyer's history.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// BuyerList is a page of buyers.
type BuyerList struct {
	Buyers   []Buyer `json:"buyers"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// PageParams selects a page of history. Zero fields are omitted.
type PageParams struct {
	Page     int
	PageSize int
	BeforeID int64
}

// BuyerQuery filters ListBuyers. Zero fields are omitted.
type BuyerQuery struct {
	CookieID string
	Search   string
	Page     int
	PageSize int
}

// SendRequest is the body of a send-message call.
type SendRequest struct {
	Message     string `json:"message"`
	MessageType string `json:"message_type,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
}

// BuyerUpdate changes a buyer's tags and notes.
type BuyerUpdate struct {
	Tags  []string `json:"tags,omitempty"`
	Notes *string  `json:"notes,omitempty"`
}

// QuickReplyInput creates or updates a quick reply. Zero fields are omitted.
type QuickReplyInput struct {
	Title     string `json:"title,omitempty"`
	Content   string `json:"content,omitempty"`
	Category  string `json:"category,omitempty"`
	SortOrder int    `json:"sort_order,omitempty"`
}

// BindingInput creates or updates a binding.
type BindingInput struct {
	CardID    int64  `json:"card_id,omitempty"`
	SpecName  string `json:"spec_name,omitempty"`
	SpecValue string `json:"spec_value,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// DeliveryRuleInput creates or updates a delivery rule.
type DeliveryRuleInput struct {
	Keyword     string `json:"keyword,omitempty"`
	CardID      int64  `json:"card_id,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// TestDeliveryRequest asks the backend to dry-run delivery for an order.
type TestDeliveryRequest struct {
	CookieID    string `json:"cookie_id"`
	OrderID     string `json:"order_id"`
	TestMessage string `json:"test_message,omitempty"`
}

// OrderInfo describes the order a test delivery resolved.
type OrderInfo struct {
	OrderID     string          `json:"order_id"`
	ItemTitle   string          `json:"item_title"`
	BuyerNick   string          `json:"buyer_nick"`
	Status      string          `json:"status"`
	OrderDetail json.RawMessage `json:"order_detail,omitempty"`
}

// TestDeliveryResult is the outcome of a test delivery.
type TestDeliveryResult struct {
	Message   string     `json:"message"`
	Triggered bool       `json:"triggered"`
	OrderInfo *OrderInfo `json:"order_info,omitempty"`
}
