// ABOUTME: Typed live feed frames exchanged with the backend
// ABOUTME: Inbound frames keep their raw bytes so handlers can read extra fields

package feed

import "encoding/json"

// Frame types on the live feed.
const (
	TypePing       = "ping"
	TypePong       = "pong"
	TypeNewMessage = "new_message"
)

// Event is an inbound application frame. Fields beyond Type are populated for
// new_message frames; other types carry their payload in Raw.
type Event struct {
	Type        string `json:"type"`
	CookieID    string `json:"cookie_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
	BuyerID     string `json:"buyer_id,omitempty"`
	BuyerName   string `json:"buyer_name,omitempty"`
	BuyerAvatar string `json:"buyer_avatar,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
	Message     string `json:"message,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Handler receives inbound events in arrival order, on the reader goroutine.
type Handler func(Event)

// frameHeader is decoded first to route a frame by type.
type frameHeader struct {
	Type string `json:"type"`
}

func decodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return ev, nil
}
