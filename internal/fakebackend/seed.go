// ABOUTME: Demo data for local runs of the fake backend

package fakebackend

import (
	"time"

	"github.com/2389/marketdesk/internal/api"
)

// SeedCatalog adds the demo items. Item data is not journaled, so it is
// reapplied on every start.
func SeedCatalog(s *Store) {
	s.AddItem("shop-main", "item-100", Item{Title: "Vintage film camera", Image: "https://img.example.com/item-100.jpg"})
	s.AddItem("shop-main", "item-200", Item{Title: "Mechanical keyboard", Image: "https://img.example.com/item-200.jpg"})
	s.AddItem("shop-outlet", "item-300", Item{Title: "Desk lamp"})
}

// Seed fills s with two accounts, a few conversations, quick replies, a
// binding and a delivery rule. Message times count back from now.
func Seed(s *Store, now time.Time) {
	s.AddAccount(api.Account{ID: "shop-main", Remark: "Main shop", Enabled: true})
	s.AddAccount(api.Account{ID: "shop-outlet", Remark: "Outlet", Enabled: true})

	SeedCatalog(s)

	at := func(ago time.Duration) api.Time { return api.Time{Time: now.Add(-ago).UTC()} }
	alice := BuyerProfile{ID: "buyer-alice", Name: "Alice", Avatar: "https://img.example.com/alice.png"}
	bob := BuyerProfile{ID: "buyer-bob", Name: "Bob"}
	carol := BuyerProfile{ID: "buyer-carol", Name: "Carol"}

	history := []struct {
		m api.Message
		p BuyerProfile
	}{
		{api.Message{CookieID: "shop-main", ChatID: "chat-a1", BuyerID: alice.ID, ItemID: "item-100", SenderType: api.SenderBuyer, Content: "Is the camera still available?", IsRead: true, CreatedAt: at(3 * time.Hour)}, alice},
		{api.Message{CookieID: "shop-main", ChatID: "chat-a1", BuyerID: alice.ID, ItemID: "item-100", SenderType: api.SenderSeller, Content: "Yes, it ships tomorrow.", CreatedAt: at(170 * time.Minute)}, alice},
		{api.Message{CookieID: "shop-main", ChatID: "chat-a1", BuyerID: alice.ID, ItemID: "item-100", SenderType: api.SenderBuyer, Content: "Does it include the lens cap?", CreatedAt: at(20 * time.Minute)}, alice},
		{api.Message{CookieID: "shop-main", ChatID: "chat-a2", BuyerID: alice.ID, ItemID: "item-200", SenderType: api.SenderBuyer, Content: "Which switches does it use?", CreatedAt: at(90 * time.Minute)}, alice},
		{api.Message{CookieID: "shop-main", ChatID: "chat-b1", BuyerID: bob.ID, ItemID: "item-200", SenderType: api.SenderBuyer, MessageType: api.MessageImage, Content: "https://img.example.com/bob-photo.jpg", ImageURL: "https://img.example.com/bob-photo.jpg", CreatedAt: at(45 * time.Minute)}, bob},
		{api.Message{CookieID: "shop-outlet", ChatID: "chat-c1", BuyerID: carol.ID, ItemID: "item-300", SenderType: api.SenderBuyer, Content: "Can you do 20 off?", CreatedAt: at(10 * time.Minute)}, carol},
	}
	for _, h := range history {
		s.AddMessage(h.m, h.p)
	}

	_, _ = s.CreateQuickReply(api.QuickReplyInput{Title: "Greeting", Content: "Hi! Thanks for your interest.", Category: "general", SortOrder: 1})
	_, _ = s.CreateQuickReply(api.QuickReplyInput{Title: "Shipping", Content: "Orders ship within 24 hours.", Category: "shipping", SortOrder: 2})
	_, _ = s.CreateQuickReply(api.QuickReplyInput{Title: "No bargaining", Content: "Sorry, the price is firm.", Category: "general", SortOrder: 3})

	_, _ = s.CreateBinding("shop-main", "item-100", api.BindingInput{CardID: 7, Priority: 1})
	_, _ = s.CreateDeliveryRule(api.DeliveryRuleInput{Keyword: "camera", CardID: 7, Description: "Camera manual"})
}
