// ABOUTME: In-memory data behind the fake backend
// ABOUTME: Sessions are derived from stored messages grouped by buyer and item

package fakebackend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/marketdesk/internal/api"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Item is catalog data attached to sessions for an item.
type Item struct {
	Title string
	Image string
}

type buyerKey struct{ cookieID, buyerID string }

type itemKey struct{ cookieID, itemID string }

// Store holds the fake backend's state. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	// now stamps new records; tests may replace it.
	now func() time.Time

	accounts     []api.Account
	items        map[itemKey]Item
	buyers       map[buyerKey]*api.Buyer
	messages     []api.Message
	quickReplies []api.QuickReply
	bindings     []api.Binding
	rules        []api.DeliveryRule
	nextID       int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		now:    time.Now,
		items:  make(map[itemKey]Item),
		buyers: make(map[buyerKey]*api.Buyer),
	}
}

func (s *Store) idLocked() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) stampLocked() api.Time {
	return api.Time{Time: s.now().UTC()}
}

// AddAccount registers a seller account.
func (s *Store) AddAccount(a api.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == a.ID {
			s.accounts[i] = a
			return
		}
	}
	s.accounts = append(s.accounts, a)
}

// SetAccountEnabled toggles whether an account can send.
func (s *Store) SetAccountEnabled(cookieID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == cookieID {
			s.accounts[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("account %s: %w", cookieID, ErrNotFound)
}

// Accounts returns every account in registration order.
func (s *Store) Accounts() []api.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Account{}, s.accounts...)
}

func (s *Store) accountLocked(cookieID string) (api.Account, bool) {
	for _, a := range s.accounts {
		if a.ID == cookieID {
			return a, true
		}
	}
	return api.Account{}, false
}

// AddItem records catalog data for an item.
func (s *Store) AddItem(cookieID, itemID string, item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[itemKey{cookieID, itemID}] = item
}

// BuyerProfile is the identity a buyer message arrives with.
type BuyerProfile struct {
	ID     string
	Name   string
	Avatar string
}

func (s *Store) touchBuyerLocked(cookieID string, p BuyerProfile, m api.Message) {
	key := buyerKey{cookieID, p.ID}
	b, ok := s.buyers[key]
	if !ok {
		b = &api.Buyer{
			ID:        s.idLocked(),
			CookieID:  cookieID,
			BuyerID:   p.ID,
			Tags:      []string{},
			CreatedAt: m.CreatedAt,
		}
		s.buyers[key] = b
	}
	if p.Name != "" {
		b.BuyerName = p.Name
	}
	if p.Avatar != "" {
		b.BuyerAvatar = p.Avatar
	}
	if !m.CreatedAt.Before(b.LastMessageTime.Time) {
		b.LastMessage = m.Content
		b.LastMessageTime = m.CreatedAt
		b.UpdatedAt = m.CreatedAt
	}
	if m.SenderType == api.SenderBuyer && !m.IsRead {
		b.UnreadCount++
	}
}

// AddMessage stores a message. ID and CreatedAt are assigned when zero.
// Buyer messages update the buyer record with profile p.
func (s *Store) AddMessage(m api.Message, p BuyerProfile) api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		m.ID = s.idLocked()
	} else if m.ID > s.nextID {
		s.nextID = m.ID
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.stampLocked()
	}
	if m.MessageType == "" {
		m.MessageType = api.MessageText
	}
	if m.SenderType == api.SenderSeller {
		m.IsRead = true
	}
	if p.ID == "" {
		p.ID = m.BuyerID
	}
	s.messages = append(s.messages, m)
	s.touchBuyerLocked(m.CookieID, p, m)
	return m
}

// Sessions groups an account's messages by (buyer, item), newest activity
// first. Unread counts only unread buyer messages.
func (s *Store) Sessions(cookieID string) []api.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := make(map[string]*api.Session)
	var order []*api.Session
	for _, m := range s.messages {
		if m.CookieID != cookieID {
			continue
		}
		key := api.SessionKey(m.BuyerID, m.ItemID)
		sess, ok := byKey[key]
		if !ok {
			item := s.items[itemKey{cookieID, m.ItemID}]
			sess = &api.Session{
				ID:        key,
				CookieID:  cookieID,
				BuyerID:   m.BuyerID,
				ItemID:    m.ItemID,
				ItemTitle: item.Title,
				ItemImage: item.Image,
			}
			if b := s.buyers[buyerKey{cookieID, m.BuyerID}]; b != nil {
				sess.BuyerName = b.BuyerName
				sess.BuyerAvatar = b.BuyerAvatar
			}
			byKey[key] = sess
			order = append(order, sess)
		}
		if m.ChatID != "" {
			sess.ChatID = m.ChatID
		}
		if !m.CreatedAt.Before(sess.LastMessageTime.Time) {
			sess.LastMessage = m.Content
			sess.LastMessageTime = m.CreatedAt
		}
		if m.SenderType == api.SenderBuyer && !m.IsRead {
			sess.UnreadCount++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].LastMessageTime.After(order[j].LastMessageTime.Time)
	})
	out := make([]api.Session, len(order))
	for i, sess := range order {
		out[i] = *sess
	}
	return out
}

// Messages returns one page of a buyer's history across items, oldest first.
// Pages count back from the newest message; beforeID restricts the page to
// older messages.
func (s *Store) Messages(cookieID, buyerID string, page api.PageParams) api.MessagePage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []api.Message
	for _, m := range s.messages {
		if m.CookieID != cookieID || m.BuyerID != buyerID {
			continue
		}
		if page.BeforeID > 0 && m.ID >= page.BeforeID {
			continue
		}
		all = append(all, m)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt.Time)
	})

	size := page.PageSize
	if size <= 0 {
		size = 50
	}
	pageNum := page.Page
	if pageNum <= 0 {
		pageNum = 1
	}
	end := len(all) - (pageNum-1)*size
	if end < 0 {
		end = 0
	}
	start := end - size
	if start < 0 {
		start = 0
	}
	return api.MessagePage{
		Messages: append([]api.Message{}, all[start:end]...),
		Total:    len(all),
		HasMore:  start > 0,
	}
}

// Send stores a seller message for a buyer. It fails when the account is
// unknown or disabled.
func (s *Store) Send(cookieID, buyerID string, req api.SendRequest) (api.Message, error) {
	s.mu.Lock()
	acct, ok := s.accountLocked(cookieID)
	s.mu.Unlock()
	if !ok {
		return api.Message{}, fmt.Errorf("account %s: %w", cookieID, ErrNotFound)
	}
	if !acct.Enabled {
		return api.Message{}, fmt.Errorf("account %s is offline", cookieID)
	}
	return s.AddMessage(api.Message{
		CookieID:    cookieID,
		ChatID:      req.ChatID,
		BuyerID:     buyerID,
		ItemID:      req.ItemID,
		SenderType:  api.SenderSeller,
		MessageType: req.MessageType,
		Content:     req.Message,
		ImageURL:    req.ImageURL,
	}, BuyerProfile{ID: buyerID}), nil
}

// MarkRead marks a buyer's unread messages read and returns how many changed.
func (s *Store) MarkRead(cookieID, buyerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for i := range s.messages {
		m := &s.messages[i]
		if m.CookieID == cookieID && m.BuyerID == buyerID && m.SenderType == api.SenderBuyer && !m.IsRead {
			m.IsRead = true
			marked++
		}
	}
	if b := s.buyers[buyerKey{cookieID, buyerID}]; b != nil {
		b.UnreadCount = 0
	}
	return marked
}

// Buyers returns a page of buyers, most recent activity first. search
// matches buyer id or name, case-insensitively.
func (s *Store) Buyers(q api.BuyerQuery) api.BuyerList {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(q.Search))
	var all []api.Buyer
	for _, b := range s.buyers {
		if q.CookieID != "" && b.CookieID != q.CookieID {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(b.BuyerID), needle) &&
			!strings.Contains(strings.ToLower(b.BuyerName), needle) {
			continue
		}
		all = append(all, *b)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastMessageTime.Equal(all[j].LastMessageTime.Time) {
			return all[i].LastMessageTime.After(all[j].LastMessageTime.Time)
		}
		return all[i].ID < all[j].ID
	})

	page, size := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := min((page-1)*size, len(all))
	end := min(start+size, len(all))
	return api.BuyerList{
		Buyers:   append([]api.Buyer{}, all[start:end]...),
		Total:    len(all),
		Page:     page,
		PageSize: size,
	}
}

// Buyer returns one buyer.
func (s *Store) Buyer(cookieID, buyerID string) (api.Buyer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buyers[buyerKey{cookieID, buyerID}]
	if !ok {
		return api.Buyer{}, fmt.Errorf("buyer %s: %w", buyerID, ErrNotFound)
	}
	return *b, nil
}

// UpdateBuyer applies tags and notes to a buyer.
func (s *Store) UpdateBuyer(cookieID, buyerID string, u api.BuyerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buyers[buyerKey{cookieID, buyerID}]
	if !ok {
		return fmt.Errorf("buyer %s: %w", buyerID, ErrNotFound)
	}
	if u.Tags != nil {
		b.Tags = append([]string{}, u.Tags...)
	}
	if u.Notes != nil {
		b.Notes = *u.Notes
	}
	b.UpdatedAt = s.stampLocked()
	return nil
}

// QuickReplies lists templates ordered by sort order, optionally for one
// category.
func (s *Store) QuickReplies(category string) []api.QuickReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []api.QuickReply{}
	for _, q := range s.quickReplies {
		if category == "" || q.Category == category {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// QuickReplyCategories returns the distinct categories in first-seen order.
func (s *Store) QuickReplyCategories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	out := []string{}
	for _, q := range s.quickReplies {
		if q.Category != "" && !seen[q.Category] {
			seen[q.Category] = true
			out = append(out, q.Category)
		}
	}
	return out
}

// CreateQuickReply stores a template and returns its id.
func (s *Store) CreateQuickReply(in api.QuickReplyInput) (int64, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Content) == "" {
		return 0, errors.New("title and content are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q := api.QuickReply{
		ID:        s.idLocked(),
		UserID:    1,
		Category:  in.Category,
		Title:     in.Title,
		Content:   in.Content,
		SortOrder: in.SortOrder,
		CreatedAt: s.stampLocked(),
	}
	if q.Category == "" {
		q.Category = "general"
	}
	s.quickReplies = append(s.quickReplies, q)
	return q.ID, nil
}

// UpdateQuickReply changes the non-zero fields of a template.
func (s *Store) UpdateQuickReply(id int64, in api.QuickReplyInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.quickReplies {
		q := &s.quickReplies[i]
		if q.ID != id {
			continue
		}
		if in.Title != "" {
			q.Title = in.Title
		}
		if in.Content != "" {
			q.Content = in.Content
		}
		if in.Category != "" {
			q.Category = in.Category
		}
		if in.SortOrder != 0 {
			q.SortOrder = in.SortOrder
		}
		return nil
	}
	return fmt.Errorf("quick reply %d: %w", id, ErrNotFound)
}

// DeleteQuickReply removes a template.
func (s *Store) DeleteQuickReply(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.quickReplies {
		if q.ID == id {
			s.quickReplies = append(s.quickReplies[:i], s.quickReplies[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("quick reply %d: %w", id, ErrNotFound)
}

// Bindings lists bindings, optionally for one account and item.
func (s *Store) Bindings(cookieID, itemID string) []api.Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []api.Binding{}
	for _, b := range s.bindings {
		if cookieID != "" && b.CookieID != cookieID {
			continue
		}
		if itemID != "" && b.ItemID != itemID {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// CreateBinding binds a card to an item.
func (s *Store) CreateBinding(cookieID, itemID string, in api.BindingInput) (int64, error) {
	if in.CardID == 0 {
		return 0, errors.New("card_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := api.Binding{
		ID:        s.idLocked(),
		CookieID:  cookieID,
		ItemID:    itemID,
		CardID:    in.CardID,
		CardName:  fmt.Sprintf("card-%d", in.CardID),
		CardType:  "text",
		SpecName:  in.SpecName,
		SpecValue: in.SpecValue,
		Enabled:   in.Enabled == nil || *in.Enabled,
		Priority:  in.Priority,
	}
	s.bindings = append(s.bindings, b)
	return b.ID, nil
}

// Binding returns one binding.
func (s *Store) Binding(id int64) (api.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		if b.ID == id {
			return b, nil
		}
	}
	return api.Binding{}, fmt.Errorf("binding %d: %w", id, ErrNotFound)
}

// UpdateBinding changes the non-zero fields of a binding.
func (s *Store) UpdateBinding(id int64, in api.BindingInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bindings {
		b := &s.bindings[i]
		if b.ID != id {
			continue
		}
		if in.CardID != 0 {
			b.CardID = in.CardID
			b.CardName = fmt.Sprintf("card-%d", in.CardID)
		}
		if in.SpecName != "" {
			b.SpecName = in.SpecName
		}
		if in.SpecValue != "" {
			b.SpecValue = in.SpecValue
		}
		if in.Enabled != nil {
			b.Enabled = *in.Enabled
		}
		if in.Priority != 0 {
			b.Priority = in.Priority
		}
		return nil
	}
	return fmt.Errorf("binding %d: %w", id, ErrNotFound)
}

// DeleteBinding removes a binding.
func (s *Store) DeleteBinding(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.bindings {
		if b.ID == id {
			s.bindings = append(s.bindings[:i], s.bindings[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("binding %d: %w", id, ErrNotFound)
}

// DeliveryRules lists every rule.
func (s *Store) DeliveryRules() []api.DeliveryRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.DeliveryRule{}, s.rules...)
}

// CreateDeliveryRule stores a rule.
func (s *Store) CreateDeliveryRule(in api.DeliveryRuleInput) (int64, error) {
	if strings.TrimSpace(in.Keyword) == "" {
		return 0, errors.New("keyword is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := api.DeliveryRule{
		ID:          s.idLocked(),
		Keyword:     in.Keyword,
		CardID:      in.CardID,
		Description: in.Description,
		Enabled:     in.Enabled == nil || *in.Enabled,
	}
	s.rules = append(s.rules, r)
	return r.ID, nil
}

// UpdateDeliveryRule changes the non-zero fields of a rule.
func (s *Store) UpdateDeliveryRule(id int64, in api.DeliveryRuleInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		r := &s.rules[i]
		if r.ID != id {
			continue
		}
		if in.Keyword != "" {
			r.Keyword = in.Keyword
		}
		if in.CardID != 0 {
			r.CardID = in.CardID
		}
		if in.Description != "" {
			r.Description = in.Description
		}
		if in.Enabled != nil {
			r.Enabled = *in.Enabled
		}
		return nil
	}
	return fmt.Errorf("delivery rule %d: %w", id, ErrNotFound)
}

// DeleteDeliveryRule removes a rule.
func (s *Store) DeleteDeliveryRule(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delivery rule %d: %w", id, ErrNotFound)
}

// TestDelivery reports whether an enabled rule's keyword occurs in the test
// message.
func (s *Store) TestDelivery(req api.TestDeliveryRequest) api.TestDeliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := &api.OrderInfo{OrderID: req.OrderID, Status: "paid"}
	text := strings.ToLower(req.TestMessage)
	for _, r := range s.rules {
		if r.Enabled && text != "" && strings.Contains(text, strings.ToLower(r.Keyword)) {
			return api.TestDeliveryResult{
				Message:   fmt.Sprintf("rule %q would deliver card %d", r.Keyword, r.CardID),
				Triggered: true,
				OrderInfo: info,
			}
		}
	}
	return api.TestDeliveryResult{Message: "no rule matched", OrderInfo: info}
}
