// ABOUTME: HTTP and websocket surface of the fake seller backend
// ABOUTME: Serves the chat REST API from the in-memory store and fans live frames out via the hub

package fakebackend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/marketdesk/internal/api"
)

// Options configures a Server.
type Options struct {
	Store  *Store
	Hub    *Hub
	Logger *slog.Logger
	// Auth, when set, guards every endpoint except /health.
	Auth *SellerAuth
	// Journal, when set, receives every new message and read mark.
	Journal *Journal
}

// Server is an in-process stand-in for the seller backend.
type Server struct {
	store    *Store
	hub      *Hub
	logger   *slog.Logger
	auth     *SellerAuth
	journal  *Journal

	mu          sync.Mutex
	sendFailure string
}

// New creates a server. Nil store or hub are replaced by empty ones.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Store
	if store == nil {
		store = NewStore()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Server{
		store:    store,
		hub:      hub,
		logger:   logger.With("component", "fakebackend"),
		auth:     opts.Auth,
		journal:  opts.Journal,
	}
}

// Store returns the backing store.
func (s *Server) Store() *Store { return s.store }

// Hub returns the live feed hub.
func (s *Server) Hub() *Hub { return s.hub }

// FailSends makes every send reply success=false with msg. An empty msg
// restores normal sending.
func (s *Server) FailSends(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendFailure = msg
}

// Close drops all live subscribers.
func (s *Server) Close() {
	s.hub.Close()
}

// Handler returns the HTTP handler for the REST API and live feed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /accounts", s.handleAccounts)

	mux.HandleFunc("GET /chat/sessions/{cookie_id}", s.handleSessions)
	mux.HandleFunc("GET /chat/{cookie_id}/{buyer_id}/messages", s.handleMessages)
	mux.HandleFunc("POST /chat/{cookie_id}/{buyer_id}/send", s.handleSend)
	mux.HandleFunc("POST /chat/{cookie_id}/{buyer_id}/read", s.handleMarkRead)

	mux.HandleFunc("GET /buyers", s.handleBuyers)
	mux.HandleFunc("GET /buyers/{cookie_id}/{buyer_id}", s.handleBuyer)
	mux.HandleFunc("PUT /buyers/{cookie_id}/{buyer_id}", s.handleUpdateBuyer)

	mux.HandleFunc("GET /quick-replies", s.handleQuickReplies)
	mux.HandleFunc("GET /quick-replies/categories", s.handleQuickReplyCategories)
	mux.HandleFunc("POST /quick-replies", s.handleCreateQuickReply)
	mux.HandleFunc("PUT /quick-replies/{id}", s.handleUpdateQuickReply)
	mux.HandleFunc("DELETE /quick-replies/{id}", s.handleDeleteQuickReply)

	mux.HandleFunc("GET /bindings", s.handleBindings)
	mux.HandleFunc("GET /items/{cookie_id}/{item_id}/bindings", s.handleItemBindings)
	mux.HandleFunc("POST /items/{cookie_id}/{item_id}/bindings", s.handleCreateBinding)
	mux.HandleFunc("GET /bindings/{id}", s.handleBinding)
	mux.HandleFunc("PUT /bindings/{id}", s.handleUpdateBinding)
	mux.HandleFunc("DELETE /bindings/{id}", s.handleDeleteBinding)

	mux.HandleFunc("GET /delivery-rules", s.handleDeliveryRules)
	mux.HandleFunc("POST /delivery-rules", s.handleCreateDeliveryRule)
	mux.HandleFunc("PUT /delivery-rules/{id}", s.handleUpdateDeliveryRule)
	mux.HandleFunc("DELETE /delivery-rules/{id}", s.handleDeleteDeliveryRule)
	mux.HandleFunc("POST /api/test-delivery", s.handleTestDelivery)

	mux.HandleFunc("GET /ws/chat", s.handleFeed)
	mux.HandleFunc("GET /ws/chat/{cookie_id}", s.handleFeed)

	var protected http.Handler = mux
	if s.auth != nil {
		protected = s.auth.Require(mux)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.Handle("/", protected)
	return root
}

// BuyerMessage describes an inbound buyer message to inject.
type BuyerMessage struct {
	CookieID    string
	ChatID      string
	BuyerID     string
	BuyerName   string
	BuyerAvatar string
	ItemID      string
	Content     string
	MessageType string
}

// newMessageFrame is the live frame announcing a buyer message.
type newMessageFrame struct {
	Type        string `json:"type"`
	CookieID    string `json:"cookie_id"`
	ChatID      string `json:"chat_id"`
	BuyerID     string `json:"buyer_id"`
	BuyerName   string `json:"buyer_name"`
	BuyerAvatar string `json:"buyer_avatar"`
	ItemID      string `json:"item_id"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	Timestamp   string `json:"timestamp"`
}

// InjectBuyerMessage stores a buyer message and publishes a new_message frame
// to the account's subscribers and global subscribers. It returns the stored
// message and how many subscribers received the frame.
func (s *Server) InjectBuyerMessage(ctx context.Context, in BuyerMessage) (api.Message, int, error) {
	if in.CookieID == "" || in.BuyerID == "" {
		return api.Message{}, 0, errors.New("cookie_id and buyer_id are required")
	}
	m := api.Message{
		CookieID:    in.CookieID,
		ChatID:      in.ChatID,
		BuyerID:     in.BuyerID,
		ItemID:      in.ItemID,
		SenderType:  api.SenderBuyer,
		MessageType: in.MessageType,
		Content:     in.Content,
	}
	if m.MessageType == api.MessageImage {
		m.ImageURL = in.Content
	}
	profile := BuyerProfile{ID: in.BuyerID, Name: in.BuyerName, Avatar: in.BuyerAvatar}
	m = s.store.AddMessage(m, profile)
	s.persist(ctx, m, profile)

	frame, err := json.Marshal(newMessageFrame{
		Type:        "new_message",
		CookieID:    m.CookieID,
		ChatID:      m.ChatID,
		BuyerID:     m.BuyerID,
		BuyerName:   in.BuyerName,
		BuyerAvatar: in.BuyerAvatar,
		ItemID:      m.ItemID,
		Message:     m.Content,
		MessageType: m.MessageType,
		Timestamp:   m.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return m, 0, err
	}
	delivered := s.hub.Publish(m.CookieID, frame)

	s.logger.Debug("buyer message injected",
		"cookie_id", m.CookieID,
		"buyer_id", m.BuyerID,
		"item_id", m.ItemID,
		"subscribers", delivered,
	)
	return m, delivered, nil
}

// persist journals m when a journal is configured. Failures are logged; the
// in-memory store stays authoritative.
func (s *Server) persist(ctx context.Context, m api.Message, p BuyerProfile) {
	if s.journal == nil {
		return
	}
	if err := s.journal.AppendMessage(ctx, m, p); err != nil {
		s.logger.Warn("journal append failed", "message_id", m.ID, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.Count(""),
		"accounts":    s.hub.Accounts(),
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Accounts())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.store.Sessions(r.PathValue("cookie_id"))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := api.PageParams{
		Page:     queryInt(q.Get("page")),
		PageSize: queryInt(q.Get("page_size")),
	}
	if v := q.Get("before_id"); v != "" {
		page.BeforeID, _ = strconv.ParseInt(v, 10, 64)
	}
	result := s.store.Messages(r.PathValue("cookie_id"), r.PathValue("buyer_id"), page)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"messages": result.Messages,
		"total":    result.Total,
		"has_more": result.HasMore,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req api.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	s.mu.Lock()
	failure := s.sendFailure
	s.mu.Unlock()
	if failure != "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": failure})
		return
	}

	cookieID, buyerID := r.PathValue("cookie_id"), r.PathValue("buyer_id")
	m, err := s.store.Send(cookieID, buyerID, req)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	s.persist(r.Context(), m, BuyerProfile{ID: buyerID})
	s.logger.Info("seller message sent", "cookie_id", cookieID, "buyer_id", buyerID, "message_id", m.ID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "sent"})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	cookieID, buyerID := r.PathValue("cookie_id"), r.PathValue("buyer_id")
	marked := s.store.MarkRead(cookieID, buyerID)
	if s.journal != nil && marked > 0 {
		if err := s.journal.MarkRead(r.Context(), cookieID, buyerID); err != nil {
			s.logger.Warn("journal mark read failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "marked_count": marked})
}

func (s *Server) handleBuyers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list := s.store.Buyers(api.BuyerQuery{
		CookieID: q.Get("cookie_id"),
		Search:   q.Get("search"),
		Page:     queryInt(q.Get("page")),
		PageSize: queryInt(q.Get("page_size")),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"buyers":    list.Buyers,
		"total":     list.Total,
		"page":      list.Page,
		"page_size": list.PageSize,
	})
}

func (s *Server) handleBuyer(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Buyer(r.PathValue("cookie_id"), r.PathValue("buyer_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, b)
}

func (s *Server) handleUpdateBuyer(w http.ResponseWriter, r *http.Request) {
	var u api.BuyerUpdate
	if !decodeBody(w, r, &u) {
		return
	}
	if err := s.store.UpdateBuyer(r.PathValue("cookie_id"), r.PathValue("buyer_id"), u); err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, "updated")
}

func (s *Server) handleQuickReplies(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.store.QuickReplies(r.URL.Query().Get("category")))
}

func (s *Server) handleQuickReplyCategories(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.store.QuickReplyCategories())
}

func (s *Server) handleCreateQuickReply(w http.ResponseWriter, r *http.Request) {
	var in api.QuickReplyInput
	if !decodeBody(w, r, &in) {
		return
	}
	id, err := s.store.CreateQuickReply(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeCreated(w, id)
}

func (s *Server) handleUpdateQuickReply(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in api.QuickReplyInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.store.UpdateQuickReply(id, in); err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, "updated")
}

func (s *Server) handleDeleteQuickReply(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteQuickReply(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, "deleted")
}

func (s *Server) handleBindings(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.store.Bindings(r.URL.Query().Get("cookie_id"), ""))
}

func (s *Server) handleItemBindings(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.store.Bindings(r.PathValue("cookie_id"), r.PathValue("item_id")))
}

func (s *Server) handleCreateBinding(w http.ResponseWriter, r *http.Request) {
	var in api.BindingInput
	if !decodeBody(w, r, &in) {
		return
	}
	id, err := s.store.CreateBinding(r.PathValue("cookie_id"), r.PathValue("item_id"), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeCreated(w, id)
}

func (s *Server) handleBinding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.store.Binding(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, b)
}

func (s *Server) handleUpdateBinding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in api.BindingInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.store.UpdateBinding(id, in); err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, "updated")
}

func (s *Server) handleDeleteBinding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteBinding(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, "deleted")
}

func (s *Server) handleDeliveryRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.DeliveryRules())
}

func (s *Server) handleCreateDeliveryRule(w http.ResponseWriter, r *http.Request) {
	var in api.DeliveryRuleInput
	if !decodeBody(w, r, &in) {
		return
	}
	id, err := s.store.CreateDeliveryRule(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeCreated(w, id)
}

func (s *Server) handleUpdateDeliveryRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in api.DeliveryRuleInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.store.UpdateDeliveryRule(id, in); err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, "updated")
}

func (s *Server) handleDeleteDeliveryRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteDeliveryRule(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeOK(w, "deleted")
}

func (s *Server) handleTestDelivery(w http.ResponseWriter, r *http.Request) {
	var req api.TestDeliveryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CookieID == "" || req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "cookie_id and order_id are required")
		return
	}
	result := s.store.TestDelivery(req)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    result.Message,
		"triggered":  result.Triggered,
		"order_info": result.OrderInfo,
	})
}

// handleFeed upgrades to a websocket and streams the subscriber's frames.
// Client pings are answered with pong.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	cookieID := r.PathValue("cookie_id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames, subID := s.hub.Subscribe(ctx, cookieID)
	logger := s.logger.With("cookie_id", cookieID, "sub_id", subID)
	logger.Info("feed connected", "seller", sellerFrom(r.Context()))

	go func() {
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var frame struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &frame) == nil && frame.Type == "ping" {
				if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"pong"}`)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("feed disconnected")
			return
		case frame, ok := <-frames:
			if !ok {
				logger.Info("feed subscriber dropped")
				conn.Close(websocket.StatusGoingAway, "subscriber dropped")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				logger.Debug("feed write failed", "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func writeOK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

func writeCreated(w http.ResponseWriter, id int64) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "message": "created"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}
