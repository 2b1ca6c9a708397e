// ABOUTME: Workbench wires config, REST client, live feed, and reconciler together
// ABOUTME: It owns account switching, deep links, search, sending, and quick replies

package workbench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/2389/marketdesk/internal/api"
	"github.com/2389/marketdesk/internal/auth"
	"github.com/2389/marketdesk/internal/config"
	"github.com/2389/marketdesk/internal/dedupe"
	"github.com/2389/marketdesk/internal/feed"
	"github.com/2389/marketdesk/internal/reconcile"
)

var (
	// ErrNoAccounts is returned by Start when the backend has no accounts.
	ErrNoAccounts = errors.New("backend has no seller accounts")
	// ErrUnknownQuickReply is returned for a quick reply id that is not loaded.
	ErrUnknownQuickReply = errors.New("unknown quick reply")
	// ErrUnknownAccount is returned when selecting an account that is not loaded.
	ErrUnknownAccount = errors.New("unknown account")
)

// Backend is the REST surface the workbench uses.
type Backend interface {
	reconcile.Backend
	ListAccounts(ctx context.Context) ([]api.Account, error)
	ListQuickReplies(ctx context.Context, category string) ([]api.QuickReply, error)
	ListQuickReplyCategories(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of a Workbench. Zero fields are built from the
// config.
type Deps struct {
	Backend  Backend
	Dialer   feed.Dialer
	Logger   *slog.Logger
	Notifier reconcile.Notifier
	// Token overrides the credentials named in the config.
	Token string
	// OnEvent observes every live event after the reconciler saw it.
	// applied is false when the event was ignored or a duplicate.
	OnEvent func(ev feed.Event, applied bool)
}

// Workbench is one operator's view of the seller backend.
type Workbench struct {
	cfg     *config.Config
	backend Backend
	feed    *feed.Client
	rec     *reconcile.Reconciler
	frames  *dedupe.Cache
	logger  *slog.Logger
	onEvent func(feed.Event, bool)

	mu         sync.Mutex
	accounts   []api.Account
	replies    []api.QuickReply
	categories []string
	filter     string
}

// Status summarizes the workbench for a status line.
type Status struct {
	AccountID string
	Feed      feed.State
	FeedError string
	Sessions  int
	Unread    int
	Filter    string
	Active    string
}

// New builds a workbench from cfg. It does no I/O besides reading a token
// file; call Start to load data and connect.
func New(cfg *config.Config, deps Deps) (*Workbench, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	token := deps.Token
	if token == "" {
		t, err := auth.LoadToken(auth.Source{Token: cfg.Auth.Token, TokenFile: cfg.Auth.TokenFile})
		if err != nil {
			return nil, fmt.Errorf("loading credentials: %w", err)
		}
		token = t
	}

	backend := deps.Backend
	if backend == nil {
		client, err := api.New(api.Options{
			BaseURL: cfg.Backend.BaseURL,
			Token:   token,
			Timeout: cfg.Backend.RequestTimeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating api client: %w", err)
		}
		backend = client
	}

	frames := dedupe.New(cfg.Workbench.DedupeTTL, cfg.Workbench.DedupeSize)
	w := &Workbench{
		cfg:     cfg,
		backend: backend,
		frames:  frames,
		logger:  logger.With("component", "workbench"),
		onEvent: deps.OnEvent,
	}
	w.rec = reconcile.New(reconcile.Options{
		Backend:  backend,
		Logger:   logger,
		Notifier: deps.Notifier,
		PageSize: cfg.Workbench.PageSize,
		Frames:   frames,
	})
	w.feed = feed.New(feed.Options{
		BaseURL:           cfg.FeedURL(),
		Token:             token,
		DisableReconnect:  !cfg.Feed.Reconnect(),
		ReconnectDelay:    cfg.Feed.ReconnectDelay,
		HeartbeatInterval: cfg.Feed.HeartbeatInterval,
		DialTimeout:       cfg.Feed.DialTimeout,
		Logger:            logger,
		Dialer:            deps.Dialer,
	}, w.handleEvent)

	return w, nil
}

// handleEvent runs on the feed reader goroutine, so events reach the
// reconciler in arrival order.
func (w *Workbench) handleEvent(ev feed.Event) {
	applied := w.rec.OnInboundEvent(ev)
	if w.onEvent != nil {
		w.onEvent(ev, applied)
	}
}

// Start loads accounts and quick replies, picks the configured account (or
// the first enabled one), connects the feed and loads sessions. A configured
// deep link is applied to the first session snapshot that contains it.
func (w *Workbench) Start(ctx context.Context) error {
	var (
		accounts   []api.Account
		replies    []api.QuickReply
		categories []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := w.backend.ListAccounts(gctx)
		if err != nil {
			return fmt.Errorf("loading accounts: %w", err)
		}
		accounts = a
		return nil
	})
	// Quick replies are optional; the workbench is usable without them.
	g.Go(func() error {
		r, err := w.backend.ListQuickReplies(gctx, "")
		if err != nil {
			w.logger.Warn("loading quick replies failed", "error", err)
			return nil
		}
		replies = r
		return nil
	})
	g.Go(func() error {
		c, err := w.backend.ListQuickReplyCategories(gctx)
		if err != nil {
			w.logger.Warn("loading quick reply categories failed", "error", err)
			return nil
		}
		categories = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	w.mu.Lock()
	w.accounts = accounts
	w.replies = replies
	w.categories = categories
	w.mu.Unlock()

	accountID, err := pickAccount(accounts, w.cfg.Workbench.AccountID)
	if err != nil {
		return err
	}

	if dl := w.cfg.Workbench; dl.DeepLinkBuyerID != "" {
		w.rec.SetDeepLink(dl.DeepLinkBuyerID, dl.DeepLinkItemID)
	}

	w.logger.Info("workbench started",
		"account_id", accountID,
		"accounts", len(accounts),
		"quick_replies", len(replies),
	)
	return w.SelectAccount(ctx, accountID)
}

// pickAccount returns preferred when it is listed, else the first enabled
// account, else the first account.
func pickAccount(accounts []api.Account, preferred string) (string, error) {
	if len(accounts) == 0 {
		return "", ErrNoAccounts
	}
	if preferred != "" {
		for _, a := range accounts {
			if a.ID == preferred {
				return a.ID, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrUnknownAccount, preferred)
	}
	for _, a := range accounts {
		if a.Enabled {
			return a.ID, nil
		}
	}
	return accounts[0].ID, nil
}

// SelectAccount switches to accountID: the reconciler resets, the feed
// reconnects scoped to the account and sessions reload. The search filter is
// cleared.
func (w *Workbench) SelectAccount(ctx context.Context, accountID string) error {
	w.mu.Lock()
	if len(w.accounts) > 0 && !hasAccount(w.accounts, accountID) {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	w.filter = ""
	w.mu.Unlock()

	if w.rec.AccountID() != accountID {
		w.logger.Info("switching account", "account_id", accountID)
	}
	w.rec.SetAccount(accountID)
	if w.feed.AccountID() != accountID || w.feed.State() == feed.StateDisconnected {
		w.feed.Connect(accountID)
	}
	return w.Refresh(ctx)
}

func hasAccount(accounts []api.Account, id string) bool {
	for _, a := range accounts {
		if a.ID == id {
			return true
		}
	}
	return false
}

// Refresh reloads the session list with the current filter. When a pending
// deep link matches, its history is loaded too.
func (w *Workbench) Refresh(ctx context.Context) error {
	w.mu.Lock()
	filter := w.filter
	w.mu.Unlock()

	accountID := w.rec.AccountID()
	selected, err := w.rec.LoadSessions(ctx, accountID, filter)
	if errors.Is(err, reconcile.ErrStale) {
		return nil
	}
	if err != nil {
		return err
	}
	if selected != nil {
		return w.loadMessages(ctx, accountID, *selected)
	}
	return nil
}

// Search filters the session list by keyword over buyer name, buyer id and
// item title. An empty keyword shows every session.
func (w *Workbench) Search(ctx context.Context, keyword string) error {
	w.mu.Lock()
	w.filter = keyword
	w.mu.Unlock()
	return w.Refresh(ctx)
}

// SelectSession opens a session and loads its history.
func (w *Workbench) SelectSession(ctx context.Context, sessionID string) error {
	s, err := w.rec.Select(sessionID)
	if err != nil {
		return err
	}
	return w.loadMessages(ctx, w.rec.AccountID(), s)
}

// ReloadHistory reloads the active session's history.
func (w *Workbench) ReloadHistory(ctx context.Context) error {
	s, ok := w.rec.Active()
	if !ok {
		return reconcile.ErrNoSession
	}
	return w.loadMessages(ctx, w.rec.AccountID(), s)
}

func (w *Workbench) loadMessages(ctx context.Context, accountID string, s api.Session) error {
	err := w.rec.LoadMessages(ctx, accountID, s)
	if errors.Is(err, reconcile.ErrStale) {
		return nil
	}
	return err
}

// MarkRead marks the active session read.
func (w *Workbench) MarkRead(ctx context.Context) error {
	return w.rec.MarkRead(ctx)
}

// Send sends text to the active session, or the compose buffer when text is
// empty. A failed send leaves the text in the compose buffer.
func (w *Workbench) Send(ctx context.Context, text string) error {
	if text != "" {
		w.rec.SetCompose(text)
	}
	return w.rec.Send(ctx)
}

// QuickReplies returns the loaded templates.
func (w *Workbench) QuickReplies() []api.QuickReply {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]api.QuickReply(nil), w.replies...)
}

// QuickReplyCategories returns the loaded template categories.
func (w *Workbench) QuickReplyCategories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.categories...)
}

// UseQuickReply puts template id into the compose buffer and returns it.
func (w *Workbench) UseQuickReply(id int64) (api.QuickReply, error) {
	w.mu.Lock()
	var (
		reply api.QuickReply
		found bool
	)
	for _, q := range w.replies {
		if q.ID == id {
			reply, found = q, true
			break
		}
	}
	w.mu.Unlock()

	if !found {
		return api.QuickReply{}, fmt.Errorf("%w: %d", ErrUnknownQuickReply, id)
	}
	w.rec.ApplyQuickReply(reply)
	return reply, nil
}

// Accounts returns the loaded accounts.
func (w *Workbench) Accounts() []api.Account {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]api.Account(nil), w.accounts...)
}

// Sessions returns the current session list.
func (w *Workbench) Sessions() []api.Session { return w.rec.Sessions() }

// Active returns the selected session.
func (w *Workbench) Active() (api.Session, bool) { return w.rec.Active() }

// Timeline returns the active session's messages.
func (w *Workbench) Timeline() []api.Message { return w.rec.Timeline() }

// Compose returns the compose buffer.
func (w *Workbench) Compose() string { return w.rec.Compose() }

// SetCompose replaces the compose buffer.
func (w *Workbench) SetCompose(text string) { w.rec.SetCompose(text) }

// Status reports account, feed and unread state.
func (w *Workbench) Status() Status {
	w.mu.Lock()
	filter := w.filter
	w.mu.Unlock()

	st := Status{
		AccountID: w.rec.AccountID(),
		Feed:      w.feed.State(),
		FeedError: w.feed.LastError(),
		Sessions:  len(w.rec.Sessions()),
		Unread:    w.rec.TotalUnread(),
		Filter:    filter,
	}
	if s, ok := w.rec.Active(); ok {
		st.Active = s.ID
	}
	return st
}

// Close disconnects the feed and stops background work. The workbench cannot
// be restarted.
func (w *Workbench) Close() {
	w.feed.Close()
	w.frames.Close()
	w.logger.Debug("workbench closed")
}
