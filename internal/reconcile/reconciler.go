// ABOUTME: Session reconciler merging REST snapshots with the live feed
// ABOUTME: Holds the session list, active timeline, unread counters, and compose buffer

package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/marketdesk/internal/api"
)

// Errors returned by reconciler operations.
var (
	ErrNoChatID     = errors.New("no chat id yet, wait for the buyer's first message")
	ErrNoSession    = errors.New("no session selected")
	ErrEmptyMessage = errors.New("message is empty")
	ErrStale        = errors.New("result superseded by a newer selection")
)

// Backend is the subset of the REST client the reconciler needs.
type Backend interface {
	ListSessions(ctx context.Context, cookieID string) (*api.SessionList, error)
	ListMessages(ctx context.Context, cookieID, buyerID string, page api.PageParams) (*api.MessagePage, error)
	SendMessage(ctx context.Context, cookieID, buyerID string, req api.SendRequest) (string, error)
	MarkRead(ctx context.Context, cookieID, buyerID string) (int, error)
}

// FrameCache remembers live frames that were already merged.
type FrameCache interface {
	Seen(key string) bool
}

// DeepLink names a (buyer, item) session to select once it shows up in a
// session snapshot.
type DeepLink struct {
	BuyerID string
	ItemID  string
}

// Options configures a Reconciler.
type Options struct {
	Backend  Backend
	Logger   *slog.Logger
	Notifier Notifier
	// PageSize is the history page requested by LoadMessages.
	PageSize int
	Frames   FrameCache
	Now      func() time.Time
}

// Reconciler owns the in-memory chat state for one workbench. All methods are
// safe for concurrent use; network calls run outside the lock and their
// results are dropped if the account or selection changed in the meantime.
type Reconciler struct {
	backend  Backend
	logger   *slog.Logger
	notify   Notifier
	pageSize int
	frames   FrameCache
	now      func() time.Time

	mu        sync.Mutex
	accountID string
	// generation bumps on every account switch.
	generation uint64
	// sessionsSeq orders LoadSessions calls so only the newest applies.
	sessionsSeq uint64
	sessions    []api.Session

	activeID string
	active   api.Session
	// base is the last history page; live holds messages appended since the
	// session was selected, kept so a late page load cannot drop them.
	base []api.Message
	live []api.Message

	compose  string
	deepLink *DeepLink
	lastID   int64
}

// New creates a reconciler.
func New(opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reconcile")

	notify := opts.Notifier
	if notify == nil {
		notify = LogNotifier(logger)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Reconciler{
		backend:  opts.Backend,
		logger:   logger,
		notify:   notify,
		pageSize: pageSize,
		frames:   opts.Frames,
		now:      now,
	}
}

// SetAccount switches the account scope. Changing accounts clears the session
// list, the selection and the timeline, and invalidates in-flight loads.
func (r *Reconciler) SetAccount(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setAccountLocked(accountID)
}

func (r *Reconciler) setAccountLocked(accountID string) {
	if accountID == r.accountID && r.generation > 0 {
		return
	}
	r.accountID = accountID
	r.generation++
	r.sessions = nil
	r.clearSelectionLocked()
}

func (r *Reconciler) clearSelectionLocked() {
	r.activeID = ""
	r.active = api.Session{}
	r.base = nil
	r.live = nil
}

// SetDeepLink requests that the session (buyerID, itemID) be selected when
// the next snapshot containing it loads. An empty buyerID clears it.
func (r *Reconciler) SetDeepLink(buyerID, itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buyerID == "" {
		r.deepLink = nil
		return
	}
	r.deepLink = &DeepLink{BuyerID: buyerID, ItemID: itemID}
}

// AccountID returns the current account scope.
func (r *Reconciler) AccountID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accountID
}

// Sessions returns a copy of the session list, most recently active first.
func (r *Reconciler) Sessions() []api.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.Session(nil), r.sessions...)
}

// Active returns the selected session, if any.
func (r *Reconciler) Active() (api.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.activeID != ""
}

// Timeline returns the active session's messages in creation order.
func (r *Reconciler) Timeline() []api.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timelineLocked()
}

// Compose returns the compose buffer.
func (r *Reconciler) Compose() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compose
}

// SetCompose replaces the compose buffer.
func (r *Reconciler) SetCompose(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compose = text
}

// ApplyQuickReply puts a template's content in the compose buffer.
func (r *Reconciler) ApplyQuickReply(reply api.QuickReply) {
	r.SetCompose(reply.Content)
}

// TotalUnread sums the unread counters of every session.
func (r *Reconciler) TotalUnread() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, s := range r.sessions {
		total += s.UnreadCount
	}
	return total
}

func (r *Reconciler) indexLocked(id string) int {
	for i := range r.sessions {
		if r.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// nextLocalID returns a millisecond timestamp id that is unique within this
// reconciler.
func (r *Reconciler) nextLocalID(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= r.lastID {
		id = r.lastID + 1
	}
	r.lastID = id
	return id
}
