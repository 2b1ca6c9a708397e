// ABOUTME: Line-oriented command loop and rendering for the marketdesk console
// ABOUTME: Slash commands drive the workbench; plain text is sent to the open session

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/2389/marketdesk/internal/api"
	"github.com/2389/marketdesk/internal/feed"
	"github.com/2389/marketdesk/internal/reconcile"
	"github.com/2389/marketdesk/internal/workbench"
)

// console renders workbench state. Output from the input loop and from feed
// callbacks is serialized by mu.
type console struct {
	wb  *workbench.Workbench
	out io.Writer
	mu  sync.Mutex
	now func() time.Time

	cyan   *color.Color
	green  *color.Color
	yellow *color.Color
	red    *color.Color
	gray   *color.Color
	bold   *color.Color
}

func newConsole(out io.Writer) *console {
	return &console{
		out:    out,
		now:    time.Now,
		cyan:   color.New(color.FgCyan),
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed),
		gray:   color.New(color.FgHiBlack),
		bold:   color.New(color.Bold),
	}
}

// loop reads lines from in until /quit, EOF or ctx ends.
func (c *console) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		}
	}()

	for {
		c.prompt()
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return fmt.Errorf("reading input: %w", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if c.handle(ctx, line) {
				return nil
			}
		}
	}
}

func (c *console) prompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.wb.Active(); ok {
		fmt.Fprintf(c.out, "[%s]> ", displayName(s))
		return
	}
	fmt.Fprint(c.out, "> ")
}

// handle runs one input line and reports whether the console should exit.
func (c *console) handle(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	if !strings.HasPrefix(input, "/") {
		c.report(c.wb.Send(ctx, input))
		return false
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		c.printHelp()
	case "/accounts":
		c.printAccounts()
	case "/account":
		if arg == "" {
			c.errorf("usage: /account <id>")
			break
		}
		if c.report(c.wb.SelectAccount(ctx, arg)) {
			c.printSessions()
		}
	case "/sessions":
		if c.report(c.wb.Refresh(ctx)) {
			c.printSessions()
		}
	case "/search":
		if c.report(c.wb.Search(ctx, arg)) {
			c.printSessions()
		}
	case "/open":
		id, err := c.resolveSession(arg)
		if err != nil {
			c.errorf("%v", err)
			break
		}
		if c.report(c.wb.SelectSession(ctx, id)) {
			c.printTimeline()
		}
	case "/history":
		if !c.requireSession() {
			break
		}
		if c.report(c.wb.ReloadHistory(ctx)) {
			c.printTimeline()
		}
	case "/quick":
		c.printQuickReplies()
	case "/q":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			c.errorf("usage: /q <quick reply id>")
			break
		}
		reply, err := c.wb.UseQuickReply(id)
		if c.report(err) {
			c.infof("compose: %s  (/send to send it)", reply.Content)
		}
	case "/send":
		c.report(c.wb.Send(ctx, ""))
	case "/read":
		if !c.requireSession() {
			break
		}
		if c.report(c.wb.MarkRead(ctx)) {
			c.infof("marked read")
		}
	case "/status":
		c.printStatus()
	default:
		c.errorf("unknown command %s (try /help)", cmd)
	}
	return false
}

// resolveSession maps "/open" arguments to a session id: a 1-based index into
// the current list, or an id.
func (c *console) resolveSession(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("usage: /open <n|session id>")
	}
	sessions := c.wb.Sessions()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(sessions) {
			return "", fmt.Errorf("no session #%d (have %d)", n, len(sessions))
		}
		return sessions[n-1].ID, nil
	}
	for _, s := range sessions {
		if s.ID == arg {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("no session %q", arg)
}

func (c *console) requireSession() bool {
	if _, ok := c.wb.Active(); ok {
		return true
	}
	c.errorf("no session open (use /open)")
	return false
}

// report prints err if non-nil and returns whether the call succeeded.
// Reconciler failures already surfaced as notices are not repeated.
func (c *console) report(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *api.Error
	switch {
	case errors.Is(err, reconcile.ErrNoChatID), errors.Is(err, reconcile.ErrNoSession), errors.As(err, &apiErr):
	default:
		c.errorf("%v", err)
	}
	return false
}

// notice is the reconciler's Notifier.
func (c *console) notice(n reconcile.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch n.Level {
	case reconcile.LevelError:
		c.red.Fprintf(c.out, "\n[error] %s\n", n)
	case reconcile.LevelWarn:
		c.yellow.Fprintf(c.out, "\n[warn] %s\n", n)
	default:
		c.gray.Fprintf(c.out, "\n[info] %s\n", n)
	}
}

// event prints live messages as they arrive.
func (c *console) event(ev feed.Event, applied bool) {
	if !applied || ev.Type != feed.TypeNewMessage {
		return
	}
	name := ev.BuyerName
	if name == "" {
		name = ev.BuyerID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cyan.Fprintf(c.out, "\n◀ %s", name)
	c.gray.Fprintf(c.out, " [%s]", ev.ItemID)
	fmt.Fprintf(c.out, " %s\n", eventText(ev))
}

func eventText(ev feed.Event) string {
	if ev.MessageType == api.MessageImage {
		return "[image] " + ev.Message
	}
	return ev.Message
}

func (c *console) infof(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.green.Fprintf(c.out, format+"\n", args...)
}

func (c *console) errorf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.red.Fprintf(c.out, "[error] "+format+"\n", args...)
}

func (c *console) printHelp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, "Commands:")
	fmt.Fprintln(c.out, "  /accounts         List seller accounts")
	fmt.Fprintln(c.out, "  /account <id>     Switch account")
	fmt.Fprintln(c.out, "  /sessions         Reload and list sessions")
	fmt.Fprintln(c.out, "  /search <kw>      Filter sessions by buyer or item (empty clears)")
	fmt.Fprintln(c.out, "  /open <n|id>      Open a session")
	fmt.Fprintln(c.out, "  /history          Reload the open session's history")
	fmt.Fprintln(c.out, "  /quick            List quick replies")
	fmt.Fprintln(c.out, "  /q <id>           Put a quick reply in the compose buffer")
	fmt.Fprintln(c.out, "  /send             Send the compose buffer")
	fmt.Fprintln(c.out, "  /read             Mark the open session read")
	fmt.Fprintln(c.out, "  /status           Show account and feed state")
	fmt.Fprintln(c.out, "  /help             Show this help")
	fmt.Fprintln(c.out, "  /quit             Exit")
	fmt.Fprintln(c.out, "Anything else is sent to the open session.")
}

func (c *console) printAccounts() {
	accounts := c.wb.Accounts()
	current := c.wb.Status().AccountID

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(accounts) == 0 {
		fmt.Fprintln(c.out, "No accounts")
		return
	}
	for _, a := range accounts {
		marker := " "
		if a.ID == current {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %s", marker, a.ID)
		if a.Remark != "" {
			c.gray.Fprintf(c.out, "  %s", a.Remark)
		}
		if !a.Enabled {
			c.yellow.Fprint(c.out, "  (disabled)")
		}
		fmt.Fprintln(c.out)
	}
}

func (c *console) printSessions() {
	sessions := c.wb.Sessions()
	active, _ := c.wb.Active()
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "No sessions")
		return
	}
	for i, s := range sessions {
		marker := " "
		if s.ID == active.ID {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s%3d ", marker, i+1)
		c.bold.Fprint(c.out, displayName(s))
		if s.ItemTitle != "" {
			c.gray.Fprintf(c.out, " · %s", s.ItemTitle)
		}
		if s.UnreadCount > 0 {
			c.yellow.Fprintf(c.out, " (%d unread)", s.UnreadCount)
		}
		fmt.Fprintln(c.out)
		if s.LastMessage != "" {
			fmt.Fprintf(c.out, "      %s", truncate(s.LastMessage, 60))
			if !s.LastMessageTime.IsZero() {
				c.gray.Fprintf(c.out, "  %s", humanize.RelTime(s.LastMessageTime.Time, now, "ago", "from now"))
			}
			fmt.Fprintln(c.out)
		}
	}
}

func (c *console) printTimeline() {
	s, ok := c.wb.Active()
	if !ok {
		c.errorf("no session open")
		return
	}
	timeline := c.wb.Timeline()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bold.Fprintf(c.out, "── %s", displayName(s))
	if s.ItemTitle != "" {
		c.gray.Fprintf(c.out, " · %s", s.ItemTitle)
	}
	fmt.Fprintln(c.out)
	if len(timeline) == 0 {
		c.gray.Fprintln(c.out, "   (no messages)")
		return
	}
	for _, m := range timeline {
		c.gray.Fprintf(c.out, "%s ", m.CreatedAt.Local().Format("01-02 15:04"))
		if m.SenderType == api.SenderSeller {
			c.green.Fprint(c.out, "me    ")
		} else {
			c.cyan.Fprint(c.out, "buyer ")
		}
		fmt.Fprintln(c.out, messageText(m))
	}
}

func messageText(m api.Message) string {
	switch m.MessageType {
	case api.MessageImage:
		url := m.ImageURL
		if url == "" {
			url = m.Content
		}
		return "[image] " + url
	case api.MessageCard, api.MessageOrder:
		return "[" + m.MessageType + "] " + m.Content
	default:
		return m.Content
	}
}

func (c *console) printQuickReplies() {
	replies := c.wb.QuickReplies()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(replies) == 0 {
		fmt.Fprintln(c.out, "No quick replies")
		return
	}
	for _, q := range replies {
		fmt.Fprintf(c.out, "%4d ", q.ID)
		c.bold.Fprint(c.out, q.Title)
		c.gray.Fprintf(c.out, " [%s]", q.Category)
		fmt.Fprintf(c.out, "  %s\n", truncate(q.Content, 50))
	}
}

func (c *console) printStatus() {
	st := c.wb.Status()

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "Account: %s   Sessions: %d   Unread: %d\n", st.AccountID, st.Sessions, st.Unread)
	fmt.Fprint(c.out, "Feed:    ")
	switch st.Feed {
	case feed.StateConnected:
		c.green.Fprint(c.out, st.Feed)
	case feed.StateConnecting:
		c.yellow.Fprint(c.out, st.Feed)
	default:
		c.red.Fprint(c.out, st.Feed)
	}
	if st.FeedError != "" {
		c.gray.Fprintf(c.out, " (last error: %s)", st.FeedError)
	}
	fmt.Fprintln(c.out)
	if st.Filter != "" {
		fmt.Fprintf(c.out, "Filter:  %q\n", st.Filter)
	}
	if compose := c.wb.Compose(); compose != "" {
		fmt.Fprintf(c.out, "Compose: %s\n", compose)
	}
}

func displayName(s api.Session) string {
	if s.BuyerName != "" {
		return s.BuyerName
	}
	return s.BuyerID
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
