// ABOUTME: Fake seller backend for local runs and E2E testing of marketdesk
// ABOUTME: Usage: fake-backend [-addr :8080] [-secret S] [-db path] [-chatter 10s]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/marketdesk/internal/api"
	"github.com/2389/marketdesk/internal/config"
	"github.com/2389/marketdesk/internal/fakebackend"
	"github.com/2389/marketdesk/internal/logging"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "HTTP listen address")
	secret := flag.String("secret", "", "HS256 secret; when set every endpoint except /health requires a bearer token")
	subject := flag.String("subject", "seller", "token subject printed at startup when -secret is set")
	seed := flag.Bool("seed", true, "load demo accounts and conversations when the journal is empty")
	dbPath := flag.String("db", "", "SQLite journal for chat history (empty keeps everything in memory)")
	chatter := flag.Duration("chatter", 0, "inject a random buyer message this often (0 disables)")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	if err := run(*addr, *secret, *subject, *dbPath, *seed, *chatter, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(addr, secret, subject, dbPath string, seed bool, chatter time.Duration, logLevel string) error {
	logger := logging.New(config.LoggingConfig{Level: logLevel, Format: "text"}, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := fakebackend.NewStore()
	opts := fakebackend.Options{Store: store, Logger: logger}

	if dbPath != "" {
		journal, err := fakebackend.OpenJournal(dbPath, logger)
		if err != nil {
			return err
		}
		defer journal.Close()
		if _, err := journal.Restore(ctx, store); err != nil {
			return fmt.Errorf("restoring journal: %w", err)
		}
		opts.Journal = journal
	}

	switch {
	case seed && len(store.Accounts()) == 0:
		fakebackend.Seed(store, time.Now())
		if opts.Journal != nil {
			if err := opts.Journal.Snapshot(ctx, store); err != nil {
				return fmt.Errorf("journaling seed data: %w", err)
			}
		}
	case seed:
		fakebackend.SeedCatalog(store)
	}

	green := color.New(color.FgGreen)
	if secret != "" {
		sellerAuth := fakebackend.NewSellerAuth([]byte(secret))
		token, err := sellerAuth.Issue(subject, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		opts.Auth = sellerAuth
		green.Print("    ▶ ")
		fmt.Printf("Token:   %s\n", token)
	}
	srv := fakebackend.New(opts)
	defer srv.Close()

	green.Print("    ▶ ")
	fmt.Printf("HTTP:    http://%s\n", addr)
	green.Print("    ▶ ")
	fmt.Printf("Feed:    ws://%s/ws/chat\n\n", addr)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake backend listening", "addr", addr, "auth", secret != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if chatter > 0 {
		go runChatter(ctx, srv, chatter)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Close()
	return httpServer.Shutdown(shutdownCtx)
}

var chatterLines = []string{
	"Is this still available?",
	"Can you ship today?",
	"Would you take a lower offer?",
	"Thanks, payment sent.",
	"Does it come with a warranty?",
}

// runChatter injects a buyer message into a random seeded conversation every
// interval until ctx ends.
func runChatter(ctx context.Context, srv *fakebackend.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var sessions []api.Session
		for _, acct := range srv.Store().Accounts() {
			sessions = append(sessions, srv.Store().Sessions(acct.ID)...)
		}
		if len(sessions) == 0 {
			continue
		}
		s := sessions[rand.IntN(len(sessions))]
		_, _, _ = srv.InjectBuyerMessage(ctx, fakebackend.BuyerMessage{
			CookieID:  s.CookieID,
			ChatID:    s.ChatID,
			BuyerID:   s.BuyerID,
			BuyerName: s.BuyerName,
			ItemID:    s.ItemID,
			Content:   chatterLines[rand.IntN(len(chatterLines))],
		})
	}
}
