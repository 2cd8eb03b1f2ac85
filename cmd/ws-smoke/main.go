// Package main provides a CI-friendly WebSocket smoke test for a running
// msgwindow backend.
//
// It validates:
//   - hello/join session establishment for two clients
//   - send -> ack and the message_changed fanout to the other client
//   - idempotent dedupe by client_msg_id
//   - status updates fanned out as "updated" changes
//   - newest-page fetch through the pager
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"msgwindow/cmd/internal/pager"
	"msgwindow/cmd/internal/window"
	"msgwindow/cmd/internal/wsclient"
)

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send")
		convID  = flag.String("conv", "smoke-"+time.Now().UTC().Format("20060102T150405"), "Conversation ID to join")
		text    = flag.String("text", "hello msgwindow", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	log := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))

	root := context.Background()
	dial := func(role string) *wsclient.Client {
		ctx, cancel := context.WithTimeout(root, *timeout)
		defer cancel()
		c, err := wsclient.Dial(ctx, log, wsclient.Config{
			URL:            *wsURL,
			Origin:         *origin,
			ConversationID: *convID,
			Role:           role,
			RequestTimeout: *timeout,
		})
		if err != nil {
			fatalf("connect %s: %v", role, err)
		}
		return c
	}

	a := dial("customer")
	defer func() { _ = a.Close() }()
	b := dial("operator")
	defer func() { _ = b.Close() }()

	changes, err := b.Subscribe(root)
	if err != nil {
		fatalf("subscribe: %v", err)
	}

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())
	sent := step(root, *timeout, "send", func(ctx context.Context) (window.Message, error) {
		return a.SendWithID(ctx, clientMsgID, *text)
	})
	if sent.Text != *text || sent.Sender != window.SenderCustomer || sent.Status != window.StatusSent {
		fatalf("ack mismatch: %+v", sent)
	}
	mustChange(changes, *timeout, window.ChangeAdded, sent.ID)

	again := step(root, *timeout, "resend", func(ctx context.Context) (window.Message, error) {
		return a.SendWithID(ctx, clientMsgID, *text)
	})
	if again.ID != sent.ID {
		fatalf("dedupe: id mismatch: first=%s second=%s", sent.ID, again.ID)
	}

	read := step(root, *timeout, "status", func(ctx context.Context) (window.Message, error) {
		return b.UpdateStatus(ctx, sent.ID, window.StatusRead)
	})
	if read.Status != window.StatusRead || !read.UpdatedAt.After(sent.UpdatedAt) {
		fatalf("status update not applied: %+v", read)
	}
	mustChange(changes, *timeout, window.ChangeUpdated, sent.ID)

	p := pager.New(b, pager.Config{DefaultLimit: 1})
	newest := step(root, *timeout, "fetch newest", func(ctx context.Context) (window.Page, error) {
		return p.FetchNewest(ctx, 1)
	})
	if len(newest.Edges) != 1 || newest.Edges[0].Message.ID != sent.ID {
		fatalf("newest page does not end with the sent message: %+v", newest)
	}
	if newest.PageInfo.HasPreviousPage {
		fatalf("fresh conversation reports older history")
	}

	fmt.Printf("OK: A=%s B=%s conv_id=%s msg_id=%s\n", a.SessionID(), b.SessionID(), *convID, sent.ID)
}

func step[T any](parent context.Context, timeout time.Duration, name string, fn func(context.Context) (T, error)) T {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	v, err := fn(ctx)
	if err != nil {
		fatalf("%s: %v", name, err)
	}
	return v
}

func mustChange(ch <-chan window.Change, timeout time.Duration, kind window.ChangeKind, id string) {
	deadline := time.After(timeout)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				fatalf("push channel closed waiting for %s %s", kind, id)
			}
			if c.Kind == kind && c.Message.ID == id {
				return
			}
		case <-deadline:
			fatalf("timeout waiting for %s %s", kind, id)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
