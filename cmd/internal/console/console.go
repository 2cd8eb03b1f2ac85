// Package console is a line-oriented rendering surface for a window
// controller: snapshots are printed with their virtual indices and typed
// lines become commands or sends.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"msgwindow/cmd/internal/window"
)

// Controller is the subset of window.Controller the console drives.
type Controller interface {
	Subscribe() (<-chan window.Snapshot, func())
	ReachedOldest()
	Resync()
	Retry()
	Submit(ctx context.Context, text string) (window.Message, error)
}

// StatusUpdater marks messages delivered or read.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, messageID string, status window.Status) (window.Message, error)
}

var errQuit = errors.New("console: quit")

// Command is one parsed input line.
type Command struct {
	Name string // older, resync, retry, read, delivered, quit, help, send
	Arg  string
}

// Parse classifies one input line. Lines that do not start with "/" are sends.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{Name: "send", Arg: line}, nil
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "older", "resync", "retry", "quit", "help":
		return Command{Name: name}, nil
	case "read", "delivered":
		if arg == "" {
			return Command{}, fmt.Errorf("/%s needs a message id", name)
		}
		return Command{Name: name, Arg: arg}, nil
	default:
		return Command{}, fmt.Errorf("unknown command /%s (try /help)", name)
	}
}

const helpText = `commands:
  /older            load the previous page
  /resync           fetch messages newer than the window
  /retry            reload after an error
  /read <id>        mark a message read
  /delivered <id>   mark a message delivered
  /quit             leave
anything else is sent as a message`

// Run renders ctrl to out and executes lines from in until ctx is canceled,
// in is exhausted or /quit is typed. The controller must already be mounted.
func Run(ctx context.Context, ctrl Controller, status StatusUpdater, in io.Reader, out io.Writer) error {
	p := &printer{w: out}
	snaps, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	// Not part of the group: a blocked terminal read cannot be interrupted.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		r := NewRenderer(p)
		for {
			select {
			case <-gctx.Done():
				return nil
			case s, ok := <-snaps:
				if !ok {
					return nil
				}
				r.Render(s)
				if s.State == window.StateUnmounted {
					return errQuit
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				if err := execute(gctx, ctrl, status, p, line); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func execute(ctx context.Context, ctrl Controller, status StatusUpdater, p *printer, line string) error {
	cmd, err := Parse(line)
	if err != nil {
		p.printf("-- %v\n", err)
		return nil
	}

	switch cmd.Name {
	case "quit":
		return errQuit
	case "help":
		p.printf("%s\n", helpText)
	case "older":
		ctrl.ReachedOldest()
	case "resync":
		ctrl.Resync()
	case "retry":
		ctrl.Retry()
	case "read", "delivered":
		if status == nil {
			p.printf("-- status updates are not available\n")
			return nil
		}
		if _, err := status.UpdateStatus(ctx, cmd.Arg, window.Status(cmd.Name)); err != nil {
			p.printf("-- %s %s failed: %v\n", cmd.Name, cmd.Arg, err)
		}
	case "send":
		if _, err := ctrl.Submit(ctx, cmd.Arg); err != nil {
			var se *window.SendError
			if errors.As(err, &se) {
				p.printf("-- send failed (%v), draft kept: %s\n", se.Err, se.Text)
			} else {
				p.printf("-- send rejected: %v\n", err)
			}
		}
	}
	return nil
}

// printer serializes writes from the render and input loops.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Write(b)
}

func (p *printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p, format, args...)
}
