package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"chatsync/internal/apperr"
	"chatsync/internal/model"
	"chatsync/internal/stream"
)

func newTailCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "tail CHAT_ID",
		Short: "Follow a chat live; lines typed on stdin are sent",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runTail(ctx, a, id, metricsAddr)
		}),
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve client metrics on this address, e.g. :9100")
	return cmd
}

// console serializes output and remembers which messages were printed so
// a REST confirmation and its stream echo show up once.
type console struct {
	a      *app
	ctx    context.Context
	chatID int64
	mu     sync.Mutex
	shown  map[int64]bool
}

func newConsole(ctx context.Context, a *app, chatID int64) *console {
	return &console{a: a, ctx: ctx, chatID: chatID, shown: make(map[int64]bool)}
}

// resync reloads the history and prints what the stream did not deliver.
// Pending sends and already printed messages are unaffected.
func (c *console) resync() {
	if err := c.a.messages.LoadSnapshot(c.ctx, c.chatID); err != nil {
		c.status("resync failed: " + describe(err))
		return
	}
	for _, m := range c.a.messages.View().Messages {
		c.message(m)
	}
}

func (c *console) line(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.a.out, s)
}

func (c *console) status(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.a.errOut, "-- "+s)
}

func (c *console) message(m model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shown[m.ID] {
		return
	}
	c.shown[m.ID] = true
	fmt.Fprintln(c.a.out, messageLine(m, c.a.self(), time.Now()))
}

func (c *console) handle(ev stream.Event) {
	c.a.messages.ApplyStreamEvent(ev)
	switch ev.Type {
	case stream.NewMessage:
		c.message(*ev.Message)
	case stream.MessageUpdated:
		c.line("~ " + messageLine(*ev.Message, c.a.self(), time.Now()))
	case stream.MessageDeleted:
		c.line(fmt.Sprintf("- message %d deleted", ev.MessageID))
	case stream.Error:
		c.line("! " + ev.Error)
	}
}

func (c *console) onStatus(st stream.Status) {
	switch st.State {
	case stream.Connected:
		// Runs before the channel is read, so frames queued meanwhile are
		// applied on top of the fresh snapshot.
		c.status("connected")
		c.resync()
	case stream.Reconnecting:
		c.status(fmt.Sprintf("connection lost, retrying in %s", c.a.cfg.ReconnectDelay))
	case stream.Disconnected:
		if st.Err != nil {
			c.status("disconnected: " + apperr.UserMessage(st.Err))
			c.a.session.Invalidate(st.Err)
		}
	}
}

func runTail(ctx context.Context, a *app, chatID int64, metricsAddr string) error {
	if err := a.messages.LoadSnapshot(ctx, chatID); err != nil {
		return err
	}
	c := newConsole(ctx, a, chatID)
	for _, m := range a.messages.View().Messages {
		c.message(m)
	}

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server", "err", err)
			}
		}()
		defer srv.Close()
	}

	conn := a.connector(c.onStatus)
	sub, err := conn.Subscribe(chatID, c.handle)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return conn.Status().Err
		case text, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if text == "" {
				continue
			}
			msg, err := a.messages.Submit(ctx, text)
			if err != nil {
				c.status("send failed: " + describe(err))
				continue
			}
			c.message(msg)
		}
	}
}
