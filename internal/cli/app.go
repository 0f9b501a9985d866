package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"chatsync/internal/api"
	"chatsync/internal/apperr"
	"chatsync/internal/config"
	"chatsync/internal/directory"
	"chatsync/internal/logging"
	"chatsync/internal/metrics"
	"chatsync/internal/persist"
	"chatsync/internal/reconcile"
	"chatsync/internal/retry"
	"chatsync/internal/session"
	"chatsync/internal/stream"
)

var errNotLoggedIn = apperr.New(apperr.AuthInvalid, "Not logged in. Run `chatsync login` first.")

// app wires the sync engine for one command invocation.
type app struct {
	cfg     config.Client
	logger  *slog.Logger
	out     io.Writer
	errOut  io.Writer
	tokens  persist.Store
	closeFn func() error

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	api      *api.Client
	session  *session.Store
	chats    *directory.Directory
	messages *reconcile.Reconciler
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)

	tokens, closeFn, err := persist.Open(cfg.TokenBackend, cfg.StateDir)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	client := api.New(cfg.APIURL, cfg.RequestTimeout, tokens, logger)
	sess := session.New(client, tokens, session.Options{
		Retry:  retry.Policy{MaxRetries: cfg.UserFetchRetries, Delay: cfg.UserFetchDelay},
		Logger: logger,
	})

	a := &app{
		cfg:      cfg,
		logger:   logger,
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
		tokens:   tokens,
		closeFn:  closeFn,
		registry: reg,
		metrics:  m,
		api:      client,
		session:  sess,
		chats:    directory.New(client, sess, logger),
	}
	a.messages = reconcile.New(client, sess, reconcile.Options{
		ActionErrorTTL: cfg.ActionErrorTTL,
		SelfID:         a.self,
		Logger:         logger,
		Metrics:        m,
	})
	return a, nil
}

func (a *app) Close() {
	if err := a.closeFn(); err != nil {
		a.logger.Error("close token store", "err", err)
	}
}

// restore loads the persisted session and requires it to be authenticated.
func (a *app) restore(ctx context.Context) error {
	if err := a.session.Initialize(ctx); err != nil {
		return err
	}
	if a.session.Current().Status != session.Authenticated {
		return errNotLoggedIn
	}
	return nil
}

func (a *app) connector(onStatus func(stream.Status)) *stream.Connector {
	return stream.New(stream.NewWSDialer(a.cfg.StreamURL), a.session, stream.Options{
		ReconnectDelay: a.cfg.ReconnectDelay,
		Logger:         a.logger,
		Metrics:        a.metrics,
		OnStatus:       onStatus,
	})
}

// withApp builds the app, runs fn and releases it.
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, args)
	}
}

// withSession is withApp for commands that need a logged in user.
func withSession(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return withApp(func(ctx context.Context, a *app, args []string) error {
		if err := a.restore(ctx); err != nil {
			return err
		}
		return fn(ctx, a, args)
	})
}

// describe turns err into the line shown to the user.
func describe(err error) string {
	var se *reconcile.SendError
	if errors.As(err, &se) {
		return apperr.UserMessage(se.Err) + " (message not sent: " + se.Content + ")"
	}
	if errors.Is(err, context.Canceled) {
		return "interrupted"
	}
	if apperr.KindOf(err) == apperr.Unknown {
		return err.Error()
	}
	return apperr.UserMessage(err)
}

var stdin io.Reader = os.Stdin
