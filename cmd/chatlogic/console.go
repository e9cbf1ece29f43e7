package main

import (
	"context"
	"os"
	"os/user"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatlogic/pkg/bus"
	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/demo"
	"github.com/go-go-golems/chatlogic/pkg/session"
	"github.com/go-go-golems/chatlogic/pkg/settings"
	"github.com/go-go-golems/chatlogic/pkg/transport/console"
)

type consoleSettings struct {
	UserName     string
	IdleTimeout  time.Duration
	RestartDelay float64
}

func newConsoleCommand(rs *rootSettings) *cobra.Command {
	cs := &consoleSettings{}
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run the demo conversation on this terminal",
		Long: "Run the demo conversation on this terminal. Type text to send it, " +
			"\"!caption\" to press an inline button, /start to begin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(rs.LogLevel, os.Stderr)
			if err != nil {
				return err
			}
			return runConsole(cmd.Context(), rs, cs, log)
		},
	}
	name := "you"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	cmd.Flags().StringVar(&cs.UserName, "user", name, "name the console user talks as")
	cmd.Flags().DurationVar(&cs.IdleTimeout, "idle-timeout", 0, "close the chat session after this much inactivity (0 keeps it)")
	cmd.Flags().Float64Var(&cs.RestartDelay, "restart-delay", 1, "seconds before the logic restarts, unless set in settings")
	return cmd
}

func runConsole(ctx context.Context, rs *rootSettings, cs *consoleSettings, log zerolog.Logger) error {
	sf, err := openSettings(ctx, rs.SettingsPath)
	if err != nil {
		return err
	}
	defer func() { _ = sf.Close() }()
	cfg := sf.tree.Sub(settings.ChatPath(console.ChatID.String()))
	if _, ok := cfg.Get(settings.KeyRestartDelay); !ok {
		cfg.Set(settings.KeyRestartDelay, cs.RestartDelay)
	}

	b := bus.NewInMemory(bus.InMemoryConfig{Persistent: true}, log)
	defer func() { _ = b.Close() }()

	tr := console.NewTransport(os.Stdout)
	mgr, err := session.NewManager(session.ManagerOptions{
		BaseCtx:   ctx,
		Transport: tr,
		Logic:     demo.NewLogic,
		Settings:  sf.tree,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	if cs.IdleTimeout > 0 {
		mgr.SetEvictionConfig(cs.IdleTimeout, cs.IdleTimeout/2)
	}

	me := chat.User{ID: 1, Username: cs.UserName, Name: cs.UserName}
	reader := console.NewReader(os.Stdin, tr, b, me, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(gctx, b) })
	g.Go(func() error {
		// end of input ends the demo
		defer cancel()
		return reader.Run(gctx)
	})
	err = g.Wait()
	if serr := sf.Save(context.WithoutCancel(ctx), log); serr != nil && err == nil {
		err = serr
	}
	return errors.Wrap(err, "console")
}
