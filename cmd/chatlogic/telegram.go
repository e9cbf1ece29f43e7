package main

import (
	"context"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatlogic/pkg/bus"
	"github.com/go-go-golems/chatlogic/pkg/demo"
	"github.com/go-go-golems/chatlogic/pkg/session"
	"github.com/go-go-golems/chatlogic/pkg/transport/telegram"
)

// telegramConfig is read from CHATLOGIC_* environment variables; flags
// override it.
type telegramConfig struct {
	Token       string        `env:"TELEGRAM_TOKEN"`
	PollTimeout time.Duration `env:"TELEGRAM_POLL_TIMEOUT" envDefault:"30s"`
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"0s"`
	// Bus is "memory" or "redis".
	Bus   string          `env:"BUS" envDefault:"memory"`
	Redis bus.RedisConfig `envPrefix:"REDIS_"`

	Poll  bool `env:"POLL" envDefault:"true"`
	Serve bool `env:"SERVE" envDefault:"true"`
}

const envPrefix = "CHATLOGIC_"

func loadTelegramConfig() (telegramConfig, error) {
	var cfg telegramConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return cfg, errors.Wrap(err, "parse environment")
	}
	return cfg, nil
}

func newTelegramCommand(rs *rootSettings) *cobra.Command {
	var flags struct {
		token    string
		bus      string
		redis    string
		pollOnly bool
		noPoll   bool
	}
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Run the demo conversation as a Telegram bot",
		Long: "Run the demo conversation as a Telegram bot. With --bus redis, pollers and " +
			"bot instances can run as separate processes (--poll-only, --no-poll).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(rs.LogLevel, os.Stderr)
			if err != nil {
				return err
			}
			cfg, err := loadTelegramConfig()
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			if fl.Changed("token") {
				cfg.Token = flags.token
			}
			if fl.Changed("bus") {
				cfg.Bus = flags.bus
			}
			if fl.Changed("redis-addr") {
				cfg.Redis.Addr = flags.redis
			}
			if flags.pollOnly {
				cfg.Serve = false
			}
			if flags.noPoll {
				cfg.Poll = false
			}
			return runTelegram(cmd.Context(), rs, cfg, log)
		},
	}
	cmd.Flags().StringVar(&flags.token, "token", "", "bot token (default $"+envPrefix+"TELEGRAM_TOKEN)")
	cmd.Flags().StringVar(&flags.bus, "bus", "memory", "event bus backend: memory or redis")
	cmd.Flags().StringVar(&flags.redis, "redis-addr", "localhost:6379", "redis address for --bus redis")
	cmd.Flags().BoolVar(&flags.pollOnly, "poll-only", false, "only poll updates and publish them to the bus")
	cmd.Flags().BoolVar(&flags.noPoll, "no-poll", false, "only serve chats from events on the bus")
	return cmd
}

func runTelegram(ctx context.Context, rs *rootSettings, cfg telegramConfig, log zerolog.Logger) error {
	if cfg.Token == "" {
		return errors.New("telegram: a bot token is required")
	}
	if !cfg.Poll && !cfg.Serve {
		return errors.New("telegram: nothing to do with both polling and serving disabled")
	}

	var (
		b   *bus.Bus
		err error
	)
	switch cfg.Bus {
	case "memory", "":
		if !cfg.Poll || !cfg.Serve {
			return errors.New("telegram: split poll and serve roles need --bus redis")
		}
		b = bus.NewInMemory(bus.InMemoryConfig{}, log)
	case "redis":
		b, err = bus.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
	default:
		return errors.Errorf("telegram: unknown bus %q", cfg.Bus)
	}
	defer func() { _ = b.Close() }()

	bot, err := telegram.NewBot(cfg.Token, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	var sf *settingsFile
	if cfg.Serve {
		sf, err = openSettings(ctx, rs.SettingsPath)
		if err != nil {
			return err
		}
		defer func() { _ = sf.Close() }()
		mgr, err := session.NewManager(session.ManagerOptions{
			BaseCtx:   ctx,
			Transport: telegram.New(bot, log),
			Logic:     demo.NewLogic,
			Settings:  sf.tree,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		if cfg.IdleTimeout > 0 {
			mgr.SetEvictionConfig(cfg.IdleTimeout, cfg.IdleTimeout/2)
		}
		g.Go(func() error { return mgr.Run(gctx, b) })
	}
	if cfg.Poll {
		poller := telegram.NewPoller(bot, b, cfg.PollTimeout, log)
		g.Go(func() error { return poller.Run(gctx) })
	}

	log.Info().Str("bus", cfg.Bus).Bool("poll", cfg.Poll).Bool("serve", cfg.Serve).Msg("telegram bot running")
	err = g.Wait()
	if sf != nil {
		if serr := sf.Save(context.WithoutCancel(ctx), log); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
