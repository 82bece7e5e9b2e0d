package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/urfave/cli"

	"relay-bot/bot"
	"relay-bot/config"
	"relay-bot/metrics"
	"relay-bot/relay"
	"relay-bot/scheduler"
	"relay-bot/storage"
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "relay-bot"
	app.Usage = "Keeps reaction and comment counters on channel posts in sync with their discussion threads"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to the YAML config file (default $RELAY_BOT_CONFIG or " + config.DefaultPath + ")",
		},
		cli.StringFlag{
			Name:  "log-level, l",
			Usage: "override log_level: debug, info, warn or error",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "poll Telegram and relay events (default)",
			Action: runCommand,
		},
		{
			Name:   "migrate",
			Usage:  "create the database schema and exit",
			Action: migrateCommand,
		},
		{
			Name:  "stats",
			Usage: "print stored counters",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "message, m",
					Usage: "show one channel post instead of totals",
				},
			},
			Action: statsCommand,
		},
	}
	app.Action = runCommand
	return app
}

// setup loads configuration and installs the default logger.
func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	path := c.GlobalString("config")
	if path == "" {
		path = config.GetConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	level := cfg.LogLevel
	if l := c.GlobalString("log-level"); l != "" {
		level = l
	}
	logger, err := newLogger(os.Stdout, level)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	logger.Debug("config loaded", "path", path)
	return cfg, logger, nil
}

func routerConfig(cfg *config.Config) relay.Config {
	return relay.Config{
		ChannelID: cfg.TargetChannel,
		GroupID:   cfg.TargetGroup,
		Notices: relay.Notices{
			InvalidReaction: cfg.Notices.InvalidReaction,
			AlreadyReacted:  cfg.Notices.AlreadyReacted,
		},
	}
}

func runCommand(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting relay bot", "version", version)

	db, err := storage.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log.Info("database initialized", "path", cfg.DBPath)

	client, err := bot.New(cfg.TelegramToken, bot.WithRequestTimeout(bot.RequestTimeout(cfg.PollTimeout())))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}
	log.Info("telegram bot initialized", "username", client.Username())

	router := relay.NewRouter(routerConfig(cfg), db, relay.NewRandomPicker(nil), client, log)

	if cfg.MetricsAddr != "" {
		srv, err := metrics.NewServer(cfg.MetricsAddr, db, log)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		go func() {
			if err := srv.Serve(); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	if cfg.ResyncSchedule != "" {
		sched, err := scheduler.NewScheduler(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("initialize scheduler: %w", err)
		}
		resync := scheduler.NewResync(db, router, cfg.ResyncDepth, log)
		if err := sched.Schedule(cfg.ResyncSchedule, resync.Job(ctx)); err != nil {
			return fmt.Errorf("schedule resync: %w", err)
		}
		sched.Start()
		defer sched.Stop()
		log.Info("resync scheduled", "schedule", cfg.ResyncSchedule, "timezone", cfg.Timezone, "next", sched.Next())
	}

	poller := bot.NewPoller(client, router, cfg.TargetGroup, log,
		bot.WithPollTimeout(cfg.PollTimeout()),
		bot.WithWorkers(cfg.Workers),
	)

	log.Info("starting bot polling", "channel", cfg.TargetChannel, "group", cfg.TargetGroup, "workers", cfg.Workers)
	poller.Run(ctx)
	log.Info("bot stopped")

	return nil
}

func migrateCommand(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}

	db, err := storage.Open(context.Background(), cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	log.Info("schema ready", "path", cfg.DBPath)
	return nil
}

func statsCommand(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	w := c.App.Writer

	if messageID := c.Int("message"); messageID != 0 {
		threadID, ok, err := db.ThreadMessageID(ctx, messageID)
		if err != nil {
			return fmt.Errorf("resolve thread: %w", err)
		}
		if !ok {
			return fmt.Errorf("channel message %d is not linked", messageID)
		}

		router := relay.NewRouter(routerConfig(cfg), db, relay.FixedPicker(relay.DefaultEmoji), nil, log)
		kb, err := router.Keyboard(ctx, messageID, threadID)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "channel message: %d\n", messageID)
		fmt.Fprintf(w, "thread message: %d\n", threadID)
		for _, b := range kb.Buttons {
			target := b.CallbackData
			if b.URL != "" {
				target = b.URL
			}
			fmt.Fprintf(w, "  %s\t%s\n", b.Text, target)
		}
		return nil
	}

	totals, err := db.Totals(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "linked posts: %d\n", totals.Linkages)
	fmt.Fprintf(w, "comments: %d\n", totals.Comments)
	types := lo.Keys(totals.Reactions)
	slices.Sort(types)
	for _, t := range types {
		fmt.Fprintf(w, "reactions %s: %d\n", t, totals.Reactions[t])
	}
	return nil
}
