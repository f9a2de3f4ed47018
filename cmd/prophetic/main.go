package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"prophetic/internal/app"
	"prophetic/internal/config"
	"prophetic/internal/ics"
	"prophetic/internal/issues"
	"prophetic/internal/journal"
	"prophetic/internal/llm"
	appLog "prophetic/internal/log"
	"prophetic/internal/report"
	"prophetic/internal/scheduler"
	"prophetic/internal/store"
	"prophetic/internal/timeline"
	"prophetic/internal/web"
)

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath string
	listen     string
	simulate   int
	sample     string
	ics        string
	start      string
	logLevel   string
}

func main() {
	flags := parseFlags()

	if err := config.LoadDotEnv(".env"); err != nil {
		appLog.Error("failed to load .env", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	if flags.sample != "" {
		conf.Calendar.Sample = flags.sample
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("prophetic starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"mode", conf.Mode,
		"detail_window_days", conf.DetailWindowDays,
		"alert_leads", conf.AlertLeads,
		"sweep", conf.SweepCron,
		"database", conf.Storage.DatabasePath,
		"llm_key_configured", conf.LLM.APIKey != "",
		"simulate", flags.simulate,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("prophetic failed", err)
		os.Exit(1)
	}
	appLog.Info("prophetic exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	var st store.Store = store.NewMemory()
	if conf.Storage.DatabasePath != "" {
		sq, err := store.OpenSQLite(ctx, conf.Storage.DatabasePath)
		if err != nil {
			return err
		}
		st = sq
	}
	defer st.Close()

	journalDir := ""
	if conf.Journal.Enabled {
		journalDir = conf.Journal.Dir
	}
	j, err := journal.New(journalDir, "", nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Close(); err != nil {
			appLog.Error("failed to save session journal", err)
		}
	}()

	var startDate time.Time
	if conf.StartDate != "" {
		startDate, _ = time.ParseInLocation(time.DateOnly, conf.StartDate, loc)
	}
	sample, err := ics.ParseSampleSet(conf.Calendar.Sample)
	if err != nil && !strings.EqualFold(conf.Calendar.Sample, "none") {
		return err
	}

	svc, err := app.New(ctx, app.Options{
		Location:         loc,
		Mode:             timeline.Mode(conf.Mode),
		StartDate:        startDate,
		DetailWindowDays: conf.DetailWindowDays,
		AlertLeads:       conf.AlertLeads,
		UpcomingDays:     conf.UpcomingDays,
		HorizonDays:      conf.Calendar.HorizonDays,
		Sample:           sample,
	}, app.Deps{
		Store:      st,
		Journal:    j,
		Questioner: llm.NewMock(conf.LLM.Model, conf.LLM.APIKey, j),
		Checker:    issues.NewMockChecker(conf.Issues.Seed),
		Fetcher:    ics.NewFetcher(conf.Calendar.CacheDir, nil),
	})
	if err != nil {
		return err
	}

	if flags.start != "" {
		day, err := time.ParseInLocation(time.DateOnly, flags.start, loc)
		if err != nil {
			return errors.New("-start must be YYYY-MM-DD")
		}
		if _, err := svc.SetDate(ctx, day); err != nil {
			return err
		}
	}

	initial := app.Initial{Path: conf.Calendar.Path, URL: conf.Calendar.URL, Sample: conf.Calendar.Sample, Force: flags.sample != ""}
	if flags.ics != "" {
		if strings.HasPrefix(flags.ics, "http://") || strings.HasPrefix(flags.ics, "https://") {
			initial.Path, initial.URL = "", flags.ics
		} else {
			initial.Path, initial.URL = flags.ics, ""
		}
	}
	res, err := svc.Bootstrap(ctx, initial)
	var perr *ics.ParseError
	switch {
	case errors.As(err, &perr) && res.Fallback:
		appLog.Warn("calendar rejected; sample set loaded instead", "reason", perr.Error())
	case err != nil:
		return err
	default:
		appLog.Info("calendar ready", "source", res.Source, "events", res.EventCount)
	}

	if flags.simulate > 0 {
		p := report.New(nil)
		if err := report.Simulate(ctx, svc, flags.simulate, p); err != nil {
			return err
		}
		p.Summary(svc.Session())
		return nil
	}

	if conf.SweepCron != "" {
		sched, err := scheduler.New(conf.SweepCron, loc, func(ctx context.Context) error {
			_, err := svc.Sweep(ctx)
			return err
		})
		if err != nil {
			return err
		}
		svc.SetSweepReporter(sched)
		sched.Start()
		defer sched.Stop()
	}

	return web.StartServer(ctx, conf, svc)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "prophetic.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.IntVar(&cfg.simulate, "simulate", 0, "Run a headless simulation over N days and exit")
	flag.StringVar(&cfg.sample, "sample", "", "Load this sample set (default, israeli) at startup")
	flag.StringVar(&cfg.ics, "ics", "", "Calendar to import at startup: a .ics path or an http(s) URL")
	flag.StringVar(&cfg.start, "start", "", "Simulated start date (YYYY-MM-DD)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	flag.Parse()

	return cfg
}
