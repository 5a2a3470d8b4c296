package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"timetable/internal/capture"
	"timetable/internal/config"
	"timetable/internal/editor"
	"timetable/internal/export"
	"timetable/internal/holiday"
	"timetable/internal/ics"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/render"
	"timetable/internal/schedule"
	"timetable/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	exportPath string
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("timetable starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"engine", conf.Render.Engine,
		"fields", conf.Layout.Fields,
		"ics_count", len(conf.Holidays.ICS),
		"export", flags.exportPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("timetable failed", err)
		os.Exit(1)
	}
	appLog.Info("timetable exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	fields, err := schedule.ParseFields(conf.Layout.Fields)
	if err != nil {
		return err
	}

	session := editor.New(editor.Options{
		Location:           conf.Location(),
		Labels:             labelsFromConfig(conf.Labels),
		Fields:             fields,
		DefaultDescription: conf.Layout.DefaultDescription,
	})

	sources := make([]ics.Source, 0, len(conf.Holidays.ICS))
	for i, c := range conf.Holidays.ICS {
		id := c.ID
		if id == "" {
			id = c.Name
		}
		if id == "" {
			id = fmt.Sprintf("ics-%d", i+1)
		}
		sources = append(sources, ics.Source{ID: id, URL: c.URL})
	}
	syncer := holiday.NewSyncer(session, ics.NewFetcher(nil), sources)

	srv := web.NewServer(conf, session, syncer)

	renderer, err := newRenderer(conf, srv)
	if err != nil {
		return err
	}
	exporter := export.New(renderer, export.WithRatePerMinute(conf.Export.RatePerMinute))
	srv.SetExporter(exporter)

	if flags.exportPath != "" {
		return exportOnce(ctx, conf, srv, syncer, exporter, session, flags.exportPath)
	}

	if syncer.Enabled() {
		if _, err := syncer.Sync(ctx); err != nil {
			appLog.Warn("initial holiday sync failed", "err", err)
		}
		if conf.Holidays.Refresh != "" {
			stopCron, err := syncer.Schedule(ctx, conf.Holidays.Refresh)
			if err != nil {
				return err
			}
			defer stopCron()
		}
	}

	return srv.Run(ctx)
}

func newRenderer(conf *config.Config, pub capture.Publisher) (export.Renderer, error) {
	switch conf.Render.Engine {
	case "chromium":
		return capture.NewChromium(pub, capture.Options{
			ExecPath: conf.Render.ChromiumPath,
			Timeout:  conf.ChromiumTimeoutDuration(),
		}), nil
	default:
		n, err := render.NewNative(render.Options{
			FontPath: conf.Render.FontPath,
			FontSize: conf.Render.FontSize,
			Theme:    render.DefaultTheme(),
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	}
}

// exportOnce renders the default week to path and returns. The chromium
// engine needs /canvas reachable, so the server runs for the duration.
func exportOnce(ctx context.Context, conf *config.Config, srv *web.Server, syncer *holiday.Syncer,
	exporter *export.Exporter, session *editor.Session, path string) error {
	if syncer.Enabled() {
		if _, err := syncer.Sync(ctx); err != nil {
			appLog.Warn("holiday sync failed", "err", err)
		}
	}

	if conf.Render.Engine == "chromium" {
		// Listen before capturing so /canvas is reachable on the first request.
		ln, err := net.Listen("tcp", conf.Listen)
		if err != nil {
			return err
		}
		srvCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(srvCtx, ln) }()
		defer func() {
			cancel()
			if err := <-errCh; err != nil {
				appLog.Warn("server stopped with error", "err", err)
			}
		}()
	}

	art, err := exporter.Export(ctx, session.Snapshot())
	if err != nil {
		return err
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, art.Filename)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.WriteFile(path, art.Data, 0o644); err != nil {
		return err
	}
	appLog.Info("export written", "path", path, "bytes", len(art.Data))
	return nil
}

func labelsFromConfig(c config.LabelsConfig) model.Labels {
	l := model.Labels{
		Holiday:            c.Holiday,
		Title:              c.Title,
		ProfilePlaceholder: c.ProfilePlaceholder,
	}
	for i := range l.Weekdays {
		if i < len(c.Weekdays) {
			l.Weekdays[i] = c.Weekdays[i]
		} else {
			l.Weekdays[i] = config.DefaultWeekdays[i]
		}
	}
	return l
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/timetable/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.exportPath, "export", "", "Render the current week to this PNG path and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
