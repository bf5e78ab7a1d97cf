package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/safehome/internal/application"
	"github.com/example/safehome/internal/config"
	"github.com/example/safehome/internal/logging"
	"github.com/example/safehome/internal/notify"
	"github.com/example/safehome/internal/persistence"
	"github.com/example/safehome/internal/persistence/jsonfile"
	"github.com/example/safehome/internal/persistence/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// runtime carries the process wide dependencies a command needs.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer
}

func newRuntime(out, logOut io.Writer) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return &runtime{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat, logOut),
		out:    out,
	}, nil
}

// openStore opens and migrates the SQLite database. When the database
// cannot be opened the settings-only JSON file takes over and the core runs
// without history. A database that opens but fails to migrate is fatal.
func (rt *runtime) openStore(ctx context.Context) (persistence.Store, error) {
	storage, err := sqlite.Open(rt.cfg.SQLiteDSN, sqlite.WithLogger(rt.logger))
	if err == nil {
		if err = storage.Migrate(ctx); err != nil {
			_ = storage.Close()
			rt.logger.ErrorContext(ctx, "failed to migrate database", "dsn", rt.cfg.SQLiteDSN, "error", err)
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return storage, nil
	}

	logger := rt.logger.With("dsn", rt.cfg.SQLiteDSN, "fallback", rt.cfg.FallbackPath)
	if rt.cfg.FallbackPath == "" {
		logger.ErrorContext(ctx, "failed to open database and no fallback is configured", "error", err)
		return nil, err
	}
	logger.WarnContext(ctx, "failed to open database, using settings file", "error", err)

	fallback, ferr := jsonfile.Open(rt.cfg.FallbackPath)
	if ferr != nil {
		return nil, fmt.Errorf("open fallback store: %w", errors.Join(err, ferr))
	}
	return fallback, nil
}

// notifier builds the alert mail transport. Credentials from the environment
// win over the ones stored in settings; without a relay alerts are only logged.
func (rt *runtime) notifier(ctx context.Context, store persistence.Store) application.Notifier {
	smtpConfig := notify.SMTPConfig{
		Host:     rt.cfg.SMTP.Host,
		Port:     rt.cfg.SMTP.Port,
		Username: rt.cfg.SMTP.Username,
		Password: rt.cfg.SMTP.Password,
		From:     rt.cfg.SMTP.From,
	}
	if smtpConfig.Host == "" {
		if stored, err := store.GetSettings(ctx); err == nil && stored.SMTPHost != "" {
			smtpConfig = notify.SMTPConfig{
				Host:     stored.SMTPHost,
				Port:     stored.SMTPPort,
				Username: stored.SMTPUser,
				Password: stored.SMTPPassword,
			}
		}
	}
	if smtpConfig.Host == "" || smtpConfig.Port <= 0 {
		return notify.NewLogNotifier(rt.logger)
	}

	rt.logger.InfoContext(ctx, "alert email enabled", "relay", smtpConfig.Addr())
	return notify.NewBreakerNotifier(notify.NewSMTPNotifier(smtpConfig), notify.DefaultBreakerSettings(), rt.logger)
}

// openCore wires the store, transports and simulated devices into a Core.
// The returned cleanup shuts the core down and closes the event file.
func (rt *runtime) openCore(ctx context.Context) (*application.Core, func(), error) {
	store, err := rt.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := application.Options{
		Notifier:      rt.notifier(ctx, store),
		Monitor:       notify.NewLogMonitor(rt.logger),
		SensorFactory: application.SimulatedSensors,
		CameraFactory: application.SimulatedCameras,
		PollInterval:  rt.cfg.PollInterval,
		Logger:        rt.logger,
	}

	var eventFile *os.File
	if rt.cfg.EventLogFile != "" {
		eventFile, err = os.OpenFile(rt.cfg.EventLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			rt.logger.ErrorContext(ctx, "failed to open event log file", "path", rt.cfg.EventLogFile, "error", err)
		} else {
			opts.EventFile = eventFile
		}
	}

	core, err := application.New(ctx, store, opts)
	if err != nil {
		_ = store.Close()
		if eventFile != nil {
			_ = eventFile.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		if err := core.Shutdown(context.WithoutCancel(ctx)); err != nil {
			rt.logger.Error("failed to shut down core", "error", err)
		}
		if eventFile != nil {
			_ = eventFile.Close()
		}
	}
	return core, cleanup, nil
}
