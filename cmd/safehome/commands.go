package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/safehome/internal/application"
	httptransport "github.com/example/safehome/internal/http"
	"github.com/example/safehome/internal/persistence"
	"github.com/example/safehome/internal/persistence/sqlite"
)

func newRootCommand(out, logOut io.Writer) *cobra.Command {
	var rt *runtime

	root := &cobra.Command{
		Use:           "safehome",
		Short:         "SafeHome security control core",
		Long:          "SafeHome arms and disarms the premises, watches sensors, rings the alarm and guards camera access.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			rt, err = newRuntime(out, logOut)
			if err != nil {
				fmt.Fprintln(logOut, "safehome:", err)
			}
			return err
		},
	}
	root.SetOut(out)
	root.SetErr(logOut)

	// Subcommands read rt lazily; it is populated by PersistentPreRunE.
	env := func() *runtime { return rt }
	root.AddCommand(
		newRunCommand(env),
		newStatusCommand(env),
		newResetCommand(env),
		newEventsCommand(env),
		newBackupCommand(env),
		newHashCommand(env),
	)
	return root
}

// reportError logs a command failure once with its kind.
func reportError(ctx context.Context, rt *runtime, command string, err error) error {
	if err != nil {
		rt.logger.ErrorContext(ctx, "command failed", "command", command, "error", err, "error_kind", application.ErrorKind(err))
	}
	return err
}

func newRunCommand(env func() *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the control core and the web gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := env()
			ctx := cmd.Context()
			return reportError(ctx, rt, "run", runDaemon(ctx, rt))
		},
	}
}

func runDaemon(ctx context.Context, rt *runtime) error {
	core, cleanup, err := rt.openCore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	core.TurnOn(ctx)

	if rt.cfg.HTTPPort == 0 {
		rt.logger.InfoContext(ctx, "web gate disabled")
		<-ctx.Done()
		return nil
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Security: httptransport.NewSecurityHandler(core, rt.logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(rt.logger),
			httptransport.RequireWebLogin(core, rt.logger),
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("failed to shutdown server", "error", err)
		}
	}()

	rt.logger.InfoContext(ctx, "safehome web gate listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web gate: %w", err)
	}
	return nil
}

func newStatusCommand(env func() *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the stored system state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := env()
			ctx := cmd.Context()
			core, cleanup, err := rt.openCore(ctx)
			if err != nil {
				return reportError(ctx, rt, "status", err)
			}
			defer cleanup()

			status := core.Status()
			fmt.Fprintf(rt.out, "mode: %s\n", status.Mode)
			fmt.Fprintf(rt.out, "alarm: %t\n", status.AlarmActive)
			fmt.Fprintf(rt.out, "control panel locked: %t\n", status.Locked)
			fmt.Fprintf(rt.out, "sensors: %d (%d active)\n", status.NumSensors, status.NumActiveSensors)
			fmt.Fprintf(rt.out, "cameras: %d\n", status.NumCameras)
			for _, zone := range core.Zones() {
				fmt.Fprintf(rt.out, "zone %d: %s armed=%t\n", zone.ID, zone.Name, zone.Armed)
			}
			return nil
		},
	}
}

func newResetCommand(env func() *runtime) *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Restore factory settings and default zones",
		Long: `Reset replaces the settings with the factory defaults, recreates the
default zones, detaches every sensor from its zone and clears camera
passwords. The current master PIN is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := env()
			ctx := cmd.Context()
			core, cleanup, err := rt.openCore(ctx)
			if err != nil {
				return reportError(ctx, rt, "reset", err)
			}
			defer cleanup()

			principal, err := core.Login(ctx, string(application.RoleAdmin), pin, application.InterfaceControlPanel)
			if err != nil {
				return reportError(ctx, rt, "reset", err)
			}
			if err := core.Reset(ctx, principal); err != nil {
				return reportError(ctx, rt, "reset", err)
			}
			fmt.Fprintln(rt.out, "factory reset complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "current master PIN")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

func newEventsCommand(env func() *runtime) *cobra.Command {
	var (
		limit  int
		levels []string
		unseen bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the event log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := env()
			ctx := cmd.Context()

			filter := persistence.EventFilter{Limit: limit, UnseenOnly: unseen}
			for _, level := range levels {
				level = strings.ToUpper(strings.TrimSpace(level))
				switch application.Level(level) {
				case application.LevelInfo, application.LevelWarning, application.LevelAlarm, application.LevelError:
					filter.Levels = append(filter.Levels, level)
				default:
					return reportError(ctx, rt, "events", fmt.Errorf("%w: unknown level %q", application.ErrBadFormat, level))
				}
			}

			core, cleanup, err := rt.openCore(ctx)
			if err != nil {
				return reportError(ctx, rt, "events", err)
			}
			defer cleanup()

			entries, err := core.Events(ctx, filter)
			if err != nil {
				return reportError(ctx, rt, "events", err)
			}
			for _, e := range entries {
				fmt.Fprintf(rt.out, "%s - %s %s: %s\n", e.Timestamp.UTC().Format(time.RFC3339), e.Level, e.Source, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	cmd.Flags().StringSliceVar(&levels, "level", nil, "only entries of these levels (INFO, WARNING, ALARM, ERROR)")
	cmd.Flags().BoolVar(&unseen, "unseen", false, "only entries not yet acknowledged")
	return cmd
}

func newBackupCommand(env func() *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "backup PATH",
		Short: "Write a consistent copy of the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := env()
			ctx := cmd.Context()

			storage, err := sqlite.Open(rt.cfg.SQLiteDSN, sqlite.WithLogger(rt.logger))
			if err != nil {
				return reportError(ctx, rt, "backup", err)
			}
			defer storage.Close()

			if err := storage.Backup(ctx, args[0]); err != nil {
				return reportError(ctx, rt, "backup", err)
			}
			fmt.Fprintf(rt.out, "database copied to %s\n", args[0])
			return nil
		},
	}
}

func newHashCommand(env func() *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "hash SECRET",
		Short: "Print the argon2id form of a PIN or password",
		Long: `Hash prints SECRET in the $argon2id$ form. Stored PINs and web passwords
in that form are verified by hash instead of being compared as plain text.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := env()
			encoded, err := application.HashCredential(args[0], application.DefaultArgon2idParams)
			if err != nil {
				return reportError(cmd.Context(), rt, "hash", err)
			}
			fmt.Fprintln(rt.out, encoded)
			return nil
		},
	}
}
