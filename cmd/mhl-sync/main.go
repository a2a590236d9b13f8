package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/agenda"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/config"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/logging"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/notifications"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/realtime"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/session"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mhl-sync",
		Short:        "Real-time agenda and notification sync client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newWatchCommand(), newAgendaCommand(), newNotificationsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("base-url", "", "API base url")
	cmd.PersistentFlags().String("socket-url", "", "Push channel url (derived from the base url when empty)")
	cmd.PersistentFlags().String("tenant", "", "Tenant identifier sent as X-Tenant-ID")
	cmd.PersistentFlags().String("token", "", "Session token")
	cmd.PersistentFlags().String("user-id", "", "User id override (read from the token when empty)")
	cmd.PersistentFlags().Duration("timeout", defaults.GetDuration("api.timeout"), "REST and dial timeout")
	cmd.PersistentFlags().Int("page-size", defaults.GetInt("sync.page_size"), "Notification page size")
	cmd.PersistentFlags().String("resync-schedule", defaults.GetString("sync.resync_schedule"), "Cron spec of the periodic refresh; empty disables it")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")

	bindFlag(cmd, "api.base_url", "base-url")
	bindFlag(cmd, "api.socket_url", "socket-url")
	bindFlag(cmd, "api.tenant_id", "tenant")
	bindFlag(cmd, "session.token", "token")
	bindFlag(cmd, "session.user_id", "user-id")
	bindFlag(cmd, "api.timeout", "timeout")
	bindFlag(cmd, "sync.page_size", "page-size")
	bindFlag(cmd, "sync.resync_schedule", "resync-schedule")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// openSession loads the client configuration and wires a session that has
// not touched the network yet.
func openSession() (*session.Session, *zap.Logger, config.ClientConfig, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, nil, config.ClientConfig{}, err
	}
	logger, err := logging.NewLogger(clientConfig.LogLevel, clientConfig.LogFormat)
	if err != nil {
		return nil, nil, config.ClientConfig{}, err
	}
	sess, err := session.New(session.Config{
		BaseURL:        clientConfig.BaseURL,
		SocketURL:      clientConfig.SocketURL,
		TenantID:       clientConfig.TenantID,
		Token:          clientConfig.Token,
		UserID:         clientConfig.UserID,
		Timeout:        clientConfig.Timeout,
		PageSize:       clientConfig.PageSize,
		ResyncSchedule: clientConfig.ResyncSchedule,
		InitialDelay:   clientConfig.InitialDelay,
		MaxDelay:       clientConfig.MaxDelay,
		Logger:         logger,
		OnAuthFailure: func(err error) {
			logger.Error("session credential rejected", zap.Error(err))
		},
	})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, config.ClientConfig{}, err
	}
	return sess, logger, clientConfig, nil
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the session connected and log every change until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, logger, _, err := openSession()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(signalCtx, sess, logger)
		},
	}
}

func watch(ctx context.Context, sess *session.Session, logger *zap.Logger) error {
	defer sess.Close()

	unsubscribe := sess.Channel().Subscribe(realtime.EventStateChanged, func(message realtime.Message) {
		logger.Info("channel state changed", zap.Stringer("state", message.State))
	})
	defer unsubscribe()

	agendaChanges, stopAgenda := sess.Agenda().Watch(ctx)
	defer stopAgenda()
	notificationChanges, stopNotifications := sess.Notifications().Watch(ctx)
	defer stopNotifications()

	if err := sess.Start(ctx); err != nil {
		return err
	}

	failures := sess.Errors()
	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil
		case snapshot, ok := <-agendaChanges:
			if !ok {
				return nil
			}
			logger.Info("agenda changed", zap.Int("events", len(snapshot.Events)), zap.Bool("loaded", snapshot.Loaded))
		case snapshot, ok := <-notificationChanges:
			if !ok {
				return nil
			}
			logger.Info("notifications changed",
				zap.Int("items", len(snapshot.Items)),
				zap.Int("unread", snapshot.UnreadCount),
				zap.Int("page", snapshot.Cursor.Page),
				zap.Bool("has_more", snapshot.Cursor.HasMore),
			)
		case err, ok := <-failures:
			if !ok {
				return nil
			}
			logger.Warn("sync failure", zap.Error(err))
		}
	}
}

func newAgendaCommand() *cobra.Command {
	agendaCmd := &cobra.Command{
		Use:   "agenda",
		Short: "Agenda operations",
	}

	var (
		output   string
		timezone string
	)
	exportCmd := &cobra.Command{
		Use:   "export-ics",
		Short: "Fetch the agenda and write it as an iCalendar document",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("timezone %q: %w", timezone, err)
			}
			sess, logger, clientConfig, err := openSession()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer sess.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), clientConfig.Timeout)
			defer cancel()
			sess.Resync(ctx)
			snapshot := sess.Agenda().Snapshot()
			if !snapshot.Loaded {
				return firstFailure(sess, "agenda")
			}

			document := agenda.ExportICS(snapshot.Events, agenda.ExportOptions{Location: location})
			if output == "" || output == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), document)
				return err
			}
			if err := os.WriteFile(output, []byte(document), 0o644); err != nil {
				return err
			}
			logger.Info("agenda exported", zap.String("path", output), zap.Int("events", len(snapshot.Events)))
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Destination file; stdout when empty")
	exportCmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA zone of the event times")
	agendaCmd.AddCommand(exportCmd)
	return agendaCmd
}

func newNotificationsCommand() *cobra.Command {
	notificationsCmd := &cobra.Command{
		Use:   "notifications",
		Short: "Notification operations",
	}

	var (
		filterName string
		limit      int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Fetch the first notification page and print the filtered view",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := notifications.ParseFilter(filterName)
			if err != nil {
				return err
			}
			sess, logger, clientConfig, err := openSession()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer sess.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), clientConfig.Timeout)
			defer cancel()
			sess.Resync(ctx)
			store := sess.Notifications()
			if !store.Snapshot().Loaded {
				return firstFailure(sess, "notifications")
			}

			view := store.View(filter, limit)
			out := cmd.OutOrStdout()
			for _, item := range view.Items {
				marker := " "
				if !item.Read {
					marker = "*"
				}
				if _, err := fmt.Fprintf(out, "%s %s %-8s %-9s %s\n", marker, item.Date.Format(time.RFC3339), item.Type, item.Category, item.Text); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(out, "%d shown, %d matching, %d unread, more=%t\n", len(view.Items), view.Matching, store.UnreadCount(), view.HasMore)
			return err
		},
	}
	listCmd.Flags().StringVar(&filterName, "filter", string(notifications.FilterAll), "View filter (ALL, UNREAD, READ, PROJECT, AGENDA, CHECKLIST, BUDGET)")
	listCmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows; zero prints every loaded entry")
	notificationsCmd.AddCommand(listCmd)
	return notificationsCmd
}

func firstFailure(sess *session.Session, what string) error {
	select {
	case err, ok := <-sess.Errors():
		if ok && err != nil {
			return fmt.Errorf("%s refresh failed: %w", what, err)
		}
	default:
	}
	return fmt.Errorf("%s refresh did not complete", what)
}
