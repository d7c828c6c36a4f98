package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-hub/internal/app"
	"github.com/vovakirdan/wirechat-hub/internal/config"
	"github.com/vovakirdan/wirechat-hub/internal/log"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:          "wirechat-hub",
		Short:        "Multi-room real-time chat server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(flags), newMigrateCmd(flags), newVerifyUserCmd(flags))
	return root
}

// load resolves configuration and the logger for a command.
func load(flags *rootFlags) (config.Config, *zerolog.Logger, error) {
	cfg, path, err := config.Load(log.Nop(), flags.configPath)
	if err != nil {
		return cfg, nil, err
	}
	cfg.UpdateFrom(config.Config{LogLevel: flags.logLevel})
	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(flags)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{Addr: addr})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return err
			}

			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	return cmd
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := load(flags)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			logger.Info().Str("db_path", cfg.DatabasePath).Msg("schema applied")
			return nil
		},
	}
}

func newVerifyUserCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-user <username>",
		Short: "Mark a user's email as verified so they can join group rooms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(flags)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := app.NewAuthService(&cfg, st).VerifyEmail(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("verify %s: %w", args[0], err)
			}
			logger.Info().Str("username", args[0]).Msg("email verified")
			return nil
		},
	}
}
