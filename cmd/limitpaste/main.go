package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"limitpaste/internal/config"
	"limitpaste/internal/httpserver"
	"limitpaste/internal/logging"
	"limitpaste/internal/paste"
)

var cfgFile string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "limitpaste",
		Short:        "Paste service with expiry and view limits",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	setupFlags(rootCmd)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("addr", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("base-url", "", "Canonical base URL used in share links")
	flags.String("frontend-url", "", "Frontend URL that / redirects to")
	flags.Bool("behind-proxy", false, "Trust proxy headers for client IP and scheme")
	flags.String("store", defaults.GetString("store.driver"), "Storage driver (bolt, sqlite, mongo, redis, dynamodb, memory)")
	flags.String("data", defaults.GetString("store.path"), "Data file for the bolt and sqlite drivers")
	flags.Int("max-bytes", defaults.GetInt("paste.max_bytes"), "Maximum paste size in bytes")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "Human-readable console logs")
	flags.Bool("test-mode", false, "Honour the X-Test-Now-Ms header")

	bindFlag(cmd, "http.address", "addr")
	bindFlag(cmd, "http.base_url", "base-url")
	bindFlag(cmd, "http.frontend_url", "frontend-url")
	bindFlag(cmd, "http.trust_proxy", "behind-proxy")
	bindFlag(cmd, "store.driver", "store")
	bindFlag(cmd, "store.path", "data")
	bindFlag(cmd, "paste.max_bytes", "max-bytes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.pretty", "log-pretty")
	bindFlag(cmd, "test_mode", "test-mode")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		return err
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("limitpaste")
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return errors.Wrap(err, "read config")
		}
	}
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger := logging.New(appConfig.LogLevel, appConfig.LogPretty, os.Stdout)

	store, err := openStore(ctx, appConfig.Store)
	if err != nil {
		logger.Error().Err(err).Str("driver", appConfig.Store.Driver).Msg("failed opening data store")
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("close store")
		}
	}()

	svc, err := paste.NewService(paste.Config{
		Store:    store,
		Clock:    time.Now,
		MaxBytes: appConfig.MaxBytes,
		BaseURL:  appConfig.HTTP.BaseURL,
	})
	if err != nil {
		return err
	}

	srv, err := httpserver.New(httpserver.Config{
		Service:     svc,
		Logger:      logger,
		FrontendURL: appConfig.HTTP.FrontendURL,
		TrustProxy:  appConfig.HTTP.TrustProxy,
		CORSOrigins: appConfig.HTTP.CORSOrigins,
		TestMode:    appConfig.TestMode,
	})
	if err != nil {
		return err
	}
	if appConfig.TestMode {
		logger.Warn().Msg("test mode enabled: X-Test-Now-Ms overrides the clock")
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTP.Address,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", appConfig.HTTP.Address).
			Str("driver", appConfig.Store.Driver).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
			return err
		}
	case err, ok := <-errCh:
		if ok {
			logger.Error().Err(err).Msg("http server error")
			return err
		}
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
