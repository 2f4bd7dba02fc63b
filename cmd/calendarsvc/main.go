package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ifsports/calendar-service/internal/auth"
	"github.com/ifsports/calendar-service/internal/calendar"
	"github.com/ifsports/calendar-service/internal/config"
	"github.com/ifsports/calendar-service/internal/server"
	"github.com/ifsports/calendar-service/internal/store"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calendarsvc",
		Usage: "Authorize users with Google and create calendar events on their behalf.",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			serveCommand(),
			authURLCommand(),
			statusCommand(),
			migrateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("Application failed", "err", err)
		os.Exit(1)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "Path to JSON config file"},
		&cli.StringFlag{Name: "google-credentials-path", Usage: "Google OAuth client secret file (overrides GOOGLE_CREDENTIALS_PATH)"},
		&cli.StringFlag{Name: "redirect-url", Usage: "OAuth callback URL (overrides OAUTH_REDIRECT_URL)"},
		&cli.StringFlag{Name: "frontend-url", Usage: "Where the callback sends the browser (overrides FRONTEND_URL)"},
		&cli.StringFlag{Name: "listen", Aliases: []string{"listen-addr"}, Usage: "HTTP listen address (overrides LISTEN_ADDR)"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (overrides LOG_LEVEL)"},
		&cli.StringFlag{Name: "store-driver", Usage: "sqlite, postgres, badger, datastore or file (overrides STORE_DRIVER)"},
		&cli.StringFlag{Name: "store-dsn", Usage: "Store connection string or directory (overrides STORE_DSN)"},
	}
}

func configFlags(c *cli.Context) config.Flags {
	return config.Flags{
		GoogleCredentialsPath: c.String("google-credentials-path"),
		RedirectURL:           c.String("redirect-url"),
		FrontendURL:           c.String("frontend-url"),
		ListenAddr:            c.String("listen"),
		LogLevel:              c.String("log-level"),
		StoreDriver:           c.String("store-driver"),
		StoreDSN:              c.String("store-dsn"),
	}
}

func loadConfig(c *cli.Context) (*config.Config, *log.Logger, error) {
	cfg, err := config.LoadConfig(c.String("config"), configFlags(c))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, setupLogger(cfg.LogLevel), nil
}

func setupLogger(level string) *log.Logger {
	logLevel, err := log.ParseLevel(level)
	if err != nil {
		logLevel = log.InfoLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           logLevel,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (store.CredentialStore, error) {
	credentials, err := store.Open(ctx, store.Options{
		Driver:     cfg.Store.Driver,
		DSN:        cfg.Store.DSN,
		ProjectID:  cfg.Store.ProjectID,
		DatabaseID: cfg.Store.DatabaseID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	return credentials, nil
}

// oauthConfig returns nil when the client secret file cannot be read; the manager then
// reports a configuration error per request.
func oauthConfig(cfg *config.Config, logger *log.Logger) *oauth2.Config {
	oauth, err := cfg.OAuthConfig()
	if err != nil {
		logger.Warn("Google OAuth client is not configured", "path", cfg.GoogleCredentialsPath, "err", err)
		return nil
	}
	return oauth
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			credentials, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer credentials.Close()

			manager := auth.NewManager(oauthConfig(cfg, logger), credentials, logger)
			gateway, err := calendar.NewGateway(manager, calendar.Settings{
				CalendarID:      cfg.CalendarID,
				TimeZone:        cfg.TimeZone,
				DefaultLocation: cfg.DefaultLocation,
			}, logger)
			if err != nil {
				return err
			}

			handler := server.New(server.Options{
				Auth:           manager,
				Events:         gateway,
				Health:         credentials,
				BasePath:       cfg.BasePath,
				FrontendURL:    cfg.FrontendURL,
				AllowedOrigins: cfg.AllowedOrigins,
				Logger:         logger,
			})

			httpServer := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Listening", "addr", cfg.ListenAddr, "base_path", cfg.BasePath, "store", cfg.Store.Driver)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			return nil
		},
	}
}

func authURLCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth-url",
		Usage: "Print the Google consent URL for a user.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true, Usage: "User email carried as the OAuth state"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			oauth, err := cfg.OAuthConfig()
			if err != nil {
				return err
			}
			// The consent URL needs no stored state
			manager := auth.NewManager(oauth, nil, logger)
			authURL, err := manager.AuthorizationURL(c.String("email"))
			if err != nil {
				return err
			}

			fmt.Println(authURL)
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Report whether a user has usable credentials, refreshing them if expired.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true, Usage: "User email"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			credentials, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer credentials.Close()

			manager := auth.NewManager(oauthConfig(cfg, logger), credentials, logger)
			result, err := manager.Load(c.Context, c.String("email"))
			if err != nil {
				return err
			}

			if !result.Authenticated() {
				fmt.Printf("%s: not authenticated (%s)\n", result.Email, result.Reason)
				return nil
			}
			fmt.Printf("%s: authenticated, token expires %s, refreshed=%t\n",
				result.Email, result.Token.Expiry.Format(time.RFC3339), result.Refreshed)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the credential schema for the configured store.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			// Opening a store prepares its schema
			credentials, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer credentials.Close()

			if err := credentials.Ping(c.Context); err != nil {
				return fmt.Errorf("store is not reachable: %w", err)
			}
			logger.Info("Store ready", "driver", cfg.Store.Driver)
			return nil
		},
	}
}
