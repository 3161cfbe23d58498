package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/config"
)

// Version is set at build time via -ldflags "-X main.Version=vX.Y.Z"
var Version = "dev"

// flags holds the global options shared by every command
type flags struct {
	ConfigPath string
	Addr       string
	LogLevel   string
	LogFile    string
	NoAuth     bool
}

func main() {
	if err := setupLogger("info", ""); err != nil {
		panic(err)
	}

	f := &flags{}

	app := &cli.Command{
		Name:    "iothub",
		Usage:   "Web dashboard for MQTT sensors and LED devices",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("IOTHUB_CONFIG"),
				Value:       config.DefaultPath,
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP listen address (overrides server.addr)",
				Sources:     cli.EnvVars("IOTHUB_ADDR"),
				Destination: &f.Addr,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("IOTHUB_LOG_LEVEL"),
				Value:       "info",
				Destination: &f.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (optional)",
				Sources:     cli.EnvVars("IOTHUB_LOG_FILE"),
				Destination: &f.LogFile,
			},
			&cli.BoolFlag{
				Name:        "no-auth",
				Usage:       "disable login (trusted networks only)",
				Sources:     cli.EnvVars("IOTHUB_NO_AUTH"),
				Destination: &f.NoAuth,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, setupLogger(f.LogLevel, f.LogFile)
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, f)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the dashboard server (default)",
				Action: func(ctx context.Context, c *cli.Command) error {
					return serve(ctx, f)
				},
			},
			{
				Name:  "config",
				Usage: "Inspect the configuration file",
				Commands: []*cli.Command{
					{
						Name:  "validate",
						Usage: "Load and validate the config, creating it with defaults if missing",
						Action: func(ctx context.Context, c *cli.Command) error {
							cfg, err := loadConfig(f)
							if err != nil {
								return err
							}
							fmt.Fprintf(c.Root().Writer, "%s is valid\n", cfg.Path())
							return nil
						},
					},
					{
						Name:  "show",
						Usage: "Print the effective config with secrets masked",
						Action: func(ctx context.Context, c *cli.Command) error {
							cfg, err := loadConfig(f)
							if err != nil {
								return err
							}
							fmt.Fprintln(c.Root().Writer, cfg.String())
							return nil
						},
					},
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("iothub failed")
		os.Exit(1)
	}
}

// loadConfig loads the config file and applies command line overrides
func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if f.Addr != "" {
		cfg.Server.Addr = f.Addr
	}
	if f.NoAuth {
		cfg.Server.NoAuth = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func setupLogger(level string, logFile string) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		output = io.MultiWriter(zerolog.ConsoleWriter{Out: os.Stderr}, file)
	}

	log.Logger = log.Output(output).Level(parsedLevel).With().Timestamp().Logger()

	return nil
}
