package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"linegem/internal/config"
	"linegem/internal/memory"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
)

func main() {
	logger = newLogger("info")

	root := &cobra.Command{
		Use:   "linegem",
		Short: "LINE webhook bot backed by Gemini and Supabase",
		Long: `linegem answers LINE text messages with a generative model, classifies
images with the same model, stores images in Supabase Storage and records
conversations.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.linegem/config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(recordsCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(secretCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file. Without --config and without a file at the
// default location the process environment alone configures the bot.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	if configPath == "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no config file, using environment", "path", path)
			return config.FromEnv()
		}
	}
	return config.Load(path)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long:  "Starts the HTTP server that receives LINE webhooks. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.provider.Healthy(ctx); err != nil {
		logger.Warn("AI provider unhealthy at startup", "provider", a.provider.Name(), "err", err)
	} else {
		logger.Info("AI provider healthy", "provider", a.provider.Name())
	}

	return a.server.Start(ctx)
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := config.Defaults()
			cfg.LINE.ChannelSecret = "${LINE_CHANNEL_SECRET}"
			cfg.LINE.ChannelAccessToken = "${LINE_CHANNEL_ACCESS_TOKEN}"
			cfg.AI.APIKey = "${GEMINI_API_KEY}"
			cfg.Supabase.URL = "${SUPABASE_URL}"
			cfg.Supabase.Key = "${SUPABASE_SERVICE_ROLE_KEY}"
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and AI provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				logger.Info("config", "path", resolveConfigPath(), "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", resolveConfigPath(), "loaded", true)

			prov, err := newProvider(cfg, logger)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := prov.Healthy(ctx); err != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("provider", "name", prov.Name(), "model", cfg.AI.Model, "healthy", true)
			}
			logger.Info("backends", "storage", cfg.Storage.Backend, "records", cfg.Records.Backend, "dedupe", cfg.Dedupe.Backend)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. ai.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. server.port 8080)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func recordsCmd() *cobra.Command {
	var limit int
	var user string
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Show recent conversation records from the SQLite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Records.Backend != "sqlite" {
				return fmt.Errorf("records are stored in %q; only the sqlite backend can be listed", cfg.Records.Backend)
			}
			store, err := memory.NewSQLiteStore(cfg.Records.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Recent(cmd.Context(), user, limit)
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Printf("%s  %-12s %q -> %q\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.UserID, r.Content, r.ReplyContent)
			}
			total, _ := store.Count(cmd.Context())
			fmt.Printf("\n%d shown, %d total\n", len(recs), total)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	cmd.Flags().StringVar(&user, "user", "", "only show records from this LINE user id")
	return cmd
}
