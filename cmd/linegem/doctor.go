package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"linegem/internal/config"
	"linegem/internal/line"
	"linegem/internal/memory"
)

type checkResult struct {
	passed, warned, failed int
}

func (r *checkResult) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *checkResult) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *checkResult) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func doctorCmd() *cobra.Command {
	var online bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the linegem installation",
		Long: `Verifies that configuration, credentials, the record store and the
listen port are set up. With --online the LINE and AI credentials are tested
against the live APIs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("linegem doctor v%s\n\n", version)
			var r checkResult

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config", err.Error())
				fmt.Printf("\nRun 'linegem init' or set the environment variables.\n")
				return fmt.Errorf("config invalid")
			}
			r.pass("Config", resolveConfigPath())

			checkSecret(&r, "LINE secret", cfg.LINE.ChannelSecret, "webhook signatures will not be verified")
			checkSecret(&r, "LINE token", cfg.LINE.ChannelAccessToken, "replies will be rejected")
			checkSecret(&r, "AI key", cfg.AI.APIKey, "generation requests will be rejected")
			if cfg.Storage.Backend == "supabase" || cfg.Records.Backend == "supabase" {
				checkSecret(&r, "Supabase key", cfg.Supabase.Key, "uploads and inserts will be rejected")
			}

			if cfg.Records.Backend == "sqlite" {
				if n, err := checkDatabase(cfg.Records.DBPath); err != nil {
					r.fail("Database", err.Error())
				} else {
					r.pass("Database", fmt.Sprintf("%s (%d records)", cfg.Records.DBPath, n))
				}
			}

			if cfg.General.RepliesFile != "" {
				if _, err := os.Stat(cfg.General.RepliesFile); err != nil {
					r.fail("Replies file", err.Error())
				} else {
					r.pass("Replies file", cfg.General.RepliesFile)
				}
			}

			addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
			if err := checkPort(addr); err != nil {
				r.warn("Port", fmt.Sprintf("%s may be in use: %v", addr, err))
			} else {
				r.pass("Port", addr+" available")
			}

			if online {
				ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
				defer cancel()
				checkOnline(ctx, &r, cfg)
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "also verify credentials against the LINE and AI APIs")
	return cmd
}

func checkSecret(r *checkResult, name, value, consequence string) {
	if value == "" {
		r.warn(name, "not set, "+consequence)
		return
	}
	r.pass(name, "set")
}

func checkOnline(ctx context.Context, r *checkResult, cfg *config.Config) {
	client := line.NewClient(line.ClientConfig{
		ChannelAccessToken: cfg.LINE.ChannelAccessToken,
		APIBase:            cfg.LINE.APIBase,
		DataAPIBase:        cfg.LINE.DataAPIBase,
		Logger:             logger,
	})
	if info, err := client.Info(ctx); err != nil {
		r.fail("LINE API", err.Error())
	} else {
		r.pass("LINE API", fmt.Sprintf("bot %q (%s)", info.DisplayName, info.BasicID))
	}

	prov, err := newProvider(cfg, logger)
	if err != nil {
		r.fail("AI API", err.Error())
		return
	}
	if err := prov.Healthy(ctx); err != nil {
		r.fail("AI API", err.Error())
	} else {
		r.pass("AI API", prov.Name()+" reachable")
	}
}

// checkDatabase opens the record store, which also runs pending migrations.
func checkDatabase(dbPath string) (int, error) {
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.DB().PingContext(ctx); err != nil {
		return 0, fmt.Errorf("cannot ping: %w", err)
	}
	return store.Count(ctx)
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
