package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deeprecall/deeprecall/internal/client"
	"github.com/deeprecall/deeprecall/internal/version"
	"golang.org/x/sync/errgroup"
)

var (
	home, _          = os.UserHomeDir()
	defaultDataDir   = filepath.Join(home, "DeepRecall")
	defaultServerURL = "http://localhost:8080"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "deeprecall",
	Short:   "DeepRecall CLI",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		slog.Info("deeprecall", "version", version.Version, "revision", version.Revision)
		defer slog.Info("Bye!")

		// sync loop plus a periodic integrity scan of the blob store
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			return c.Run(ctx)
		})
		g.Go(func() error {
			return runScanLoop(ctx, c)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

const scanInterval = 15 * time.Minute

func runScanLoop(ctx context.Context, c *client.Client) error {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		result, err := c.Store().Scan()
		if err != nil {
			slog.Warn("blob scan failed", "error", err)
			continue
		}
		if result.Added+result.Updated+result.Deleted > 0 {
			slog.Info("blob scan", "added", result.Added, "updated", result.Updated, "deleted", result.Deleted)
		}
	}
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("datadir", "d", defaultDataDir, "DeepRecall data directory")
	rootCmd.PersistentFlags().StringP("server", "s", defaultServerURL, "DeepRecall server URL")
	rootCmd.PersistentFlags().StringP("user", "u", "", "Principal identity (dev mode, no auth)")
	rootCmd.PersistentFlags().String("device", "", "Device id for this machine")
	rootCmd.PersistentFlags().StringP("config", "c", filepath.Join(home, ".deeprecall", "config.json"), "DeepRecall config file")
}

func loadConfig(cmd *cobra.Command) error {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	flags := cmd.Root().PersistentFlags()

	if flags.Changed("config") {
		configFilePath, _ := flags.GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".deeprecall"))
		viper.SetConfigName("config")
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("data_dir", flags.Lookup("datadir"))
	viper.BindPFlag("server_url", flags.Lookup("server"))
	viper.BindPFlag("user", flags.Lookup("user"))
	viper.BindPFlag("device_id", flags.Lookup("device"))

	viper.SetEnvPrefix("DEEPRECALL")
	viper.AutomaticEnv()

	return nil
}

func newClient() (*client.Client, error) {
	cfg := &client.Config{
		DataDir:   viper.GetString("data_dir"),
		ServerURL: viper.GetString("server_url"),
		AuthToken: viper.GetString("auth_token"),
		DeviceID:  viper.GetString("device_id"),
		User:      viper.GetString("user"),
		BatchSize: viper.GetInt("batch_size"),
		Interval:  viper.GetDuration("sync_interval"),
	}
	if cfg.DeviceID == "" {
		host, _ := os.Hostname()
		cfg.DeviceID = host
	}
	return client.New(cfg)
}

func main() {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
