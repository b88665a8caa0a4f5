package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deeprecall/deeprecall/internal/server"
	"github.com/deeprecall/deeprecall/internal/server/auth"
	"github.com/deeprecall/deeprecall/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "deeprecall-server",
	Short:   "DeepRecall Sync Server",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		config := serverConfig()
		s, err := server.New(config)
		if err != nil {
			return err
		}

		slog.Info("deeprecall", "version", version.Version, "revision", version.Revision)
		defer slog.Info("Bye!")
		return s.Start(cmd.Context())
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for a user/device pair",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindConfig(cmd.Root())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		user, _ := cmd.Flags().GetString("user")
		device, _ := cmd.Flags().GetString("device")
		expiry, _ := cmd.Flags().GetDuration("expiry")
		if user == "" {
			return fmt.Errorf("--user is required")
		}
		if device == "" {
			return fmt.Errorf("--device is required")
		}

		config := serverConfig()
		config.Auth.Enabled = true
		config.Auth.AccessTokenExpiry = expiry
		if err := config.Auth.Validate(); err != nil {
			return err
		}

		svc := auth.NewAuthService(&config.Auth)
		token, err := svc.GenerateAccessToken(cmd.Context(), user, device)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind the server")
	rootCmd.Flags().StringP("db", "d", "deeprecall.db", "Path to the server database")
	rootCmd.Flags().String("cert", "", "Path to the TLS certificate file")
	rootCmd.Flags().String("key", "", "Path to the TLS key file")

	tokenCmd.Flags().StringP("user", "u", "", "Principal the token is minted for")
	tokenCmd.Flags().StringP("device", "D", "", "Device id the token is bound to")
	tokenCmd.Flags().Duration("expiry", 365*24*time.Hour, "Token lifetime (0 for no expiry)")
	rootCmd.AddCommand(tokenCmd)
}

func bindConfig(cmd *cobra.Command) error {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	viper.SetEnvPrefix("DEEPRECALL")
	viper.AutomaticEnv()

	viper.BindPFlag("http.addr", cmd.Flags().Lookup("bind"))
	viper.BindPFlag("http.cert_file", cmd.Flags().Lookup("cert"))
	viper.BindPFlag("http.key_file", cmd.Flags().Lookup("key"))
	viper.BindPFlag("db_path", cmd.Flags().Lookup("db"))

	viper.BindEnv("auth.enabled", "DEEPRECALL_AUTH_ENABLED")
	viper.BindEnv("auth.token_issuer", "DEEPRECALL_AUTH_ISSUER")
	viper.BindEnv("auth.access_token_secret", "DEEPRECALL_AUTH_SECRET")
	viper.BindEnv("rate_limit", "DEEPRECALL_RATE_LIMIT")

	return nil
}

func serverConfig() *server.Config {
	return &server.Config{
		HTTP: server.HTTPConfig{
			Addr:     viper.GetString("http.addr"),
			CertFile: viper.GetString("http.cert_file"),
			KeyFile:  viper.GetString("http.key_file"),
		},
		Auth: auth.Config{
			Enabled:           viper.GetBool("auth.enabled"),
			TokenIssuer:       viper.GetString("auth.token_issuer"),
			AccessTokenSecret: viper.GetString("auth.access_token_secret"),
		},
		DBPath:    viper.GetString("db_path"),
		RateLimit: viper.GetString("rate_limit"),
	}
}

func main() {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
