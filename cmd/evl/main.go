package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"eventline/internal/app"
	"eventline/internal/config"
	"eventline/internal/logging"
	eventlinesdk "eventline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "evl",
	Short: "Eventline CLI",
	Long: `Eventline plans corporate events through a conversation.
A run walks four phases: gather requirements, draft a timeline, approve a final
draft, find suppliers. Each message you send is one turn; the run's document is
checkpointed in .eventline/eventline.db so you can pick it up later.
When the supplier draft is ready, 'evl reconcile' creates the event in the booking system.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("EVENTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/eventline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("server", "", "talk to an eventline API at this URL instead of the local workspace")
	flags.String("token", "", "bearer token for --server")
	flags.String("log-level", "", "override logging.level")
	for _, name := range []string{"workspace", "config", "json", "server", "token", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func loadConfig() (*config.Config, error) {
	return app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if v := viper.GetString("log-level"); v != "" {
		level = v
	}
	return logging.New(level, cfg.Logging.JSON)
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withBackend runs fn against the remote API when --server is set and
// against the local workspace otherwise.
func withBackend(ctx context.Context, fn func(context.Context, backend) error) error {
	if url := viper.GetString("server"); url != "" {
		c := eventlinesdk.New(url)
		c.BearerToken = viper.GetString("token")
		return fn(ctx, c)
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, local{app: a})
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
