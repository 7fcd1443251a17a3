package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/localization"
	"helpdesk/backend/internal/logger"
	"helpdesk/backend/internal/storage"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Helpdesk maintenance commands",
	Long: `admin runs one-off helpdesk operations against the configured database.

Examples:
  admin sla-check
  admin embed-rules
  admin complete-cycle 42 --sale-amount 250.00 --notes "paid in store"
  admin resolve-status
  admin token agent-1 --role admin`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(slaCheckCmd)
	rootCmd.AddCommand(embedRulesCmd)
	rootCmd.AddCommand(completeCycleCmd)
	rootCmd.AddCommand(resolveStatusCmd)
	rootCmd.AddCommand(tokenCmd)
}

// env is what every command needs: configuration, the store and the catalog.
type env struct {
	cfg   *config.Config
	store *storage.Service
	texts *localization.Localizer
}

// setup loads configuration and connects. Redis is only dialed by commands that
// must coordinate with running servers.
func setup(ctx context.Context, withRedis bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.New(cfg)

	db, rdb, err := storage.Connect(ctx, cfg, withRedis)
	if err != nil {
		return nil, err
	}
	texts, err := localization.New()
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, store: storage.NewStorageService(db, rdb), texts: texts}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
